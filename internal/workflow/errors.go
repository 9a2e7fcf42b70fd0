package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/identity"
	"github.com/zulandar/motorpool/internal/session"
)

// Error kinds. Wrapped errors are compared with errors.Is.
var (
	ErrInvalid   = errors.New("workflow: invalid input")
	ErrConflict  = errors.New("workflow: conflict")
	ErrForbidden = errors.New("workflow: not allowed")
	ErrNotFound  = errors.New("workflow: request not found")
)

// Kind is the handling class of an error.
type Kind int

const (
	// KindInfrastructure errors are logged; the initiator gets a generic
	// retry message.
	KindInfrastructure Kind = iota
	KindInvalid
	KindConflict
	KindForbidden
	KindNotFound
	// KindFatal means the session can no longer be trusted and is dropped.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindFatal:
		return "fatal"
	default:
		return "infrastructure"
	}
}

// Classify maps err, including errors from fleet, identity and session, to
// its Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInfrastructure
	case errors.Is(err, session.ErrCorrupt):
		return KindFatal
	case errors.Is(err, ErrInvalid),
		errors.Is(err, fleet.ErrInvalid),
		errors.Is(err, identity.ErrInvalidCPF),
		errors.Is(err, identity.ErrInvalidRegistration),
		errors.Is(err, identity.ErrInvalidName),
		errors.Is(err, identity.ErrInvalidCredentials):
		return KindInvalid
	case errors.Is(err, ErrConflict),
		errors.Is(err, fleet.ErrUnavailable),
		errors.Is(err, fleet.ErrConflict),
		errors.Is(err, fleet.ErrDuplicatePrefix),
		errors.Is(err, fleet.ErrSameStatus),
		errors.Is(err, fleet.ErrManagedStatus),
		errors.Is(err, fleet.ErrActiveRequest),
		errors.Is(err, identity.ErrAlreadyLinked),
		errors.Is(err, identity.ErrDuplicateCPF),
		errors.Is(err, identity.ErrDuplicateRegistration):
		return KindConflict
	case errors.Is(err, ErrForbidden), errors.Is(err, identity.ErrNotRegistered):
		return KindForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, fleet.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return KindNotFound
	default:
		return KindInfrastructure
	}
}

// Rejection is an error carrying a message meant for the acting user.
type Rejection struct {
	Kind error
	Msg  string
}

func (r *Rejection) Error() string { return r.Kind.Error() + ": " + r.Msg }
func (r *Rejection) Unwrap() error { return r.Kind }

func reject(kind error, format string, args ...interface{}) error {
	return &Rejection{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// LeadTimeError reports a need time closer than the minimum notice.
type LeadTimeError struct {
	NeedAt  time.Time
	Now     time.Time
	MinLead time.Duration
}

func (e *LeadTimeError) Error() string {
	return fmt.Sprintf("workflow: need time %s is less than %s ahead", e.NeedAt.Format(DisplayLayout), e.MinLead)
}

func (e *LeadTimeError) Unwrap() error { return ErrInvalid }

// Message returns text suitable for the acting user.
func Message(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Msg
	}
	var lt *LeadTimeError
	if errors.As(err, &lt) {
		diff := int(lt.NeedAt.Sub(lt.Now).Round(time.Minute) / time.Minute)
		if diff < 0 {
			return fmt.Sprintf("That time has already passed. Requests need at least %d minutes' notice; please enter a later time.", int(lt.MinLead/time.Minute))
		}
		return fmt.Sprintf("Requests need at least %d minutes' notice and that time is only %d minutes away. Please enter a later time.", int(lt.MinLead/time.Minute), diff)
	}
	switch {
	case errors.Is(err, session.ErrCorrupt):
		return "Your conversation state was lost. Please start again."
	case errors.Is(err, fleet.ErrUnavailable):
		return "That vehicle is no longer available."
	case errors.Is(err, identity.ErrNotRegistered):
		return "You are not registered. Send /start to log in."
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "CPF and registration do not match an active account."
	case errors.Is(err, identity.ErrAlreadyLinked):
		return "This account is already linked to another chat user."
	}
	switch Classify(err) {
	case KindInvalid, KindConflict:
		return trimPrefix(err.Error())
	case KindForbidden:
		return "You are not allowed to do that."
	case KindNotFound:
		return "Request not found."
	default:
		return "Something went wrong. Please try again in a moment."
	}
}

// trimPrefix drops the "pkg: kind: " prefixes from wrapped validation errors.
func trimPrefix(s string) string {
	if i := strings.LastIndex(s, ": "); i >= 0 {
		return s[i+2:]
	}
	return s
}
