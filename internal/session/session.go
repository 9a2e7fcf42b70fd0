// Package session persists each user's in-progress multi-step conversation so
// that it survives process restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Store.Get when the user has no session.
	ErrNotFound = errors.New("session: not found")
	// ErrCorrupt is returned when a stored session cannot be decoded. The
	// session should be deleted and the user asked to start over.
	ErrCorrupt = errors.New("session: corrupt")
)

// Store is a durable per-user session store. Writes are last-write-wins.
type Store interface {
	Get(ctx context.Context, userID string) (*Session, error)
	Set(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID string) error
}

// Step names the input a session is waiting for.
type Step string

const (
	StepLoginCPF           Step = "login_cpf"
	StepLoginRegistration  Step = "login_registration"
	StepLoginName          Step = "login_name"
	StepEnrollCPF          Step = "enroll_cpf"
	StepEnrollRegistration Step = "enroll_registration"
	StepEnrollRole         Step = "enroll_role"
	StepRequestTerms       Step = "request_terms"
	StepRequestDate        Step = "request_date"
	StepRequestTime        Step = "request_time"
	StepRequestReason      Step = "request_reason"
	StepVehiclePrefix      Step = "vehicle_prefix"
	StepVehicleName        Step = "vehicle_name"
	StepVehicleModel       Step = "vehicle_model"
	StepVehiclePlate       Step = "vehicle_plate"
	StepVehicleOdometer    Step = "vehicle_odometer"
	StepVehicleStatus      Step = "vehicle_status"
	StepStartOdometer      Step = "start_odometer"
	StepEndOdometer        Step = "end_odometer"
)

// State is the step-specific data a session carries. Each step has its own
// concrete type holding exactly the fields collected so far.
type State interface {
	Step() Step
}

// Login flow: CPF, then registration, then a display name when the account
// has none.
type (
	// LoginCPF waits for the caller's CPF.
	LoginCPF struct{}

	// LoginRegistration waits for the registration number matching CPF.
	LoginRegistration struct {
		CPF string `json:"cpf"`
	}

	// LoginName is reached when the verified account has no display name yet.
	LoginName struct {
		UserID uint `json:"user_id"`
	}
)

// Enrolment flow run by an inspector for a new account.
type (
	// EnrollCPF waits for the new account's CPF.
	EnrollCPF struct{}

	// EnrollRegistration waits for the new account's registration number.
	EnrollRegistration struct {
		CPF string `json:"cpf"`
	}

	// EnrollRole waits for the role button.
	EnrollRole struct {
		CPF          string `json:"cpf"`
		Registration string `json:"registration"`
	}
)

// Request flow: terms, need date, need time, reason.
type (
	// RequestTerms waits for Accept or Cancel on the terms of responsibility.
	RequestTerms struct{}

	// RequestDate waits for a DD/MM/YYYY date or the Today button.
	RequestDate struct{}

	// RequestTime holds the accepted need date as YYYY-MM-DD.
	RequestTime struct {
		Date string `json:"date"`
	}

	// RequestReason holds the accepted date and HH:MM time.
	RequestReason struct {
		Date string `json:"date"`
		Time string `json:"time"`
	}
)

// Vehicle registration flow. Each step carries the fields accepted so far.
type (
	// VehiclePrefix waits for the vehicle prefix.
	VehiclePrefix struct{}

	// VehicleName waits for the vehicle name.
	VehicleName struct {
		Prefix string `json:"prefix"`
	}

	// VehicleModel waits for the vehicle model.
	VehicleModel struct {
		Prefix string `json:"prefix"`
		Name   string `json:"name"`
	}

	// VehiclePlate waits for the licence plate.
	VehiclePlate struct {
		Prefix string `json:"prefix"`
		Name   string `json:"name"`
		Model  string `json:"model"`
	}

	// VehicleOdometer waits for the current odometer reading.
	VehicleOdometer struct {
		Prefix string `json:"prefix"`
		Name   string `json:"name"`
		Model  string `json:"model"`
		Plate  string `json:"plate"`
	}

	// VehicleStatus waits for the initial status button.
	VehicleStatus struct {
		Prefix   string `json:"prefix"`
		Name     string `json:"name"`
		Model    string `json:"model"`
		Plate    string `json:"plate"`
		Odometer int64  `json:"odometer"`
	}
)

// Odometer readings entered by the requester of an active request.
type (
	// StartOdometer waits for the reading at key handover.
	StartOdometer struct {
		Code string `json:"code"`
	}

	// EndOdometer waits for the reading at return; it must not be below Start.
	EndOdometer struct {
		Code  string `json:"code"`
		Start int64  `json:"start"`
	}
)

func (LoginCPF) Step() Step           { return StepLoginCPF }
func (LoginRegistration) Step() Step  { return StepLoginRegistration }
func (LoginName) Step() Step          { return StepLoginName }
func (EnrollCPF) Step() Step          { return StepEnrollCPF }
func (EnrollRegistration) Step() Step { return StepEnrollRegistration }
func (EnrollRole) Step() Step         { return StepEnrollRole }
func (RequestTerms) Step() Step       { return StepRequestTerms }
func (RequestDate) Step() Step        { return StepRequestDate }
func (RequestTime) Step() Step        { return StepRequestTime }
func (RequestReason) Step() Step      { return StepRequestReason }
func (VehiclePrefix) Step() Step      { return StepVehiclePrefix }
func (VehicleName) Step() Step        { return StepVehicleName }
func (VehicleModel) Step() Step       { return StepVehicleModel }
func (VehiclePlate) Step() Step       { return StepVehiclePlate }
func (VehicleOdometer) Step() Step    { return StepVehicleOdometer }
func (VehicleStatus) Step() Step      { return StepVehicleStatus }
func (StartOdometer) Step() Step      { return StepStartOdometer }
func (EndOdometer) Step() Step        { return StepEndOdometer }

var factories = map[Step]func() State{
	StepLoginCPF:           func() State { return &LoginCPF{} },
	StepLoginRegistration:  func() State { return &LoginRegistration{} },
	StepLoginName:          func() State { return &LoginName{} },
	StepEnrollCPF:          func() State { return &EnrollCPF{} },
	StepEnrollRegistration: func() State { return &EnrollRegistration{} },
	StepEnrollRole:         func() State { return &EnrollRole{} },
	StepRequestTerms:       func() State { return &RequestTerms{} },
	StepRequestDate:        func() State { return &RequestDate{} },
	StepRequestTime:        func() State { return &RequestTime{} },
	StepRequestReason:      func() State { return &RequestReason{} },
	StepVehiclePrefix:      func() State { return &VehiclePrefix{} },
	StepVehicleName:        func() State { return &VehicleName{} },
	StepVehicleModel:       func() State { return &VehicleModel{} },
	StepVehiclePlate:       func() State { return &VehiclePlate{} },
	StepVehicleOdometer:    func() State { return &VehicleOdometer{} },
	StepVehicleStatus:      func() State { return &VehicleStatus{} },
	StepStartOdometer:      func() State { return &StartOdometer{} },
	StepEndOdometer:        func() State { return &EndOdometer{} },
}

// Session is one user's conversational cursor.
type Session struct {
	UserID      string
	ChatID      string
	RequestCode string
	State       State
	UpdatedAt   time.Time
}

// Step returns the step the session is waiting on, or "" without state.
func (s *Session) Step() Step {
	if s == nil || s.State == nil {
		return ""
	}
	return s.State.Step()
}

// Encode serializes a state into its step tag and JSON payload.
func Encode(st State) (Step, string, error) {
	if st == nil {
		return "", "", errors.New("session: nil state")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return "", "", fmt.Errorf("session: encode %s: %w", st.Step(), err)
	}
	return st.Step(), string(data), nil
}

// Decode rebuilds a state from its step tag and JSON payload. Unknown tags
// and malformed payloads yield ErrCorrupt.
func Decode(step Step, payload string) (State, error) {
	factory, ok := factories[step]
	if !ok {
		return nil, fmt.Errorf("%w: unknown step %q", ErrCorrupt, step)
	}
	ptr := factory()
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), ptr); err != nil {
			return nil, fmt.Errorf("%w: step %s: %v", ErrCorrupt, step, err)
		}
	}
	return deref(ptr), nil
}

// deref turns the pointer produced by a factory back into the value type the
// rest of the code switches on.
func deref(st State) State {
	switch v := st.(type) {
	case *LoginCPF:
		return *v
	case *LoginRegistration:
		return *v
	case *LoginName:
		return *v
	case *EnrollCPF:
		return *v
	case *EnrollRegistration:
		return *v
	case *EnrollRole:
		return *v
	case *RequestTerms:
		return *v
	case *RequestDate:
		return *v
	case *RequestTime:
		return *v
	case *RequestReason:
		return *v
	case *VehiclePrefix:
		return *v
	case *VehicleName:
		return *v
	case *VehicleModel:
		return *v
	case *VehiclePlate:
		return *v
	case *VehicleOdometer:
		return *v
	case *VehicleStatus:
		return *v
	case *StartOdometer:
		return *v
	case *EndOdometer:
		return *v
	}
	return st
}
