package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is how a chosen date is kept in a session.
	DateLayout = "2006-01-02"
	// InputDateLayout is the date format users type.
	InputDateLayout = "02/01/2006"
	// DisplayLayout formats need times in messages.
	DisplayLayout = "02/01/2006 15:04"

	minReasonLen = 5
)

var (
	colonTime = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	hTime     = regexp.MustCompile(`^(\d{1,2})[hH](\d{2})$`)
	bareTime  = regexp.MustCompile(`^(\d{3,4})$`)
)

// ParseDate parses DD/MM/YYYY in loc and requires today or later.
func ParseDate(s string, now time.Time, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(InputDateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, reject(ErrInvalid, "Please use the format DD/MM/YYYY, for example 15/06/2026.")
	}
	if d.Before(startOfDay(now, loc)) {
		return time.Time{}, reject(ErrInvalid, "The date must be today or later.")
	}
	return d, nil
}

// Today returns the current date in loc as a DateLayout string.
func Today(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(DateLayout)
}

// ParseTime accepts H:MM, HH:MM, HHhMM, HMM and HHMM and returns HH:MM.
func ParseTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	var hh, mm string
	if m := colonTime.FindStringSubmatch(s); m != nil {
		hh, mm = m[1], m[2]
	} else if m := hTime.FindStringSubmatch(s); m != nil {
		hh, mm = m[1], m[2]
	} else if m := bareTime.FindStringSubmatch(s); m != nil {
		n := m[1]
		hh, mm = n[:len(n)-2], n[len(n)-2:]
	} else {
		return "", reject(ErrInvalid, "Please enter a time like 10:00, 10h00 or 1000.")
	}
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	if h > 23 || m > 59 {
		return "", reject(ErrInvalid, "The time must be between 00:00 and 23:59.")
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// NeedAt combines a DateLayout date and an HH:MM time in loc.
func NeedAt(date, hhmm string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" 15:04", date+" "+hhmm, loc)
	if err != nil {
		return time.Time{}, reject(ErrInvalid, "The date or time is not valid.")
	}
	return t, nil
}

// CheckLeadTime requires needAt to be at least minLead after now. The
// boundary itself is accepted.
func CheckLeadTime(needAt, now time.Time, minLead time.Duration) error {
	if needAt.Sub(now) < minLead {
		return &LeadTimeError{NeedAt: needAt, Now: now, MinLead: minLead}
	}
	return nil
}

// ValidateReason trims a justification and requires a minimum length.
func ValidateReason(s string) (string, error) {
	r := strings.TrimSpace(s)
	if len([]rune(r)) < minReasonLen {
		return "", reject(ErrInvalid, "Please describe the reason in more detail (at least %d characters).", minReasonLen)
	}
	return r, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
