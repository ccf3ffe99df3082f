// Package schedule owns the per-doctor weekly working-hours template and
// derives the raw slot calendar from it.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by the schedule service.
var (
	ErrNotFound      = errors.New("schedule not found")
	ErrInvalidWindow = errors.New("invalid working-hours window")
	ErrInvalidDate   = errors.New("invalid date")
)

// DefaultSlotDurationMins is used when a schedule does not set its own.
const DefaultSlotDurationMins = 30

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Window is a clock-time working window within a single day, "HH:MM" 24h.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Validate checks the clock format and ordering of a window.
func (w Window) Validate() error {
	if !clockPattern.MatchString(w.Start) {
		return fmt.Errorf("%w: bad start %q", ErrInvalidWindow, w.Start)
	}
	if !clockPattern.MatchString(w.End) {
		return fmt.Errorf("%w: bad end %q", ErrInvalidWindow, w.End)
	}
	if w.End <= w.Start {
		return fmt.Errorf("%w: end %q not after start %q", ErrInvalidWindow, w.End, w.Start)
	}
	return nil
}

// Weekly maps each weekday to its working windows. Stored as JSONB.
type Weekly struct {
	Mon []Window `json:"mon,omitempty"`
	Tue []Window `json:"tue,omitempty"`
	Wed []Window `json:"wed,omitempty"`
	Thu []Window `json:"thu,omitempty"`
	Fri []Window `json:"fri,omitempty"`
	Sat []Window `json:"sat,omitempty"`
	Sun []Window `json:"sun,omitempty"`
}

// For returns the windows configured for a weekday.
func (w Weekly) For(day time.Weekday) []Window {
	switch day {
	case time.Monday:
		return w.Mon
	case time.Tuesday:
		return w.Tue
	case time.Wednesday:
		return w.Wed
	case time.Thursday:
		return w.Thu
	case time.Friday:
		return w.Fri
	case time.Saturday:
		return w.Sat
	case time.Sunday:
		return w.Sun
	}
	return nil
}

// Validate checks every configured window.
func (w Weekly) Validate() error {
	for _, day := range [][]Window{w.Mon, w.Tue, w.Wed, w.Thu, w.Fri, w.Sat, w.Sun} {
		for _, win := range day {
			if err := win.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// DoctorSchedule maps to the doctor_schedule table, one row per doctor.
type DoctorSchedule struct {
	ID               uuid.UUID `db:"id" json:"id"`
	DoctorID         uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Weekly           Weekly    `db:"weekly" json:"weekly"`
	SlotDurationMins int       `db:"slot_duration_mins" json:"slot_duration_mins"`
	TimeZone         string    `db:"time_zone" json:"time_zone"`
	UnavailableDates []string  `db:"unavailable_dates" json:"unavailable_dates"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// IsUnavailable reports whether the given ISO date is blacked out.
func (s *DoctorSchedule) IsUnavailable(date string) bool {
	for _, d := range s.UnavailableDates {
		if d == date {
			return true
		}
	}
	return false
}

// Location resolves the schedule's time zone, defaulting to UTC.
func (s *DoctorSchedule) Location() (*time.Location, error) {
	if s.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.TimeZone)
}

// Validate checks the template, duration, time zone and date overrides.
func (s *DoctorSchedule) Validate() error {
	if s.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if err := s.Weekly.Validate(); err != nil {
		return err
	}
	if s.SlotDurationMins < 0 {
		return fmt.Errorf("slot_duration_mins must be positive")
	}
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("invalid time_zone %q: %w", s.TimeZone, err)
	}
	for _, d := range s.UnavailableDates {
		if _, err := time.Parse(DateLayout, d); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidDate, d)
		}
	}
	return nil
}

// Interval is an absolute half-open time window [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports strict half-open overlap with another interval.
// Back-to-back intervals do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}
