package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Upsert(ctx context.Context, sched *DoctorSchedule) error {
	if sched.SlotDurationMins == 0 {
		sched.SlotDurationMins = DefaultSlotDurationMins
	}
	if err := sched.Validate(); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, sched)
}

func (s *Service) GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*DoctorSchedule, error) {
	return s.repo.GetByDoctor(ctx, doctorID)
}

func (s *Service) SetUnavailableDates(ctx context.Context, doctorID uuid.UUID, dates []string) error {
	for _, d := range dates {
		if _, err := time.Parse(DateLayout, d); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidDate, d)
		}
	}
	return s.repo.SetUnavailableDates(ctx, doctorID, dates)
}

func (s *Service) Delete(ctx context.Context, doctorID uuid.UUID) error {
	return s.repo.Delete(ctx, doctorID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*DoctorSchedule, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Slots derives the raw slot calendar for a doctor on a date: every window
// configured for that weekday is cut into consecutive slots of the schedule's
// duration, dropping a trailing partial slot. The result is not filtered
// against existing bookings; callers compose that separately.
func (s *Service) Slots(ctx context.Context, doctorID uuid.UUID, date string) ([]Interval, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	sched, err := s.repo.GetByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return GenerateSlots(sched, date)
}

// GenerateSlots computes the raw calendar for a schedule on an ISO date.
// A blacked-out date or a weekday with no windows yields an empty sequence.
func GenerateSlots(sched *DoctorSchedule, date string) ([]Interval, error) {
	if sched.IsUnavailable(date) {
		return nil, nil
	}
	loc, err := sched.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid time_zone %q: %w", sched.TimeZone, err)
	}
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	durMins := sched.SlotDurationMins
	if durMins <= 0 {
		durMins = DefaultSlotDurationMins
	}
	dur := time.Duration(durMins) * time.Minute

	var slots []Interval
	for _, w := range sched.Weekly.For(day.Weekday()) {
		winStart, err := clockOn(day, w.Start)
		if err != nil {
			return nil, err
		}
		winEnd, err := clockOn(day, w.End)
		if err != nil {
			return nil, err
		}
		for cur := winStart; !cur.Add(dur).After(winEnd); cur = cur.Add(dur) {
			slots = append(slots, Interval{Start: cur, End: cur.Add(dur)})
		}
	}
	return slots, nil
}

// clockOn anchors an "HH:MM" clock time on the given day, in the day's zone.
func clockOn(day time.Time, clock string) (time.Time, error) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("%w: bad clock %q", ErrInvalidWindow, clock)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad clock %q", ErrInvalidWindow, clock)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad clock %q", ErrInvalidWindow, clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}
