package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func validDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}
	return nil
}

// CreateSlots validates the input batch (well-formed, mutually non-overlapping)
// and appends it to the doctor's day, all-or-nothing.
func (s *Service) CreateSlots(ctx context.Context, doctorID uuid.UUID, date string, slots []Slot) (*Day, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("doctor_id is required")
	}
	if err := validDate(date); err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("at least one slot is required")
	}
	if err := validateSlots(slots); err != nil {
		return nil, err
	}
	return s.repo.CreateSlots(ctx, doctorID, date, slots)
}

// ReplaceSlots swaps a day's entire slot set. Rejected when any current slot
// is booked or the replacement set overlaps itself.
func (s *Service) ReplaceSlots(ctx context.Context, dayID uuid.UUID, slots []Slot) (*Day, error) {
	if err := validateSlots(slots); err != nil {
		return nil, err
	}
	return s.repo.ReplaceSlots(ctx, dayID, slots)
}

func (s *Service) GetDay(ctx context.Context, doctorID uuid.UUID, date string) (*Day, error) {
	if err := validDate(date); err != nil {
		return nil, err
	}
	return s.repo.GetDay(ctx, doctorID, date)
}

func (s *Service) GetDayByID(ctx context.Context, dayID uuid.UUID) (*Day, error) {
	return s.repo.GetDayByID(ctx, dayID)
}

func (s *Service) ListDays(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Day, int, error) {
	return s.repo.ListDays(ctx, doctorID, limit, offset)
}

// AcquireSlot books the exact interval via the repository's compare-and-set.
func (s *Service) AcquireSlot(ctx context.Context, doctorID uuid.UUID, date string, start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("%w: end not after start", ErrInvalidInterval)
	}
	return s.repo.AcquireSlot(ctx, doctorID, date, start, end)
}

// ReleaseSlot frees the interval; releasing an already-free slot succeeds.
func (s *Service) ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date string, start, end time.Time) error {
	return s.repo.ReleaseSlot(ctx, doctorID, date, start, end)
}

func (s *Service) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	return s.repo.DeleteSlot(ctx, slotID)
}

func (s *Service) DeleteDay(ctx context.Context, dayID uuid.UUID) error {
	return s.repo.DeleteDay(ctx, dayID)
}

func (s *Service) FreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	if err := validDate(date); err != nil {
		return nil, err
	}
	return s.repo.FreeSlots(ctx, doctorID, date)
}

// IsBookedInterval reports whether a booked slot with exactly this interval
// exists for the doctor.
func (s *Service) IsBookedInterval(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	return s.repo.IsBookedInterval(ctx, doctorID, start, end)
}
