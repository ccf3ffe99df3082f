package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists availability days and their slots. The overlap and
// booked-flag guarantees are enforced by the repository so they hold under
// concurrent requests, not just in handler code.
type Repository interface {
	// GetDay returns the day document with its slots in chronological order.
	GetDay(ctx context.Context, doctorID uuid.UUID, date string) (*Day, error)
	GetDayByID(ctx context.Context, dayID uuid.UUID) (*Day, error)
	ListDays(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Day, int, error)

	// CreateSlots appends slots to the (doctor, date) day, creating it if
	// absent. All-or-nothing: any overlap with stored slots fails the whole
	// call with ErrOverlappingSlot and leaves the store unchanged.
	CreateSlots(ctx context.Context, doctorID uuid.UUID, date string, slots []Slot) (*Day, error)

	// ReplaceSlots swaps the full slot set of a day. Fails with ErrSlotBooked
	// if any existing slot is booked.
	ReplaceSlots(ctx context.Context, dayID uuid.UUID, slots []Slot) (*Day, error)

	// AcquireSlot atomically flips booked false→true for the slot matching
	// the exact interval. ErrSlotAlreadyBooked if the flag was already set,
	// ErrSlotNotFound if no slot matches.
	AcquireSlot(ctx context.Context, doctorID uuid.UUID, date string, start, end time.Time) error

	// ReleaseSlot clears the booked flag; idempotent no-op when already free.
	ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date string, start, end time.Time) error

	// DeleteSlot removes an unbooked slot; ErrSlotBooked otherwise.
	DeleteSlot(ctx context.Context, slotID uuid.UUID) error
	DeleteDay(ctx context.Context, dayID uuid.UUID) error

	// FreeSlots returns the unbooked slots for (doctor, date), chronological.
	FreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error)

	// IsBookedInterval reports whether a booked slot with exactly the given
	// interval exists for the doctor. Used by the conflict checker.
	IsBookedInterval(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error)
}
