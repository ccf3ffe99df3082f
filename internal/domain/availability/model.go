// Package availability persists doctor-curated slot inventories: one day
// document per (doctor, date), each owning explicit bookable slots with a
// booked flag that is flipped by an atomic compare-and-set.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by the availability service.
var (
	ErrNotFound          = errors.New("availability not found")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrSlotAlreadyBooked = errors.New("slot already booked")
	ErrSlotBooked        = errors.New("slot is booked")
	ErrOverlappingSlot   = errors.New("overlapping slot")
	ErrInvalidInterval   = errors.New("invalid interval")
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Slot maps to the availability_slot table. Only Booked mutates after
// creation.
type Slot struct {
	ID     uuid.UUID `db:"id" json:"id"`
	DayID  uuid.UUID `db:"day_id" json:"day_id"`
	Start  time.Time `db:"start_time" json:"start"`
	End    time.Time `db:"end_time" json:"end"`
	Booked bool      `db:"booked" json:"booked"`
}

// Overlaps reports strict half-open overlap with another slot.
func (s Slot) Overlaps(other Slot) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

// Matches reports whether the slot covers exactly the given interval.
func (s Slot) Matches(start, end time.Time) bool {
	return s.Start.Equal(start) && s.End.Equal(end)
}

// Day maps to the availability_day table: zero-or-one row per (doctor, date).
type Day struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Date      string    `db:"date" json:"date"`
	Slots     []Slot    `db:"-" json:"slots"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// validateSlots checks each input slot is a well-formed half-open interval
// and that no two of them overlap each other.
func validateSlots(slots []Slot) error {
	for i, s := range slots {
		if !s.End.After(s.Start) {
			return fmt.Errorf("%w: slot %d end not after start", ErrInvalidInterval, i)
		}
	}
	sorted := make([]Slot, len(slots))
	copy(sorted, slots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Overlaps(sorted[i]) {
			return fmt.Errorf("%w: %s overlaps %s",
				ErrOverlappingSlot,
				sorted[i-1].Start.Format(time.RFC3339),
				sorted[i].Start.Format(time.RFC3339))
		}
	}
	return nil
}

// overlapsAny reports whether the slot overlaps any of the stored slots.
func overlapsAny(s Slot, stored []Slot) bool {
	for _, other := range stored {
		if s.Overlaps(other) {
			return true
		}
	}
	return false
}
