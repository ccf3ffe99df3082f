package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists appointments. Transition methods are guarded updates:
// they apply only when the row's current status is in the allowed set, so a
// lost race surfaces as zero rows, never as a bad write.
type Repository interface {
	// Create inserts a pending appointment. A unique violation on
	// (doctor_id, start_time) within the occupying statuses is returned as
	// ErrSlotUnavailable.
	Create(ctx context.Context, a *Appointment) error

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Transition moves id from one of the given statuses to the target,
	// returning the updated row. Zero rows matched → (nil, nil); callers
	// distinguish not-found from lost races by rereading.
	Transition(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error)

	// MarkPaid transitions from∈{pending,confirmed} to booked and records the
	// payment in the same statement. The bool reports whether this call won
	// the transition.
	MarkPaid(ctx context.Context, id uuid.UUID, amount float64, txnID string) (*Appointment, bool, error)

	SetInvoiceID(ctx context.Context, id uuid.UUID, invoiceID string) error
	SetOutcomeNotes(ctx context.Context, id uuid.UUID, notes, prescription *string) error

	// UpdateInterval moves the appointment to a new interval. A unique
	// violation for the new start is ErrSlotUnavailable.
	UpdateInterval(ctx context.Context, id uuid.UUID, start, end time.Time, slotDate *string) error

	// HasOverlap reports whether any occupying-status appointment for the
	// doctor strictly overlaps [start, end).
	HasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error)

	// ListOccupied returns the doctor's occupying-status appointments
	// overlapping [from, to).
	ListOccupied(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)

	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)

	// ExpireHolds cancels pending appointments whose hold lapsed before now
	// and returns them so their slots can be released. Guarded by
	// status='pending', so it no-ops against a concurrent payment.
	ExpireHolds(ctx context.Context, now time.Time) ([]*Appointment, error)

	// DueReminders returns occupying appointments starting within the window
	// from now whose flag for that window is still unset.
	DueReminders(ctx context.Context, now time.Time, window time.Duration, flag ReminderFlag) ([]*Appointment, error)

	// MarkReminderSent sets the one-shot flag; false means another sweep
	// already claimed it.
	MarkReminderSent(ctx context.Context, id uuid.UUID, flag ReminderFlag) (bool, error)
}

// ReminderFlag selects which one-shot reminder flag an operation targets.
type ReminderFlag string

const (
	Reminder24h ReminderFlag = "reminder_sent_24h"
	Reminder1h  ReminderFlag = "reminder_sent_1h"
)
