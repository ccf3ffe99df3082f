// Package appointment owns the booking lifecycle: conflict checking,
// the appointment state machine, payment-linked transitions, hold expiry
// and the free-slot query composed from the calendar and the slot store.
package appointment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by the appointment service.
var (
	ErrNotFound          = errors.New("appointment not found")
	ErrInvalidInterval   = errors.New("invalid interval")
	ErrDoctorUnavailable = errors.New("doctor unavailable on this date")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBooked    Status = "booked"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"

	// Legacy statuses accepted on read for rows written by the old system;
	// the lifecycle never writes them.
	StatusPaid        Status = "paid"
	StatusRescheduled Status = "rescheduled"
)

// OccupyingStatuses are the statuses that reserve a calendar slot. The partial
// unique index on (doctor_id, start_time) is scoped to this set.
var OccupyingStatuses = []Status{
	StatusPending, StatusBooked, StatusConfirmed,
	StatusCompleted, StatusRescheduled, StatusPaid,
}

// Occupies reports whether the status reserves the doctor's calendar.
func (s Status) Occupies() bool {
	for _, o := range OccupyingStatuses {
		if s == o {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// transitions is the allowed-edge table of the state machine.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusBooked},
	StatusBooked:    {StatusConfirmed, StatusCompleted, StatusNoShow, StatusCancelled},
	StatusConfirmed: {StatusBooked, StatusCompleted, StatusNoShow, StatusCancelled},

	// legacy rows can only be cancelled
	StatusPaid:        {StatusCancelled},
	StatusRescheduled: {StatusCancelled},
}

// CanTransition reports whether the edge from→to is allowed.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Payment statuses for the embedded payment sub-record.
const (
	PaymentUnpaid   = "unpaid"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
)

// Appointment maps to the appointment table.
type Appointment struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DoctorID   uuid.UUID `db:"doctor_id" json:"doctor_id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	HospitalID uuid.UUID `db:"hospital_id" json:"hospital_id"`

	Start  time.Time `db:"start_time" json:"start"`
	End    time.Time `db:"end_time" json:"end"`
	Status Status    `db:"status" json:"status"`

	Reason       *string `db:"reason" json:"reason,omitempty"`
	Notes        *string `db:"notes" json:"notes,omitempty"`
	Prescription *string `db:"prescription" json:"prescription,omitempty"`

	// SlotDate is set when the booking came through the explicit-slot path;
	// cancel and reschedule use it to release the availability slot.
	SlotDate *string `db:"slot_date" json:"slot_date,omitempty"`

	ReminderSent24h  bool       `db:"reminder_sent_24h" json:"reminder_sent_24h"`
	ReminderSent1h   bool       `db:"reminder_sent_1h" json:"reminder_sent_1h"`
	PendingExpiresAt *time.Time `db:"pending_expires_at" json:"pending_expires_at,omitempty"`

	PaymentAmount *float64 `db:"payment_amount" json:"payment_amount,omitempty"`
	PaymentStatus string   `db:"payment_status" json:"payment_status"`
	PaymentTxnID  *string  `db:"payment_txn_id" json:"payment_txn_id,omitempty"`
	InvoiceID     *string  `db:"invoice_id" json:"invoice_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ViaSlot reports whether the booking came through the explicit-slot path.
func (a *Appointment) ViaSlot() bool { return a.SlotDate != nil }

// Overlaps reports strict half-open overlap with the candidate interval.
// Back-to-back appointments never conflict.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && start.Before(a.End)
}

// Conflict is the outcome of a conflict check.
type Conflict string

const (
	ConflictNone        Conflict = "free"
	ConflictAppointment Conflict = "conflict: appointment"
	ConflictSlot        Conflict = "conflict: slot"
)

// Filter narrows appointment list queries.
type Filter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Statuses  []Status
	From      *time.Time
	To        *time.Time
}
