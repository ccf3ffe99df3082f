package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicportal/api/internal/domain/availability"
	"github.com/clinicportal/api/internal/domain/schedule"
	"github.com/clinicportal/api/internal/platform/billing"
	"github.com/clinicportal/api/internal/platform/notification"
)

// ScheduleSource resolves doctor schedules and their raw slot calendars.
// Satisfied by schedule.Service.
type ScheduleSource interface {
	GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*schedule.DoctorSchedule, error)
	Slots(ctx context.Context, doctorID uuid.UUID, date string) ([]schedule.Interval, error)
}

// SlotStore is the explicit-slot inventory. Satisfied by availability.Service.
type SlotStore interface {
	AcquireSlot(ctx context.Context, doctorID uuid.UUID, date string, start, end time.Time) error
	ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date string, start, end time.Time) error
	FreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]availability.Slot, error)
	IsBookedInterval(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error)
}

// Notifier dispatches best-effort notifications for committed transitions.
type Notifier interface {
	AppointmentEvent(ctx context.Context, event string, appt *Appointment, extra map[string]string)
}

// Invoicer records one invoice per successful payment confirmation.
// Satisfied by billing.Issuer.
type Invoicer interface {
	Issue(ctx context.Context, appointmentID, patientID, doctorID uuid.UUID, amount float64) (*billing.Invoice, error)
}

// TxRunner executes fn atomically. The server wires db.WithTx; tests use the
// passthrough.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// PassthroughTx runs fn directly, for stores whose mock already serializes.
func PassthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type Service struct {
	repo      Repository
	schedules ScheduleSource
	slots     SlotStore
	notifier  Notifier
	invoicer  Invoicer
	tx        TxRunner
	holdTTL   time.Duration
	logger    zerolog.Logger
}

func NewService(repo Repository, schedules ScheduleSource, slots SlotStore,
	notifier Notifier, invoicer Invoicer, tx TxRunner, holdTTL time.Duration, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = PassthroughTx
	}
	return &Service{
		repo:      repo,
		schedules: schedules,
		slots:     slots,
		notifier:  notifier,
		invoicer:  invoicer,
		tx:        tx,
		holdTTL:   holdTTL,
		logger:    logger,
	}
}

func (s *Service) notify(ctx context.Context, event string, appt *Appointment, extra map[string]string) {
	if s.notifier == nil {
		return
	}
	s.notifier.AppointmentEvent(ctx, event, appt, extra)
}

// CheckConflict is the fast pre-check against the doctor's calendar. The
// storage constraints remain authoritative: a clean result here can still
// lose the race at commit time.
func (s *Service) CheckConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (Conflict, error) {
	overlap, err := s.repo.HasOverlap(ctx, doctorID, start, end)
	if err != nil {
		return "", err
	}
	if overlap {
		return ConflictAppointment, nil
	}
	if s.slots != nil {
		booked, err := s.slots.IsBookedInterval(ctx, doctorID, start, end)
		if err != nil {
			return "", err
		}
		if booked {
			return ConflictSlot, nil
		}
	}
	return ConflictNone, nil
}

// CreateRequest carries a booking attempt.
type CreateRequest struct {
	DoctorID   uuid.UUID
	PatientID  uuid.UUID
	HospitalID uuid.UUID
	Start      time.Time
	End        time.Time
	Reason     *string

	// FromSlot routes the booking through the explicit-slot inventory: the
	// matching availability slot is acquired atomically with the insert.
	FromSlot bool
}

// Create books a pending appointment with an expiring payment hold.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidInterval)
	}

	sched, err := s.schedules.GetByDoctor(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			return nil, fmt.Errorf("%w: doctor has no schedule", ErrNotFound)
		}
		return nil, err
	}
	loc, err := sched.Location()
	if err != nil {
		return nil, err
	}
	date := req.Start.In(loc).Format(schedule.DateLayout)
	if sched.IsUnavailable(date) {
		return nil, fmt.Errorf("%w: %s", ErrDoctorUnavailable, date)
	}

	conflict, err := s.CheckConflict(ctx, req.DoctorID, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	if conflict != ConflictNone {
		return nil, fmt.Errorf("%w: %s", ErrSlotUnavailable, conflict)
	}

	expiry := time.Now().UTC().Add(s.holdTTL)
	appt := &Appointment{
		ID:               uuid.New(),
		DoctorID:         req.DoctorID,
		PatientID:        req.PatientID,
		HospitalID:       req.HospitalID,
		Start:            req.Start,
		End:              req.End,
		Status:           StatusPending,
		Reason:           req.Reason,
		PaymentStatus:    PaymentUnpaid,
		PendingExpiresAt: &expiry,
	}

	if req.FromSlot {
		appt.SlotDate = &date
		err = s.tx(ctx, func(ctx context.Context) error {
			if err := s.slots.AcquireSlot(ctx, req.DoctorID, date, req.Start, req.End); err != nil {
				switch {
				case errors.Is(err, availability.ErrSlotAlreadyBooked):
					return fmt.Errorf("%w: %s", ErrSlotUnavailable, ConflictSlot)
				case errors.Is(err, availability.ErrSlotNotFound):
					return fmt.Errorf("%w: availability slot", ErrNotFound)
				}
				return err
			}
			return s.repo.Create(ctx, appt)
		})
	} else {
		err = s.repo.Create(ctx, appt)
	}
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.EventBookingCreated, appt, map[string]string{
		"hold_minutes": fmt.Sprintf("%.0f", s.holdTTL.Minutes()),
	})
	return appt, nil
}

// ConfirmPayment consumes the gateway's at-least-once confirmation callback.
// Repeat deliveries return the already-paid appointment without a second
// invoice or notification.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID, amount float64, txnID string) (*Appointment, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.PaymentStatus == PaymentPaid {
		return current, nil
	}

	updated, won, err := s.repo.MarkPaid(ctx, id, amount, txnID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the guarded update: either a concurrent delivery already paid,
		// or the appointment left the payable states (expired, cancelled).
		current, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.PaymentStatus == PaymentPaid {
			return current, nil
		}
		return nil, fmt.Errorf("%w: cannot pay appointment in status %s", ErrInvalidTransition, current.Status)
	}

	if s.invoicer != nil {
		inv, err := s.invoicer.Issue(ctx, updated.ID, updated.PatientID, updated.DoctorID, amount)
		if err != nil {
			// committed payment state wins; the invoice is retried by ops
			s.logger.Error().Err(err).Str("appointment_id", updated.ID.String()).Msg("invoice generation failed")
		} else {
			if err := s.repo.SetInvoiceID(ctx, updated.ID, inv.ID); err != nil {
				s.logger.Error().Err(err).Str("appointment_id", updated.ID.String()).Msg("invoice id not recorded")
			} else {
				updated.InvoiceID = &inv.ID
			}
		}
	}

	extra := map[string]string{"amount": fmt.Sprintf("%.2f", amount)}
	if updated.InvoiceID != nil {
		extra["invoice_id"] = *updated.InvoiceID
	}
	s.notify(ctx, notification.EventPaymentConfirmed, updated, extra)
	return updated, nil
}

// Confirm is the doctor's accept/reject on a fresh booking.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, accept bool) (*Appointment, error) {
	target := StatusConfirmed
	event := notification.EventConfirmed
	if !accept {
		target = StatusCancelled
		event = notification.EventCancelled
	}

	updated, err := s.repo.Transition(ctx, id, []Status{StatusPending, StatusBooked}, target)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot confirm appointment in status %s", ErrInvalidTransition, current.Status)
	}

	if target == StatusCancelled {
		s.releaseSlot(ctx, updated)
	}
	s.notify(ctx, event, updated, nil)
	return updated, nil
}

// Complete records the consultation outcome.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, outcome Status, notes, prescription *string) (*Appointment, error) {
	if outcome != StatusCompleted && outcome != StatusNoShow {
		return nil, fmt.Errorf("%w: outcome must be completed or no_show", ErrInvalidTransition)
	}

	updated, err := s.repo.Transition(ctx, id, []Status{StatusConfirmed, StatusBooked}, outcome)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot complete appointment in status %s", ErrInvalidTransition, current.Status)
	}

	if notes != nil || prescription != nil {
		if err := s.repo.SetOutcomeNotes(ctx, id, notes, prescription); err != nil {
			return nil, err
		}
		if notes != nil {
			updated.Notes = notes
		}
		if prescription != nil {
			updated.Prescription = prescription
		}
	}

	if outcome == StatusCompleted {
		s.notify(ctx, notification.EventCompleted, updated, nil)
	}
	return updated, nil
}

var cancellableStatuses = []Status{
	StatusPending, StatusBooked, StatusConfirmed, StatusPaid, StatusRescheduled,
}

// Cancel ends a non-terminal appointment and releases its slot. Cancelling an
// already-cancelled appointment is a success that returns the current state.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCancelled {
		return current, nil
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot cancel appointment in status %s", ErrInvalidTransition, current.Status)
	}

	updated, err := s.repo.Transition(ctx, id, cancellableStatuses, StatusCancelled)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// raced with another cancel or a terminal transition
		current, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == StatusCancelled {
			return current, nil
		}
		return nil, fmt.Errorf("%w: cannot cancel appointment in status %s", ErrInvalidTransition, current.Status)
	}

	s.releaseSlot(ctx, updated)
	s.notify(ctx, notification.EventCancelled, updated, map[string]string{"actor": actor})
	return updated, nil
}

// releaseSlot frees the availability slot for slot-path bookings. The status
// transition has committed; a release failure is logged and retried by the
// sweep, never surfaced as a lifecycle error.
func (s *Service) releaseSlot(ctx context.Context, appt *Appointment) {
	if !appt.ViaSlot() || s.slots == nil {
		return
	}
	err := s.slots.ReleaseSlot(ctx, appt.DoctorID, *appt.SlotDate, appt.Start, appt.End)
	if err != nil && !errors.Is(err, availability.ErrSlotNotFound) {
		s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("slot release failed")
	}
}

// Reschedule moves a live appointment to a new interval. The release of the
// old slot and acquisition of the new one commit together; any failure leaves
// the original booking intact.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart, newEnd time.Time) (*Appointment, error) {
	if !newEnd.After(newStart) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidInterval)
	}

	var result *Appointment
	err := s.tx(ctx, func(ctx context.Context) error {
		appt, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return fmt.Errorf("%w: cannot reschedule appointment in status %s", ErrInvalidTransition, appt.Status)
		}

		sched, err := s.schedules.GetByDoctor(ctx, appt.DoctorID)
		if err != nil {
			if errors.Is(err, schedule.ErrNotFound) {
				return fmt.Errorf("%w: doctor has no schedule", ErrNotFound)
			}
			return err
		}
		loc, err := sched.Location()
		if err != nil {
			return err
		}
		newDate := newStart.In(loc).Format(schedule.DateLayout)
		if sched.IsUnavailable(newDate) {
			return fmt.Errorf("%w: %s", ErrDoctorUnavailable, newDate)
		}

		// overlap pre-check excluding the appointment being moved
		occupied, err := s.repo.ListOccupied(ctx, appt.DoctorID, newStart, newEnd)
		if err != nil {
			return err
		}
		for _, o := range occupied {
			if o.ID != appt.ID && o.Overlaps(newStart, newEnd) {
				return fmt.Errorf("%w: %s", ErrSlotUnavailable, ConflictAppointment)
			}
		}

		var newSlotDate *string
		if appt.ViaSlot() {
			if err := s.slots.ReleaseSlot(ctx, appt.DoctorID, *appt.SlotDate, appt.Start, appt.End); err != nil &&
				!errors.Is(err, availability.ErrSlotNotFound) {
				return err
			}
			if err := s.slots.AcquireSlot(ctx, appt.DoctorID, newDate, newStart, newEnd); err != nil {
				switch {
				case errors.Is(err, availability.ErrSlotAlreadyBooked):
					return fmt.Errorf("%w: %s", ErrSlotUnavailable, ConflictSlot)
				case errors.Is(err, availability.ErrSlotNotFound):
					return fmt.Errorf("%w: availability slot", ErrNotFound)
				}
				return err
			}
			newSlotDate = &newDate
		}

		if err := s.repo.UpdateInterval(ctx, id, newStart, newEnd, newSlotDate); err != nil {
			return err
		}

		appt.Start = newStart
		appt.End = newEnd
		appt.SlotDate = newSlotDate
		result = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.EventRescheduled, result, nil)
	return result, nil
}

// FreeSlots merges the template-derived calendar with the unbooked explicit
// slots for the date, removes every candidate overlapping an occupying
// appointment, and returns the rest in chronological order.
func (s *Service) FreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]schedule.Interval, error) {
	raw, err := s.schedules.Slots(ctx, doctorID, date)
	if err != nil && !errors.Is(err, schedule.ErrNotFound) {
		return nil, err
	}

	seen := make(map[string]bool, len(raw))
	key := func(iv schedule.Interval) string {
		return iv.Start.UTC().Format(time.RFC3339) + "/" + iv.End.UTC().Format(time.RFC3339)
	}
	candidates := make([]schedule.Interval, 0, len(raw))
	for _, iv := range raw {
		if !seen[key(iv)] {
			seen[key(iv)] = true
			candidates = append(candidates, iv)
		}
	}
	if s.slots != nil {
		explicit, err := s.slots.FreeSlots(ctx, doctorID, date)
		if err != nil {
			return nil, err
		}
		for _, sl := range explicit {
			iv := schedule.Interval{Start: sl.Start, End: sl.End}
			if !seen[key(iv)] {
				seen[key(iv)] = true
				candidates = append(candidates, iv)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	lo, hi := candidates[0].Start, candidates[0].End
	for _, iv := range candidates[1:] {
		if iv.Start.Before(lo) {
			lo = iv.Start
		}
		if iv.End.After(hi) {
			hi = iv.End
		}
	}
	occupied, err := s.repo.ListOccupied(ctx, doctorID, lo, hi)
	if err != nil {
		return nil, err
	}

	free := candidates[:0]
	for _, iv := range candidates {
		conflicted := false
		for _, o := range occupied {
			if o.Overlaps(iv.Start, iv.End) {
				conflicted = true
				break
			}
		}
		if !conflicted {
			free = append(free, iv)
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i].Start.Before(free[j].Start) })
	return free, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, statuses []Status, from, to *time.Time, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.List(ctx, Filter{PatientID: &patientID, Statuses: statuses, From: from, To: to}, limit, offset)
}

func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID, statuses []Status, from, to *time.Time, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.List(ctx, Filter{DoctorID: &doctorID, Statuses: statuses, From: from, To: to}, limit, offset)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}
