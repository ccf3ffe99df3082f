package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicportal/api/internal/domain/availability"
	"github.com/clinicportal/api/internal/domain/schedule"
	"github.com/clinicportal/api/internal/platform/billing"
	"github.com/clinicportal/api/internal/platform/notification"
)

const monday = "2026-09-07"

func at(h, m int) time.Time {
	return time.Date(2026, time.September, 7, h, m, 0, 0, time.UTC)
}

// mockRepo mirrors the Postgres guarantees in memory: every operation runs
// under one mutex, and Create enforces the (doctor_id, start_time) uniqueness
// over occupying statuses the way the partial index does.
type mockRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{rows: make(map[uuid.UUID]*Appointment)}
}

func clone(a *Appointment) *Appointment {
	cp := *a
	return &cp
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.DoctorID == a.DoctorID && r.Start.Equal(a.Start) && r.Status.Occupies() {
			return fmt.Errorf("%w: start already taken", ErrSlotUnavailable)
		}
	}
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	m.rows[a.ID] = clone(a)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *mockRepo) Transition(_ context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	for _, f := range from {
		if r.Status == f {
			r.Status = to
			r.UpdatedAt = time.Now().UTC()
			return clone(r), nil
		}
	}
	return nil, nil
}

func (m *mockRepo) MarkPaid(_ context.Context, id uuid.UUID, amount float64, txnID string) (*Appointment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, false, nil
	}
	if r.Status != StatusPending && r.Status != StatusConfirmed {
		return nil, false, nil
	}
	r.Status = StatusBooked
	r.PaymentStatus = PaymentPaid
	r.PaymentAmount = &amount
	r.PaymentTxnID = &txnID
	r.PendingExpiresAt = nil
	r.UpdatedAt = time.Now().UTC()
	return clone(r), true, nil
}

func (m *mockRepo) SetInvoiceID(_ context.Context, id uuid.UUID, invoiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	r.InvoiceID = &invoiceID
	return nil
}

func (m *mockRepo) SetOutcomeNotes(_ context.Context, id uuid.UUID, notes, prescription *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if notes != nil {
		r.Notes = notes
	}
	if prescription != nil {
		r.Prescription = prescription
	}
	return nil
}

func (m *mockRepo) UpdateInterval(_ context.Context, id uuid.UUID, start, end time.Time, slotDate *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	for _, other := range m.rows {
		if other.ID != id && other.DoctorID == r.DoctorID && other.Start.Equal(start) && other.Status.Occupies() {
			return fmt.Errorf("%w: start already taken", ErrSlotUnavailable)
		}
	}
	r.Start = start
	r.End = end
	r.SlotDate = slotDate
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockRepo) HasOverlap(_ context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.DoctorID == doctorID && r.Status.Occupies() && r.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) ListOccupied(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, r := range m.rows {
		if r.DoctorID == doctorID && r.Status.Occupies() && r.Overlaps(from, to) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, r := range m.rows {
		if f.DoctorID != nil && r.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && r.PatientID != *f.PatientID {
			continue
		}
		if len(f.Statuses) > 0 {
			found := false
			for _, s := range f.Statuses {
				if r.Status == s {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if f.From != nil && r.Start.Before(*f.From) {
			continue
		}
		if f.To != nil && !r.Start.Before(*f.To) {
			continue
		}
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) ExpireHolds(_ context.Context, now time.Time) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []*Appointment
	for _, r := range m.rows {
		if r.Status == StatusPending && r.PendingExpiresAt != nil && r.PendingExpiresAt.Before(now) {
			r.Status = StatusCancelled
			r.UpdatedAt = now
			expired = append(expired, clone(r))
		}
	}
	return expired, nil
}

func (m *mockRepo) DueReminders(_ context.Context, now time.Time, window time.Duration, flag ReminderFlag) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*Appointment
	for _, r := range m.rows {
		if r.Status != StatusBooked && r.Status != StatusConfirmed {
			continue
		}
		if !r.Start.After(now) || r.Start.After(now.Add(window)) {
			continue
		}
		if flag == Reminder24h && r.ReminderSent24h {
			continue
		}
		if flag == Reminder1h && r.ReminderSent1h {
			continue
		}
		due = append(due, clone(r))
	}
	return due, nil
}

func (m *mockRepo) MarkReminderSent(_ context.Context, id uuid.UUID, flag ReminderFlag) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	switch flag {
	case Reminder24h:
		if r.ReminderSent24h {
			return false, nil
		}
		r.ReminderSent24h = true
	case Reminder1h:
		if r.ReminderSent1h {
			return false, nil
		}
		r.ReminderSent1h = true
	}
	return true, nil
}

type mockSchedules struct {
	byDoctor map[uuid.UUID]*schedule.DoctorSchedule
	slots    map[string][]schedule.Interval
}

func (m *mockSchedules) GetByDoctor(_ context.Context, doctorID uuid.UUID) (*schedule.DoctorSchedule, error) {
	s, ok := m.byDoctor[doctorID]
	if !ok {
		return nil, schedule.ErrNotFound
	}
	return s, nil
}

func (m *mockSchedules) Slots(_ context.Context, doctorID uuid.UUID, date string) ([]schedule.Interval, error) {
	if _, ok := m.byDoctor[doctorID]; !ok {
		return nil, schedule.ErrNotFound
	}
	return m.slots[date], nil
}

type slotRec struct {
	doctorID uuid.UUID
	date     string
	start    time.Time
	end      time.Time
	booked   bool
}

type mockSlots struct {
	mu   sync.Mutex
	recs []*slotRec
}

func (m *mockSlots) add(doctorID uuid.UUID, date string, start, end time.Time, booked bool) {
	m.recs = append(m.recs, &slotRec{doctorID: doctorID, date: date, start: start, end: end, booked: booked})
}

func (m *mockSlots) find(doctorID uuid.UUID, date string, start, end time.Time) *slotRec {
	for _, r := range m.recs {
		if r.doctorID == doctorID && r.date == date && r.start.Equal(start) && r.end.Equal(end) {
			return r
		}
	}
	return nil
}

func (m *mockSlots) AcquireSlot(_ context.Context, doctorID uuid.UUID, date string, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(doctorID, date, start, end)
	if r == nil {
		return availability.ErrSlotNotFound
	}
	if r.booked {
		return availability.ErrSlotAlreadyBooked
	}
	r.booked = true
	return nil
}

func (m *mockSlots) ReleaseSlot(_ context.Context, doctorID uuid.UUID, date string, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(doctorID, date, start, end)
	if r == nil {
		return availability.ErrSlotNotFound
	}
	r.booked = false
	return nil
}

func (m *mockSlots) FreeSlots(_ context.Context, doctorID uuid.UUID, date string) ([]availability.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []availability.Slot
	for _, r := range m.recs {
		if r.doctorID == doctorID && r.date == date && !r.booked {
			out = append(out, availability.Slot{Start: r.start, End: r.end})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *mockSlots) IsBookedInterval(_ context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.doctorID == doctorID && r.booked && r.start.Before(end) && start.Before(r.end) {
			return true, nil
		}
	}
	return false, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) AppointmentEvent(_ context.Context, event string, _ *Appointment, _ map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

type mockInvoicer struct {
	mu    sync.Mutex
	calls int
}

func (m *mockInvoicer) Issue(_ context.Context, appointmentID, patientID, doctorID uuid.UUID, amount float64) (*billing.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return &billing.Invoice{
		ID:            fmt.Sprintf("INV-%03d", m.calls),
		AppointmentID: appointmentID,
		PatientID:     patientID,
		DoctorID:      doctorID,
		Amount:        amount,
		Status:        billing.StatusPaid,
	}, nil
}

type fixture struct {
	repo      *mockRepo
	schedules *mockSchedules
	slots     *mockSlots
	notifier  *recordingNotifier
	invoicer  *mockInvoicer
	svc       *Service
	doctorID  uuid.UUID
	patientID uuid.UUID
}

// tx emulates transactional semantics over the mocks: on error the repo and
// slot state are restored to their pre-call snapshots.
func (f *fixture) tx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.repo.mu.Lock()
	repoSnap := make(map[uuid.UUID]*Appointment, len(f.repo.rows))
	for id, r := range f.repo.rows {
		repoSnap[id] = clone(r)
	}
	f.repo.mu.Unlock()

	f.slots.mu.Lock()
	slotSnap := make([]*slotRec, len(f.slots.recs))
	for i, r := range f.slots.recs {
		cp := *r
		slotSnap[i] = &cp
	}
	f.slots.mu.Unlock()

	if err := fn(ctx); err != nil {
		f.repo.mu.Lock()
		f.repo.rows = repoSnap
		f.repo.mu.Unlock()
		f.slots.mu.Lock()
		f.slots.recs = slotSnap
		f.slots.mu.Unlock()
		return err
	}
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMockRepo(),
		schedules: &mockSchedules{byDoctor: map[uuid.UUID]*schedule.DoctorSchedule{}, slots: map[string][]schedule.Interval{}},
		slots:     &mockSlots{},
		notifier:  &recordingNotifier{},
		invoicer:  &mockInvoicer{},
		doctorID:  uuid.New(),
		patientID: uuid.New(),
	}
	f.schedules.byDoctor[f.doctorID] = &schedule.DoctorSchedule{
		ID:               uuid.New(),
		DoctorID:         f.doctorID,
		Weekly:           schedule.Weekly{Mon: []schedule.Window{{Start: "09:00", End: "12:00"}}},
		SlotDurationMins: 30,
		TimeZone:         "UTC",
		UnavailableDates: []string{"2026-09-08"},
	}
	f.svc = NewService(f.repo, f.schedules, f.slots, f.notifier, f.invoicer, f.tx, 15*time.Minute, zerolog.Nop())
	return f
}

func (f *fixture) create(t *testing.T, start, end time.Time) *Appointment {
	t.Helper()
	appt, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID:   f.doctorID,
		PatientID:  f.patientID,
		HospitalID: uuid.New(),
		Start:      start,
		End:        end,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return appt
}

func TestCreatePending(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, at(9, 0), at(9, 30))

	if appt.Status != StatusPending {
		t.Fatalf("status = %s, want pending", appt.Status)
	}
	if appt.PaymentStatus != PaymentUnpaid {
		t.Fatalf("payment status = %s, want unpaid", appt.PaymentStatus)
	}
	if appt.PendingExpiresAt == nil {
		t.Fatal("pending hold has no expiry")
	}
	if f.notifier.count(notification.EventBookingCreated) != 1 {
		t.Fatal("expected one booking-created notification")
	}
}

func TestCreateRejectsInvalidInterval(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: f.patientID, Start: at(10, 0), End: at(10, 0),
	})
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("err = %v, want ErrInvalidInterval", err)
	}
}

func TestCreateUnknownDoctor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: uuid.New(), PatientID: f.patientID, Start: at(9, 0), End: at(9, 30),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateOnUnavailableDate(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, time.September, 8, 9, 0, 0, 0, time.UTC)
	_, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: f.patientID, Start: start, End: start.Add(30 * time.Minute),
	})
	if !errors.Is(err, ErrDoctorUnavailable) {
		t.Fatalf("err = %v, want ErrDoctorUnavailable", err)
	}
}

func TestCreateRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	f.create(t, at(9, 15), at(9, 45))

	_, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: f.patientID, Start: at(9, 0), End: at(9, 30),
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
}

func TestCreateBackToBack(t *testing.T) {
	f := newFixture(t)
	f.create(t, at(9, 0), at(9, 30))
	f.create(t, at(9, 30), at(10, 0)) // shared boundary, no conflict
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	f := newFixture(t)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(context.Background(), CreateRequest{
				DoctorID:   f.doctorID,
				PatientID:  uuid.New(),
				HospitalID: uuid.New(),
				Start:      at(10, 0),
				End:        at(10, 30),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestCreateFromSlot(t *testing.T) {
	f := newFixture(t)
	f.slots.add(f.doctorID, monday, at(9, 0), at(9, 30), false)

	appt, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: f.patientID, Start: at(9, 0), End: at(9, 30), FromSlot: true,
	})
	if err != nil {
		t.Fatalf("create from slot: %v", err)
	}
	if !appt.ViaSlot() || *appt.SlotDate != monday {
		t.Fatalf("slot date = %v, want %s", appt.SlotDate, monday)
	}
	if rec := f.slots.find(f.doctorID, monday, at(9, 0), at(9, 30)); !rec.booked {
		t.Fatal("slot not marked booked")
	}

	_, err = f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: uuid.New(), Start: at(9, 0), End: at(9, 30), FromSlot: true,
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("second acquisition err = %v, want ErrSlotUnavailable", err)
	}
}

func TestCreateFromMissingSlot(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: f.patientID, Start: at(9, 0), End: at(9, 30), FromSlot: true,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(f.repo.rows) != 0 {
		t.Fatal("no appointment should persist when the slot acquisition fails")
	}
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, at(9, 0), at(9, 30))

	first, err := f.svc.ConfirmPayment(context.Background(), appt.ID, 50, "txn-1")
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if first.Status != StatusBooked || first.PaymentStatus != PaymentPaid {
		t.Fatalf("got status=%s payment=%s, want booked/paid", first.Status, first.PaymentStatus)
	}
	if first.PendingExpiresAt != nil {
		t.Fatal("hold expiry should be cleared once paid")
	}
	if first.InvoiceID == nil {
		t.Fatal("invoice not recorded")
	}

	second, err := f.svc.ConfirmPayment(context.Background(), appt.ID, 50, "txn-1")
	if err != nil {
		t.Fatalf("repeat confirm payment: %v", err)
	}
	if second.Status != StatusBooked {
		t.Fatalf("repeat status = %s, want booked", second.Status)
	}
	if f.invoicer.calls != 1 {
		t.Fatalf("invoices issued = %d, want 1", f.invoicer.calls)
	}
	if f.notifier.count(notification.EventPaymentConfirmed) != 1 {
		t.Fatal("expected exactly one payment-confirmed notification")
	}
}

func TestConfirmPaymentAfterCancel(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, at(9, 0), at(9, 30))
	if _, err := f.svc.Cancel(context.Background(), appt.ID, "patient"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := f.svc.ConfirmPayment(context.Background(), appt.ID, 50, "txn-late")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestConfirmAccept(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, at(9, 0), at(9, 30))

	updated, err := f.svc.Confirm(context.Background(), appt.ID, true)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if updated.Status != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", updated.Status)
	}
	if f.notifier.count(notification.EventConfirmed) != 1 {
		t.Fatal("expected one confirmed notification")
	}
}

func TestConfirmRejectReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.slots.add(f.doctorID, monday, at(9, 0), at(9, 30), false)
	appt, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: f.patientID, Start: at(9, 0), End: at(9, 30), FromSlot: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := f.svc.Confirm(context.Background(), appt.ID, false)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if updated.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", updated.Status)
	}
	if rec := f.slots.find(f.doctorID, monday, at(9, 0), at(9, 30)); rec.booked {
		t.Fatal("slot should be released on rejection")
	}
}

func TestCompleteRecordsOutcome(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, at(9, 0), at(9, 30))
	if _, err := f.svc.ConfirmPayment(context.Background(), appt.ID, 50, "txn-1"); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	notes := "follow up in two weeks"
	rx := "amoxicillin 500mg"
	updated, err := f.svc.Complete(context.Background(), appt.ID, StatusCompleted, &notes, &rx)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", updated.Status)
	}
	if updated.Notes == nil || *updated.Notes != notes {
		t.Fatal("notes not recorded")
	}
	if updated.Prescription == nil || *updated.Prescription != rx {
		t.Fatal("prescription not recorded")
	}
}

func TestCompleteRejectsPending(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, at(9, 0), at(9, 30))

	_, err := f.svc.Complete(context.Background(), appt.ID, StatusCompleted, nil, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCompleteRejectsBadOutcome(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, at(9, 0), at(9, 30))

	_, err := f.svc.Complete(context.Background(), appt.ID, StatusCancelled, nil, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, at(9, 0), at(9, 30))

	first, err := f.svc.Cancel(context.Background(), appt.ID, "patient")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if first.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", first.Status)
	}

	second, err := f.svc.Cancel(context.Background(), appt.ID, "patient")
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if second.Status != StatusCancelled {
		t.Fatalf("repeat status = %s, want cancelled", second.Status)
	}
	if f.notifier.count(notification.EventCancelled) != 1 {
		t.Fatal("expected exactly one cancelled notification")
	}
}

func TestCancelCompletedRejected(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, at(9, 0), at(9, 30))
	if _, err := f.svc.ConfirmPayment(context.Background(), appt.ID, 50, "txn-1"); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if _, err := f.svc.Complete(context.Background(), appt.ID, StatusCompleted, nil, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := f.svc.Cancel(context.Background(), appt.ID, "patient")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.slots.add(f.doctorID, monday, at(9, 0), at(9, 30), false)
	appt, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: f.patientID, Start: at(9, 0), End: at(9, 30), FromSlot: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), appt.ID, "patient"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec := f.slots.find(f.doctorID, monday, at(9, 0), at(9, 30)); rec.booked {
		t.Fatal("slot should be released on cancel")
	}
}

func TestRescheduleMovesSlot(t *testing.T) {
	f := newFixture(t)
	f.slots.add(f.doctorID, monday, at(9, 0), at(9, 30), false)
	f.slots.add(f.doctorID, monday, at(11, 0), at(11, 30), false)
	appt, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: f.patientID, Start: at(9, 0), End: at(9, 30), FromSlot: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := f.svc.Reschedule(context.Background(), appt.ID, at(11, 0), at(11, 30))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !updated.Start.Equal(at(11, 0)) || !updated.End.Equal(at(11, 30)) {
		t.Fatalf("interval = [%v, %v), want [11:00, 11:30)", updated.Start, updated.End)
	}
	if f.slots.find(f.doctorID, monday, at(9, 0), at(9, 30)).booked {
		t.Fatal("old slot should be free")
	}
	if !f.slots.find(f.doctorID, monday, at(11, 0), at(11, 30)).booked {
		t.Fatal("new slot should be booked")
	}
	if f.notifier.count(notification.EventRescheduled) != 1 {
		t.Fatal("expected one rescheduled notification")
	}
}

func TestRescheduleFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	f.slots.add(f.doctorID, monday, at(9, 0), at(9, 30), false)
	f.slots.add(f.doctorID, monday, at(11, 0), at(11, 30), true) // target taken
	appt, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: f.patientID, Start: at(9, 0), End: at(9, 30), FromSlot: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.Reschedule(context.Background(), appt.ID, at(11, 0), at(11, 30))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}

	current, err := f.svc.Get(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !current.Start.Equal(at(9, 0)) {
		t.Fatal("original interval should be intact after failed reschedule")
	}
	if !f.slots.find(f.doctorID, monday, at(9, 0), at(9, 30)).booked {
		t.Fatal("original slot should stay booked after failed reschedule")
	}
}

func TestRescheduleRejectsOverlapWithOther(t *testing.T) {
	f := newFixture(t)
	f.create(t, at(10, 0), at(10, 30))
	appt := f.create(t, at(9, 0), at(9, 30))

	_, err := f.svc.Reschedule(context.Background(), appt.ID, at(10, 15), at(10, 45))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
}

func TestRescheduleTerminalRejected(t *testing.T) {
	f := newFixture(t)
	appt := f.create(t, at(9, 0), at(9, 30))
	if _, err := f.svc.Cancel(context.Background(), appt.ID, "patient"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := f.svc.Reschedule(context.Background(), appt.ID, at(11, 0), at(11, 30))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCheckConflict(t *testing.T) {
	f := newFixture(t)
	f.create(t, at(9, 0), at(9, 30))
	f.slots.add(f.doctorID, monday, at(11, 0), at(11, 30), true)

	c, err := f.svc.CheckConflict(context.Background(), f.doctorID, at(9, 15), at(9, 45))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if c != ConflictAppointment {
		t.Fatalf("conflict = %q, want appointment conflict", c)
	}

	c, err = f.svc.CheckConflict(context.Background(), f.doctorID, at(11, 15), at(11, 45))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if c != ConflictSlot {
		t.Fatalf("conflict = %q, want slot conflict", c)
	}

	c, err = f.svc.CheckConflict(context.Background(), f.doctorID, at(14, 0), at(14, 30))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if c != ConflictNone {
		t.Fatalf("conflict = %q, want free", c)
	}
}

func TestFreeSlotsFiltersAndMerges(t *testing.T) {
	f := newFixture(t)
	f.schedules.slots[monday] = []schedule.Interval{
		{Start: at(9, 0), End: at(9, 30)},
		{Start: at(9, 30), End: at(10, 0)},
		{Start: at(10, 0), End: at(10, 30)},
	}
	// explicit inventory: one duplicate of the calendar, one extra
	f.slots.add(f.doctorID, monday, at(9, 0), at(9, 30), false)
	f.slots.add(f.doctorID, monday, at(14, 0), at(14, 30), false)
	// 09:30 is taken
	f.create(t, at(9, 30), at(10, 0))

	free, err := f.svc.FreeSlots(context.Background(), f.doctorID, monday)
	if err != nil {
		t.Fatalf("free slots: %v", err)
	}

	want := []schedule.Interval{
		{Start: at(9, 0), End: at(9, 30)},
		{Start: at(10, 0), End: at(10, 30)},
		{Start: at(14, 0), End: at(14, 30)},
	}
	if len(free) != len(want) {
		t.Fatalf("got %d slots, want %d: %+v", len(free), len(want), free)
	}
	for i := range want {
		if !free[i].Start.Equal(want[i].Start) || !free[i].End.Equal(want[i].End) {
			t.Errorf("slot %d = [%v, %v), want [%v, %v)", i, free[i].Start, free[i].End, want[i].Start, want[i].End)
		}
	}
}

func TestFreeSlotsRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.slots.add(f.doctorID, monday, at(9, 0), at(9, 30), false)
	f.slots.add(f.doctorID, monday, at(9, 30), at(10, 0), false)

	appt, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: f.patientID, Start: at(9, 0), End: at(9, 30), FromSlot: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	free, err := f.svc.FreeSlots(context.Background(), f.doctorID, monday)
	if err != nil {
		t.Fatalf("free slots: %v", err)
	}
	if len(free) != 1 || !free[0].Start.Equal(at(9, 30)) {
		t.Fatalf("free = %+v, want only the 09:30 slot", free)
	}

	if _, err := f.svc.Cancel(context.Background(), appt.ID, "patient"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	free, err = f.svc.FreeSlots(context.Background(), f.doctorID, monday)
	if err != nil {
		t.Fatalf("free slots after cancel: %v", err)
	}
	if len(free) != 2 {
		t.Fatalf("free after cancel = %+v, want both slots back", free)
	}
}

func TestListForPatient(t *testing.T) {
	f := newFixture(t)
	f.create(t, at(9, 0), at(9, 30))
	f.create(t, at(10, 0), at(10, 30))

	other := uuid.New()
	_, err := f.svc.Create(context.Background(), CreateRequest{
		DoctorID: f.doctorID, PatientID: other, Start: at(11, 0), End: at(11, 30),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	items, total, err := f.svc.ListForPatient(context.Background(), f.patientID, nil, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("total=%d len=%d, want 2/2", total, len(items))
	}
	if !items[0].Start.Before(items[1].Start) {
		t.Fatal("list should be chronological")
	}
}
