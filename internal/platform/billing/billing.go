// Package billing issues invoices for paid appointments and abstracts the
// payment gateway used to confirm charges.
package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Invoice payment statuses.
const (
	StatusUnpaid   = "unpaid"
	StatusPaid     = "paid"
	StatusRefunded = "refunded"
)

// Invoice is the billing record generated when an appointment is paid for.
type Invoice struct {
	ID            string    `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Amount        float64   `db:"amount" json:"amount"`
	Currency      string    `db:"currency" json:"currency"`
	Status        string    `db:"status" json:"status"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	IssuedAt      time.Time `db:"issued_at" json:"issued_at"`
}

// Gateway charges a payment method. Implementations talk to the real
// processor; tests use MockGateway.
type Gateway interface {
	Charge(ctx context.Context, amount float64, currency, reference string) (txnID string, err error)
}

// Store persists issued invoices.
type Store interface {
	Save(ctx context.Context, inv *Invoice) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error)
}

// ErrInvoiceNotFound is returned when no invoice exists for an appointment.
var ErrInvoiceNotFound = errors.New("invoice not found")

// ErrChargeDeclined is returned when the gateway rejects the charge.
var ErrChargeDeclined = errors.New("payment declined")

// Issuer charges the gateway and records an invoice for the appointment.
type Issuer struct {
	gateway  Gateway
	store    Store
	currency string
	logger   zerolog.Logger
}

// NewIssuer constructs an Issuer. Currency applies to every invoice issued.
func NewIssuer(gateway Gateway, store Store, currency string, logger zerolog.Logger) *Issuer {
	return &Issuer{gateway: gateway, store: store, currency: currency, logger: logger}
}

// Issue charges the given amount and records an invoice. The invoice ID is
// derived from the issue timestamp so it is human-quotable on receipts.
func (i *Issuer) Issue(ctx context.Context, appointmentID, patientID, doctorID uuid.UUID, amount float64) (*Invoice, error) {
	txnID, err := i.gateway.Charge(ctx, amount, i.currency, appointmentID.String())
	if err != nil {
		i.logger.Error().Err(err).
			Str("appointment_id", appointmentID.String()).
			Float64("amount", amount).
			Msg("payment charge failed")
		return nil, fmt.Errorf("%w: %v", ErrChargeDeclined, err)
	}

	now := time.Now().UTC()
	inv := &Invoice{
		ID:            fmt.Sprintf("INV-%d", now.UnixMilli()),
		AppointmentID: appointmentID,
		PatientID:     patientID,
		DoctorID:      doctorID,
		Amount:        amount,
		Currency:      i.currency,
		Status:        StatusPaid,
		TransactionID: txnID,
		IssuedAt:      now,
	}
	if err := i.store.Save(ctx, inv); err != nil {
		return nil, fmt.Errorf("save invoice: %w", err)
	}
	return inv, nil
}

// Lookup returns the invoice recorded for an appointment, if any.
func (i *Issuer) Lookup(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	return i.store.GetByAppointment(ctx, appointmentID)
}

// MemoryStore keeps invoices in memory. Used in tests and dev mode.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[uuid.UUID]*Invoice
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invoices: make(map[uuid.UUID]*Invoice)}
}

func (s *MemoryStore) Save(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.AppointmentID] = inv
	return nil
}

func (s *MemoryStore) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[appointmentID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return inv, nil
}

// ExternalGateway records charges already settled by the external payment
// processor. The portal only receives the confirmation callback, so Charge
// never contacts a processor and never declines.
type ExternalGateway struct{}

func (ExternalGateway) Charge(_ context.Context, _ float64, _ string, reference string) (string, error) {
	return "ext-" + reference, nil
}

// MockGateway is a test double for Gateway.
type MockGateway struct {
	mu         sync.Mutex
	charges    []ChargeCall
	ShouldFail bool
	FailError  string
}

// ChargeCall records a single call to Charge.
type ChargeCall struct {
	Amount    float64
	Currency  string
	Reference string
}

func (m *MockGateway) Charge(_ context.Context, amount float64, currency, reference string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges = append(m.charges, ChargeCall{Amount: amount, Currency: currency, Reference: reference})
	if m.ShouldFail {
		return "", errors.New(m.FailError)
	}
	return "txn_" + uuid.New().String(), nil
}

// Charges returns a copy of recorded charge calls.
func (m *MockGateway) Charges() []ChargeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChargeCall, len(m.charges))
	copy(out, m.charges)
	return out
}
