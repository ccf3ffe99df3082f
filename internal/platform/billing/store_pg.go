package billing

import (
	"context"
	"errors"

	"github.com/clinicportal/api/internal/platform/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore persists invoices in the tenant's invoice table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore backed by the given pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// conn prefers the open transaction or tenant-scoped connection from context.
func (s *PgStore) conn(ctx context.Context) queryable {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return s.pool
}

func (s *PgStore) Save(ctx context.Context, inv *Invoice) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO invoice (id, appointment_id, patient_id, doctor_id, amount, currency, status, transaction_id, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (appointment_id) DO UPDATE
		SET status = EXCLUDED.status, transaction_id = EXCLUDED.transaction_id`,
		inv.ID, inv.AppointmentID, inv.PatientID, inv.DoctorID,
		inv.Amount, inv.Currency, inv.Status, inv.TransactionID, inv.IssuedAt)
	return err
}

func (s *PgStore) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	var inv Invoice
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, appointment_id, patient_id, doctor_id, amount, currency, status, transaction_id, issued_at
		FROM invoice WHERE appointment_id = $1`, appointmentID).
		Scan(&inv.ID, &inv.AppointmentID, &inv.PatientID, &inv.DoctorID,
			&inv.Amount, &inv.Currency, &inv.Status, &inv.TransactionID, &inv.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}
