package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicportal/api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the Postgres-backed appointment repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const apptCols = `id, doctor_id, patient_id, hospital_id, start_time, end_time, status,
	reason, notes, prescription, slot_date, reminder_sent_24h, reminder_sent_1h,
	pending_expires_at, payment_amount, payment_status, payment_txn_id, invoice_id,
	created_at, updated_at`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.HospitalID, &a.Start, &a.End, &a.Status,
		&a.Reason, &a.Notes, &a.Prescription, &a.SlotDate, &a.ReminderSent24h, &a.ReminderSent1h,
		&a.PendingExpiresAt, &a.PaymentAmount, &a.PaymentStatus, &a.PaymentTxnID, &a.InvoiceID,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create relies on the partial unique index over (doctor_id, start_time)
// scoped to the occupying statuses: of two concurrent inserts for the same
// slot exactly one commits, the other maps to ErrSlotUnavailable.
func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, doctor_id, patient_id, hospital_id, start_time, end_time,
			status, reason, slot_date, pending_expires_at, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.DoctorID, a.PatientID, a.HospitalID, a.Start, a.End,
		a.Status, a.Reason, a.SlotDate, a.PendingExpiresAt, a.PaymentStatus)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotUnavailable
		}
		return err
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+apptCols, id, statusStrings(from), string(to))
	a, err := scanAppt(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *repoPG) MarkPaid(ctx context.Context, id uuid.UUID, amount float64, txnID string) (*Appointment, bool, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment
		SET status = 'booked', payment_status = 'paid', payment_amount = $2,
			payment_txn_id = $3, pending_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING `+apptCols, id, amount, txnID)
	a, err := scanAppt(row)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func (r *repoPG) SetInvoiceID(ctx context.Context, id uuid.UUID, invoiceID string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointment SET invoice_id = $2, updated_at = NOW() WHERE id = $1`, id, invoiceID)
	return err
}

func (r *repoPG) SetOutcomeNotes(ctx context.Context, id uuid.UUID, notes, prescription *string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET notes = COALESCE($2, notes),
			prescription = COALESCE($3, prescription), updated_at = NOW()
		WHERE id = $1`, id, notes, prescription)
	return err
}

func (r *repoPG) UpdateInterval(ctx context.Context, id uuid.UUID, start, end time.Time, slotDate *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET start_time = $2, end_time = $3, slot_date = $4, updated_at = NOW()
		WHERE id = $1`, id, start, end, slotDate)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotUnavailable
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) HasOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	var overlap bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE doctor_id = $1
				AND status = ANY($2)
				AND start_time < $4 AND $3 < end_time)`,
		doctorID, statusStrings(OccupyingStatuses), start, end).Scan(&overlap)
	return overlap, err
}

func (r *repoPG) ListOccupied(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND status = ANY($2)
			AND start_time < $4 AND $3 < end_time
		ORDER BY start_time`,
		doctorID, statusStrings(OccupyingStatuses), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppts(rows)
}

func collectAppts(rows pgx.Rows) ([]*Appointment, error) {
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if len(f.Statuses) > 0 {
		where += fmt.Sprintf(` AND status = ANY($%d)`, idx)
		args = append(args, statusStrings(f.Statuses))
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(` AND start_time >= $%d`, idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(` AND start_time < $%d`, idx)
		args = append(args, *f.To)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY start_time LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectAppts(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ExpireHolds(ctx context.Context, now time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE appointment SET status = 'cancelled', updated_at = NOW()
		WHERE status = 'pending' AND pending_expires_at IS NOT NULL AND pending_expires_at < $1
		RETURNING `+apptCols, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppts(rows)
}

func (r *repoPG) DueReminders(ctx context.Context, now time.Time, window time.Duration, flag ReminderFlag) ([]*Appointment, error) {
	if flag != Reminder24h && flag != Reminder1h {
		return nil, fmt.Errorf("unknown reminder flag %q", flag)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE status IN ('booked', 'confirmed')
			AND start_time > $1 AND start_time <= $2
			AND `+string(flag)+` = false
		ORDER BY start_time`, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppts(rows)
}

func (r *repoPG) MarkReminderSent(ctx context.Context, id uuid.UUID, flag ReminderFlag) (bool, error) {
	if flag != Reminder24h && flag != Reminder1h {
		return false, fmt.Errorf("unknown reminder flag %q", flag)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET `+string(flag)+` = true, updated_at = NOW()
		WHERE id = $1 AND `+string(flag)+` = false`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
