package schedule

import (
	"context"
	"errors"

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

// NewRepoPG creates the Postgres-backed schedule repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const schedCols = `id, doctor_id, weekly, slot_duration_mins, time_zone, unavailable_dates, created_at, updated_at`

func scanSchedule(row pgx.Row) (*DoctorSchedule, error) {
	var s DoctorSchedule
	err := row.Scan(&s.ID, &s.DoctorID, &s.Weekly, &s.SlotDurationMins,
		&s.TimeZone, &s.UnavailableDates, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) Upsert(ctx context.Context, s *DoctorSchedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_schedule (id, doctor_id, weekly, slot_duration_mins, time_zone, unavailable_dates)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doctor_id) DO UPDATE
		SET weekly = EXCLUDED.weekly,
			slot_duration_mins = EXCLUDED.slot_duration_mins,
			time_zone = EXCLUDED.time_zone,
			unavailable_dates = EXCLUDED.unavailable_dates,
			updated_at = NOW()`,
		s.ID, s.DoctorID, s.Weekly, s.SlotDurationMins, s.TimeZone, s.UnavailableDates)
	return err
}

func (r *repoPG) GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*DoctorSchedule, error) {
	return scanSchedule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+schedCols+` FROM doctor_schedule WHERE doctor_id = $1`, doctorID))
}

func (r *repoPG) SetUnavailableDates(ctx context.Context, doctorID uuid.UUID, dates []string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_schedule SET unavailable_dates = $2, updated_at = NOW()
		WHERE doctor_id = $1`, doctorID, dates)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, doctorID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_schedule WHERE doctor_id = $1`, doctorID)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*DoctorSchedule, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor_schedule`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+schedCols+` FROM doctor_schedule ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DoctorSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
