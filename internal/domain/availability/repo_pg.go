package availability

import (
	"context"
	"errors"
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

// NewRepoPG creates the Postgres-backed availability repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

func (r *repoPG) loadSlots(ctx context.Context, dayID uuid.UUID) ([]Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, day_id, start_time, end_time, booked
		FROM availability_slot WHERE day_id = $1 ORDER BY start_time`, dayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.DayID, &s.Start, &s.End, &s.Booked); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (r *repoPG) scanDay(ctx context.Context, row pgx.Row) (*Day, error) {
	var d Day
	if err := row.Scan(&d.ID, &d.DoctorID, &d.Date, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	slots, err := r.loadSlots(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	d.Slots = slots
	return &d, nil
}

const dayCols = `id, doctor_id, date, created_at, updated_at`

func (r *repoPG) GetDay(ctx context.Context, doctorID uuid.UUID, date string) (*Day, error) {
	return r.scanDay(ctx, r.conn(ctx).QueryRow(ctx,
		`SELECT `+dayCols+` FROM availability_day WHERE doctor_id = $1 AND date = $2`, doctorID, date))
}

func (r *repoPG) GetDayByID(ctx context.Context, dayID uuid.UUID) (*Day, error) {
	return r.scanDay(ctx, r.conn(ctx).QueryRow(ctx,
		`SELECT `+dayCols+` FROM availability_day WHERE id = $1`, dayID))
}

func (r *repoPG) ListDays(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Day, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM availability_day WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+dayCols+` FROM availability_day WHERE doctor_id = $1 ORDER BY date LIMIT $2 OFFSET $3`,
		doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var days []*Day
	for rows.Next() {
		var d Day
		if err := rows.Scan(&d.ID, &d.DoctorID, &d.Date, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, err
		}
		days = append(days, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, d := range days {
		slots, err := r.loadSlots(ctx, d.ID)
		if err != nil {
			return nil, 0, err
		}
		d.Slots = slots
	}
	return days, total, nil
}

func (r *repoPG) CreateSlots(ctx context.Context, doctorID uuid.UUID, date string, slots []Slot) (*Day, error) {
	var day *Day
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		var dayID uuid.UUID
		err := q.QueryRow(ctx, `
			INSERT INTO availability_day (id, doctor_id, date)
			VALUES ($1, $2, $3)
			ON CONFLICT (doctor_id, date) DO UPDATE SET updated_at = NOW()
			RETURNING id`, uuid.New(), doctorID, date).Scan(&dayID)
		if err != nil {
			return err
		}

		// Lock the day's slots so a concurrent CreateSlots cannot interleave
		// its overlap check with ours.
		rows, err := q.Query(ctx, `
			SELECT id, day_id, start_time, end_time, booked
			FROM availability_slot WHERE day_id = $1 FOR UPDATE`, dayID)
		if err != nil {
			return err
		}
		var stored []Slot
		for rows.Next() {
			var s Slot
			if err := rows.Scan(&s.ID, &s.DayID, &s.Start, &s.End, &s.Booked); err != nil {
				rows.Close()
				return err
			}
			stored = append(stored, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, s := range slots {
			if overlapsAny(s, stored) {
				return ErrOverlappingSlot
			}
		}
		for i := range slots {
			slots[i].ID = uuid.New()
			slots[i].DayID = dayID
			slots[i].Booked = false
			if _, err := q.Exec(ctx, `
				INSERT INTO availability_slot (id, day_id, start_time, end_time, booked)
				VALUES ($1, $2, $3, $4, false)`,
				slots[i].ID, dayID, slots[i].Start, slots[i].End); err != nil {
				return err
			}
		}

		d, err := r.scanDay(ctx, q.QueryRow(ctx,
			`SELECT `+dayCols+` FROM availability_day WHERE id = $1`, dayID))
		if err != nil {
			return err
		}
		day = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return day, nil
}

func (r *repoPG) ReplaceSlots(ctx context.Context, dayID uuid.UUID, slots []Slot) (*Day, error) {
	var day *Day
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		var exists bool
		if err := q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM availability_day WHERE id = $1)`, dayID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}

		// Lock the current slots and refuse to replace a day with bookings.
		rows, err := q.Query(ctx,
			`SELECT booked FROM availability_slot WHERE day_id = $1 FOR UPDATE`, dayID)
		if err != nil {
			return err
		}
		var anyBooked bool
		for rows.Next() {
			var booked bool
			if err := rows.Scan(&booked); err != nil {
				rows.Close()
				return err
			}
			anyBooked = anyBooked || booked
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if anyBooked {
			return ErrSlotBooked
		}

		if _, err := q.Exec(ctx, `DELETE FROM availability_slot WHERE day_id = $1`, dayID); err != nil {
			return err
		}
		for i := range slots {
			slots[i].ID = uuid.New()
			slots[i].DayID = dayID
			slots[i].Booked = false
			if _, err := q.Exec(ctx, `
				INSERT INTO availability_slot (id, day_id, start_time, end_time, booked)
				VALUES ($1, $2, $3, $4, false)`,
				slots[i].ID, dayID, slots[i].Start, slots[i].End); err != nil {
				return err
			}
		}
		if _, err := q.Exec(ctx,
			`UPDATE availability_day SET updated_at = NOW() WHERE id = $1`, dayID); err != nil {
			return err
		}

		d, err := r.scanDay(ctx, q.QueryRow(ctx,
			`SELECT `+dayCols+` FROM availability_day WHERE id = $1`, dayID))
		if err != nil {
			return err
		}
		day = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return day, nil
}

// AcquireSlot is the authoritative race breaker on the explicit-slot path: a
// single compare-and-set, so of two concurrent acquisitions exactly one sees
// booked=false.
func (r *repoPG) AcquireSlot(ctx context.Context, doctorID uuid.UUID, date string, start, end time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE availability_slot s SET booked = true
		FROM availability_day d
		WHERE s.day_id = d.id AND d.doctor_id = $1 AND d.date = $2
			AND s.start_time = $3 AND s.end_time = $4 AND s.booked = false`,
		doctorID, date, start, end)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var booked bool
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT s.booked FROM availability_slot s
		JOIN availability_day d ON s.day_id = d.id
		WHERE d.doctor_id = $1 AND d.date = $2 AND s.start_time = $3 AND s.end_time = $4`,
		doctorID, date, start, end).Scan(&booked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSlotNotFound
	}
	if err != nil {
		return err
	}
	return ErrSlotAlreadyBooked
}

func (r *repoPG) ReleaseSlot(ctx context.Context, doctorID uuid.UUID, date string, start, end time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE availability_slot s SET booked = false
		FROM availability_day d
		WHERE s.day_id = d.id AND d.doctor_id = $1 AND d.date = $2
			AND s.start_time = $3 AND s.end_time = $4`,
		doctorID, date, start, end)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *repoPG) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM availability_slot WHERE id = $1 AND booked = false`, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM availability_slot WHERE id = $1)`, slotID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrSlotBooked
	}
	return ErrSlotNotFound
}

func (r *repoPG) DeleteDay(ctx context.Context, dayID uuid.UUID) error {
	var booked bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM availability_slot WHERE day_id = $1 AND booked)`, dayID).Scan(&booked); err != nil {
		return err
	}
	if booked {
		return ErrSlotBooked
	}
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_day WHERE id = $1`, dayID)
	return err
}

func (r *repoPG) FreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.id, s.day_id, s.start_time, s.end_time, s.booked
		FROM availability_slot s
		JOIN availability_day d ON s.day_id = d.id
		WHERE d.doctor_id = $1 AND d.date = $2 AND s.booked = false
		ORDER BY s.start_time`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.DayID, &s.Start, &s.End, &s.Booked); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (r *repoPG) IsBookedInterval(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	var booked bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM availability_slot s
			JOIN availability_day d ON s.day_id = d.id
			WHERE d.doctor_id = $1 AND s.start_time = $2 AND s.end_time = $3 AND s.booked)`,
		doctorID, start, end).Scan(&booked)
	return booked, err
}
