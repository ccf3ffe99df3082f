package schedule

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists doctor schedules.
type Repository interface {
	Upsert(ctx context.Context, s *DoctorSchedule) error
	GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*DoctorSchedule, error)
	SetUnavailableDates(ctx context.Context, doctorID uuid.UUID, dates []string) error
	Delete(ctx context.Context, doctorID uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*DoctorSchedule, int, error)
}
