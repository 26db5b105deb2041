package clinic

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

var (
	ErrClinicNotFound = errors.New("clinic not found")
	ErrDoctorNotFound = errors.New("doctor not found")
)

// Repository contains the clinic and doctor reads/writes used by scheduling.
type Repository interface {
	GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context, clinicID uuid.UUID) ([]Doctor, error)

	UpdateClinicWorkingHours(ctx context.Context, id uuid.UUID, wh schedule.WorkingHours) error
	UpdateDoctorWorkingHours(ctx context.Context, id uuid.UUID, wh schedule.WorkingHours) error
}
