package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotAlreadyBooked   = errors.New("doctor already has an appointment at this time")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Create inserts a new row. A second active appointment for the same
	// doctor and instant fails with ErrSlotAlreadyBooked.
	Create(ctx context.Context, a Appointment) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus moves id to `to` only while its status is one of from.
	// ErrAppointmentNotFound means no row matched.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	ListByClinic(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]Appointment, error)
	// ListActiveForDoctor returns scheduled/confirmed appointments starting in [start, end).
	ListActiveForDoctor(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]Appointment, error)
	FindActiveAt(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Appointment, error)
	CountActiveBetween(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (int, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
