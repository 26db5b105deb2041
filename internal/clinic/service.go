package clinic

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

var ErrDoctorNotInClinic = errors.New("doctor does not belong to clinic")

type Service struct {
	repo      Repository
	publisher events.Publisher
	logger    *logging.Logger
}

func NewService(repo Repository, publisher events.Publisher, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, publisher: publisher, logger: logger}
}

func (s *Service) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return s.repo.GetClinic(ctx, id)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetDoctor(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, clinicID uuid.UUID) ([]Doctor, error) {
	return s.repo.ListDoctors(ctx, clinicID)
}

// SetClinicWorkingHours replaces the clinic's whole weekly schedule. Malformed
// intervals are rejected before anything is written.
func (s *Service) SetClinicWorkingHours(ctx context.Context, clinicID uuid.UUID, wh schedule.WorkingHours) (*Clinic, error) {
	if err := wh.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateClinicWorkingHours(ctx, clinicID, wh); err != nil {
		return nil, fmt.Errorf("set clinic working hours: %w", err)
	}
	s.announce(ctx, clinicID, clinicID)
	return s.repo.GetClinic(ctx, clinicID)
}

// SetDoctorWorkingHours replaces a doctor's override. A nil schedule clears the
// override so the clinic's hours apply again.
func (s *Service) SetDoctorWorkingHours(ctx context.Context, clinicID, doctorID uuid.UUID, wh schedule.WorkingHours) (*Doctor, error) {
	if err := wh.Validate(); err != nil {
		return nil, err
	}
	doc, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doc.ClinicID != clinicID {
		return nil, ErrDoctorNotInClinic
	}
	if err := s.repo.UpdateDoctorWorkingHours(ctx, doctorID, wh); err != nil {
		return nil, fmt.Errorf("set doctor working hours: %w", err)
	}
	s.announce(ctx, clinicID, doctorID)
	doc.WorkingHours = wh
	return doc, nil
}

func (s *Service) announce(ctx context.Context, clinicID, recordID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.ChangeEvent{
		ClinicID: clinicID,
		Entity:   events.EntityWorkingHours,
		Op:       events.OpUpdate,
		RecordID: recordID,
	})
	if err != nil {
		s.logger.Warn("failed to publish working hours change", "clinic_id", clinicID, "error", err)
	}
}
