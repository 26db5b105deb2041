package blocks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// AppointmentProbe counts live bookings in a window. Creating a block over them
// is allowed; the count is only used to flag it.
type AppointmentProbe interface {
	CountActiveBetween(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (int, error)
}

type Service struct {
	repo      Repository
	probe     AppointmentProbe
	publisher events.Publisher
	logger    *logging.Logger
}

func NewService(repo Repository, probe AppointmentProbe, publisher events.Publisher, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, probe: probe, publisher: publisher, logger: logger}
}

func validate(b *ScheduleBlock) error {
	if b.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor is required", ErrInvalidBlock)
	}
	if b.ClinicID == uuid.Nil {
		return fmt.Errorf("%w: clinic is required", ErrInvalidBlock)
	}
	if !b.Type.Valid() {
		return fmt.Errorf("%w: unknown block type %q", ErrInvalidBlock, b.Type)
	}
	if b.StartAt.IsZero() || b.EndAt.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidBlock)
	}
	if !b.StartAt.Before(b.EndAt) {
		return fmt.Errorf("%w: start must be before end", ErrInvalidBlock)
	}
	b.Title = strings.TrimSpace(b.Title)
	if b.Title == "" {
		b.Title = b.Type.Label()
	}
	return nil
}

// Create stores a new block. No conflict check is made against other blocks or
// appointments.
func (s *Service) Create(ctx context.Context, doctorID, clinicID uuid.UUID, in BlockInput) (*ScheduleBlock, error) {
	if in.Type == "" {
		in.Type = TypeUnavailable
	}
	b := ScheduleBlock{
		DoctorID:          doctorID,
		ClinicID:          clinicID,
		Title:             in.Title,
		Description:       in.Description,
		StartAt:           in.StartAt,
		EndAt:             in.EndAt,
		Type:              in.Type,
		IsRecurring:       in.IsRecurring,
		RecurrencePattern: in.RecurrencePattern,
	}
	if err := validate(&b); err != nil {
		return nil, err
	}

	created, err := s.repo.Insert(ctx, b)
	if err != nil {
		return nil, err
	}

	s.flagBookedOverlap(ctx, created)
	s.announce(ctx, created, events.OpInsert)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error) {
	return s.repo.Get(ctx, id)
}

// Update merges patch into the stored block and writes it back.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch BlockPatch) (*ScheduleBlock, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.apply(current)
	if err := validate(current); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, *current)
	if err != nil {
		return nil, fmt.Errorf("update schedule block: %w", err)
	}

	s.flagBookedOverlap(ctx, updated)
	s.announce(ctx, updated, events.OpUpdate)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.announce(ctx, current, events.OpDelete)
	return nil
}

// Overlaps reports whether any of the doctor's blocks intersects [start, end).
func (s *Service) Overlaps(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	found, err := s.repo.ListOverlapping(ctx, doctorID, start, end)
	if err != nil {
		return false, err
	}
	for _, b := range found {
		if b.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

// BlocksInRange lists the clinic's blocks intersecting [start, end], optionally
// for a single doctor.
func (s *Service) BlocksInRange(ctx context.Context, clinicID uuid.UUID, start, end time.Time, doctorID *uuid.UUID) ([]ScheduleBlock, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range end before start", ErrInvalidBlock)
	}
	return s.repo.ListInRange(ctx, RangeFilter{
		ClinicID: clinicID,
		DoctorID: doctorID,
		Start:    start,
		End:      end,
	})
}

// DoctorBlocks is the availability resolver's read path.
func (s *Service) DoctorBlocks(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]ScheduleBlock, error) {
	return s.repo.ListOverlapping(ctx, doctorID, start, end)
}

func (s *Service) flagBookedOverlap(ctx context.Context, b *ScheduleBlock) {
	if s.probe == nil {
		return
	}
	n, err := s.probe.CountActiveBetween(ctx, b.DoctorID, b.StartAt, b.EndAt)
	if err != nil {
		s.logger.Warn("could not check block against appointments", "block_id", b.ID, "error", err)
		return
	}
	if n > 0 {
		s.logger.Warn("schedule block overlaps booked appointments",
			"block_id", b.ID,
			"doctor_id", b.DoctorID,
			"appointments", n,
		)
	}
}

func (s *Service) announce(ctx context.Context, b *ScheduleBlock, op events.Op) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.ChangeEvent{
		ClinicID: b.ClinicID,
		Entity:   events.EntityScheduleBlock,
		Op:       op,
		RecordID: b.ID,
	})
	if err != nil {
		s.logger.Warn("failed to publish block change", "block_id", b.ID, "error", err)
	}
}
