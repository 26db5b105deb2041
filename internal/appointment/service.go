package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/patient"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentDeleted   = "APPOINTMENT_DELETED"

	WebhookAppointmentCreated   = "appointment.created"
	WebhookAppointmentCancelled = "appointment.cancelled"
)

var (
	ErrValidation              = errors.New("invalid appointment request")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

var tracer = otel.Tracer("clinic.internal.appointment")

type ClinicReader interface {
	GetClinic(ctx context.Context, id uuid.UUID) (*clinic.Clinic, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*clinic.Doctor, error)
}

// Notifier queues patient emails. Delivery and retries happen elsewhere.
type Notifier interface {
	SendAppointmentConfirmation(ctx context.Context, a *Appointment, c *clinic.Clinic, d *clinic.Doctor) error
	SendAppointmentCancellation(ctx context.Context, a *Appointment, c *clinic.Clinic, d *clinic.Doctor) error
}

type WebhookDispatcher interface {
	Dispatch(ctx context.Context, eventType string, clinicID uuid.UUID, payload any) error
}

// ListingCache serves clinic listings and is dropped after every mutation.
type ListingCache interface {
	ListByClinic(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]Appointment, error)
	Invalidate(ctx context.Context, clinicID uuid.UUID) error
}

// Deps are the collaborators of Service. Everything except Clinics may be nil.
type Deps struct {
	Clinics   ClinicReader
	Patients  patient.Repository
	Notifier  Notifier
	Webhooks  WebhookDispatcher
	Cache     ListingCache
	Publisher events.Publisher
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	cfg       config.Config
	clinics   ClinicReader
	patients  patient.Repository
	notifier  Notifier
	webhooks  WebhookDispatcher
	cache     ListingCache
	publisher events.Publisher
	logger    *logging.Logger
	metrics   *metrics.Metrics

	inflight sync.WaitGroup
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 15 * time.Second
	}
	return &Service{
		repo:      repo,
		locker:    locker,
		cfg:       cfg,
		clinics:   deps.Clinics,
		patients:  deps.Patients,
		notifier:  deps.Notifier,
		webhooks:  deps.Webhooks,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		logger:    logger,
		metrics:   deps.Metrics,
	}
}

type parsedInput struct {
	year         int
	month        time.Month
	day          int
	hour, minute int
}

func validate(in *CreateInput) (parsedInput, error) {
	var p parsedInput
	if in.ClinicID == uuid.Nil {
		return p, fmt.Errorf("%w: clinic is required", ErrValidation)
	}
	if in.DoctorID == uuid.Nil {
		return p, fmt.Errorf("%w: doctor is required", ErrValidation)
	}
	in.DoctorName = strings.TrimSpace(in.DoctorName)
	if in.DoctorName == "" {
		return p, fmt.Errorf("%w: doctor name is required", ErrValidation)
	}
	in.Patient.Name = strings.TrimSpace(in.Patient.Name)
	if in.Patient.Name == "" {
		return p, fmt.Errorf("%w: patient name is required", ErrValidation)
	}
	if in.Type == "" {
		in.Type = TypeInPerson
	}
	if !in.Type.Valid() {
		return p, fmt.Errorf("%w: unknown appointment type %q", ErrValidation, in.Type)
	}

	d, err := time.Parse("2006-01-02", strings.TrimSpace(in.Date))
	if err != nil {
		return p, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	t, err := time.Parse("15:04", strings.TrimSpace(in.Time))
	if err != nil {
		return p, fmt.Errorf("%w: time must be HH:MM", ErrValidation)
	}

	p.year, p.month, p.day = d.Date()
	p.hour, p.minute = t.Hour(), t.Minute()
	return p, nil
}

// Create books an appointment in status scheduled. The doctor/instant pair is
// guarded by a Redis lock and, underneath, by a unique index on active rows.
// Webhook, patient registration and confirmation email run afterwards in the
// background and never fail the booking.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.create")
	defer span.End()

	parsed, err := validate(&in)
	if err != nil {
		s.metrics.ObserveAppointmentOp("create", "invalid")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("clinic_id", in.ClinicID.String()),
		attribute.String("doctor_id", in.DoctorID.String()),
	)

	c, err := s.clinics.GetClinic(ctx, in.ClinicID)
	if err != nil {
		return nil, s.fail(span, "create", fmt.Errorf("load clinic: %w", err))
	}
	doc, err := s.clinics.GetDoctor(ctx, in.DoctorID)
	if err != nil {
		return nil, s.fail(span, "create", fmt.Errorf("load doctor: %w", err))
	}
	if doc.ClinicID != c.ID {
		return nil, s.fail(span, "create", fmt.Errorf("%w: doctor does not belong to clinic", ErrValidation))
	}
	if !doc.Active {
		return nil, s.fail(span, "create", fmt.Errorf("%w: doctor is not accepting appointments", ErrValidation))
	}

	start := time.Date(parsed.year, parsed.month, parsed.day, parsed.hour, parsed.minute, 0, 0, c.Location())

	var created *Appointment
	err = s.locker.WithSlotLock(ctx, in.DoctorID, start, func(lockCtx context.Context) error {
		existing, err := s.repo.FindActiveAt(lockCtx, in.DoctorID, start)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check existing appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotAlreadyBooked
		}

		appt, err := s.repo.Create(lockCtx, Appointment{
			ClinicID:     in.ClinicID,
			DoctorID:     in.DoctorID,
			DoctorName:   in.DoctorName,
			PatientName:  in.Patient.Name,
			PatientPhone: in.Patient.Phone,
			PatientEmail: in.Patient.Email,
			PatientCPF:   in.Patient.CPF,
			Date:         start,
			Type:         in.Type,
			Status:       StatusScheduled,
			Notes:        in.Notes,
		})
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotBeingBooked
		}
		return nil, s.fail(span, "create", err)
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id": created.DoctorID.String(),
		"date":      created.Date,
	})
	s.afterMutation(ctx, created, events.OpInsert)
	s.metrics.ObserveAppointmentOp("create", "ok")

	booked := *created
	info := in.Patient
	s.background(ctx, func(bgCtx context.Context) {
		s.dispatchWebhook(bgCtx, WebhookAppointmentCreated, &booked)
		s.registerPatient(bgCtx, booked.ClinicID, info)
		if booked.HasEmail() && s.notifier != nil {
			if err := s.notifier.SendAppointmentConfirmation(bgCtx, &booked, c, doc); err != nil {
				s.sideEffectFailed("confirmation_email", booked.ID, err)
			}
		}
	})

	return created, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.confirm")
	defer span.End()

	updated, err := s.transition(ctx, id, []Status{StatusScheduled}, StatusConfirmed)
	if err != nil {
		return nil, s.fail(span, "confirm", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{})
	s.afterMutation(ctx, updated, events.OpUpdate)
	s.metrics.ObserveAppointmentOp("confirm", "ok")
	return updated, nil
}

// Cancel moves a scheduled or confirmed appointment to cancelled. The patient
// email and webhook are sent in the background.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.cancel")
	defer span.End()

	updated, err := s.transition(ctx, id, []Status{StatusScheduled, StatusConfirmed}, StatusCancelled)
	if err != nil {
		return nil, s.fail(span, "cancel", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{})
	s.afterMutation(ctx, updated, events.OpUpdate)
	s.metrics.ObserveAppointmentOp("cancel", "ok")

	cancelled := *updated
	s.background(ctx, func(bgCtx context.Context) {
		s.sendCancellation(bgCtx, &cancelled)
		s.dispatchWebhook(bgCtx, WebhookAppointmentCancelled, &cancelled)
	})

	return updated, nil
}

// Delete removes the row whatever its status.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "appointment.delete")
	defer span.End()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return s.fail(span, "delete", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.fail(span, "delete", err)
	}

	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{
		"status": current.Status,
	})
	s.afterMutation(ctx, current, events.OpDelete)
	s.metrics.ObserveAppointmentOp("delete", "ok")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.Get(ctx, id)
}

// ListByClinic returns the clinic's appointments starting in [from, to).
func (s *Service) ListByClinic(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrValidation)
	}
	if s.cache != nil {
		return s.cache.ListByClinic(ctx, clinicID, from, to)
	}
	return s.repo.ListByClinic(ctx, clinicID, from, to)
}

// Drain blocks until background side effects finish or ctx ends.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(current.Status, from) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, current.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, from, to)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	// Lost the race: the row was deleted or moved on since we read it.
	if _, getErr := s.repo.Get(ctx, id); errors.Is(getErr, ErrAppointmentNotFound) {
		return nil, ErrAppointmentNotFound
	}
	return nil, ErrInvalidStatusTransition
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Service) afterMutation(ctx context.Context, a *Appointment, op events.Op) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, a.ClinicID); err != nil {
			s.logger.Warn("failed to invalidate appointment listings", "clinic_id", a.ClinicID, "error", err)
		}
	}
	if s.publisher != nil {
		err := s.publisher.Publish(ctx, events.ChangeEvent{
			ClinicID: a.ClinicID,
			Entity:   events.EntityAppointment,
			Op:       op,
			RecordID: a.ID,
		})
		if err != nil {
			s.logger.Warn("failed to publish appointment change", "appointment_id", a.ID, "error", err)
		}
	}
}

// background runs fn after the caller has its answer. The context keeps the
// request's values but not its cancellation.
func (s *Service) background(ctx context.Context, fn func(ctx context.Context)) {
	s.inflight.Add(1)
	detached := context.WithoutCancel(ctx)
	go func() {
		defer s.inflight.Done()
		bgCtx, cancel := context.WithTimeout(detached, s.cfg.SideEffectTimeout)
		defer cancel()
		fn(bgCtx)
	}()
}

func (s *Service) dispatchWebhook(ctx context.Context, eventType string, a *Appointment) {
	if s.webhooks == nil {
		return
	}
	if err := s.webhooks.Dispatch(ctx, eventType, a.ClinicID, webhookPayload(a)); err != nil {
		s.sideEffectFailed("webhook", a.ID, err)
	}
}

func webhookPayload(a *Appointment) map[string]any {
	return map[string]any{
		"appointment_id": a.ID.String(),
		"clinic_id":      a.ClinicID.String(),
		"doctor_id":      a.DoctorID.String(),
		"doctor_name":    a.DoctorName,
		"patient_name":   a.PatientName,
		"date":           a.Date.UTC().Format(time.RFC3339),
		"type":           a.Type,
		"status":         a.Status,
	}
}

// registerPatient adds the patient to the clinic register when nobody with that
// name exists yet and a phone or email was given.
func (s *Service) registerPatient(ctx context.Context, clinicID uuid.UUID, info PatientInfo) {
	if s.patients == nil {
		return
	}
	p := patient.Patient{ClinicID: clinicID, Name: info.Name, Phone: info.Phone, Email: info.Email, CPF: info.CPF}
	if !p.HasContact() {
		return
	}

	_, err := s.patients.FindByName(ctx, clinicID, info.Name)
	if err == nil {
		return
	}
	if !errors.Is(err, patient.ErrPatientNotFound) {
		s.sideEffectFailed("patient_lookup", uuid.Nil, err)
		return
	}
	if _, err := s.patients.Create(ctx, p); err != nil {
		s.sideEffectFailed("patient_create", uuid.Nil, err)
	}
}

func (s *Service) sendCancellation(ctx context.Context, a *Appointment) {
	if s.notifier == nil || !a.HasEmail() {
		return
	}
	c, err := s.clinics.GetClinic(ctx, a.ClinicID)
	if err != nil {
		s.sideEffectFailed("cancellation_email", a.ID, fmt.Errorf("load clinic: %w", err))
		return
	}
	doc, err := s.clinics.GetDoctor(ctx, a.DoctorID)
	if err != nil {
		// the email falls back to the denormalized doctor name
		s.logger.Warn("doctor lookup failed for cancellation email", "appointment_id", a.ID, "error", err)
		doc = nil
	}
	if err := s.notifier.SendAppointmentCancellation(ctx, a, c, doc); err != nil {
		s.sideEffectFailed("cancellation_email", a.ID, err)
	}
}

func (s *Service) sideEffectFailed(effect string, appointmentID uuid.UUID, err error) {
	s.metrics.ObserveSideEffectFailure(effect)
	s.logger.Warn("appointment side effect failed",
		"effect", effect,
		"appointment_id", appointmentID,
		"error", err,
	)
}

func (s *Service) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.ObserveAppointmentOp(op, "error")
	return err
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log", "event_type", eventType, "appointment_id", appointmentID, "error", err)
	}
}
