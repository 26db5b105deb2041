package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-scheduling/internal/access"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/blocks"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type AppointmentService interface {
	Create(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

type SlotResolver interface {
	ComputeAvailableSlots(ctx context.Context, clinicID uuid.UUID, date time.Time, doctorID *uuid.UUID) ([]availability.AvailableSlot, error)
}

type BlockService interface {
	Create(ctx context.Context, doctorID, clinicID uuid.UUID, in blocks.BlockInput) (*blocks.ScheduleBlock, error)
	Get(ctx context.Context, id uuid.UUID) (*blocks.ScheduleBlock, error)
	Update(ctx context.Context, id uuid.UUID, patch blocks.BlockPatch) (*blocks.ScheduleBlock, error)
	Delete(ctx context.Context, id uuid.UUID) error
	BlocksInRange(ctx context.Context, clinicID uuid.UUID, start, end time.Time, doctorID *uuid.UUID) ([]blocks.ScheduleBlock, error)
}

type ClinicService interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*clinic.Doctor, error)
	SetClinicWorkingHours(ctx context.Context, clinicID uuid.UUID, wh schedule.WorkingHours) (*clinic.Clinic, error)
	SetDoctorWorkingHours(ctx context.Context, clinicID, doctorID uuid.UUID, wh schedule.WorkingHours) (*clinic.Doctor, error)
}

// ChangeFeed streams change notices for one clinic until ctx ends.
type ChangeFeed interface {
	SubscribeClinic(ctx context.Context, clinicID uuid.UUID, handler func(events.ChangeEvent)) error
}

type RouterConfig struct {
	Appointments AppointmentService
	Slots        SlotResolver
	Blocks       BlockService
	Clinics      ClinicService
	Changes      ChangeFeed
	Verifier     *access.Verifier
	Health       *HealthHandler
	Metrics      http.Handler // defaults to the global prometheus registry
	Logger       *logging.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	h := &handlers{
		appointments: cfg.Appointments,
		slots:        cfg.Slots,
		blocks:       cfg.Blocks,
		clinics:      cfg.Clinics,
		changes:      cfg.Changes,
		logger:       logger,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/v1/clinics/{clinicID}", func(r chi.Router) {
		r.Use(cfg.Verifier.Middleware)

		view := access.Require(access.ViewSchedule, clinicParam)
		manageAppts := access.Require(access.ManageAppointments, clinicParam)
		manageBlocks := access.Require(access.ManageBlocks, clinicParam)
		manageHours := access.Require(access.ManageWorkingHours, clinicParam)

		r.With(view).Get("/slots", h.listSlots)

		r.With(view).Get("/appointments", h.listAppointments)
		r.With(manageAppts).Post("/appointments", h.createAppointment)
		r.With(view).Get("/appointments/{id}", h.getAppointment)
		r.With(manageAppts).Post("/appointments/{id}/confirm", h.confirmAppointment)
		r.With(manageAppts).Post("/appointments/{id}/cancel", h.cancelAppointment)
		r.With(manageAppts).Delete("/appointments/{id}", h.deleteAppointment)

		r.With(view).Get("/blocks", h.listBlocks)
		r.With(manageBlocks).Post("/doctors/{doctorID}/blocks", h.createBlock)
		r.With(manageBlocks).Patch("/blocks/{id}", h.updateBlock)
		r.With(manageBlocks).Delete("/blocks/{id}", h.deleteBlock)

		r.With(manageHours).Put("/working-hours", h.setClinicWorkingHours)
		r.With(manageHours).Put("/doctors/{doctorID}/working-hours", h.setDoctorWorkingHours)

		r.With(view).Get("/changes", h.streamChanges)
	})

	return r
}

func clinicParam(r *http.Request) string {
	return chi.URLParam(r, "clinicID")
}
