// Package availability computes the bookable slots of a clinic for one
// calendar day from working hours, existing appointments and schedule blocks.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/blocks"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// ErrAvailabilityUnavailable means the slots could not be computed right now.
// It is distinct from an empty result and worth retrying.
var ErrAvailabilityUnavailable = errors.New("availability temporarily unavailable")

var tracer = otel.Tracer("clinic.internal.availability")

type AvailableSlot struct {
	StartTime  time.Time
	EndTime    time.Time
	DoctorID   uuid.UUID
	DoctorName string
}

type ClinicSource interface {
	GetClinic(ctx context.Context, id uuid.UUID) (*clinic.Clinic, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*clinic.Doctor, error)
	ListDoctors(ctx context.Context, clinicID uuid.UUID) ([]clinic.Doctor, error)
}

type AppointmentSource interface {
	ListActiveForDoctor(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]appointment.Appointment, error)
}

type BlockSource interface {
	DoctorBlocks(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]blocks.ScheduleBlock, error)
}

type Resolver struct {
	clinics      ClinicSource
	appointments AppointmentSource
	blocks       BlockSource
	granularity  time.Duration
	attempts     int
	retryDelay   time.Duration
	logger       *logging.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewResolver(clinics ClinicSource, appointments AppointmentSource, blockSrc BlockSource, cfg config.Config, logger *logging.Logger, m *metrics.Metrics) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Resolver{
		clinics:      clinics,
		appointments: appointments,
		blocks:       blockSrc,
		granularity:  cfg.SlotGranularity,
		attempts:     cfg.ReadRetryAttempts,
		retryDelay:   cfg.ReadRetryDelay,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
	if r.granularity <= 0 {
		r.granularity = 30 * time.Minute
	}
	if r.attempts < 1 {
		r.attempts = 1
	}
	return r
}

// Granularity is the slot length, which is also the appointment length.
func (r *Resolver) Granularity() time.Duration {
	return r.granularity
}

// ParseDate reads a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// ComputeAvailableSlots returns the open slots on the calendar date of date,
// read in the clinic's timezone, for one doctor or every doctor of the clinic.
// Missing clinics or doctors produce an empty result, read failures an error
// wrapping ErrAvailabilityUnavailable.
func (r *Resolver) ComputeAvailableSlots(ctx context.Context, clinicID uuid.UUID, date time.Time, doctorID *uuid.UUID) ([]AvailableSlot, error) {
	ctx, span := tracer.Start(ctx, "availability.compute")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic_id", clinicID.String()),
		attribute.String("date", date.Format("2006-01-02")),
	)

	started := time.Now()
	slots, err := r.compute(ctx, clinicID, date, doctorID)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ObserveAvailability("error", elapsed, 0)
		r.logger.Error("availability computation failed", "clinic_id", clinicID, "date", date.Format("2006-01-02"), "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("slots", len(slots)))
	r.metrics.ObserveAvailability("ok", elapsed, len(slots))
	return slots, nil
}

func (r *Resolver) compute(ctx context.Context, clinicID uuid.UUID, date time.Time, doctorID *uuid.UUID) ([]AvailableSlot, error) {
	c, err := withRetry(ctx, r, "load clinic", func(ctx context.Context) (*clinic.Clinic, error) {
		return r.clinics.GetClinic(ctx, clinicID)
	})
	if err != nil {
		if errors.Is(err, clinic.ErrClinicNotFound) {
			r.logger.Warn("availability requested for unknown clinic", "clinic_id", clinicID)
			return []AvailableSlot{}, nil
		}
		return nil, err
	}
	if !c.WorkingHours.HasAny() {
		return []AvailableSlot{}, nil
	}

	loc := c.Location()
	y, m, d := date.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	weekday := dayStart.Weekday()

	if !anyOpen(c.WorkingHours.IntervalsFor(weekday)) {
		return []AvailableSlot{}, nil
	}

	doctors, err := r.candidateDoctors(ctx, c, doctorID)
	if err != nil {
		return nil, err
	}
	if len(doctors) == 0 {
		return []AvailableSlot{}, nil
	}

	now := r.now()
	result := []AvailableSlot{}
	for i := range doctors {
		doc := &doctors[i]

		candidates := r.candidates(doc.EffectiveIntervals(c, weekday), dayStart, loc)
		if len(candidates) == 0 {
			continue
		}

		// appointments starting up to one slot before midnight still reach into the day
		booked, err := withRetry(ctx, r, "load appointments", func(ctx context.Context) ([]appointment.Appointment, error) {
			return r.appointments.ListActiveForDoctor(ctx, doc.ID, dayStart.Add(-r.granularity), dayEnd)
		})
		if err != nil {
			return nil, err
		}
		blocked, err := withRetry(ctx, r, "load blocks", func(ctx context.Context) ([]blocks.ScheduleBlock, error) {
			return r.blocks.DoctorBlocks(ctx, doc.ID, dayStart, dayEnd)
		})
		if err != nil {
			return nil, err
		}

		for _, start := range candidates {
			end := start.Add(r.granularity)
			if start.Before(now) {
				continue
			}
			if r.overlapsAppointment(booked, start, end) || overlapsBlock(blocked, start, end) {
				continue
			}
			result = append(result, AvailableSlot{
				StartTime:  start,
				EndTime:    end,
				DoctorID:   doc.ID,
				DoctorName: doc.Name,
			})
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.Before(result[j].StartTime)
		}
		return result[i].DoctorName < result[j].DoctorName
	})
	return result, nil
}

func (r *Resolver) candidateDoctors(ctx context.Context, c *clinic.Clinic, doctorID *uuid.UUID) ([]clinic.Doctor, error) {
	if doctorID != nil {
		doc, err := withRetry(ctx, r, "load doctor", func(ctx context.Context) (*clinic.Doctor, error) {
			return r.clinics.GetDoctor(ctx, *doctorID)
		})
		if err != nil {
			if errors.Is(err, clinic.ErrDoctorNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if doc.ClinicID != c.ID || !doc.Active {
			return nil, nil
		}
		return []clinic.Doctor{*doc}, nil
	}

	all, err := withRetry(ctx, r, "list doctors", func(ctx context.Context) ([]clinic.Doctor, error) {
		return r.clinics.ListDoctors(ctx, c.ID)
	})
	if err != nil {
		return nil, err
	}
	var active []clinic.Doctor
	for _, d := range all {
		if d.Active {
			active = append(active, d)
		}
	}
	return active, nil
}

// candidates steps through each non-empty interval. A slot must fit entirely
// inside its interval; duplicate starts from overlapping intervals collapse.
func (r *Resolver) candidates(intervals []schedule.Interval, day time.Time, loc *time.Location) []time.Time {
	seen := make(map[int64]struct{})
	var out []time.Time
	for _, iv := range intervals {
		if iv.Empty() {
			continue
		}
		start, end := iv.On(day, loc)
		for t := start; !t.Add(r.granularity).After(end); t = t.Add(r.granularity) {
			if _, dup := seen[t.Unix()]; dup {
				continue
			}
			seen[t.Unix()] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (r *Resolver) overlapsAppointment(booked []appointment.Appointment, start, end time.Time) bool {
	for _, a := range booked {
		if !a.Status.Active() {
			continue
		}
		if blocks.Overlaps(start, end, a.Date, a.Date.Add(r.granularity)) {
			return true
		}
	}
	return false
}

func overlapsBlock(found []blocks.ScheduleBlock, start, end time.Time) bool {
	for _, b := range found {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func anyOpen(intervals []schedule.Interval) bool {
	for _, iv := range intervals {
		if !iv.Empty() {
			return true
		}
	}
	return false
}

func notFound(err error) bool {
	return errors.Is(err, clinic.ErrClinicNotFound) || errors.Is(err, clinic.ErrDoctorNotFound)
}

// withRetry runs fn up to the configured attempts with a fixed delay. Not-found
// errors are returned at once; anything else that survives every attempt is
// wrapped in ErrAvailabilityUnavailable.
func withRetry[T any](ctx context.Context, r *Resolver, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if notFound(err) {
			return zero, err
		}
		lastErr = err
		if attempt == r.attempts {
			break
		}
		r.logger.Debug("availability read failed, retrying", "op", op, "attempt", attempt, "error", err)

		timer := time.NewTimer(r.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w: %s: %w", ErrAvailabilityUnavailable, op, ctx.Err())
		case <-timer.C:
		}
	}
	return zero, fmt.Errorf("%w: %s: %w", ErrAvailabilityUnavailable, op, lastErr)
}
