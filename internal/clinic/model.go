package clinic

import (
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

const DefaultTimezone = "America/Sao_Paulo"

type Clinic struct {
	ID            uuid.UUID
	Name          string
	Timezone      string
	WorkingHours  schedule.WorkingHours // nil when never configured
	WebhookURL    *string
	WebhookSecret *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Location resolves the clinic timezone, falling back to UTC when unknown.
func (c *Clinic) Location() *time.Location {
	tz := c.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Clinic) HasWebhook() bool {
	return c.WebhookURL != nil && *c.WebhookURL != ""
}

type Doctor struct {
	ID           uuid.UUID
	ClinicID     uuid.UUID
	Name         string
	Email        *string
	Specialty    *string
	WorkingHours schedule.WorkingHours // nil means "use the clinic's hours"
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EffectiveIntervals returns the doctor's own intervals for day when they have
// any, otherwise the clinic's.
func (d *Doctor) EffectiveIntervals(c *Clinic, day time.Weekday) []schedule.Interval {
	if own := d.WorkingHours.IntervalsFor(day); len(own) > 0 {
		return own
	}
	return c.WorkingHours.IntervalsFor(day)
}
