// Package events carries "something changed" notices between service instances
// and live clients. Subscribers refetch; the notice never carries the data.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

type Entity string

const (
	EntityAppointment   Entity = "appointments"
	EntityScheduleBlock Entity = "schedule_blocks"
	EntityWorkingHours  Entity = "working_hours"
)

type ChangeEvent struct {
	ClinicID uuid.UUID `json:"clinic_id"`
	Entity   Entity    `json:"entity"`
	Op       Op        `json:"op"`
	RecordID uuid.UUID `json:"record_id"`
	At       time.Time `json:"at"`
}

// Publisher announces a change to every interested subscriber.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Channel is the pub/sub channel for one entity of one clinic.
func Channel(entity Entity, clinicID uuid.UUID) string {
	return fmt.Sprintf("changes:%s:%s", entity, clinicID)
}

// Bus is a Redis pub/sub backed Publisher with a staleness guard on receive.
type Bus struct {
	client    *redis.Client
	staleness time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

func NewBus(client *redis.Client, staleness time.Duration, logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		client:    client,
		staleness: staleness,
		logger:    logger,
		now:       time.Now,
	}
}

func (b *Bus) Publish(ctx context.Context, ev ChangeEvent) error {
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal change: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(ev.Entity, ev.ClinicID), data).Err(); err != nil {
		return fmt.Errorf("events: publish change: %w", err)
	}
	return nil
}

// Subscribe delivers fresh change events for every clinic until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, handler func(ChangeEvent)) error {
	return b.subscribe(ctx, "changes:*", handler)
}

// SubscribeClinic delivers fresh change events for one clinic until ctx is done.
func (b *Bus) SubscribeClinic(ctx context.Context, clinicID uuid.UUID, handler func(ChangeEvent)) error {
	return b.subscribe(ctx, "changes:*:"+clinicID.String(), handler)
}

func (b *Bus) subscribe(ctx context.Context, pattern string, handler func(ChangeEvent)) error {
	sub := b.client.PSubscribe(ctx, pattern)
	defer sub.Close()

	// wait for the subscription to be confirmed so nothing published after
	// Subscribe returns control is lost
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe %s: %w", pattern, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("events: dropping malformed change", "channel", msg.Channel, "error", err)
				continue
			}
			if !b.Fresh(ev) {
				b.logger.Debug("events: dropping stale change", "channel", msg.Channel, "at", ev.At)
				continue
			}
			handler(ev)
		}
	}
}

// Fresh reports whether ev is recent enough to act on. A zero staleness window
// accepts everything.
func (b *Bus) Fresh(ev ChangeEvent) bool {
	if b.staleness <= 0 {
		return true
	}
	return b.now().Sub(ev.At) <= b.staleness
}
