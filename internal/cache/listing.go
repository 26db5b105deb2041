// Package cache keeps short-lived copies of clinic appointment listings in
// Redis. Entries are dropped per clinic whenever an appointment changes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

const keyPrefix = "cache:appointments:"

var errStaleListing = errors.New("listing invalidated while it was read")

// Source is where listings come from on a miss.
type Source interface {
	ListByClinic(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

type ListingCache struct {
	client  *redis.Client
	source  Source
	ttl     time.Duration
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func NewListingCache(client *redis.Client, source Source, ttl time.Duration, logger *logging.Logger, m *metrics.Metrics) *ListingCache {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ListingCache{client: client, source: source, ttl: ttl, logger: logger, metrics: m}
}

// Key is the cache entry for one listing window.
func Key(clinicID uuid.UUID, from, to time.Time) string {
	return fmt.Sprintf("%s%s:%d:%d", keyPrefix, clinicID, from.UTC().Unix(), to.UTC().Unix())
}

func indexKey(clinicID uuid.UUID) string {
	return keyPrefix + clinicID.String() + ":keys"
}

// generationKey counts invalidations of a clinic. A listing read under one
// generation is only stored while that generation is still current.
func generationKey(clinicID uuid.UUID) string {
	return keyPrefix + clinicID.String() + ":gen"
}

func (c *ListingCache) generation(ctx context.Context, clinicID uuid.UUID) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(clinicID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// ListByClinic serves from Redis when possible. Redis trouble falls through to
// the source.
func (c *ListingCache) ListByClinic(ctx context.Context, clinicID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	key := Key(clinicID, from, to)

	raw, err := c.client.Get(ctx, key).Bytes()
	cacheable := err == nil || errors.Is(err, redis.Nil)
	switch {
	case err == nil:
		var cached []appointment.Appointment
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			c.metrics.ObserveListingCache("hit")
			return cached, nil
		}
		c.logger.Warn("discarding unreadable listing cache entry", "key", key)
	case errors.Is(err, redis.Nil):
		c.metrics.ObserveListingCache("miss")
	default:
		c.metrics.ObserveListingCache("error")
		c.logger.Warn("listing cache read failed", "key", key, "error", err)
	}

	var gen int64
	if cacheable {
		if gen, err = c.generation(ctx, clinicID); err != nil {
			c.logger.Warn("listing cache generation read failed", "clinic_id", clinicID, "error", err)
			cacheable = false
		}
	}

	list, err := c.source.ListByClinic(ctx, clinicID, from, to)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.store(ctx, clinicID, key, gen, list)
	}
	return list, nil
}

// store writes the listing unless the clinic was invalidated after gen was
// read.
func (c *ListingCache) store(ctx context.Context, clinicID uuid.UUID, key string, gen int64, list []appointment.Appointment) {
	data, err := json.Marshal(list)
	if err != nil {
		c.logger.Warn("listing cache encode failed", "key", key, "error", err)
		return
	}
	idx := indexKey(clinicID)
	genKey := generationKey(clinicID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleListing
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			pipe.SAdd(ctx, idx, key)
			pipe.Expire(ctx, idx, 2*c.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleListing), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("skipping listing invalidated while it was read", "key", key)
	default:
		c.logger.Warn("listing cache write failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached listing of the clinic.
func (c *ListingCache) Invalidate(ctx context.Context, clinicID uuid.UUID) error {
	idx := indexKey(clinicID)
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("cache: list clinic keys: %w", err)
	}
	keys = append(keys, idx)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(clinicID))
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: drop clinic keys: %w", err)
	}
	return nil
}

// Clear drops every cached listing for all clinics and returns how many keys
// went away.
func (c *ListingCache) Clear(ctx context.Context) (int, error) {
	var removed int
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, fmt.Errorf("cache: delete %s: %w", iter.Val(), err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache: scan: %w", err)
	}
	return removed, nil
}

// OnChange returns a change handler that drops the clinic's listings when an
// appointment changes elsewhere.
func (c *ListingCache) OnChange(ctx context.Context) func(events.ChangeEvent) {
	return func(ev events.ChangeEvent) {
		if ev.Entity != events.EntityAppointment {
			return
		}
		if err := c.Invalidate(ctx, ev.ClinicID); err != nil {
			c.logger.Warn("listing cache invalidation failed", "clinic_id", ev.ClinicID, "error", err)
		}
	}
}
