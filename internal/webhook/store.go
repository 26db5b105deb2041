package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Event is one webhook call. Payload holds the exact bytes that are POSTed so
// redeliveries carry the same body and signature.
type Event struct {
	ID            uuid.UUID
	ClinicID      uuid.UUID
	EventType     string
	Payload       json.RawMessage
	Status        Status
	Attempts      int
	LastError     *string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

type Store interface {
	Insert(ctx context.Context, ev Event) error
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]Event, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, attempts int) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
}

type PgStore struct {
	pool db.DBTX
}

func NewPgStore(pool db.DBTX) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Insert(ctx context.Context, ev Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (id, clinic_id, event_type, payload, status, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5)
	`, ev.ID, ev.ClinicID, ev.EventType, []byte(ev.Payload), ev.NextAttemptAt)
	if err != nil {
		return fmt.Errorf("webhook: insert event: %w", err)
	}
	return nil
}

func (s *PgStore) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE webhook_events
		SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM webhook_events
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, clinic_id, event_type, payload, status, attempts, last_error, next_attempt_at, created_at
	`, now, leaseUntil, limit)
	if err != nil {
		return nil, fmt.Errorf("webhook: claim due events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.ClinicID, &ev.EventType, &payload, &ev.Status, &ev.Attempts, &ev.LastError, &ev.NextAttemptAt, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("webhook: scan event: %w", err)
		}
		ev.Payload = append([]byte(nil), payload...)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PgStore) MarkDelivered(ctx context.Context, id uuid.UUID, attempts int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'delivered', attempts = $2, delivered_at = now(), last_error = NULL
		WHERE id = $1
	`, id, attempts)
	if err != nil {
		return fmt.Errorf("webhook: mark delivered: %w", err)
	}
	return nil
}

func (s *PgStore) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET attempts = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $1
	`, id, attempts, next, lastErr)
	if err != nil {
		return fmt.Errorf("webhook: reschedule event: %w", err)
	}
	return nil
}

func (s *PgStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'failed', attempts = $2, last_error = $3
		WHERE id = $1
	`, id, attempts, lastErr)
	if err != nil {
		return fmt.Errorf("webhook: mark failed: %w", err)
	}
	return nil
}
