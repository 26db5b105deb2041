package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobSent    JobStatus = "sent"
	JobFailed  JobStatus = "failed"
)

type EmailJob struct {
	ID            uuid.UUID
	ClinicID      uuid.UUID
	AppointmentID *uuid.UUID
	Kind          string
	To            string
	ToName        *string
	Subject       string
	Body          string
	Status        JobStatus
	Attempts      int
	LastError     *string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

type JobStore interface {
	Enqueue(ctx context.Context, job EmailJob) (uuid.UUID, error)
	// ClaimDue leases up to limit pending jobs due at now by pushing their
	// next attempt to leaseUntil, so concurrent workers do not pick them twice.
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]EmailJob, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
}

type PgJobStore struct {
	pool db.DBTX
}

func NewPgJobStore(pool db.DBTX) *PgJobStore {
	return &PgJobStore{pool: pool}
}

const jobColumns = `id, clinic_id, appointment_id, kind, to_address, to_name, subject, body, status, attempts, last_error, next_attempt_at, created_at`

func scanJob(row pgx.Row) (*EmailJob, error) {
	var j EmailJob
	err := row.Scan(&j.ID, &j.ClinicID, &j.AppointmentID, &j.Kind, &j.To, &j.ToName, &j.Subject, &j.Body,
		&j.Status, &j.Attempts, &j.LastError, &j.NextAttemptAt, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PgJobStore) Enqueue(ctx context.Context, job EmailJob) (uuid.UUID, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_jobs (id, clinic_id, appointment_id, kind, to_address, to_name, subject, body, status, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 0, now())
	`, job.ID, job.ClinicID, job.AppointmentID, job.Kind, job.To, job.ToName, job.Subject, job.Body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("notify: enqueue email job: %w", err)
	}
	return job.ID, nil
}

func (s *PgJobStore) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]EmailJob, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE email_jobs
		SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM email_jobs
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		now, leaseUntil, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []EmailJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("notify: scan email job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *PgJobStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE email_jobs
		SET status = 'sent', attempts = attempts + 1, sent_at = now(), last_error = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("notify: mark sent: %w", err)
	}
	return nil
}

func (s *PgJobStore) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE email_jobs
		SET attempts = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $1
	`, id, attempts, next, lastErr)
	if err != nil {
		return fmt.Errorf("notify: reschedule job: %w", err)
	}
	return nil
}

func (s *PgJobStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE email_jobs
		SET status = 'failed', attempts = $2, last_error = $3
		WHERE id = $1
	`, id, attempts, lastErr)
	if err != nil {
		return fmt.Errorf("notify: mark failed: %w", err)
	}
	return nil
}
