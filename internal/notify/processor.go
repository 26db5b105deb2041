package notify

import (
	"context"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

var defaultRetrySchedule = []time.Duration{5 * time.Minute, 10 * time.Minute, 15 * time.Minute}

// Processor sends queued email jobs. A failed send is retried after the
// delays of the retry schedule (the last delay repeats) until maxRetries
// retries have been spent, then the job is marked failed.
type Processor struct {
	jobs       JobStore
	sender     EmailSender
	schedule   []time.Duration
	maxRetries int
	batchSize  int
	lease      time.Duration
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewProcessor(jobs JobStore, sender EmailSender, cfg config.Config, logger *logging.Logger, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		jobs:       jobs,
		sender:     sender,
		schedule:   cfg.NotifyRetrySchedule,
		maxRetries: cfg.NotifyMaxRetries,
		batchSize:  cfg.NotifyBatchSize,
		lease:      5 * time.Minute,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
	if len(p.schedule) == 0 {
		p.schedule = defaultRetrySchedule
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	if p.batchSize <= 0 {
		p.batchSize = 25
	}
	return p
}

// RetryDelay is the wait before retry number n (1-based).
func (p *Processor) RetryDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > len(p.schedule) {
		n = len(p.schedule)
	}
	return p.schedule[n-1]
}

// RunOnce sends every due job once and reports how many were handled.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	now := p.now()
	jobs, err := p.jobs.ClaimDue(ctx, now, now.Add(p.lease), p.batchSize)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		p.process(ctx, job)
	}
	return len(jobs), nil
}

func (p *Processor) process(ctx context.Context, job EmailJob) {
	err := p.sender.Send(ctx, EmailMessage{
		To:      job.To,
		ToName:  deref(job.ToName),
		Subject: job.Subject,
		Body:    job.Body,
	})
	if err == nil {
		if err := p.jobs.MarkSent(ctx, job.ID); err != nil {
			p.logger.Error("failed to mark email job sent", "job_id", job.ID, "error", err)
		}
		p.metrics.ObserveEmailJob("sent")
		return
	}

	attempts := job.Attempts + 1
	if attempts > p.maxRetries {
		if markErr := p.jobs.MarkFailed(ctx, job.ID, attempts, err.Error()); markErr != nil {
			p.logger.Error("failed to mark email job failed", "job_id", job.ID, "error", markErr)
		}
		p.metrics.ObserveEmailJob("failed")
		p.logger.Warn("email job gave up", "job_id", job.ID, "kind", job.Kind, "attempts", attempts, "error", err)
		return
	}

	next := p.now().Add(p.RetryDelay(attempts))
	if rErr := p.jobs.Reschedule(ctx, job.ID, attempts, next, err.Error()); rErr != nil {
		p.logger.Error("failed to reschedule email job", "job_id", job.ID, "error", rErr)
	}
	p.metrics.ObserveEmailJob("retried")
	p.logger.Info("email job will be retried", "job_id", job.ID, "attempts", attempts, "next_attempt_at", next, "error", err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
