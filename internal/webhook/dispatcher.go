// Package webhook delivers appointment events to the clinic's configured
// endpoint. Every event is stored first; failed deliveries are retried by the
// dispatch worker.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-Id"
	HeaderSignature = "X-Webhook-Signature"
)

// maxBackoff caps the wait between redeliveries.
const maxBackoff = 24 * time.Hour

var errWebhookRemoved = errors.New("clinic no longer has a webhook url")

type ClinicLookup interface {
	GetClinic(ctx context.Context, id uuid.UUID) (*clinic.Clinic, error)
}

type envelope struct {
	ID         uuid.UUID `json:"id"`
	Event      string    `json:"event"`
	ClinicID   uuid.UUID `json:"clinic_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type Dispatcher struct {
	clinics     ClinicLookup
	store       Store
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
	batchSize   int
	logger      *logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewDispatcher(clinics ClinicLookup, store Store, cfg config.Config, logger *logging.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		clinics:     clinics,
		store:       store,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: cfg.WebhookMaxAttempts,
		retryDelay:  cfg.WebhookRetryDelay,
		batchSize:   cfg.NotifyBatchSize,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = 5
	}
	if d.retryDelay <= 0 {
		d.retryDelay = time.Minute
	}
	if d.batchSize <= 0 {
		d.batchSize = 25
	}
	return d
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Dispatch stores the event and tries to deliver it right away. Clinics
// without a webhook url make this a no-op. Delivery failures are left to the
// processor and not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, clinicID uuid.UUID, payload any) error {
	c, err := d.clinics.GetClinic(ctx, clinicID)
	if err != nil {
		return fmt.Errorf("webhook: load clinic: %w", err)
	}
	if !c.HasWebhook() {
		return nil
	}

	now := d.now()
	ev := Event{
		ID:            uuid.New(),
		ClinicID:      clinicID,
		EventType:     eventType,
		Status:        StatusPending,
		NextAttemptAt: now.Add(d.lease()),
		CreatedAt:     now,
	}
	body, err := json.Marshal(envelope{ID: ev.ID, Event: eventType, ClinicID: clinicID, OccurredAt: now.UTC(), Data: payload})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	ev.Payload = body

	if err := d.store.Insert(ctx, ev); err != nil {
		return err
	}

	d.deliver(ctx, c, ev)
	return nil
}

// RunOnce redelivers pending events that are due.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := d.now()
	due, err := d.store.ClaimDue(ctx, now, now.Add(d.lease()), d.batchSize)
	if err != nil {
		return 0, err
	}

	for _, ev := range due {
		c, err := d.clinics.GetClinic(ctx, ev.ClinicID)
		switch {
		case errors.Is(err, clinic.ErrClinicNotFound):
			d.giveUp(ctx, ev, ev.Attempts, err)
			continue
		case err != nil:
			d.logger.Warn("webhook clinic lookup failed", "event_id", ev.ID, "error", err)
			continue
		case !c.HasWebhook():
			d.giveUp(ctx, ev, ev.Attempts, errWebhookRemoved)
			continue
		}
		d.deliver(ctx, c, ev)
	}
	return len(due), nil
}

func (d *Dispatcher) deliver(ctx context.Context, c *clinic.Clinic, ev Event) {
	attempts := ev.Attempts + 1
	err := d.post(ctx, c, ev)
	if err == nil {
		if mErr := d.store.MarkDelivered(ctx, ev.ID, attempts); mErr != nil {
			d.logger.Error("failed to mark webhook delivered", "event_id", ev.ID, "error", mErr)
		}
		d.metrics.ObserveWebhookDelivery("delivered")
		return
	}

	if attempts >= d.maxAttempts {
		d.giveUp(ctx, ev, attempts, err)
		return
	}

	next := d.now().Add(d.backoff(attempts))
	if rErr := d.store.Reschedule(ctx, ev.ID, attempts, next, err.Error()); rErr != nil {
		d.logger.Error("failed to reschedule webhook", "event_id", ev.ID, "error", rErr)
	}
	d.metrics.ObserveWebhookDelivery("retried")
	d.logger.Info("webhook delivery failed, will retry",
		"event_id", ev.ID,
		"event_type", ev.EventType,
		"attempts", attempts,
		"next_attempt_at", next,
		"error", err,
	)
}

// lease keeps an event away from the processor while a POST for it may
// still be in flight.
func (d *Dispatcher) lease() time.Duration {
	return d.client.Timeout + d.retryDelay
}

// backoff doubles the base delay per failed attempt, up to maxBackoff.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.retryDelay
	for i := 1; i < attempts && delay < maxBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxBackoff)
}

func (d *Dispatcher) giveUp(ctx context.Context, ev Event, attempts int, cause error) {
	if err := d.store.MarkFailed(ctx, ev.ID, attempts, cause.Error()); err != nil {
		d.logger.Error("failed to mark webhook failed", "event_id", ev.ID, "error", err)
	}
	d.metrics.ObserveWebhookDelivery("failed")
	d.logger.Warn("webhook delivery abandoned", "event_id", ev.ID, "event_type", ev.EventType, "attempts", attempts, "error", cause)
}

func (d *Dispatcher) post(ctx context.Context, c *clinic.Clinic, ev Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *c.WebhookURL, bytes.NewReader(ev.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, ev.EventType)
	req.Header.Set(HeaderID, ev.ID.String())
	if c.WebhookSecret != nil && *c.WebhookSecret != "" {
		req.Header.Set(HeaderSignature, Sign(*c.WebhookSecret, ev.Payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
