package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

type memStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*Event
}

func newMemStore() *memStore { return &memStore{events: map[uuid.UUID]*Event{}} }

func (m *memStore) Insert(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = &ev
	return nil
}

func (m *memStore) ClaimDue(_ context.Context, now, leaseUntil time.Time, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if len(out) == limit {
			break
		}
		if ev.Status == StatusPending && !ev.NextAttemptAt.After(now) {
			ev.NextAttemptAt = leaseUntil
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (m *memStore) MarkDelivered(_ context.Context, id uuid.UUID, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[id].Status = StatusDelivered
	m.events[id].Attempts = attempts
	return nil
}

func (m *memStore) Reschedule(_ context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := m.events[id]
	ev.Attempts = attempts
	ev.NextAttemptAt = next
	ev.LastError = &lastErr
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id uuid.UUID, attempts int, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := m.events[id]
	ev.Status = StatusFailed
	ev.Attempts = attempts
	ev.LastError = &lastErr
	return nil
}

func (m *memStore) only(t *testing.T) Event {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.events, 1)
	for _, ev := range m.events {
		return *ev
	}
	return Event{}
}

type clinicMap map[uuid.UUID]*clinic.Clinic

func (c clinicMap) GetClinic(_ context.Context, id uuid.UUID) (*clinic.Clinic, error) {
	if cl, ok := c[id]; ok {
		return cl, nil
	}
	return nil, clinic.ErrClinicNotFound
}

type endpoint struct {
	srv      *httptest.Server
	status   atomic.Int32
	calls    atomic.Int32
	mu       sync.Mutex
	lastReq  *http.Request
	lastBody []byte
}

func newEndpoint(t *testing.T, status int) *endpoint {
	e := &endpoint{}
	e.status.Store(int32(status))
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		e.mu.Lock()
		e.lastReq = r
		e.lastBody = body
		e.mu.Unlock()
		e.calls.Add(1)
		w.WriteHeader(int(e.status.Load()))
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func strPtr(s string) *string { return &s }

func setup(t *testing.T, c *clinic.Clinic) (*Dispatcher, *memStore, *time.Time) {
	t.Helper()
	store := newMemStore()
	d := NewDispatcher(clinicMap{c.ID: c}, store, config.Config{
		WebhookTimeout:     time.Second,
		WebhookMaxAttempts: 3,
		WebhookRetryDelay:  time.Minute,
	}, logging.Nop(), nil)
	now := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, store, &now
}

func TestDispatchNoopWithoutWebhook(t *testing.T) {
	c := &clinic.Clinic{ID: uuid.New(), Name: "Quiet"}
	d, store, _ := setup(t, c)

	require.NoError(t, d.Dispatch(context.Background(), "appointment.created", c.ID, map[string]string{"a": "b"}))
	assert.Empty(t, store.events)
}

func TestDispatchDeliversSignedPayload(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	c := &clinic.Clinic{ID: uuid.New(), WebhookURL: strPtr(ep.srv.URL), WebhookSecret: strPtr("s3cret")}
	d, store, _ := setup(t, c)

	require.NoError(t, d.Dispatch(context.Background(), "appointment.created", c.ID, map[string]string{"patient": "Ana"}))

	ev := store.only(t)
	assert.Equal(t, StatusDelivered, ev.Status)
	assert.Equal(t, 1, ev.Attempts)

	ep.mu.Lock()
	defer ep.mu.Unlock()
	assert.Equal(t, "appointment.created", ep.lastReq.Header.Get(HeaderEvent))
	assert.Equal(t, ev.ID.String(), ep.lastReq.Header.Get(HeaderID))
	assert.Equal(t, Sign("s3cret", ep.lastBody), ep.lastReq.Header.Get(HeaderSignature))

	var body struct {
		Event    string            `json:"event"`
		ClinicID uuid.UUID         `json:"clinic_id"`
		Data     map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(ep.lastBody, &body))
	assert.Equal(t, "appointment.created", body.Event)
	assert.Equal(t, c.ID, body.ClinicID)
	assert.Equal(t, "Ana", body.Data["patient"])
}

func TestDispatchWithoutSecretIsUnsigned(t *testing.T) {
	ep := newEndpoint(t, http.StatusNoContent)
	c := &clinic.Clinic{ID: uuid.New(), WebhookURL: strPtr(ep.srv.URL)}
	d, _, _ := setup(t, c)

	require.NoError(t, d.Dispatch(context.Background(), "appointment.cancelled", c.ID, nil))

	ep.mu.Lock()
	defer ep.mu.Unlock()
	assert.Empty(t, ep.lastReq.Header.Get(HeaderSignature))
}

func TestFailedDeliveryBacksOffThenFails(t *testing.T) {
	ep := newEndpoint(t, http.StatusBadGateway)
	c := &clinic.Clinic{ID: uuid.New(), WebhookURL: strPtr(ep.srv.URL)}
	d, store, now := setup(t, c)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, "appointment.created", c.ID, nil))
	ev := store.only(t)
	assert.Equal(t, StatusPending, ev.Status)
	assert.Equal(t, 1, ev.Attempts)
	assert.Equal(t, now.Add(time.Minute), ev.NextAttemptAt)
	require.NotNil(t, ev.LastError)
	assert.Contains(t, *ev.LastError, "502")

	// not yet due
	n, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	*now = now.Add(time.Minute)
	n, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ev = store.only(t)
	assert.Equal(t, 2, ev.Attempts)
	assert.Equal(t, now.Add(2*time.Minute), ev.NextAttemptAt)

	*now = now.Add(2 * time.Minute)
	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	ev = store.only(t)
	assert.Equal(t, StatusFailed, ev.Status)
	assert.Equal(t, 3, ev.Attempts)
	assert.EqualValues(t, 3, ep.calls.Load())
}

func TestRedeliverySucceedsAfterRecovery(t *testing.T) {
	ep := newEndpoint(t, http.StatusInternalServerError)
	c := &clinic.Clinic{ID: uuid.New(), WebhookURL: strPtr(ep.srv.URL), WebhookSecret: strPtr("k")}
	d, store, now := setup(t, c)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, "appointment.created", c.ID, map[string]int{"n": 1}))
	ep.mu.Lock()
	first := append([]byte(nil), ep.lastBody...)
	ep.mu.Unlock()

	ep.status.Store(http.StatusOK)
	*now = now.Add(time.Minute)
	_, err := d.RunOnce(ctx)
	require.NoError(t, err)

	ev := store.only(t)
	assert.Equal(t, StatusDelivered, ev.Status)
	assert.Equal(t, 2, ev.Attempts)

	ep.mu.Lock()
	defer ep.mu.Unlock()
	assert.Equal(t, first, ep.lastBody)
}

func TestRunOnceGivesUpWhenWebhookRemoved(t *testing.T) {
	ep := newEndpoint(t, http.StatusServiceUnavailable)
	c := &clinic.Clinic{ID: uuid.New(), WebhookURL: strPtr(ep.srv.URL)}
	d, store, now := setup(t, c)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, "appointment.created", c.ID, nil))
	c.WebhookURL = nil
	*now = now.Add(time.Minute)

	_, err := d.RunOnce(ctx)
	require.NoError(t, err)
	ev := store.only(t)
	assert.Equal(t, StatusFailed, ev.Status)
	assert.EqualValues(t, 1, ep.calls.Load())
}

func TestWorkerSkipsEventWhileInlineDeliveryRuns(t *testing.T) {
	c := &clinic.Clinic{ID: uuid.New()}
	d, store, _ := setup(t, c)
	ctx := context.Background()

	var posts, claimed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if posts.Add(1) == 1 {
			n, err := d.RunOnce(ctx)
			assert.NoError(t, err)
			claimed.Store(int32(n))
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	c.WebhookURL = strPtr(srv.URL)

	require.NoError(t, d.Dispatch(ctx, "appointment.created", c.ID, nil))

	assert.Zero(t, claimed.Load())
	assert.EqualValues(t, 1, posts.Load())
	ev := store.only(t)
	assert.Equal(t, StatusDelivered, ev.Status)
	assert.Equal(t, 1, ev.Attempts)
}

func TestUndeliveredEventIsPickedUpAfterLease(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	c := &clinic.Clinic{ID: uuid.New(), WebhookURL: strPtr(ep.srv.URL)}
	d, store, now := setup(t, c)
	ctx := context.Background()

	// an event inserted by a process that died before posting
	require.NoError(t, store.Insert(ctx, Event{
		ID:            uuid.New(),
		ClinicID:      c.ID,
		EventType:     "appointment.created",
		Payload:       []byte(`{}`),
		Status:        StatusPending,
		NextAttemptAt: now.Add(d.lease()),
		CreatedAt:     *now,
	}))

	n, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	*now = now.Add(d.lease())
	n, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusDelivered, store.only(t).Status)
	assert.EqualValues(t, 1, ep.calls.Load())
}

func TestBackoffIsCapped(t *testing.T) {
	d := NewDispatcher(clinicMap{}, newMemStore(), config.Config{
		WebhookMaxAttempts: 100,
		WebhookRetryDelay:  time.Minute,
	}, logging.Nop(), nil)

	assert.Equal(t, time.Minute, d.backoff(1))
	assert.Equal(t, 2*time.Minute, d.backoff(2))
	assert.Equal(t, 8*time.Minute, d.backoff(4))
	for _, attempts := range []int{12, 30, 64, 99} {
		assert.Equal(t, maxBackoff, d.backoff(attempts), "attempts=%d", attempts)
	}
}

func TestSignIsStable(t *testing.T) {
	a := Sign("secret", []byte(`{"x":1}`))
	assert.Equal(t, a, Sign("secret", []byte(`{"x":1}`)))
	assert.NotEqual(t, a, Sign("other", []byte(`{"x":1}`)))
	assert.Len(t, a, len("sha256=")+64)
}

func TestPgStoreClaimDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)
	id, clinicID := uuid.New(), uuid.New()
	rows := pgxmock.NewRows([]string{"id", "clinic_id", "event_type", "payload", "status", "attempts", "last_error", "next_attempt_at", "created_at"}).
		AddRow(id, clinicID, "appointment.created", []byte(`{"event":"appointment.created"}`), StatusPending, 1, strPtr("boom"), now, now)
	mock.ExpectQuery("UPDATE webhook_events").
		WithArgs(now, now.Add(time.Minute), 10).
		WillReturnRows(rows)

	events, err := NewPgStore(mock).ClaimDue(context.Background(), now, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, 1, events[0].Attempts)
	assert.JSONEq(t, `{"event":"appointment.created"}`, string(events[0].Payload))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreMarkFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE webhook_events").
		WithArgs(id, 5, "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewPgStore(mock).MarkFailed(context.Background(), id, 5, "gone"))
	require.NoError(t, mock.ExpectationsWereMet())
}
