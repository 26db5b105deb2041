package events

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

func newTestBus(t *testing.T, staleness time.Duration) (*miniredis.Miniredis, *Bus) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewBus(client, staleness, logging.Nop())
}

func TestBusDeliversFreshEventsAndDropsStaleOnes(t *testing.T) {
	mr, bus := newTestBus(t, 30*time.Second)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return now }

	clinicID := uuid.New()
	received := make(chan ChangeEvent, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- bus.SubscribeClinic(ctx, clinicID, func(ev ChangeEvent) { received <- ev })
	}()
	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, 2*time.Second, 10*time.Millisecond)

	stale := ChangeEvent{ClinicID: clinicID, Entity: EntityAppointment, Op: OpUpdate, RecordID: uuid.New(), At: now.Add(-time.Minute)}
	fresh := ChangeEvent{ClinicID: clinicID, Entity: EntityAppointment, Op: OpInsert, RecordID: uuid.New(), At: now.Add(-time.Second)}
	require.NoError(t, bus.Publish(context.Background(), stale))
	require.NoError(t, bus.Publish(context.Background(), fresh))

	select {
	case ev := <-received:
		assert.Equal(t, fresh.RecordID, ev.RecordID)
		assert.Equal(t, OpInsert, ev.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("fresh event not delivered")
	}
	assert.Empty(t, received)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestBusIgnoresOtherClinics(t *testing.T) {
	mr, bus := newTestBus(t, 0)
	mine, other := uuid.New(), uuid.New()
	received := make(chan ChangeEvent, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = bus.SubscribeClinic(ctx, mine, func(ev ChangeEvent) { received <- ev })
	}()
	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), ChangeEvent{ClinicID: other, Entity: EntityScheduleBlock, Op: OpDelete}))
	require.NoError(t, bus.Publish(context.Background(), ChangeEvent{ClinicID: mine, Entity: EntityScheduleBlock, Op: OpDelete}))

	select {
	case ev := <-received:
		assert.Equal(t, mine, ev.ClinicID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	assert.Empty(t, received)
}

func TestChannelNaming(t *testing.T) {
	id := uuid.MustParse("5f0c7c4e-8a7e-4a43-9a55-3f3b3a8f8c11")
	assert.Equal(t, "changes:appointments:5f0c7c4e-8a7e-4a43-9a55-3f3b3a8f8c11", Channel(EntityAppointment, id))
}

func TestFreshWithoutWindow(t *testing.T) {
	bus := &Bus{now: time.Now}
	assert.True(t, bus.Fresh(ChangeEvent{At: time.Now().Add(-24 * time.Hour)}))
}
