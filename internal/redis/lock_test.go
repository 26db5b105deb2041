package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*miniredis.Miniredis, *redis.Client, Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client, NewRedisSlotLocker(client, 5*time.Second)
}

func TestWithSlotLockRunsAndReleases(t *testing.T) {
	mr, _, locker := newTestLocker(t)
	doctorID := uuid.New()
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	ran := false
	err := locker.WithSlotLock(context.Background(), doctorID, start, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(SlotLockKey(doctorID, start)))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(SlotLockKey(doctorID, start)))
}

func TestWithSlotLockContended(t *testing.T) {
	mr, _, locker := newTestLocker(t)
	doctorID := uuid.New()
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, mr.Set(SlotLockKey(doctorID, start), "someone-else"))

	err := locker.WithSlotLock(context.Background(), doctorID, start, func(ctx context.Context) error {
		t.Fatal("critical section must not run while another holder owns the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// a foreign token is never released by us
	v, _ := mr.Get(SlotLockKey(doctorID, start))
	assert.Equal(t, "someone-else", v)
}

func TestWithSlotLockPropagatesError(t *testing.T) {
	_, _, locker := newTestLocker(t)
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), uuid.New(), time.Now(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestSlotLockKeyIsPerDoctorAndInstant(t *testing.T) {
	d := uuid.New()
	a := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := a.Add(30 * time.Minute)

	assert.NotEqual(t, SlotLockKey(d, a), SlotLockKey(d, b))
	assert.NotEqual(t, SlotLockKey(d, a), SlotLockKey(uuid.New(), a))

	brt := time.FixedZone("BRT", -3*60*60)
	assert.Equal(t, SlotLockKey(d, a), SlotLockKey(d, a.In(brt)))
}
