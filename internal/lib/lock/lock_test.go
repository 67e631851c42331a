package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func TestAcquire_Exclusive(t *testing.T) {
	locker, _ := setupLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "expire-trials", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "expire-trials", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := locker.Acquire(ctx, "send-reminders", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	again, err := locker.Acquire(ctx, "expire-trials", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestAcquire_ExpiresAfterTTL(t *testing.T) {
	locker, mr := setupLocker(t)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = locker.Acquire(ctx, "job", time.Second)
	assert.NoError(t, err)
}

func TestRelease_DoesNotDropForeignLock(t *testing.T) {
	locker, mr := setupLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "job", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("lock:job"))

	require.NoError(t, fresh.Release(ctx))
	assert.False(t, mr.Exists("lock:job"))
}
