package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"canvas-backend/application/ports"
	"canvas-backend/infrastructure/persistence/redis"
	apperrors "canvas-backend/pkg/errors"
)

func newTestLocker(t *testing.T) (*redis.Locker, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	return redis.NewLocker(client, zap.NewNop()), mr
}

// fastRetry keeps contention tests quick while still exercising the retry loop.
func fastRetry(maxRetries int) ports.LockOptions {
	return ports.LockOptions{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		TTL:          5 * time.Second,
	}
}

func TestLocker_AcquireRelease(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "canvas-1", fastRetry(1))
	require.NoError(t, err)
	assert.True(t, mr.Exists("canvas:lock:canvas-1"))

	err = lock.Release(ctx)
	assert.NoError(t, err)
	assert.False(t, mr.Exists("canvas:lock:canvas-1"))
}

func TestLocker_ZeroOptionsUseDefaults(t *testing.T) {
	locker, mr := newTestLocker(t)

	lock, err := locker.Acquire(context.Background(), "canvas-1", ports.LockOptions{})
	require.NoError(t, err)
	defer lock.Release(context.Background())

	ttl := mr.TTL("canvas:lock:canvas-1")
	assert.Equal(t, 10*time.Second, ttl)
}

func TestLocker_ContentionTimesOut(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "canvas-1", fastRetry(1))
	require.NoError(t, err)
	defer held.Release(ctx)

	_, err = locker.Acquire(ctx, "canvas-1", fastRetry(2))
	require.Error(t, err)
	assert.True(t, apperrors.IsLockTimeout(err))
	assert.Contains(t, err.Error(), "canvas-1")
}

func TestLocker_AcquireAfterRelease(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "canvas-1", fastRetry(1))
	require.NoError(t, err)
	require.NoError(t, first.Release(ctx))

	second, err := locker.Acquire(ctx, "canvas-1", fastRetry(1))
	assert.NoError(t, err)
	assert.NoError(t, second.Release(ctx))
}

func TestLocker_AcquireAfterExpiry(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "canvas-1", fastRetry(1))
	require.NoError(t, err)

	mr.FastForward(10 * time.Second)

	lock, err := locker.Acquire(ctx, "canvas-1", fastRetry(1))
	assert.NoError(t, err)
	assert.NoError(t, lock.Release(ctx))
}

func TestLocker_ReleaseIsIdempotent(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "canvas-1", fastRetry(1))
	require.NoError(t, err)

	assert.NoError(t, lock.Release(ctx))
	assert.NoError(t, lock.Release(ctx))
}

func TestLocker_StaleHolderCannotReleaseSuccessor(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "canvas-1", fastRetry(1))
	require.NoError(t, err)

	// The TTL lapses and another worker takes the lock over.
	mr.FastForward(10 * time.Second)
	_, err = locker.Acquire(ctx, "canvas-1", fastRetry(1))
	require.NoError(t, err)

	assert.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("canvas:lock:canvas-1"), "successor's lock must survive a stale release")
}

func TestLocker_ContextCancelStopsRetries(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "canvas-1", fastRetry(1))
	require.NoError(t, err)
	defer held.Release(ctx)

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	opts := ports.LockOptions{
		MaxRetries:   100,
		InitialDelay: 20 * time.Millisecond,
		TTL:          5 * time.Second,
	}
	_, err = locker.Acquire(cancelCtx, "canvas-1", opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
