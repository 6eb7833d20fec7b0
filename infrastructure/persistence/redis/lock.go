package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"canvas-backend/application/ports"
	apperrors "canvas-backend/pkg/errors"
)

// releaseScript deletes the lock key only when this acquisition still owns
// it, so a holder that outlived its TTL cannot release a successor's lock.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Locker implements ports.CanvasLocker using Redis SET NX with expiry.
// Single-node deployments and local development run on this backend; it
// carries the same retry schedule as the DynamoDB one.
type Locker struct {
	client *backend.Client
	prefix string
	logger *zap.Logger
}

// NewLocker creates a new Redis locker.
func NewLocker(client *backend.Client, logger *zap.Logger) *Locker {
	return &Locker{
		client: client,
		prefix: "canvas:lock:",
		logger: logger,
	}
}

// Acquire blocks through the retry schedule until the canvas lock is held
// or the budget is exhausted.
func (l *Locker) Acquire(ctx context.Context, canvasID string, opts ports.LockOptions) (ports.CanvasLock, error) {
	if opts.MaxRetries <= 0 && opts.InitialDelay <= 0 && opts.TTL <= 0 {
		opts = ports.DefaultLockOptions()
	}

	key := l.prefix + canvasID
	token := uuid.New().String()

	delay := opts.InitialDelay
	for attempt := 0; ; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, opts.TTL).Result()
		if err != nil {
			return nil, apperrors.NewDatabaseError("acquire lock", err)
		}
		if ok {
			return &redisLock{client: l.client, key: key, token: token}, nil
		}

		if attempt >= opts.MaxRetries {
			l.logger.Warn("Lock retry budget exhausted",
				zap.String("canvasID", canvasID),
				zap.Int("attempts", attempt+1),
			)
			return nil, apperrors.NewLockTimeoutError(canvasID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > 5*time.Second {
			delay = 5 * time.Second
		}
	}
}

// redisLock is one successful acquisition
type redisLock struct {
	client *backend.Client
	key    string
	token  string
}

// Release releases the lock. Safe to call more than once; a lock that
// expired and was taken over is left alone.
func (l *redisLock) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return apperrors.NewDatabaseError("release lock", err)
	}
	return nil
}
