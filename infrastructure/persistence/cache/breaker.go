package cache

import (
	"context"
	"io"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"canvas-backend/application/ports"
	apperrors "canvas-backend/pkg/errors"
)

// BreakerConfig holds circuit breaker tuning for the cache decorator.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that trips the breaker once
	// MinRequests calls have been observed.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the default tuning for a cache backend.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerCache wraps a cache with a circuit breaker so a failing backend
// stops being called until it recovers. State reads fall back to the blob
// store on cache errors, so an open breaker degrades latency, not
// correctness.
type BreakerCache struct {
	inner   ports.Cache
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerCache wraps inner with a circuit breaker.
func NewBreakerCache(inner ports.Cache, config BreakerConfig, logger *zap.Logger) *BreakerCache {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Cache circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &BreakerCache{
		inner:   inner,
		breaker: breaker,
		logger:  logger,
	}
}

// Get returns the cached value through the breaker. A miss is a success;
// only backend errors count against the breaker.
func (c *BreakerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)

	_, err := c.breaker.Execute(func() (interface{}, error) {
		var innerErr error
		value, found, innerErr = c.inner.Get(ctx, key)
		return nil, innerErr
	})
	if err != nil {
		return nil, false, apperrors.NewCacheError("get", err)
	}

	return value, found, nil
}

// Set stores a value through the breaker.
func (c *BreakerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.inner.Set(ctx, key, value, ttl)
	})
	if err != nil {
		return apperrors.NewCacheError("set", err)
	}
	return nil
}

// Delete removes a key through the breaker.
func (c *BreakerCache) Delete(ctx context.Context, key string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.inner.Delete(ctx, key)
	})
	if err != nil {
		return apperrors.NewCacheError("delete", err)
	}
	return nil
}

// Close releases the wrapped backend when it holds connections.
func (c *BreakerCache) Close() error {
	if closer, ok := c.inner.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
