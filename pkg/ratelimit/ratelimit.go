// Package ratelimit guards the canvas API against runaway clients. Two
// implementations cover the two deployment shapes: an in-process token
// bucket for long-lived servers, and a DynamoDB-backed fixed window for
// Lambda, where every container would otherwise keep its own counters.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter answers whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// TokenBucket refills one request per interval up to a burst ceiling,
// tracked per key. perMinute must be positive.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	burst   int
	refill  time.Duration
	stop    chan struct{}
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket allows perMinute requests per key, with bursts up to the
// same size. A background loop drops idle buckets until Close is called.
func NewTokenBucket(perMinute int) *TokenBucket {
	tb := &TokenBucket{
		buckets: make(map[string]*bucket),
		burst:   perMinute,
		refill:  time.Minute / time.Duration(perMinute),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go tb.cleanup()
	return tb
}

// Allow takes a token for key, refilling by elapsed time first.
func (tb *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.burst, lastRefill: now}
		tb.buckets[key] = b
	}

	if refilled := int(now.Sub(b.lastRefill) / tb.refill); refilled > 0 {
		b.tokens += refilled
		if b.tokens > tb.burst {
			b.tokens = tb.burst
		}
		b.lastRefill = now
	}

	if b.tokens == 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the cleanup loop.
func (tb *TokenBucket) Close() error {
	close(tb.stop)
	return nil
}

func (tb *TokenBucket) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-tb.stop:
			return
		case <-ticker.C:
			tb.mu.Lock()
			cutoff := tb.now().Add(-time.Hour)
			for key, b := range tb.buckets {
				if b.lastRefill.Before(cutoff) {
					delete(tb.buckets, key)
				}
			}
			tb.mu.Unlock()
		}
	}
}
