// Package statestore composes the blob store and cache into versioned
// canvas state reads and writes. Reads are cache-first with singleflight
// deduplication of blob fetches; writes go to the blob store first and
// then through to the cache.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"canvas-backend/application/ports"
	"canvas-backend/domain/canvas"
	apperrors "canvas-backend/pkg/errors"
	"canvas-backend/pkg/observability"
)

// DefaultCacheTTL bounds how long a cached snapshot lives. Every write
// goes through to the cache, so the TTL caps memory use and bounds how
// stale an entry can get if a write-through was missed.
const DefaultCacheTTL = 1 * time.Hour

// Store implements ports.StateStore.
type Store struct {
	blobs   ports.BlobStore
	cache   ports.Cache
	group   singleflight.Group
	ttl     time.Duration
	metrics *observability.Collector
	logger  *zap.Logger
}

type Option func(*Store)

// WithCacheTTL overrides the cache TTL for stored snapshots.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New creates a state store over the given blob store and cache.
func New(blobs ports.BlobStore, cache ports.Cache, metrics *observability.Collector, logger *zap.Logger, opts ...Option) *Store {
	store := &Store{
		blobs:   blobs,
		cache:   cache,
		ttl:     DefaultCacheTTL,
		metrics: metrics,
		logger:  logger,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// StorageKey returns the blob key for a canvas version.
func StorageKey(canvasID, version string) string {
	return fmt.Sprintf("canvas-state/%s/%s.json", canvasID, version)
}

// Get loads the state for a canvas version. Concurrent callers for the
// same cold key share a single blob fetch.
func (s *Store) Get(ctx context.Context, canvasID, version string) (*canvas.State, error) {
	if canvasID == "" {
		return nil, apperrors.NewValidationError("canvasId is required")
	}
	if version == "" {
		return nil, apperrors.NewValidationError("version is required")
	}

	key := cacheKey(canvasID, version)
	if data, ok := s.cacheGet(ctx, key); ok {
		s.metrics.CacheHits.Inc()
		return decodeState(data)
	}
	s.metrics.CacheMisses.Inc()

	// The singleflight entry is dropped once the fetch settles, so a
	// failed load does not wedge the key.
	shared, err, _ := s.group.Do(key, func() (interface{}, error) {
		s.metrics.BlobFetches.Inc()

		data, err := s.blobs.GetObject(ctx, StorageKey(canvasID, version))
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("state for canvas %s version %s", canvasID, version))
		}

		s.cacheSet(ctx, key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	// Each waiter decodes its own copy so no two callers share state.
	return decodeState(shared.([]byte))
}

// Put persists the state, minting a version if unset, and returns the
// storage key used. The blob write is authoritative; the cache write is
// best-effort.
func (s *Store) Put(ctx context.Context, canvasID string, state *canvas.State) (string, error) {
	if canvasID == "" {
		return "", apperrors.NewValidationError("canvasId is required")
	}
	if state == nil {
		return "", apperrors.NewValidationError("state is required")
	}

	if state.Version == "" {
		state.Version = uuid.New().String()
	}

	data, err := json.Marshal(state)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to encode canvas state")
	}

	storageKey := StorageKey(canvasID, state.Version)
	if err := s.blobs.PutObject(ctx, storageKey, data); err != nil {
		return "", err
	}

	s.cacheSet(ctx, cacheKey(canvasID, state.Version), data)

	return storageKey, nil
}

func cacheKey(canvasID, version string) string {
	return canvasID + ":" + version
}

func decodeState(data []byte) (*canvas.State, error) {
	var state canvas.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode canvas state")
	}
	return &state, nil
}

// cacheGet treats every cache failure as a miss.
func (s *Store) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Cache get failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, false
	}
	return data, found
}

// cacheSet swallows cache failures. The cache is an optimization, not a
// source of truth.
func (s *Store) cacheSet(ctx context.Context, key string, data []byte) {
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Warn("Cache set failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
