// Package ports defines the interfaces between the application core and
// infrastructure collaborators. The sync engine depends on these contracts
// only; DynamoDB, S3, Redis and EventBridge adapters live in infrastructure.
package ports

import (
	"context"
	"time"

	"canvas-backend/domain/canvas"
	"canvas-backend/domain/events"
)

// BlobStore is durable get/put of opaque serialized state by key. Absent
// keys surface as a typed not-found error. The engine layers its own
// versioning through distinct keys per version, so no compare-and-swap is
// required here.
type BlobStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte) error
}

// Cache is best-effort byte storage with TTL. Callers treat it as
// unreliable: every failure is logged and handled as a miss, never
// propagated.
type Cache interface {
	// Get returns the cached value and whether the key was present
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with a TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error
}

// LockOptions bound a lock acquisition attempt
type LockOptions struct {
	// MaxRetries is how many times acquisition is retried under contention
	MaxRetries int

	// InitialDelay is the first backoff sleep; subsequent retries grow it
	// exponentially
	InitialDelay time.Duration

	// TTL is the server-side expiry of the lock marker, so a crashed
	// holder cannot block the canvas forever
	TTL time.Duration
}

// DefaultLockOptions returns the stock acquisition bounds
func DefaultLockOptions() LockOptions {
	return LockOptions{
		MaxRetries:   10,
		InitialDelay: 200 * time.Millisecond,
		TTL:          10 * time.Second,
	}
}

// CanvasLock is a held per-canvas lock. Release is idempotent and must be
// called from a deferred path regardless of how the protected operation
// ended.
type CanvasLock interface {
	Release(ctx context.Context) error
}

// CanvasLocker provides per-canvas mutual exclusion. Acquire blocks through
// its bounded retry schedule and fails with a lock-timeout error when the
// budget is exhausted.
type CanvasLocker interface {
	Acquire(ctx context.Context, canvasID string, opts LockOptions) (CanvasLock, error)
}

// CanvasRecord is the metadata pointer record owned by the metadata store.
// The engine reads it and advances CurrentVersion; it never invents canvas
// identity.
type CanvasRecord struct {
	CanvasID        string
	CurrentVersion  string
	StateStorageKey string
	UsedToolsets    []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VersionIndexEntry is one row of the append-only version index
type VersionIndexEntry struct {
	CanvasID  string
	Version   string
	Hash      string
	NodeCount int
	EdgeCount int
	CreatedAt time.Time
}

// MetadataRepository is transactional access to canvas records and the
// version index.
type MetadataRepository interface {
	// GetCanvas returns the record, or a typed not-found error
	GetCanvas(ctx context.Context, canvasID string) (*CanvasRecord, error)

	// SaveCanvas upserts the record
	SaveCanvas(ctx context.Context, record *CanvasRecord) error

	// UpdateUsedToolsets rewrites the toolset bookkeeping field
	UpdateUsedToolsets(ctx context.Context, canvasID string, toolsets []string) error

	// AdvanceVersion moves the version pointer and appends the index entry
	// as one atomic write. It fails with a typed conflict error when the
	// pointer no longer matches expectedVersion.
	AdvanceVersion(ctx context.Context, canvasID, expectedVersion, newVersion, storageKey string, entry VersionIndexEntry) error

	// ListVersions pages through the version index, newest first
	ListVersions(ctx context.Context, canvasID string, limit int, cursor string) ([]VersionIndexEntry, string, error)
}

// StateStore composes the blob store and cache into versioned state
// reads/writes: read-through with request deduplication, write-through on
// put.
type StateStore interface {
	// Get loads the state for a canvas version
	Get(ctx context.Context, canvasID, version string) (*canvas.State, error)

	// Put persists the state, minting a version if unset, and returns the
	// storage key used
	Put(ctx context.Context, canvasID string, state *canvas.State) (string, error)
}

// EventPublisher publishes domain events. Publishing is best-effort from the
// engine's point of view: failures never fail the primary operation.
type EventPublisher interface {
	Publish(ctx context.Context, event events.DomainEvent) error
}
