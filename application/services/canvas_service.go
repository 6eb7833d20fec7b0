// Package services contains the canvas sync engine: the orchestrator every
// state read and mutation flows through. Mutating operations serialize per
// canvas via the distributed lock; reads are lock-free.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"canvas-backend/application/ports"
	"canvas-backend/domain/canvas"
	"canvas-backend/domain/events"
	"canvas-backend/domain/versioning"
	apperrors "canvas-backend/pkg/errors"
	"canvas-backend/pkg/observability"
)

// AddNodeRequest is one node to insert plus the filters selecting which
// existing nodes connect to it.
type AddNodeRequest struct {
	Node      canvas.NodeSpec
	ConnectTo []canvas.ConnectFilter
}

// AddNodesResult carries the post-insert state and what was added.
type AddNodesResult struct {
	State *canvas.State
	Nodes []canvas.Node
	Edges []canvas.Edge
}

// VersionResult is the outcome of CreateVersion: a sealed or unchanged
// state, or a conflict carrying both competing states for manual
// resolution.
type VersionResult struct {
	State    *canvas.State
	Created  bool
	Conflict *canvas.Conflict
}

// IsConflict reports whether the result is a conflict.
func (r *VersionResult) IsConflict() bool {
	return r.Conflict != nil
}

// CanvasService implements the six sync-engine operations.
type CanvasService struct {
	states    ports.StateStore
	metadata  ports.MetadataRepository
	locks     ports.CanvasLocker
	publisher ports.EventPublisher
	metrics   *observability.Collector
	logger    *zap.Logger

	mu       sync.RWMutex
	lockOpts ports.LockOptions
	policy   versioning.Policy
}

// NewCanvasService creates a new canvas service
func NewCanvasService(
	states ports.StateStore,
	metadata ports.MetadataRepository,
	locks ports.CanvasLocker,
	publisher ports.EventPublisher,
	metrics *observability.Collector,
	logger *zap.Logger,
) *CanvasService {
	return &CanvasService{
		states:    states,
		metadata:  metadata,
		locks:     locks,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		lockOpts:  ports.DefaultLockOptions(),
		policy:    versioning.DefaultPolicy(),
	}
}

// ApplyTuning swaps the hot-reloadable knobs. Registered as a config
// watcher callback; safe to call while operations are in flight.
func (s *CanvasService) ApplyTuning(lockOpts ports.LockOptions, policy versioning.Policy) {
	s.mu.Lock()
	s.lockOpts = lockOpts
	s.policy = policy
	s.mu.Unlock()

	s.logger.Info("Canvas service tuning applied",
		zap.Int("lockMaxRetries", lockOpts.MaxRetries),
		zap.Int("versionMaxTransactions", policy.MaxTransactions),
	)
}

// CreateCanvas registers a canvas so the sync operations can address it.
// Registration is idempotent: an existing canvas returns its record
// unchanged.
func (s *CanvasService) CreateCanvas(ctx context.Context, canvasID string) (*ports.CanvasRecord, error) {
	if canvasID == "" {
		return nil, apperrors.NewValidationError("canvasId is required")
	}

	existing, err := s.metadata.GetCanvas(ctx, canvasID)
	if err == nil {
		return existing, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	record := &ports.CanvasRecord{
		CanvasID:  canvasID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.metadata.SaveCanvas(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Debug("Canvas registered", zap.String("canvasID", canvasID))
	return record, nil
}

// GetCanvas returns the canvas metadata record
func (s *CanvasService) GetCanvas(ctx context.Context, canvasID string) (*ports.CanvasRecord, error) {
	if canvasID == "" {
		return nil, apperrors.NewValidationError("canvasId is required")
	}
	return s.metadata.GetCanvas(ctx, canvasID)
}

// ListVersions pages through the sealed-version index, newest first
func (s *CanvasService) ListVersions(ctx context.Context, canvasID string, limit int, cursor string) ([]ports.VersionIndexEntry, string, error) {
	if canvasID == "" {
		return nil, "", apperrors.NewValidationError("canvasId is required")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.metadata.ListVersions(ctx, canvasID, limit, cursor)
}

// GetState returns the state for a version, defaulting to the canvas's
// current version. A canvas that exists but has never been saved yields an
// empty state.
func (s *CanvasService) GetState(ctx context.Context, canvasID, version string) (*canvas.State, error) {
	if canvasID == "" {
		return nil, apperrors.NewValidationError("canvasId is required")
	}

	record, err := s.metadata.GetCanvas(ctx, canvasID)
	if err != nil {
		return nil, err
	}

	resolved := version
	if resolved == "" {
		resolved = record.CurrentVersion
	}
	if resolved == "" {
		return canvas.NewEmptyState(), nil
	}

	return s.states.Get(ctx, canvasID, resolved)
}

// SaveState persists the state and keeps the metadata pointer and toolset
// bookkeeping in step. Returns the storage key used.
func (s *CanvasService) SaveState(ctx context.Context, canvasID string, state *canvas.State) (string, error) {
	if canvasID == "" {
		return "", apperrors.NewValidationError("canvasId is required")
	}
	if state == nil {
		return "", apperrors.NewValidationError("state is required")
	}

	record, err := s.metadata.GetCanvas(ctx, canvasID)
	if err != nil {
		return "", err
	}

	return s.saveState(ctx, record, state)
}

// SyncState applies a transaction batch under the canvas lock and persists
// the result. An empty batch returns immediately with a nil state and no
// lock taken. When the transaction log crosses the auto-collapse policy the
// state is sealed into a fresh version before the lock is released.
func (s *CanvasService) SyncState(ctx context.Context, canvasID string, txs []canvas.Transaction) (*canvas.State, error) {
	if canvasID == "" {
		return nil, apperrors.NewValidationError("canvasId is required")
	}
	if len(txs) == 0 {
		return nil, nil
	}

	lock, err := s.acquireLock(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	defer s.releaseLock(ctx, lock, canvasID)

	record, err := s.metadata.GetCanvas(ctx, canvasID)
	if err != nil {
		return nil, err
	}

	state, err := s.loadCurrent(ctx, record)
	if err != nil {
		return nil, err
	}

	if err := state.ApplyTransactions(txs); err != nil {
		return nil, err
	}

	if _, err := s.saveState(ctx, record, state); err != nil {
		return nil, err
	}

	s.metrics.TransactionsApplied.Add(float64(len(txs)))
	s.publish(ctx, events.NewStateSynced(canvasID, state.Version, len(txs)))

	if s.versionPolicy().ShouldAutoCollapse(state, time.Now().UTC()) {
		sealed, err := s.seal(ctx, record, state)
		if err != nil {
			// The sync itself is already durable; the collapse will run
			// again on a later sync.
			s.logger.Warn("Auto-collapse failed",
				zap.String("canvasID", canvasID),
				zap.Error(err),
			)
			return state, nil
		}
		return sealed, nil
	}

	return state, nil
}

// SetState force-overwrites the canvas state under the lock. Intended for
// conflict-resolution callers that have already chosen a winner.
func (s *CanvasService) SetState(ctx context.Context, canvasID string, state *canvas.State) (*canvas.State, error) {
	if canvasID == "" {
		return nil, apperrors.NewValidationError("canvasId is required")
	}
	if state == nil {
		return nil, apperrors.NewValidationError("state is required")
	}

	lock, err := s.acquireLock(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	defer s.releaseLock(ctx, lock, canvasID)

	record, err := s.metadata.GetCanvas(ctx, canvasID)
	if err != nil {
		return nil, err
	}

	if _, err := s.saveState(ctx, record, state); err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewStateOverwritten(canvasID, state.Version))

	return state, nil
}

// AddNodes inserts nodes with computed placement and connections as one
// transaction under the canvas lock. An empty request list returns
// immediately with a nil result and no lock taken.
func (s *CanvasService) AddNodes(ctx context.Context, canvasID string, requests []AddNodeRequest, autoLayout bool) (*AddNodesResult, error) {
	if canvasID == "" {
		return nil, apperrors.NewValidationError("canvasId is required")
	}
	if len(requests) == 0 {
		return nil, nil
	}

	lock, err := s.acquireLock(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	defer s.releaseLock(ctx, lock, canvasID)

	record, err := s.metadata.GetCanvas(ctx, canvasID)
	if err != nil {
		return nil, err
	}

	state, err := s.loadCurrent(ctx, record)
	if err != nil {
		return nil, err
	}

	// Placement and connection filters are computed against a working copy
	// so each request sees the nodes the previous one added.
	working := state.Clone()

	var (
		nodeDiffs []canvas.NodeDiff
		edgeDiffs []canvas.EdgeDiff
		added     []canvas.Node
		newEdges  []canvas.Edge
	)
	for _, req := range requests {
		result, err := canvas.PrepareAddNode(working.Nodes, working.Edges, req.Node, req.ConnectTo, autoLayout)
		if err != nil {
			return nil, err
		}

		working.Nodes = append(working.Nodes, result.NewNode)
		working.Edges = append(working.Edges, result.NewEdges...)

		nodeDiffs = append(nodeDiffs, canvas.AddNodeDiff(result.NewNode))
		for _, edge := range result.NewEdges {
			edgeDiffs = append(edgeDiffs, canvas.AddEdgeDiff(edge))
		}
		added = append(added, result.NewNode)
		newEdges = append(newEdges, result.NewEdges...)
	}

	if len(nodeDiffs) == 0 && len(edgeDiffs) == 0 {
		return &AddNodesResult{State: state}, nil
	}

	tx := canvas.NewTransaction(canvas.SourceAgent, nodeDiffs, edgeDiffs)
	if err := state.ApplyTransactions([]canvas.Transaction{tx}); err != nil {
		return nil, err
	}

	if _, err := s.saveState(ctx, record, state); err != nil {
		return nil, err
	}

	nodeIDs := make([]string, len(added))
	for i, node := range added {
		nodeIDs[i] = node.ID
	}

	s.metrics.TransactionsApplied.Inc()
	s.publish(ctx, events.NewNodesAdded(canvasID, nodeIDs, len(newEdges)))

	return &AddNodesResult{State: state, Nodes: added, Edges: newEdges}, nil
}

// CreateVersion reconciles the caller's locally-edited state against the
// server's current state and seals the result into a fresh immutable
// version. Divergent concurrent edits come back as a Conflict result
// carrying both states; callers must not retry through a conflict.
func (s *CanvasService) CreateVersion(ctx context.Context, canvasID string, localState *canvas.State) (*VersionResult, error) {
	if canvasID == "" {
		return nil, apperrors.NewValidationError("canvasId is required")
	}
	if localState == nil {
		return nil, apperrors.NewValidationError("state is required")
	}

	lock, err := s.acquireLock(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	defer s.releaseLock(ctx, lock, canvasID)

	record, err := s.metadata.GetCanvas(ctx, canvasID)
	if err != nil {
		return nil, err
	}

	// The pointer moving since the client loaded is itself the primary
	// conflict signal.
	if localState.Version != record.CurrentVersion {
		remote, err := s.loadCurrent(ctx, record)
		if err != nil {
			return nil, err
		}

		s.metrics.MergeConflicts.Inc()
		return &VersionResult{
			State: localState,
			Conflict: &canvas.Conflict{
				Local:  localState.Clone(),
				Remote: remote,
				Reason: fmt.Sprintf("canvas %s is at version %q, local state is at %q",
					canvasID, record.CurrentVersion, localState.Version),
			},
		}, nil
	}

	var merged *canvas.State
	if record.CurrentVersion == "" {
		merged = localState.Clone()
	} else {
		remote, err := s.states.Get(ctx, canvasID, record.CurrentVersion)
		if err != nil {
			return nil, err
		}

		result := canvas.Merge(localState, remote)
		if result.IsConflict() {
			s.metrics.MergeConflicts.Inc()
			return &VersionResult{State: localState, Conflict: result.Conflict}, nil
		}
		merged = result.State
	}

	if !s.versionPolicy().ShouldCreateVersion(merged) {
		return &VersionResult{State: localState, Created: false}, nil
	}

	sealed, err := s.seal(ctx, record, merged)
	if err != nil {
		return nil, err
	}

	return &VersionResult{State: sealed, Created: true}, nil
}

// saveState persists state and advances the metadata pointer when the
// version or storage key changed. The record is updated in place so callers
// keep a current view of the pointer.
func (s *CanvasService) saveState(ctx context.Context, record *ports.CanvasRecord, state *canvas.State) (string, error) {
	storageKey, err := s.states.Put(ctx, record.CanvasID, state)
	if err != nil {
		return "", err
	}

	toolsets := state.UsedToolsets()
	if record.CurrentVersion != state.Version || record.StateStorageKey != storageKey {
		record.CurrentVersion = state.Version
		record.StateStorageKey = storageKey
		record.UsedToolsets = toolsets
		record.UpdatedAt = time.Now().UTC()

		if err := s.metadata.SaveCanvas(ctx, record); err != nil {
			return "", err
		}
	} else if !stringSlicesEqual(toolsets, record.UsedToolsets) {
		// Bookkeeping only; a failure never fails the save.
		if err := s.metadata.UpdateUsedToolsets(ctx, record.CanvasID, toolsets); err != nil {
			s.logger.Warn("Failed to update used toolsets",
				zap.String("canvasID", record.CanvasID),
				zap.Error(err),
			)
		} else {
			record.UsedToolsets = toolsets
		}
	}

	return storageKey, nil
}

// seal collapses the transaction log into a fresh immutable version: every
// unsynced transaction is stamped, the superseded sealed version (if any)
// is appended to the history, a new version id is minted, and the pointer
// advances atomically with the version index entry. The caller holds the
// canvas lock.
func (s *CanvasService) seal(ctx context.Context, record *ports.CanvasRecord, state *canvas.State) (*canvas.State, error) {
	now := time.Now().UTC()

	for i := range state.Transactions {
		if state.Transactions[i].SyncedAt == nil {
			at := now
			state.Transactions[i].SyncedAt = &at
		}
	}

	previous := state.Version
	if previous != "" {
		// A storage version that was never sealed is not part of the audit
		// trail; only superseded sealed versions are. The index lists
		// exactly the sealed ones.
		sealedBefore, _, err := s.metadata.ListVersions(ctx, record.CanvasID, 1, "")
		if err != nil {
			return nil, err
		}
		if len(sealedBefore) > 0 {
			state.History = append(state.History, canvas.VersionHistoryEntry{
				Version:   previous,
				Timestamp: state.UpdatedAt,
				Hash:      versioning.Checksum(state),
			})
		}
	}

	state.Version = uuid.New().String()
	state.Transactions = []canvas.Transaction{}
	state.UpdatedAt = now

	storageKey, err := s.states.Put(ctx, record.CanvasID, state)
	if err != nil {
		return nil, err
	}

	entry := ports.VersionIndexEntry{
		CanvasID:  record.CanvasID,
		Version:   state.Version,
		Hash:      versioning.Checksum(state),
		NodeCount: len(state.Nodes),
		EdgeCount: len(state.Edges),
		CreatedAt: now,
	}
	if err := s.metadata.AdvanceVersion(ctx, record.CanvasID, record.CurrentVersion, state.Version, storageKey, entry); err != nil {
		return nil, err
	}
	record.CurrentVersion = state.Version
	record.StateStorageKey = storageKey

	s.metrics.VersionsCreated.Inc()
	s.publish(ctx, events.NewVersionCreated(record.CanvasID, state.Version, previous, entry.Hash, entry.NodeCount, entry.EdgeCount))

	return state, nil
}

// loadCurrent resolves the working state for a canvas record. A canvas
// with no current version has never been saved and starts empty.
func (s *CanvasService) loadCurrent(ctx context.Context, record *ports.CanvasRecord) (*canvas.State, error) {
	if record.CurrentVersion == "" {
		return canvas.NewEmptyState(), nil
	}
	return s.states.Get(ctx, record.CanvasID, record.CurrentVersion)
}

func (s *CanvasService) acquireLock(ctx context.Context, canvasID string) (ports.CanvasLock, error) {
	lock, err := s.locks.Acquire(ctx, canvasID, s.lockOptions())
	if err != nil {
		if apperrors.IsLockTimeout(err) {
			s.metrics.LockTimeouts.Inc()
		}
		return nil, err
	}
	return lock, nil
}

// releaseLock releases from a deferred path regardless of how the
// protected operation ended. The release proceeds even when the operation's
// context was canceled; an expired lock makes release a no-op.
func (s *CanvasService) releaseLock(ctx context.Context, lock ports.CanvasLock, canvasID string) {
	if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("Failed to release canvas lock",
			zap.String("canvasID", canvasID),
			zap.Error(err),
		)
	}
}

// publish sends a domain event. Publishing is best-effort: failures are
// logged and never fail the primary operation.
func (s *CanvasService) publish(ctx context.Context, event events.DomainEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("eventType", event.GetEventType()),
			zap.Error(err),
		)
	}
}

func (s *CanvasService) lockOptions() ports.LockOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockOpts
}

func (s *CanvasService) versionPolicy() versioning.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
