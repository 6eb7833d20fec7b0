// Package integration exercises the full request path: chi router, canvas
// service, state store and cache run for real; S3, DynamoDB and the event
// bus are replaced with in-memory stand-ins.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"canvas-backend/application/ports"
	"canvas-backend/application/services"
	"canvas-backend/domain/canvas"
	"canvas-backend/domain/events"
	"canvas-backend/infrastructure/persistence/cache"
	"canvas-backend/infrastructure/persistence/statestore"
	"canvas-backend/interfaces/http/rest"
	"canvas-backend/interfaces/http/rest/handlers"
	apperrors "canvas-backend/pkg/errors"
	"canvas-backend/pkg/observability"
)

// memBlobStore is an in-memory stand-in for the S3 blob store.
type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	gets  int
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (s *memBlobStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	data, ok := s.blobs[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("blob " + key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *memBlobStore) PutObject(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.blobs[key] = stored
	return nil
}

func (s *memBlobStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// memMetadata mirrors the DynamoDB repository's conditional-write
// semantics over plain maps.
type memMetadata struct {
	mu       sync.Mutex
	records  map[string]*ports.CanvasRecord
	versions map[string][]ports.VersionIndexEntry
}

func newMemMetadata() *memMetadata {
	return &memMetadata{
		records:  make(map[string]*ports.CanvasRecord),
		versions: make(map[string][]ports.VersionIndexEntry),
	}
}

func copyRecord(record *ports.CanvasRecord) *ports.CanvasRecord {
	out := *record
	out.UsedToolsets = append([]string(nil), record.UsedToolsets...)
	return &out
}

func (m *memMetadata) GetCanvas(ctx context.Context, canvasID string) (*ports.CanvasRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[canvasID]
	if !ok {
		return nil, apperrors.NewNotFoundError("canvas " + canvasID)
	}
	return copyRecord(record), nil
}

func (m *memMetadata) SaveCanvas(ctx context.Context, record *ports.CanvasRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.CanvasID] = copyRecord(record)
	return nil
}

func (m *memMetadata) UpdateUsedToolsets(ctx context.Context, canvasID string, toolsets []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[canvasID]
	if !ok {
		return apperrors.NewNotFoundError("canvas " + canvasID)
	}
	record.UsedToolsets = append([]string(nil), toolsets...)
	return nil
}

func (m *memMetadata) AdvanceVersion(ctx context.Context, canvasID, expectedVersion, newVersion, storageKey string, entry ports.VersionIndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[canvasID]
	if !ok {
		return apperrors.NewNotFoundError("canvas " + canvasID)
	}
	if record.CurrentVersion != expectedVersion {
		return apperrors.NewConflictError(fmt.Sprintf("canvas %s moved past version %q", canvasID, expectedVersion))
	}
	record.CurrentVersion = newVersion
	record.StateStorageKey = storageKey
	m.versions[canvasID] = append(m.versions[canvasID], entry)
	return nil
}

func (m *memMetadata) ListVersions(ctx context.Context, canvasID string, limit int, cursor string) ([]ports.VersionIndexEntry, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.versions[canvasID]
	out := make([]ports.VersionIndexEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, "", nil
}

// memLocker hands out real per-canvas mutexes.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) Acquire(ctx context.Context, canvasID string, opts ports.LockOptions) (ports.CanvasLock, error) {
	l.mu.Lock()
	m, ok := l.locks[canvasID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[canvasID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return &memLock{m: m}, nil
}

type memLock struct {
	m    *sync.Mutex
	once sync.Once
}

func (l *memLock) Release(ctx context.Context) error {
	l.once.Do(l.m.Unlock)
	return nil
}

// recordingPublisher captures the event stream.
type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.GetEventType())
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type harness struct {
	server    *httptest.Server
	blobs     *memBlobStore
	metadata  *memMetadata
	publisher *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := zap.NewNop()
	collector := observability.NewCollector("integrationtest")

	blobs := newMemBlobStore()
	stateCache := cache.NewMemoryCache()
	t.Cleanup(func() { _ = stateCache.Close() })

	states := statestore.New(blobs, stateCache, collector, logger)
	metadata := newMemMetadata()
	publisher := &recordingPublisher{}

	svc := services.NewCanvasService(states, metadata, newMemLocker(), publisher, collector, logger)

	errorHandler := apperrors.NewErrorHandler(logger, true)
	handler := handlers.NewCanvasHandler(svc, errorHandler, logger)
	router := rest.NewRouter(handler, errorHandler, collector, nil, logger, rest.RouterConfig{})

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)

	return &harness{server: server, blobs: blobs, metadata: metadata, publisher: publisher}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

// decodeData unwraps the response envelope into out.
func decodeData(t *testing.T, raw []byte, out interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	require.NotEmpty(t, env.Data)
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func addNodesBody(entries ...handlers.AddNodeEntry) handlers.AddNodesRequest {
	return handlers.AddNodesRequest{Nodes: entries, AutoLayout: true}
}

func TestCanvasLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodPost, "/api/v1/canvases", map[string]string{"canvasId": "board-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Agent placement: a start node, then a response node wired to it.
	resp, _ = h.do(t, http.MethodPost, "/api/v1/canvases/board-1/nodes", addNodesBody(
		handlers.AddNodeEntry{Node: canvas.NodeSpec{Type: canvas.NodeTypeStart}},
	))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw := h.do(t, http.MethodPost, "/api/v1/canvases/board-1/nodes", addNodesBody(
		handlers.AddNodeEntry{
			Node:      canvas.NodeSpec{Type: "skillResponse", Data: canvas.NodeData{Title: "Answer"}},
			ConnectTo: []canvas.ConnectFilter{{Type: canvas.NodeTypeStart}},
		},
	))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var added struct {
		State canvas.State  `json:"state"`
		Nodes []canvas.Node `json:"nodes"`
		Edges []canvas.Edge `json:"edges"`
	}
	decodeData(t, raw, &added)
	require.Len(t, added.State.Nodes, 2)
	require.Len(t, added.State.Edges, 1)
	require.Len(t, added.Nodes, 1)
	require.Len(t, added.Edges, 1)

	// Reads are served write-through from the cache; the blob store never
	// sees them.
	resp, raw = h.do(t, http.MethodGet, "/api/v1/canvases/board-1/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var current canvas.State
	decodeData(t, raw, &current)
	assert.Equal(t, added.State.Version, current.Version)
	assert.Len(t, current.Transactions, 2)
	assert.Zero(t, h.blobs.getCount())

	// The first sealed version supersedes nothing, so its history is
	// empty.
	resp, raw = h.do(t, http.MethodPost, "/api/v1/canvases/board-1/versions",
		handlers.CreateVersionRequest{State: &current})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sealed struct {
		Created bool         `json:"created"`
		State   canvas.State `json:"state"`
	}
	decodeData(t, raw, &sealed)
	assert.True(t, sealed.Created)
	assert.Empty(t, sealed.State.History)
	assert.Empty(t, sealed.State.Transactions)
	v1 := sealed.State.Version
	assert.NotEqual(t, current.Version, v1)

	// A client edit lands through sync.
	now := time.Now().UTC()
	tx := canvas.Transaction{
		TxID:      uuid.NewString(),
		CreatedAt: now,
		Source:    canvas.TransactionSource{Type: canvas.SourceUser},
		NodeDiffs: []canvas.NodeDiff{{
			Type: canvas.DiffTypeAdd,
			ID:   "n-user",
			To: &canvas.Node{
				ID:       "n-user",
				Type:     "document",
				Position: canvas.Position{X: 320, Y: 80},
				Data:     canvas.NodeData{Title: "User note"},
			},
		}},
	}
	resp, raw = h.do(t, http.MethodPost, "/api/v1/canvases/board-1/sync",
		handlers.SyncRequest{Transactions: []canvas.Transaction{tx}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var synced canvas.State
	decodeData(t, raw, &synced)
	require.Len(t, synced.Nodes, 3)
	assert.Equal(t, v1, synced.Version)

	// The second seal records the superseded version.
	resp, raw = h.do(t, http.MethodPost, "/api/v1/canvases/board-1/versions",
		handlers.CreateVersionRequest{State: &synced})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeData(t, raw, &sealed)
	require.Len(t, sealed.State.History, 1)
	assert.Equal(t, v1, sealed.State.History[0].Version)

	// The index lists both sealed versions, newest first.
	resp, raw = h.do(t, http.MethodGet, "/api/v1/canvases/board-1/versions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Versions []struct {
			Version   string `json:"version"`
			Hash      string `json:"hash"`
			NodeCount int    `json:"nodeCount"`
			EdgeCount int    `json:"edgeCount"`
		} `json:"versions"`
	}
	decodeData(t, raw, &listing)
	require.Len(t, listing.Versions, 2)
	assert.Equal(t, sealed.State.Version, listing.Versions[0].Version)
	assert.Equal(t, v1, listing.Versions[1].Version)
	assert.Equal(t, 3, listing.Versions[0].NodeCount)
	assert.NotEmpty(t, listing.Versions[0].Hash)

	assert.Equal(t, []string{
		"canvas.nodes_added",
		"canvas.nodes_added",
		"canvas.version_created",
		"canvas.synced",
		"canvas.version_created",
	}, h.publisher.eventTypes())
}

func TestVersionConflictOverHTTP(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodPost, "/api/v1/canvases", map[string]string{"canvasId": "board-2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw := h.do(t, http.MethodPost, "/api/v1/canvases/board-2/nodes", addNodesBody(
		handlers.AddNodeEntry{Node: canvas.NodeSpec{Type: canvas.NodeTypeStart}},
	))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var added struct {
		State canvas.State `json:"state"`
	}
	decodeData(t, raw, &added)

	// A writer whose snapshot predates the server's pointer must get both
	// competing states back, and nothing may be written.
	stale := added.State
	stale.Version = "stale-version"

	resp, raw = h.do(t, http.MethodPost, "/api/v1/canvases/board-2/versions",
		handlers.CreateVersionRequest{State: &stale})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body struct {
		Conflict struct {
			Reason string        `json:"reason"`
			Local  *canvas.State `json:"local"`
			Remote *canvas.State `json:"remote"`
		} `json:"conflict"`
	}
	decodeData(t, raw, &body)
	assert.Contains(t, body.Conflict.Reason, "stale-version")
	require.NotNil(t, body.Conflict.Local)
	require.NotNil(t, body.Conflict.Remote)
	assert.Equal(t, added.State.Version, body.Conflict.Remote.Version)

	resp, raw = h.do(t, http.MethodGet, "/api/v1/canvases/board-2/versions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Versions []json.RawMessage `json:"versions"`
	}
	decodeData(t, raw, &listing)
	assert.Empty(t, listing.Versions)
}

func TestEmptySyncHasNoContent(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodPost, "/api/v1/canvases", map[string]string{"canvasId": "board-3"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw := h.do(t, http.MethodPost, "/api/v1/canvases/board-3/sync",
		handlers.SyncRequest{})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, raw)
}

func TestUnknownCanvasIsNotFound(t *testing.T) {
	h := newHarness(t)

	resp, raw := h.do(t, http.MethodGet, "/api/v1/canvases/ghost/state", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errBody struct {
		Error   bool   `json:"error"`
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(raw, &errBody))
	assert.True(t, errBody.Error)
	assert.Equal(t, "NOT_FOUND", errBody.Type)
	assert.Contains(t, errBody.Message, "ghost")
}

func TestForceStateOverwrites(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodPost, "/api/v1/canvases", map[string]string{"canvasId": "board-4"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/v1/canvases/board-4/nodes", addNodesBody(
		handlers.AddNodeEntry{Node: canvas.NodeSpec{Type: canvas.NodeTypeStart}},
	))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	replacement := canvas.NewEmptyState()
	replacement.Nodes = []canvas.Node{{
		ID:       "n-restored",
		Type:     "document",
		Position: canvas.Position{X: 10, Y: 10},
		Data:     canvas.NodeData{Title: "Restored"},
	}}

	resp, raw := h.do(t, http.MethodPost, "/api/v1/canvases/board-4/state:force", replacement)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var forced canvas.State
	decodeData(t, raw, &forced)
	require.Len(t, forced.Nodes, 1)
	assert.Equal(t, "n-restored", forced.Nodes[0].ID)

	resp, raw = h.do(t, http.MethodGet, "/api/v1/canvases/board-4/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var current canvas.State
	decodeData(t, raw, &current)
	require.Len(t, current.Nodes, 1)
	assert.Equal(t, "n-restored", current.Nodes[0].ID)
}
