package canvas

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmptyState(t *testing.T) {
	state := NewEmptyState()

	require.NotNil(t, state)
	assert.Empty(t, state.Version)
	assert.NotNil(t, state.Nodes)
	assert.NotNil(t, state.Edges)
	assert.NotNil(t, state.Transactions)
	assert.NotNil(t, state.History)
	assert.Len(t, state.Nodes, 0)
	assert.True(t, state.IsEmpty())
	assert.False(t, state.CreatedAt.IsZero())
	assert.Equal(t, state.CreatedAt, state.UpdatedAt)
}

func TestState_Clone(t *testing.T) {
	original := testStateWithNodes(
		testNode("n-1", NodeTypeStart, "Start"),
		testNode("n-2", NodeTypeTool, "Tool"),
	)
	original.Version = "v-1"
	original.Nodes[1].Data.Metadata = map[string]interface{}{
		"config": map[string]interface{}{"depth": float64(3)},
		"tags":   []interface{}{"a", "b"},
	}
	original.Edges = append(original.Edges, Edge{ID: "e-1", Source: "n-1", Target: "n-2"})
	original.Transactions = append(original.Transactions,
		unsyncedTx("tx-1", testTime(1), []NodeDiff{AddNodeDiff(testNode("n-2", NodeTypeTool, "Tool"))}, nil),
	)
	original.History = append(original.History, VersionHistoryEntry{Version: "v-0", Timestamp: testTime(0), Hash: "abc"})

	clone := original.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, *original, *clone)

	// Mutating the clone must not leak back into the original
	clone.Nodes[0].Data.Title = "Changed"
	clone.Nodes[1].Data.Metadata["config"].(map[string]interface{})["depth"] = float64(9)
	clone.Edges[0].Target = "n-9"
	clone.Transactions[0].NodeDiffs[0].To.Data.Title = "Changed"
	clone.History[0].Hash = "xyz"

	assert.Equal(t, "Start", original.Nodes[0].Data.Title)
	assert.Equal(t, float64(3), original.Nodes[1].Data.Metadata["config"].(map[string]interface{})["depth"])
	assert.Equal(t, "n-2", original.Edges[0].Target)
	assert.Equal(t, "Tool", original.Transactions[0].NodeDiffs[0].To.Data.Title)
	assert.Equal(t, "abc", original.History[0].Hash)
}

func TestState_Clone_Nil(t *testing.T) {
	var state *State
	assert.Nil(t, state.Clone())
}

func TestState_FindNode(t *testing.T) {
	state := testStateWithNodes(
		testNode("n-1", NodeTypeStart, "Start"),
		testNode("n-2", "note", "Note"),
	)

	found := state.FindNode("n-2")
	require.NotNil(t, found)
	assert.Equal(t, "Note", found.Data.Title)

	// The pointer addresses the state's own slice
	found.Data.Title = "Renamed"
	assert.Equal(t, "Renamed", state.Nodes[1].Data.Title)

	assert.Nil(t, state.FindNode("missing"))
}

func TestState_FindEdge(t *testing.T) {
	state := testStateWithNodes(testNode("n-1", NodeTypeStart, "Start"))
	state.Edges = append(state.Edges, Edge{ID: "e-1", Source: "n-1", Target: "n-2"})

	found := state.FindEdge("e-1")
	require.NotNil(t, found)
	assert.Equal(t, "n-1", found.Source)

	assert.Nil(t, state.FindEdge("missing"))
}

func TestState_EntryNode(t *testing.T) {
	withEntry := testStateWithNodes(
		testNode("n-1", "note", "Note"),
		testNode("n-2", NodeTypeStart, "Start"),
	)
	entry := withEntry.EntryNode()
	require.NotNil(t, entry)
	assert.Equal(t, "n-2", entry.ID)

	withoutEntry := testStateWithNodes(testNode("n-1", "note", "Note"))
	assert.Nil(t, withoutEntry.EntryNode())
}

func TestState_UsedToolsets(t *testing.T) {
	state := testStateWithNodes(
		testNode("n-1", NodeTypeStart, "Start"),
		toolNode("n-2", "ts-beta"),
		toolNode("n-3", "ts-alpha"),
		toolNode("n-4", "ts-beta"),
		toolNode("n-5", ""),
		testNode("n-6", "note", "Not a tool"),
	)

	toolsets := state.UsedToolsets()
	assert.Equal(t, []string{"ts-alpha", "ts-beta"}, toolsets)
}

func TestState_UnsyncedCount(t *testing.T) {
	state := testStateWithNodes()
	state.Transactions = []Transaction{
		syncedTx("tx-1", testTime(1), nil, nil),
		unsyncedTx("tx-2", testTime(2), nil, nil),
		unsyncedTx("tx-3", testTime(3), nil, nil),
	}

	assert.Equal(t, 2, state.UnsyncedCount())
}

func TestState_IsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		state *State
		want  bool
	}{
		{
			name:  "fresh state",
			state: testStateWithNodes(),
			want:  true,
		},
		{
			name:  "with a node",
			state: testStateWithNodes(testNode("n-1", "note", "Note")),
			want:  false,
		},
		{
			name: "with only a transaction",
			state: func() *State {
				s := testStateWithNodes()
				s.Transactions = append(s.Transactions, unsyncedTx("tx-1", testTime(1), nil, nil))
				return s
			}(),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.IsEmpty())
		})
	}
}

func TestState_ContentHash(t *testing.T) {
	base := testStateWithNodes(
		testNode("n-1", NodeTypeStart, "Start"),
		testNode("n-2", "note", "Note"),
	)
	base.Edges = append(base.Edges, Edge{ID: "e-1", Source: "n-1", Target: "n-2"})

	// Same graph listed in a different order hashes the same
	reordered := base.Clone()
	reordered.Nodes[0], reordered.Nodes[1] = reordered.Nodes[1], reordered.Nodes[0]
	assert.Equal(t, base.ContentHash(), reordered.ContentHash())

	// Transactions and history do not participate in the hash
	logged := base.Clone()
	logged.Transactions = append(logged.Transactions, unsyncedTx("tx-1", testTime(1), nil, nil))
	logged.History = append(logged.History, VersionHistoryEntry{Version: "v-0", Timestamp: testTime(0), Hash: "abc"})
	assert.Equal(t, base.ContentHash(), logged.ContentHash())

	// Graph content does
	moved := base.Clone()
	moved.Nodes[1].Position.X = 640
	assert.NotEqual(t, base.ContentHash(), moved.ContentHash())

	reversioned := base.Clone()
	reversioned.Version = "v-2"
	assert.NotEqual(t, base.ContentHash(), reversioned.ContentHash())
}

func TestState_JSONRoundTrip(t *testing.T) {
	state := testStateWithNodes(
		testNode("n-1", NodeTypeStart, "Start"),
		toolNode("n-2", "ts-1"),
	)
	state.Version = "v-2"
	state.Nodes[1].Data.Metadata = map[string]interface{}{"color": "blue", "weight": float64(2)}
	state.Edges = append(state.Edges, Edge{ID: "e-1", Source: "n-1", Target: "n-2"})
	state.Transactions = []Transaction{
		syncedTx("tx-1", testTime(1), []NodeDiff{AddNodeDiff(toolNode("n-2", "ts-1"))}, nil),
		unsyncedTx("tx-2", testTime(2), nil, []EdgeDiff{AddEdgeDiff(Edge{ID: "e-1", Source: "n-1", Target: "n-2"})}),
	}
	state.History = []VersionHistoryEntry{
		{Version: "v-1", Timestamp: testTime(0), Hash: "deadbeef"},
	}

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, *state, decoded)
	assert.Nil(t, decoded.Transactions[1].SyncedAt)
}

// Helper functions shared by the canvas domain tests

func testTime(offsetMinutes int) time.Time {
	return time.Date(2025, 6, 1, 12, offsetMinutes, 0, 0, time.UTC)
}

func testNode(id, nodeType, title string) Node {
	return Node{
		ID:   id,
		Type: nodeType,
		Data: NodeData{Title: title},
	}
}

func toolNode(id, entityID string) Node {
	return Node{
		ID:   id,
		Type: NodeTypeTool,
		Data: NodeData{Title: "Tool " + id, EntityID: entityID},
	}
}

func testStateWithNodes(nodes ...Node) *State {
	state := NewEmptyState()
	state.CreatedAt = testTime(0)
	state.UpdatedAt = testTime(0)
	state.Nodes = append(state.Nodes, nodes...)
	return state
}

func unsyncedTx(txID string, createdAt time.Time, nodeDiffs []NodeDiff, edgeDiffs []EdgeDiff) Transaction {
	return Transaction{
		TxID:      txID,
		CreatedAt: createdAt,
		Source:    TransactionSource{Type: SourceUser},
		NodeDiffs: nodeDiffs,
		EdgeDiffs: edgeDiffs,
	}
}

func syncedTx(txID string, createdAt time.Time, nodeDiffs []NodeDiff, edgeDiffs []EdgeDiff) Transaction {
	tx := unsyncedTx(txID, createdAt, nodeDiffs, edgeDiffs)
	synced := createdAt
	tx.SyncedAt = &synced
	return tx
}
