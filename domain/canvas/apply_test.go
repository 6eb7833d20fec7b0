package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_ApplyTransactions(t *testing.T) {
	tests := []struct {
		name      string
		seedNodes []Node
		seedEdges []Edge
		nodeDiffs []NodeDiff
		edgeDiffs []EdgeDiff
		wantErr   bool
		errMsg    string
		wantNodes int
		wantEdges int
	}{
		{
			name:      "add node",
			seedNodes: []Node{testNode("n-1", NodeTypeStart, "Start")},
			nodeDiffs: []NodeDiff{AddNodeDiff(testNode("n-2", "note", "Note"))},
			wantNodes: 2,
		},
		{
			name:      "add duplicate node fails",
			seedNodes: []Node{testNode("n-1", NodeTypeStart, "Start")},
			nodeDiffs: []NodeDiff{AddNodeDiff(testNode("n-1", "note", "Note"))},
			wantErr:   true,
			errMsg:    "already exists",
		},
		{
			name:      "update node",
			seedNodes: []Node{testNode("n-1", "note", "Old")},
			nodeDiffs: []NodeDiff{{
				Type: DiffTypeUpdate,
				ID:   "n-1",
				From: nodePtr(testNode("n-1", "note", "Old")),
				To:   nodePtr(testNode("n-1", "note", "New")),
			}},
			wantNodes: 1,
		},
		{
			name:      "update missing node fails",
			seedNodes: []Node{testNode("n-1", "note", "Note")},
			nodeDiffs: []NodeDiff{{
				Type: DiffTypeUpdate,
				ID:   "n-9",
				From: nodePtr(testNode("n-9", "note", "Old")),
				To:   nodePtr(testNode("n-9", "note", "New")),
			}},
			wantErr: true,
			errMsg:  "not found",
		},
		{
			name:      "delete node",
			seedNodes: []Node{testNode("n-1", "note", "Note")},
			nodeDiffs: []NodeDiff{{
				Type: DiffTypeDelete,
				ID:   "n-1",
				From: nodePtr(testNode("n-1", "note", "Note")),
			}},
			wantNodes: 0,
		},
		{
			name:      "delete absent node is a no-op",
			seedNodes: []Node{testNode("n-1", "note", "Note")},
			nodeDiffs: []NodeDiff{{
				Type: DiffTypeDelete,
				ID:   "n-9",
				From: nodePtr(testNode("n-9", "note", "Gone")),
			}},
			wantNodes: 1,
		},
		{
			name:      "add edge",
			seedNodes: []Node{testNode("n-1", NodeTypeStart, "Start"), testNode("n-2", "note", "Note")},
			edgeDiffs: []EdgeDiff{AddEdgeDiff(Edge{ID: "e-1", Source: "n-1", Target: "n-2"})},
			wantNodes: 2,
			wantEdges: 1,
		},
		{
			name:      "delete absent edge is a no-op",
			seedNodes: []Node{testNode("n-1", NodeTypeStart, "Start")},
			edgeDiffs: []EdgeDiff{{
				Type: DiffTypeDelete,
				ID:   "e-9",
				From: &Edge{ID: "e-9", Source: "n-1", Target: "n-2"},
			}},
			wantNodes: 1,
			wantEdges: 0,
		},
		{
			name:      "add diff without payload fails",
			seedNodes: []Node{},
			nodeDiffs: []NodeDiff{{Type: DiffTypeAdd, ID: "n-1"}},
			wantErr:   true,
			errMsg:    "requires 'to'",
		},
		{
			name:      "unknown diff type fails",
			seedNodes: []Node{},
			nodeDiffs: []NodeDiff{{Type: "replace", ID: "n-1", To: nodePtr(testNode("n-1", "note", "Note"))}},
			wantErr:   true,
			errMsg:    "unknown node diff type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := testStateWithNodes(tt.seedNodes...)
			state.Edges = append(state.Edges, tt.seedEdges...)

			err := state.ApplyTransactions([]Transaction{
				unsyncedTx("tx-1", testTime(1), tt.nodeDiffs, tt.edgeDiffs),
			})

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				require.NoError(t, err)
				assert.Len(t, state.Nodes, tt.wantNodes)
				assert.Len(t, state.Edges, tt.wantEdges)
				assert.Len(t, state.Transactions, 1)
			}
		})
	}
}

func TestState_ApplyTransactions_UpdateReplacesPayload(t *testing.T) {
	state := testStateWithNodes(testNode("n-1", "note", "Old"))

	updated := testNode("n-1", "note", "New")
	updated.Position = Position{X: 100, Y: 200}

	err := state.ApplyTransactions([]Transaction{
		unsyncedTx("tx-1", testTime(1), []NodeDiff{{
			Type: DiffTypeUpdate,
			ID:   "n-1",
			From: nodePtr(testNode("n-1", "note", "Old")),
			To:   &updated,
		}}, nil),
	})

	require.NoError(t, err)
	node := state.FindNode("n-1")
	require.NotNil(t, node)
	assert.Equal(t, "New", node.Data.Title)
	assert.Equal(t, Position{X: 100, Y: 200}, node.Position)
}

func TestState_ApplyTransactions_StampsSyncedAt(t *testing.T) {
	state := testStateWithNodes()

	err := state.ApplyTransactions([]Transaction{
		unsyncedTx("tx-1", testTime(1), []NodeDiff{AddNodeDiff(testNode("n-1", "note", "Note"))}, nil),
	})

	require.NoError(t, err)
	require.Len(t, state.Transactions, 1)
	assert.NotNil(t, state.Transactions[0].SyncedAt)
}

func TestState_ApplyTransactions_KeepsExistingSyncedAt(t *testing.T) {
	state := testStateWithNodes()

	tx := syncedTx("tx-1", testTime(1), []NodeDiff{AddNodeDiff(testNode("n-1", "note", "Note"))}, nil)
	err := state.ApplyTransactions([]Transaction{tx})

	require.NoError(t, err)
	require.NotNil(t, state.Transactions[0].SyncedAt)
	assert.Equal(t, testTime(1), *state.Transactions[0].SyncedAt)
}

func TestState_ApplyTransactions_SortsByCreationTime(t *testing.T) {
	state := testStateWithNodes()

	// The update depends on the add, but the batch arrives newest first
	add := unsyncedTx("tx-add", testTime(1), []NodeDiff{AddNodeDiff(testNode("n-1", "note", "Old"))}, nil)
	update := unsyncedTx("tx-update", testTime(2), []NodeDiff{{
		Type: DiffTypeUpdate,
		ID:   "n-1",
		From: nodePtr(testNode("n-1", "note", "Old")),
		To:   nodePtr(testNode("n-1", "note", "New")),
	}}, nil)

	err := state.ApplyTransactions([]Transaction{update, add})

	require.NoError(t, err)
	require.Len(t, state.Transactions, 2)
	assert.Equal(t, "tx-add", state.Transactions[0].TxID)
	assert.Equal(t, "tx-update", state.Transactions[1].TxID)
	assert.Equal(t, "New", state.FindNode("n-1").Data.Title)
}

func TestState_ApplyTransactions_BumpsUpdatedAt(t *testing.T) {
	state := testStateWithNodes()
	before := state.UpdatedAt

	err := state.ApplyTransactions([]Transaction{
		unsyncedTx("tx-1", testTime(1), []NodeDiff{AddNodeDiff(testNode("n-1", "note", "Note"))}, nil),
	})

	require.NoError(t, err)
	assert.True(t, state.UpdatedAt.After(before))
}

func TestState_ApplyTransactions_EmptyBatch(t *testing.T) {
	state := testStateWithNodes(testNode("n-1", "note", "Note"))
	before := state.UpdatedAt

	err := state.ApplyTransactions(nil)

	require.NoError(t, err)
	assert.Equal(t, before, state.UpdatedAt)
	assert.Len(t, state.Transactions, 0)
}

func TestState_ApplyTransactions_DoesNotMutateInput(t *testing.T) {
	state := testStateWithNodes()

	batch := []Transaction{
		unsyncedTx("tx-1", testTime(1), []NodeDiff{AddNodeDiff(testNode("n-1", "note", "Note"))}, nil),
	}
	err := state.ApplyTransactions(batch)

	require.NoError(t, err)
	assert.Nil(t, batch[0].SyncedAt)
	assert.NotNil(t, state.Transactions[0].SyncedAt)
}

func nodePtr(n Node) *Node {
	return &n
}
