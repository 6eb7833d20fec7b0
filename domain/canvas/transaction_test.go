package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransaction(t *testing.T) {
	tx := NewTransaction(SourceAgent, []NodeDiff{AddNodeDiff(testNode("n-1", "note", "Note"))}, nil)

	assert.NotEmpty(t, tx.TxID)
	assert.False(t, tx.CreatedAt.IsZero())
	assert.Nil(t, tx.SyncedAt)
	assert.Equal(t, SourceAgent, tx.Source.Type)
	assert.Len(t, tx.NodeDiffs, 1)
}

func TestNodeDiff_Validate(t *testing.T) {
	node := testNode("n-1", "note", "Note")

	tests := []struct {
		name    string
		diff    NodeDiff
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid add",
			diff: NodeDiff{Type: DiffTypeAdd, ID: "n-1", To: &node},
		},
		{
			name: "valid update",
			diff: NodeDiff{Type: DiffTypeUpdate, ID: "n-1", From: &node, To: &node},
		},
		{
			name: "valid delete",
			diff: NodeDiff{Type: DiffTypeDelete, ID: "n-1", From: &node},
		},
		{
			name:    "missing id",
			diff:    NodeDiff{Type: DiffTypeAdd, To: &node},
			wantErr: true,
			errMsg:  "missing an id",
		},
		{
			name:    "add without to",
			diff:    NodeDiff{Type: DiffTypeAdd, ID: "n-1"},
			wantErr: true,
			errMsg:  "requires 'to'",
		},
		{
			name:    "update without from",
			diff:    NodeDiff{Type: DiffTypeUpdate, ID: "n-1", To: &node},
			wantErr: true,
			errMsg:  "requires 'from' and 'to'",
		},
		{
			name:    "delete without from",
			diff:    NodeDiff{Type: DiffTypeDelete, ID: "n-1"},
			wantErr: true,
			errMsg:  "requires 'from'",
		},
		{
			name:    "unknown type",
			diff:    NodeDiff{Type: "patch", ID: "n-1", From: &node, To: &node},
			wantErr: true,
			errMsg:  "unknown node diff type",
		},
		{
			name:    "payload id mismatch",
			diff:    NodeDiff{Type: DiffTypeAdd, ID: "n-other", To: &node},
			wantErr: true,
			errMsg:  "mismatched entity id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.diff.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransaction_Validate(t *testing.T) {
	t.Run("missing tx id", func(t *testing.T) {
		tx := Transaction{CreatedAt: testTime(1)}
		err := tx.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing txId")
	})

	t.Run("invalid diff names the transaction", func(t *testing.T) {
		tx := unsyncedTx("tx-bad", testTime(1), []NodeDiff{{Type: DiffTypeAdd, ID: "n-1"}}, nil)
		err := tx.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tx-bad")
	})

	t.Run("valid transaction", func(t *testing.T) {
		tx := unsyncedTx("tx-ok", testTime(1), []NodeDiff{AddNodeDiff(testNode("n-1", "note", "Note"))}, nil)
		assert.NoError(t, tx.Validate())
	})
}

func TestNodeDiff_Invert(t *testing.T) {
	before := testNode("n-1", "note", "Before")
	after := testNode("n-1", "note", "After")

	t.Run("add inverts to delete", func(t *testing.T) {
		inv := NodeDiff{Type: DiffTypeAdd, ID: "n-1", To: &after}.Invert()
		assert.Equal(t, DiffTypeDelete, inv.Type)
		assert.Equal(t, &after, inv.From)
		assert.Nil(t, inv.To)
	})

	t.Run("delete inverts to add", func(t *testing.T) {
		inv := NodeDiff{Type: DiffTypeDelete, ID: "n-1", From: &before}.Invert()
		assert.Equal(t, DiffTypeAdd, inv.Type)
		assert.Equal(t, &before, inv.To)
	})

	t.Run("update swaps sides", func(t *testing.T) {
		inv := NodeDiff{Type: DiffTypeUpdate, ID: "n-1", From: &before, To: &after}.Invert()
		assert.Equal(t, DiffTypeUpdate, inv.Type)
		assert.Equal(t, &after, inv.From)
		assert.Equal(t, &before, inv.To)
	})
}

func TestTransaction_Invert_UndoesApply(t *testing.T) {
	state := testStateWithNodes(testNode("n-1", NodeTypeStart, "Start"))
	baseline := state.Clone()

	tx := unsyncedTx("tx-1", testTime(1),
		[]NodeDiff{AddNodeDiff(testNode("n-2", "note", "Note"))},
		[]EdgeDiff{AddEdgeDiff(Edge{ID: "e-1", Source: "n-1", Target: "n-2"})},
	)

	require.NoError(t, state.applyDiffs(tx.NodeDiffs, tx.EdgeDiffs))
	require.NotNil(t, state.FindNode("n-2"))

	inv := tx.Invert()
	require.NoError(t, state.applyDiffs(inv.NodeDiffs, inv.EdgeDiffs))

	assert.Equal(t, baseline.Nodes, state.Nodes)
	assert.Equal(t, baseline.Edges, state.Edges)
}

func TestSortTransactions_StableByCreationTime(t *testing.T) {
	txs := []Transaction{
		unsyncedTx("tx-c", testTime(3), nil, nil),
		unsyncedTx("tx-a", testTime(1), nil, nil),
		unsyncedTx("tx-b1", testTime(2), nil, nil),
		unsyncedTx("tx-b2", testTime(2), nil, nil),
	}

	SortTransactions(txs)

	assert.Equal(t, "tx-a", txs[0].TxID)
	assert.Equal(t, "tx-b1", txs[1].TxID)
	assert.Equal(t, "tx-b2", txs[2].TxID)
	assert.Equal(t, "tx-c", txs[3].TxID)
}
