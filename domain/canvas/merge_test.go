package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mergeBase is the state both sides of a merge start from: a start node, a
// note, one edge, and a shared synced transaction.
func mergeBase() *State {
	s := testStateWithNodes(
		testNode("n-1", NodeTypeStart, "Start"),
		testNode("n-2", "note", "Original"),
	)
	s.Version = "v-1"
	s.Edges = append(s.Edges, Edge{ID: "e-1", Source: "n-1", Target: "n-2"})
	s.Transactions = []Transaction{syncedTx("tx-base", testTime(1), nil, nil)}
	s.History = []VersionHistoryEntry{{Version: "v-0", Timestamp: testTime(0), Hash: "h0"}}
	return s
}

func TestMerge_NilInputs(t *testing.T) {
	t.Run("both nil yields an empty state", func(t *testing.T) {
		result := Merge(nil, nil)
		require.False(t, result.IsConflict())
		require.NotNil(t, result.State)
		assert.True(t, result.State.IsEmpty())
	})

	t.Run("nil local takes remote", func(t *testing.T) {
		remote := mergeBase()
		result := Merge(nil, remote)
		require.False(t, result.IsConflict())
		assert.Equal(t, *remote, *result.State)
	})

	t.Run("nil remote takes local", func(t *testing.T) {
		local := mergeBase()
		result := Merge(local, nil)
		require.False(t, result.IsConflict())
		assert.Equal(t, *local, *result.State)
	})
}

func TestMerge_LocalOnlyChangeWins(t *testing.T) {
	local := mergeBase()
	require.NoError(t, local.ApplyTransactions([]Transaction{
		unsyncedTx("tx-local", testTime(3), []NodeDiff{{
			Type: DiffTypeUpdate,
			ID:   "n-2",
			From: nodePtr(testNode("n-2", "note", "Original")),
			To:   nodePtr(testNode("n-2", "note", "Local")),
		}}, nil),
	}))
	remote := mergeBase()

	result := Merge(local, remote)

	require.False(t, result.IsConflict())
	merged := result.State
	assert.Equal(t, "v-1", merged.Version)
	assert.Equal(t, "Local", merged.FindNode("n-2").Data.Title)
	assert.Len(t, merged.Nodes, 2)
	assert.Len(t, merged.Edges, 1)
}

func TestMerge_RemoteAheadIsReplayed(t *testing.T) {
	remote := mergeBase()
	require.NoError(t, remote.ApplyTransactions([]Transaction{
		syncedTx("tx-remote", testTime(2), []NodeDiff{AddNodeDiff(testNode("n-3", "note", "Remote addition"))}, nil),
	}))

	local := mergeBase()
	require.NoError(t, local.ApplyTransactions([]Transaction{
		unsyncedTx("tx-local", testTime(3), []NodeDiff{{
			Type: DiffTypeUpdate,
			ID:   "n-2",
			From: nodePtr(testNode("n-2", "note", "Original")),
			To:   nodePtr(testNode("n-2", "note", "Local")),
		}}, nil),
	}))

	result := Merge(local, remote)

	require.False(t, result.IsConflict())
	merged := result.State

	// Both sides' work survives
	require.NotNil(t, merged.FindNode("n-3"))
	assert.Equal(t, "Local", merged.FindNode("n-2").Data.Title)

	// The union log is deduplicated and ordered by creation time
	require.Len(t, merged.Transactions, 3)
	assert.Equal(t, "tx-base", merged.Transactions[0].TxID)
	assert.Equal(t, "tx-remote", merged.Transactions[1].TxID)
	assert.Equal(t, "tx-local", merged.Transactions[2].TxID)
}

func TestMerge_DivergentEditConflicts(t *testing.T) {
	remote := mergeBase()
	require.NoError(t, remote.ApplyTransactions([]Transaction{
		syncedTx("tx-remote", testTime(2), []NodeDiff{{
			Type: DiffTypeUpdate,
			ID:   "n-2",
			From: nodePtr(testNode("n-2", "note", "Original")),
			To:   nodePtr(testNode("n-2", "note", "Remote")),
		}}, nil),
	}))

	local := mergeBase()
	local.FindNode("n-2").Data.Title = "Local"

	result := Merge(local, remote)

	require.True(t, result.IsConflict())
	assert.Nil(t, result.State)

	conflict := result.Conflict
	assert.Equal(t, []string{"n-2"}, conflict.NodeIDs)
	assert.NotEmpty(t, conflict.Reason)

	// Both competing states ride along for manual resolution
	require.NotNil(t, conflict.Local)
	require.NotNil(t, conflict.Remote)
	assert.Equal(t, "Local", conflict.Local.FindNode("n-2").Data.Title)
	assert.Equal(t, "Remote", conflict.Remote.FindNode("n-2").Data.Title)
}

func TestMerge_SameEditBothSides(t *testing.T) {
	remote := mergeBase()
	require.NoError(t, remote.ApplyTransactions([]Transaction{
		syncedTx("tx-remote", testTime(2), []NodeDiff{{
			Type: DiffTypeUpdate,
			ID:   "n-2",
			From: nodePtr(testNode("n-2", "note", "Original")),
			To:   nodePtr(testNode("n-2", "note", "Same")),
		}}, nil),
	}))

	local := mergeBase()
	local.FindNode("n-2").Data.Title = "Same"

	result := Merge(local, remote)

	require.False(t, result.IsConflict())
	assert.Equal(t, "Same", result.State.FindNode("n-2").Data.Title)
}

func TestMerge_RemoteDeleteWins(t *testing.T) {
	remote := mergeBase()
	require.NoError(t, remote.ApplyTransactions([]Transaction{
		syncedTx("tx-remote", testTime(2),
			[]NodeDiff{{Type: DiffTypeDelete, ID: "n-2", From: nodePtr(testNode("n-2", "note", "Original"))}},
			[]EdgeDiff{{Type: DiffTypeDelete, ID: "e-1", From: &Edge{ID: "e-1", Source: "n-1", Target: "n-2"}}},
		),
	}))

	local := mergeBase()

	result := Merge(local, remote)

	require.False(t, result.IsConflict())
	assert.Nil(t, result.State.FindNode("n-2"))
	assert.Nil(t, result.State.FindEdge("e-1"))
	assert.Len(t, result.State.Nodes, 1)
}

func TestMerge_LocalDeleteVsRemoteEditConflicts(t *testing.T) {
	remote := mergeBase()
	require.NoError(t, remote.ApplyTransactions([]Transaction{
		syncedTx("tx-remote", testTime(2), []NodeDiff{{
			Type: DiffTypeUpdate,
			ID:   "n-2",
			From: nodePtr(testNode("n-2", "note", "Original")),
			To:   nodePtr(testNode("n-2", "note", "Remote")),
		}}, nil),
	}))

	local := mergeBase()
	require.NoError(t, local.ApplyTransactions([]Transaction{
		unsyncedTx("tx-local", testTime(3), []NodeDiff{{
			Type: DiffTypeDelete,
			ID:   "n-2",
			From: nodePtr(testNode("n-2", "note", "Original")),
		}}, nil),
	}))

	result := Merge(local, remote)

	require.True(t, result.IsConflict())
	assert.Contains(t, result.Conflict.NodeIDs, "n-2")
}

func TestMerge_UnreplayableRemoteLogConflicts(t *testing.T) {
	remote := mergeBase()

	// A remote-only transaction whose inverse cannot apply: it claims to
	// update a node the remote content does not carry.
	remote.Transactions = append(remote.Transactions, syncedTx("tx-ghost", testTime(2), []NodeDiff{{
		Type: DiffTypeUpdate,
		ID:   "n-9",
		From: nodePtr(testNode("n-9", "note", "Before")),
		To:   nodePtr(testNode("n-9", "note", "After")),
	}}, nil))

	local := mergeBase()

	result := Merge(local, remote)

	require.True(t, result.IsConflict())
	assert.Contains(t, result.Conflict.Reason, "rewind")
}

func TestMerge_CarriesRemoteHistoryAndLatestTimestamp(t *testing.T) {
	remote := mergeBase()
	remote.History = append(remote.History, VersionHistoryEntry{Version: "v-1", Timestamp: testTime(4), Hash: "h1"})
	remote.UpdatedAt = testTime(5)

	local := mergeBase()
	local.UpdatedAt = testTime(9)

	result := Merge(local, remote)

	require.False(t, result.IsConflict())
	assert.Equal(t, remote.History, result.State.History)
	assert.Equal(t, testTime(9), result.State.UpdatedAt)
	assert.Equal(t, remote.CreatedAt, result.State.CreatedAt)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	remote := mergeBase()
	require.NoError(t, remote.ApplyTransactions([]Transaction{
		syncedTx("tx-remote", testTime(2), []NodeDiff{AddNodeDiff(testNode("n-3", "note", "Remote addition"))}, nil),
	}))
	local := mergeBase()
	local.FindNode("n-2").Data.Title = "Local"

	localSnapshot := local.Clone()
	remoteSnapshot := remote.Clone()

	Merge(local, remote)

	assert.Equal(t, *localSnapshot, *local)
	assert.Equal(t, *remoteSnapshot, *remote)
}
