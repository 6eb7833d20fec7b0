package canvas

import (
	"reflect"
	"time"
)

// Conflict carries both competing states when a merge cannot be resolved
// automatically. Callers surface it to the requester for manual resolution
// and must not retry the merge.
type Conflict struct {
	Local   *State   `json:"local"`
	Remote  *State   `json:"remote"`
	Reason  string   `json:"reason"`
	NodeIDs []string `json:"nodeIds,omitempty"`
	EdgeIDs []string `json:"edgeIds,omitempty"`
}

// MergeResult is the outcome of a merge: exactly one of State or Conflict is
// set. Modeling the conflict as a value instead of an error forces callers
// to handle both branches.
type MergeResult struct {
	State    *State
	Conflict *Conflict
}

// IsConflict reports whether the merge detected divergent concurrent edits
func (r MergeResult) IsConflict() bool {
	return r.Conflict != nil
}

// Merge reconciles a client's locally-edited state against the canonical
// remote state. The common ancestor is reconstructed by rewinding the
// transactions only the remote knows about (they are invertible), then each
// entity is compared three ways:
//
//   - changed only remotely: remote wins
//   - changed only locally: local wins
//   - changed on both sides to different values: conflict
//
// On success the merged state carries the union of both transaction logs in
// creation-time order. Inputs are never mutated.
func Merge(local, remote *State) MergeResult {
	if local == nil && remote == nil {
		return MergeResult{State: NewEmptyState()}
	}
	if local == nil {
		return MergeResult{State: remote.Clone()}
	}
	if remote == nil {
		return MergeResult{State: local.Clone()}
	}

	ancestor, ok := rewindToAncestor(local, remote)
	if !ok {
		return conflictResult(local, remote, "remote transaction log does not rewind cleanly", nil, nil)
	}

	mergedNodes, nodeConflicts := mergeNodes(ancestor, local, remote)
	mergedEdges, edgeConflicts := mergeEdges(ancestor, local, remote)

	if len(nodeConflicts) > 0 || len(edgeConflicts) > 0 {
		return conflictResult(local, remote, "concurrent divergent edits", nodeConflicts, edgeConflicts)
	}

	merged := &State{
		Version:   remote.Version,
		Nodes:     mergedNodes,
		Edges:     mergedEdges,
		CreatedAt: remote.CreatedAt,
		UpdatedAt: laterOf(local.UpdatedAt, remote.UpdatedAt),
	}

	merged.History = make([]VersionHistoryEntry, len(remote.History))
	copy(merged.History, remote.History)

	merged.Transactions = unionTransactions(local.Transactions, remote.Transactions)

	return MergeResult{State: merged}
}

// rewindToAncestor reconstructs the state both sides started from: a clone
// of remote with every remote-only transaction un-applied, newest first.
func rewindToAncestor(local, remote *State) (*State, bool) {
	localTxIDs := make(map[string]struct{}, len(local.Transactions))
	for _, tx := range local.Transactions {
		localTxIDs[tx.TxID] = struct{}{}
	}

	var remoteOnly []Transaction
	for _, tx := range remote.Transactions {
		if _, known := localTxIDs[tx.TxID]; !known {
			remoteOnly = append(remoteOnly, tx)
		}
	}

	ancestor := remote.Clone()
	for i := len(remoteOnly) - 1; i >= 0; i-- {
		inv := remoteOnly[i].Invert()
		if err := ancestor.applyDiffs(inv.NodeDiffs, inv.EdgeDiffs); err != nil {
			return nil, false
		}
	}

	return ancestor, true
}

func mergeNodes(ancestor, local, remote *State) ([]Node, []string) {
	var merged []Node
	var conflicts []string

	for _, id := range unionNodeIDs(ancestor, local, remote) {
		a := ancestor.FindNode(id)
		l := local.FindNode(id)
		r := remote.FindNode(id)

		localChanged := !nodesEqual(a, l)
		remoteChanged := !nodesEqual(a, r)

		switch {
		case localChanged && remoteChanged && !nodesEqual(l, r):
			conflicts = append(conflicts, id)
		case remoteChanged:
			if r != nil {
				merged = append(merged, cloneNode(*r))
			}
		case localChanged:
			if l != nil {
				merged = append(merged, cloneNode(*l))
			}
		default:
			if a != nil {
				merged = append(merged, cloneNode(*a))
			}
		}
	}

	return merged, conflicts
}

func mergeEdges(ancestor, local, remote *State) ([]Edge, []string) {
	var merged []Edge
	var conflicts []string

	for _, id := range unionEdgeIDs(ancestor, local, remote) {
		a := ancestor.FindEdge(id)
		l := local.FindEdge(id)
		r := remote.FindEdge(id)

		localChanged := !edgesEqual(a, l)
		remoteChanged := !edgesEqual(a, r)

		switch {
		case localChanged && remoteChanged && !edgesEqual(l, r):
			conflicts = append(conflicts, id)
		case remoteChanged:
			if r != nil {
				merged = append(merged, *r)
			}
		case localChanged:
			if l != nil {
				merged = append(merged, *l)
			}
		default:
			if a != nil {
				merged = append(merged, *a)
			}
		}
	}

	return merged, conflicts
}

// unionNodeIDs walks ancestor order first so surviving entities keep their
// placement, then remote additions, then local additions
func unionNodeIDs(ancestor, local, remote *State) []string {
	var ids []string
	seen := make(map[string]struct{})

	appendFrom := func(nodes []Node) {
		for _, n := range nodes {
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			ids = append(ids, n.ID)
		}
	}

	appendFrom(ancestor.Nodes)
	appendFrom(remote.Nodes)
	appendFrom(local.Nodes)
	return ids
}

func unionEdgeIDs(ancestor, local, remote *State) []string {
	var ids []string
	seen := make(map[string]struct{})

	appendFrom := func(edges []Edge) {
		for _, e := range edges {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			ids = append(ids, e.ID)
		}
	}

	appendFrom(ancestor.Edges)
	appendFrom(remote.Edges)
	appendFrom(local.Edges)
	return ids
}

func unionTransactions(local, remote []Transaction) []Transaction {
	out := make([]Transaction, 0, len(local)+len(remote))
	seen := make(map[string]struct{})

	for _, tx := range remote {
		out = append(out, tx.clone())
		seen[tx.TxID] = struct{}{}
	}
	for _, tx := range local {
		if _, dup := seen[tx.TxID]; dup {
			continue
		}
		out = append(out, tx.clone())
	}

	SortTransactions(out)
	return out
}

func nodesEqual(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(*a, *b)
}

func edgesEqual(a, b *Edge) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func conflictResult(local, remote *State, reason string, nodeIDs, edgeIDs []string) MergeResult {
	return MergeResult{Conflict: &Conflict{
		Local:   local.Clone(),
		Remote:  remote.Clone(),
		Reason:  reason,
		NodeIDs: nodeIDs,
		EdgeIDs: edgeIDs,
	}}
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
