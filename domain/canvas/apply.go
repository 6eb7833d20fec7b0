package canvas

import (
	"fmt"
	"time"

	apperrors "canvas-backend/pkg/errors"
)

// ApplyTransactions replays a batch of transactions onto the state, oldest
// first. Each transaction's diffs run in order: add inserts (duplicate id is
// an error), update replaces (missing id is an error), delete removes
// (already absent is a no-op, so retried syncs stay safe). Every applied
// transaction is stamped with syncedAt before being appended to the log, and
// updatedAt is bumped once at the end.
//
// The function touches no I/O. Callers that need all-or-nothing semantics
// apply onto a clone and only persist on success.
func (s *State) ApplyTransactions(txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	batch := make([]Transaction, len(txs))
	for i, tx := range txs {
		batch[i] = tx.clone()
	}
	SortTransactions(batch)

	now := time.Now().UTC()
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return err
		}
		if err := s.applyDiffs(batch[i].NodeDiffs, batch[i].EdgeDiffs); err != nil {
			return apperrors.Wrapf(err, "transaction %s", batch[i].TxID)
		}
		if batch[i].SyncedAt == nil {
			synced := now
			batch[i].SyncedAt = &synced
		}
		s.Transactions = append(s.Transactions, batch[i])
	}

	// Interleaved client batches may arrive out of order; the log invariant
	// is creation-time order.
	SortTransactions(s.Transactions)
	s.UpdatedAt = now

	return nil
}

// applyDiffs mutates the node/edge arrays without touching the transaction
// log. Shared by the applier and the merge engine's rewind.
func (s *State) applyDiffs(nodeDiffs []NodeDiff, edgeDiffs []EdgeDiff) error {
	for _, d := range nodeDiffs {
		if err := s.applyNodeDiff(d); err != nil {
			return err
		}
	}
	for _, d := range edgeDiffs {
		if err := s.applyEdgeDiff(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *State) applyNodeDiff(d NodeDiff) error {
	switch d.Type {
	case DiffTypeAdd:
		if s.FindNode(d.ID) != nil {
			return apperrors.NewValidationError(fmt.Sprintf("cannot add node %s: id already exists", d.ID))
		}
		s.Nodes = append(s.Nodes, cloneNode(*d.To))

	case DiffTypeUpdate:
		existing := s.FindNode(d.ID)
		if existing == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("node %s", d.ID))
		}
		*existing = cloneNode(*d.To)

	case DiffTypeDelete:
		for i := range s.Nodes {
			if s.Nodes[i].ID == d.ID {
				s.Nodes = append(s.Nodes[:i], s.Nodes[i+1:]...)
				break
			}
		}

	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown node diff type %q", d.Type))
	}

	return nil
}

func (s *State) applyEdgeDiff(d EdgeDiff) error {
	switch d.Type {
	case DiffTypeAdd:
		if s.FindEdge(d.ID) != nil {
			return apperrors.NewValidationError(fmt.Sprintf("cannot add edge %s: id already exists", d.ID))
		}
		s.Edges = append(s.Edges, *d.To)

	case DiffTypeUpdate:
		existing := s.FindEdge(d.ID)
		if existing == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("edge %s", d.ID))
		}
		*existing = *d.To

	case DiffTypeDelete:
		for i := range s.Edges {
			if s.Edges[i].ID == d.ID {
				s.Edges = append(s.Edges[:i], s.Edges[i+1:]...)
				break
			}
		}

	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown edge diff type %q", d.Type))
	}

	return nil
}
