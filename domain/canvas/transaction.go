package canvas

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "canvas-backend/pkg/errors"
)

// DiffType tags a diff as one of the three mutation kinds
type DiffType string

const (
	DiffTypeAdd    DiffType = "add"
	DiffTypeUpdate DiffType = "update"
	DiffTypeDelete DiffType = "delete"
)

// Transaction sources
const (
	SourceUser   = "user"
	SourceAgent  = "agent"
	SourceSystem = "system"
)

// TransactionSource identifies which kind of writer produced a transaction
type TransactionSource struct {
	Type string `json:"type"`
}

// NodeDiff is one node mutation. The shape is a closed tagged union:
// add carries To, delete carries From, update carries both.
type NodeDiff struct {
	Type DiffType `json:"type"`
	ID   string   `json:"id"`
	From *Node    `json:"from,omitempty"`
	To   *Node    `json:"to,omitempty"`
}

// EdgeDiff is one edge mutation, same shape as NodeDiff
type EdgeDiff struct {
	Type DiffType `json:"type"`
	ID   string   `json:"id"`
	From *Edge    `json:"from,omitempty"`
	To   *Edge    `json:"to,omitempty"`
}

// Transaction is one atomic batch of node/edge diffs. SyncedAt is nil until
// the engine durably persists the transaction, then set exactly once.
type Transaction struct {
	TxID      string            `json:"txId"`
	CreatedAt time.Time         `json:"createdAt"`
	SyncedAt  *time.Time        `json:"syncedAt"`
	Source    TransactionSource `json:"source"`
	NodeDiffs []NodeDiff        `json:"nodeDiffs,omitempty"`
	EdgeDiffs []EdgeDiff        `json:"edgeDiffs,omitempty"`
}

// NewTransaction builds an unsynced transaction with a fresh id
func NewTransaction(sourceType string, nodeDiffs []NodeDiff, edgeDiffs []EdgeDiff) Transaction {
	return Transaction{
		TxID:      uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Source:    TransactionSource{Type: sourceType},
		NodeDiffs: nodeDiffs,
		EdgeDiffs: edgeDiffs,
	}
}

// AddNodeDiff builds an add diff for a node
func AddNodeDiff(n Node) NodeDiff {
	return NodeDiff{Type: DiffTypeAdd, ID: n.ID, To: &n}
}

// AddEdgeDiff builds an add diff for an edge
func AddEdgeDiff(e Edge) EdgeDiff {
	return EdgeDiff{Type: DiffTypeAdd, ID: e.ID, To: &e}
}

// Validate checks the tagged-union shape of a node diff
func (d NodeDiff) Validate() error {
	if err := validateDiff(string(d.Type), d.ID, d.From != nil, d.To != nil, "node"); err != nil {
		return err
	}
	if d.To != nil && d.To.ID != d.ID {
		return apperrors.NewValidationError(fmt.Sprintf("node diff %s carries mismatched entity id %s", d.ID, d.To.ID))
	}
	return nil
}

// Validate checks the tagged-union shape of an edge diff
func (d EdgeDiff) Validate() error {
	if err := validateDiff(string(d.Type), d.ID, d.From != nil, d.To != nil, "edge"); err != nil {
		return err
	}
	if d.To != nil && d.To.ID != d.ID {
		return apperrors.NewValidationError(fmt.Sprintf("edge diff %s carries mismatched entity id %s", d.ID, d.To.ID))
	}
	return nil
}

func validateDiff(diffType, id string, hasFrom, hasTo bool, kind string) error {
	if id == "" {
		return apperrors.NewValidationError(fmt.Sprintf("%s diff is missing an id", kind))
	}

	switch DiffType(diffType) {
	case DiffTypeAdd:
		if !hasTo {
			return apperrors.NewValidationError(fmt.Sprintf("add %s diff %s requires 'to'", kind, id))
		}
	case DiffTypeUpdate:
		if !hasFrom || !hasTo {
			return apperrors.NewValidationError(fmt.Sprintf("update %s diff %s requires 'from' and 'to'", kind, id))
		}
	case DiffTypeDelete:
		if !hasFrom {
			return apperrors.NewValidationError(fmt.Sprintf("delete %s diff %s requires 'from'", kind, id))
		}
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown %s diff type %q", kind, diffType))
	}

	return nil
}

// Validate checks the transaction and every diff it carries
func (t Transaction) Validate() error {
	if t.TxID == "" {
		return apperrors.NewValidationError("transaction is missing txId")
	}
	for _, d := range t.NodeDiffs {
		if err := d.Validate(); err != nil {
			return apperrors.Wrapf(err, "transaction %s", t.TxID)
		}
	}
	for _, d := range t.EdgeDiffs {
		if err := d.Validate(); err != nil {
			return apperrors.Wrapf(err, "transaction %s", t.TxID)
		}
	}
	return nil
}

// Invert returns the diff that undoes this one
func (d NodeDiff) Invert() NodeDiff {
	switch d.Type {
	case DiffTypeAdd:
		return NodeDiff{Type: DiffTypeDelete, ID: d.ID, From: d.To}
	case DiffTypeDelete:
		return NodeDiff{Type: DiffTypeAdd, ID: d.ID, To: d.From}
	default:
		return NodeDiff{Type: DiffTypeUpdate, ID: d.ID, From: d.To, To: d.From}
	}
}

// Invert returns the diff that undoes this one
func (d EdgeDiff) Invert() EdgeDiff {
	switch d.Type {
	case DiffTypeAdd:
		return EdgeDiff{Type: DiffTypeDelete, ID: d.ID, From: d.To}
	case DiffTypeDelete:
		return EdgeDiff{Type: DiffTypeAdd, ID: d.ID, To: d.From}
	default:
		return EdgeDiff{Type: DiffTypeUpdate, ID: d.ID, From: d.To, To: d.From}
	}
}

// Invert returns the transaction that undoes this one: every diff inverted,
// in reverse order so later diffs rewind first.
func (t Transaction) Invert() Transaction {
	inv := Transaction{
		TxID:      t.TxID,
		CreatedAt: t.CreatedAt,
		Source:    t.Source,
	}

	inv.NodeDiffs = make([]NodeDiff, 0, len(t.NodeDiffs))
	for i := len(t.NodeDiffs) - 1; i >= 0; i-- {
		inv.NodeDiffs = append(inv.NodeDiffs, t.NodeDiffs[i].Invert())
	}

	inv.EdgeDiffs = make([]EdgeDiff, 0, len(t.EdgeDiffs))
	for i := len(t.EdgeDiffs) - 1; i >= 0; i-- {
		inv.EdgeDiffs = append(inv.EdgeDiffs, t.EdgeDiffs[i].Invert())
	}

	return inv
}

func (t Transaction) clone() Transaction {
	out := t
	if t.SyncedAt != nil {
		synced := *t.SyncedAt
		out.SyncedAt = &synced
	}

	if t.NodeDiffs != nil {
		out.NodeDiffs = make([]NodeDiff, len(t.NodeDiffs))
		for i, d := range t.NodeDiffs {
			out.NodeDiffs[i] = d.clone()
		}
	}

	if t.EdgeDiffs != nil {
		out.EdgeDiffs = make([]EdgeDiff, len(t.EdgeDiffs))
		for i, d := range t.EdgeDiffs {
			out.EdgeDiffs[i] = d.clone()
		}
	}

	return out
}

func (d NodeDiff) clone() NodeDiff {
	out := d
	if d.From != nil {
		from := cloneNode(*d.From)
		out.From = &from
	}
	if d.To != nil {
		to := cloneNode(*d.To)
		out.To = &to
	}
	return out
}

func (d EdgeDiff) clone() EdgeDiff {
	out := d
	if d.From != nil {
		from := *d.From
		out.From = &from
	}
	if d.To != nil {
		to := *d.To
		out.To = &to
	}
	return out
}

// SortTransactions orders a transaction slice by creation time, oldest
// first. The sort is stable so same-timestamp transactions keep their
// arrival order.
func SortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}
