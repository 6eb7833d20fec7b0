package versioning

import (
	"time"

	"canvas-backend/domain/canvas"
)

// Defaults for the collapse policy. These bound the transaction log: a
// canvas that keeps appending without sealing would otherwise grow without
// limit.
const (
	DefaultMaxTransactions = 20
	DefaultMaxAge          = 5 * time.Minute
)

// Policy decides when the engine seals a canvas state into a fresh immutable
// version. It is held by value and built from configuration, so deployments
// can tune the thresholds without touching the engine.
type Policy struct {
	// MaxTransactions is the unsynced-log length at which a sync collapses
	// the log into a new version.
	MaxTransactions int

	// MaxAge is how long a canvas may go without sealing once it has
	// pending transactions.
	MaxAge time.Duration
}

// DefaultPolicy returns the policy with the stock thresholds
func DefaultPolicy() Policy {
	return Policy{
		MaxTransactions: DefaultMaxTransactions,
		MaxAge:          DefaultMaxAge,
	}
}

// ShouldCreateVersion reports whether an explicit seal request has anything
// to seal. A state with no version yet but real content always seals; a
// versioned state seals only when transactions have accumulated since the
// version was minted. When this returns false a seal request is a no-op: no
// new version is minted and nothing is written.
func (p Policy) ShouldCreateVersion(state *canvas.State) bool {
	if state == nil {
		return false
	}
	if state.Version == "" {
		return !state.IsEmpty()
	}
	return len(state.Transactions) > 0
}

// ShouldAutoCollapse reports whether a routine sync should seal the log as a
// side effect: the log grew past MaxTransactions, or transactions have been
// pending longer than MaxAge since the last seal.
func (p Policy) ShouldAutoCollapse(state *canvas.State, now time.Time) bool {
	if state == nil || len(state.Transactions) == 0 {
		return false
	}

	maxTxs := p.MaxTransactions
	if maxTxs <= 0 {
		maxTxs = DefaultMaxTransactions
	}
	if len(state.Transactions) >= maxTxs {
		return true
	}

	maxAge := p.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	oldest := state.Transactions[0].CreatedAt
	return now.Sub(oldest) > maxAge
}

// Checksum returns the content hash recorded in version history entries and
// the version index.
func Checksum(state *canvas.State) string {
	if state == nil {
		return ""
	}
	return state.ContentHash()
}
