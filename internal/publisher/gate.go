package publisher

import (
	"context"
	"time"
)

// LedgerReader is the query slice backing the suppression check.
type LedgerReader interface {
	HasRecentPublish(ctx context.Context, window time.Duration) (bool, error)
}

// Gate suppresses a publish when any record falls inside the window. It is a
// safety net against double-firing from restarts near a scheduled time; the
// scheduler's one-shot arming is the primary overlap protection.
type Gate struct {
	ledger LedgerReader
	window time.Duration
}

func NewGate(ledger LedgerReader, window time.Duration) *Gate {
	return &Gate{ledger: ledger, window: window}
}

// MayPublish returns false when a recent publish exists.
func (g *Gate) MayPublish(ctx context.Context) (bool, error) {
	recent, err := g.ledger.HasRecentPublish(ctx, g.window)
	if err != nil {
		return false, err
	}
	return !recent, nil
}
