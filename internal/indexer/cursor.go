package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"curveScope/internal/storage"
)

// Cursor is the last ledger version fully examined. It only moves forward.
type Cursor struct {
	version atomic.Uint64
}

func NewCursor(version uint64) *Cursor {
	c := &Cursor{}
	c.version.Store(version)
	return c
}

func (c *Cursor) Version() uint64 {
	return c.version.Load()
}

// Advance moves the cursor to version if it is ahead and reports whether it moved.
func (c *Cursor) Advance(version uint64) bool {
	for {
		current := c.version.Load()
		if version <= current {
			return false
		}
		if c.version.CompareAndSwap(current, version) {
			return true
		}
	}
}

// StartStrategy proposes an initial cursor. ok=false means the strategy has
// no opinion and the next one should be tried.
type StartStrategy struct {
	Name    string
	Resolve func(ctx context.Context) (version uint64, ok bool, err error)
}

// ExplicitStart uses the operator-supplied version verbatim.
func ExplicitStart(version *uint64) StartStrategy {
	return StartStrategy{
		Name: "explicit",
		Resolve: func(context.Context) (uint64, bool, error) {
			if version == nil {
				return 0, false, nil
			}
			return *version, true, nil
		},
	}
}

// ResumePrevious continues from the cursor a previous run in this process
// left behind. A nil cursor has no opinion.
func ResumePrevious(prev *Cursor) StartStrategy {
	return StartStrategy{
		Name: "previous_run",
		Resolve: func(context.Context) (uint64, bool, error) {
			if prev == nil {
				return 0, false, nil
			}
			return prev.Version(), true, nil
		},
	}
}

// ResumeFromRecentTrade starts at the version of the newest trade indexed
// within window. Trades written before versions were stored are resolved
// through the node.
func ResumeFromRecentTrade(ledger storage.Ledger, client LedgerClient, window time.Duration, now func() time.Time) StartStrategy {
	return StartStrategy{
		Name: "recent_trade",
		Resolve: func(ctx context.Context) (uint64, bool, error) {
			trade, err := ledger.LatestTradeSince(ctx, now().Add(-window))
			if errors.Is(err, storage.ErrNotFound) {
				return 0, false, nil
			}
			if err != nil {
				return 0, false, fmt.Errorf("latest trade: %w", err)
			}
			if trade.Version > 0 {
				return trade.Version, true, nil
			}
			tx, err := client.TransactionByHash(ctx, trade.TxHash)
			if err != nil {
				return 0, false, fmt.Errorf("resolve trade %s: %w", trade.TxHash, err)
			}
			return uint64(tx.Version), true, nil
		},
	}
}

// HeadMinusMargin starts margin versions behind the current ledger head,
// clamped at zero.
func HeadMinusMargin(client LedgerClient, margin uint64) StartStrategy {
	return StartStrategy{
		Name: "head_minus_margin",
		Resolve: func(ctx context.Context) (uint64, bool, error) {
			head, err := client.LedgerVersion(ctx)
			if err != nil {
				return 0, false, fmt.Errorf("ledger version: %w", err)
			}
			if head < margin {
				return 0, true, nil
			}
			return head - margin, true, nil
		},
	}
}

// ResolveStart tries strategies in order. A failing strategy falls through
// to the next; the last strategy's error is returned if none succeeds.
func ResolveStart(ctx context.Context, logger *zap.Logger, strategies ...StartStrategy) (uint64, string, error) {
	var lastErr error
	for _, s := range strategies {
		version, ok, err := s.Resolve(ctx)
		if err != nil {
			logger.Warn("start strategy failed", zap.String("strategy", s.Name), zap.Error(err))
			lastErr = err
			continue
		}
		if ok {
			return version, s.Name, nil
		}
	}
	if lastErr != nil {
		return 0, "", fmt.Errorf("initialize cursor: %w", lastErr)
	}
	return 0, "", fmt.Errorf("initialize cursor: no strategy produced a version")
}
