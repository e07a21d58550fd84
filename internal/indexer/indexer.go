// Package indexer follows the node's transaction stream, picks out the
// launchpad program's transactions, and folds their events into the ledger.
package indexer

import (
	"context"

	"curveScope/internal/aptos"
	"curveScope/internal/model"
)

// LedgerClient is the read side of the node API the indexer needs.
type LedgerClient interface {
	LedgerVersion(ctx context.Context) (uint64, error)
	Transactions(ctx context.Context, start uint64, limit int) ([]aptos.Transaction, error)
	TransactionByHash(ctx context.Context, hash string) (*aptos.Transaction, error)
}

// TradeArchive receives a copy of every recorded trade for analytics.
// Append failures are logged and counted, never fatal.
type TradeArchive interface {
	Append(ctx context.Context, trade model.Trade) error
}

var _ LedgerClient = (*aptos.Client)(nil)
