package storage

import (
	"context"
	"errors"
	"time"

	"curveScope/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Ledger is the durable store for assets, pool statistics and trades.
type Ledger interface {
	// GetAsset returns ErrNotFound for unknown addresses.
	GetAsset(ctx context.Context, address string) (*model.Asset, error)

	// CreateAsset inserts the asset and its zero PoolStats as one unit.
	// Returns ErrDuplicateKey if the address exists.
	CreateAsset(ctx context.Context, asset model.Asset) error

	// GetPoolStats returns ErrNotFound when no stats row exists.
	GetPoolStats(ctx context.Context, asset string) (*model.PoolStats, error)

	// TradeExists reports whether a trade with this tx hash was recorded.
	TradeExists(ctx context.Context, txHash string) (bool, error)

	// RecordTrade inserts the trade and, when delta is non-nil, applies the
	// reserve/volume/count increment and graduation check in the same
	// transaction. Returns ErrDuplicateKey without side effects if the tx hash exists.
	RecordTrade(ctx context.Context, trade model.Trade, delta *model.PoolDelta) (*model.PoolUpdate, error)

	// LatestTradeSince returns the highest-version trade indexed at or after since, or ErrNotFound.
	LatestTradeSince(ctx context.Context, since time.Time) (*model.Trade, error)
}
