package memory

import (
	"context"
	"math/big"
	"sync"
	"time"

	"curveScope/internal/model"
	"curveScope/internal/storage"
)

// Ledger is an in-memory implementation of storage.Ledger.
type Ledger struct {
	mu     sync.RWMutex
	assets map[string]model.Asset
	stats  map[string]model.PoolStats
	trades map[string]model.Trade // keyed by tx hash
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		assets: make(map[string]model.Asset),
		stats:  make(map[string]model.PoolStats),
		trades: make(map[string]model.Trade),
	}
}

// Compile-time interface check.
var _ storage.Ledger = (*Ledger)(nil)

func (l *Ledger) GetAsset(_ context.Context, address string) (*model.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	asset, ok := l.assets[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &asset, nil
}

func (l *Ledger) CreateAsset(_ context.Context, asset model.Asset) error {
	if asset.Address == "" {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.assets[asset.Address]; exists {
		return storage.ErrDuplicateKey
	}
	l.assets[asset.Address] = asset
	if _, exists := l.stats[asset.Address]; !exists {
		l.stats[asset.Address] = model.NewPoolStats(asset.Address, asset.CreatedAt)
	}
	return nil
}

func (l *Ledger) GetPoolStats(_ context.Context, asset string) (*model.PoolStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats, ok := l.stats[asset]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := copyStats(stats)
	return &out, nil
}

func (l *Ledger) TradeExists(_ context.Context, txHash string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.trades[txHash]
	return ok, nil
}

func (l *Ledger) RecordTrade(_ context.Context, trade model.Trade, delta *model.PoolDelta) (*model.PoolUpdate, error) {
	if trade.TxHash == "" || trade.AssetAddress == "" {
		return nil, storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.trades[trade.TxHash]; exists {
		return nil, storage.ErrDuplicateKey
	}
	l.trades[trade.TxHash] = trade

	if delta == nil {
		return nil, nil
	}

	stats, ok := l.stats[trade.AssetAddress]
	if !ok {
		stats = model.NewPoolStats(trade.AssetAddress, trade.Timestamp)
	}
	stats = copyStats(stats)
	wasGraduated := stats.Graduated

	stats.AptReserves.Add(stats.AptReserves, delta.AptIn)
	stats.Volume.Add(stats.Volume, delta.AptIn)
	stats.TradeCount++
	if delta.Threshold != nil && stats.AptReserves.Cmp(delta.Threshold) >= 0 {
		stats.Graduated = true
	}
	stats.UpdatedAt = trade.Timestamp
	l.stats[trade.AssetAddress] = stats

	return &model.PoolUpdate{
		Stats:        copyStats(stats),
		GraduatedNow: !wasGraduated && stats.Graduated,
	}, nil
}

func (l *Ledger) LatestTradeSince(_ context.Context, since time.Time) (*model.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var latest *model.Trade
	for _, trade := range l.trades {
		if trade.IndexedAt.Before(since) {
			continue
		}
		if latest == nil || trade.Version > latest.Version {
			t := trade
			latest = &t
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

// TradeCount returns the number of stored trades.
func (l *Ledger) TradeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}

// Trade returns a stored trade by hash.
func (l *Ledger) Trade(txHash string) (model.Trade, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	trade, ok := l.trades[txHash]
	return trade, ok
}

func copyStats(stats model.PoolStats) model.PoolStats {
	out := stats
	out.AptReserves = new(big.Int).Set(orZero(stats.AptReserves))
	out.Volume = new(big.Int).Set(orZero(stats.Volume))
	return out
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
