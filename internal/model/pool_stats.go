package model

import (
	"math/big"
	"time"
)

// PoolStats holds the running aggregates for one asset's bonding curve.
type PoolStats struct {
	AssetAddress string    `json:"asset_address"`
	AptReserves  *big.Int  `json:"apt_reserves"`
	Volume       *big.Int  `json:"volume"`
	TradeCount   uint64    `json:"trade_count"`
	Graduated    bool      `json:"graduated"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewPoolStats returns the zero state created alongside an asset.
func NewPoolStats(asset string, at time.Time) PoolStats {
	return PoolStats{
		AssetAddress: asset,
		AptReserves:  big.NewInt(0),
		Volume:       big.NewInt(0),
		UpdatedAt:    at,
	}
}

// PoolDelta is a purchase-driven increment applied atomically with its trade.
type PoolDelta struct {
	AptIn *big.Int
	// Threshold is the reserve level at or above which the pool graduates.
	Threshold *big.Int
}

// PoolUpdate reports the state after a PoolDelta was applied.
type PoolUpdate struct {
	Stats PoolStats
	// GraduatedNow is true only on the update that flipped the flag.
	GraduatedNow bool
}

// Graduation is emitted once per asset when its reserves cross the threshold.
type Graduation struct {
	AssetAddress string    `json:"asset_address"`
	AptReserves  string    `json:"apt_reserves"`
	Threshold    string    `json:"threshold"`
	TxHash       string    `json:"tx_hash"`
	Version      uint64    `json:"version"`
	At           time.Time `json:"at"`
}
