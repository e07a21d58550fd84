package model

import (
	"fmt"
	"math/big"
	"time"
)

// TradeKind labels the interaction behind a trade row.
type TradeKind string

const (
	TradeKindBuy  TradeKind = "buy"
	TradeKindSell TradeKind = "sell"
	TradeKindMint TradeKind = "mint"
	TradeKindBurn TradeKind = "burn"
)

// Trade is one value-moving interaction, keyed by transaction hash.
// Sells carry negative amounts. IndexedAt is the wall-clock time the row was
// written and is what restarts use to find recent activity.
type Trade struct {
	TxHash        string    `json:"tx_hash"`
	Version       uint64    `json:"version"`
	AssetAddress  string    `json:"asset_address"`
	UserAddress   string    `json:"user_address"`
	Kind          TradeKind `json:"kind"`
	AptAmount     *big.Int  `json:"apt_amount"`
	TokenAmount   *big.Int  `json:"token_amount"`
	PricePerToken float64   `json:"price_per_token"`
	Timestamp     time.Time `json:"timestamp"`
	IndexedAt     time.Time `json:"indexed_at"`
}

// PricePerToken returns |apt| / |tokens|, or 0 when tokens is zero or nil.
func PricePerToken(apt, tokens *big.Int) float64 {
	if apt == nil || tokens == nil || tokens.Sign() == 0 {
		return 0
	}
	ratio := new(big.Rat).SetFrac(new(big.Int).Abs(apt), new(big.Int).Abs(tokens))
	price, _ := ratio.Float64()
	return price
}

// ParseAmount parses a non-negative base-10 integer.
func ParseAmount(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("empty amount")
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", value)
	}
	return parsed, nil
}

// AmountString renders a possibly nil amount as a decimal string.
func AmountString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
