package model

import (
	"math/big"
	"time"
)

// Asset is a fungible asset launched by the program. Immutable once stored.
type Asset struct {
	Address        string    `json:"address"`
	Name           string    `json:"name"`
	Symbol         string    `json:"symbol"`
	Creator        string    `json:"creator"`
	Decimals       uint8     `json:"decimals"`
	MaxSupply      *big.Int  `json:"max_supply,omitempty"`
	IconURI        string    `json:"icon_uri"`
	ProjectURI     string    `json:"project_uri"`
	MintFeePerUnit *big.Int  `json:"mint_fee_per_unit"`
	CreatedTxHash  string    `json:"created_tx_hash"`
	CreatedAt      time.Time `json:"created_at"`
}
