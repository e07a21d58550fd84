package aptos

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Transaction types returned by the node API.
const (
	TxTypeUser          = "user_transaction"
	TxTypeBlockMetadata = "block_metadata_transaction"

	PayloadTypeEntryFunction = "entry_function_payload"
)

// U64 decodes a Move u64 that the API renders either as a decimal string or a number.
type U64 uint64

func (u *U64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = 0
		return nil
	}
	text := string(bytes.Trim(data, `"`))
	val, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %s: %w", text, err)
	}
	*u = U64(val)
	return nil
}

func (u U64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(u), 10))), nil
}

// LedgerInfo is the response of GET /v1.
type LedgerInfo struct {
	ChainID             uint8  `json:"chain_id"`
	Epoch               U64    `json:"epoch"`
	LedgerVersion       U64    `json:"ledger_version"`
	OldestLedgerVersion U64    `json:"oldest_ledger_version"`
	BlockHeight         U64    `json:"block_height"`
	LedgerTimestamp     U64    `json:"ledger_timestamp"`
	NodeRole            string `json:"node_role"`
}

// Transaction is a committed ledger transaction.
type Transaction struct {
	Type      string   `json:"type"`
	Version   U64      `json:"version"`
	Hash      string   `json:"hash"`
	Sender    string   `json:"sender,omitempty"`
	Success   bool     `json:"success"`
	VMStatus  string   `json:"vm_status"`
	Timestamp U64      `json:"timestamp"`
	Payload   *Payload `json:"payload,omitempty"`
	Events    []Event  `json:"events"`
}

// Payload describes what a user transaction invoked.
type Payload struct {
	Type          string            `json:"type"`
	Function      string            `json:"function,omitempty"`
	TypeArguments []string          `json:"type_arguments,omitempty"`
	Arguments     []json.RawMessage `json:"arguments,omitempty"`
}

// Event is an event emitted by a transaction.
type Event struct {
	SequenceNumber U64             `json:"sequence_number"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
}

// Time returns the commit time; the API reports microseconds.
func (tx Transaction) Time() time.Time {
	return time.UnixMicro(int64(tx.Timestamp)).UTC()
}

// EntryFunction returns the fully qualified entry function id, or "" when the
// transaction did not invoke one.
func (tx Transaction) EntryFunction() string {
	if tx.Payload == nil || tx.Payload.Type != PayloadTypeEntryFunction {
		return ""
	}
	return tx.Payload.Function
}

// StructTag is a parsed Move struct type like 0x1::coin::CoinStore<0x1::aptos_coin::AptosCoin>.
type StructTag struct {
	Address string
	Module  string
	Name    string
	Generic string
}

// ParseStructTag splits a type tag into its parts. The address is normalized.
func ParseStructTag(tag string) (StructTag, error) {
	tag = strings.TrimSpace(tag)
	base, generic := tag, ""
	if idx := strings.IndexByte(tag, '<'); idx >= 0 {
		base = tag[:idx]
		generic = strings.TrimSuffix(tag[idx+1:], ">")
	}

	parts := strings.Split(base, "::")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return StructTag{}, fmt.Errorf("invalid struct tag: %s", tag)
	}
	addr, err := NormalizeAddress(parts[0])
	if err != nil {
		return StructTag{}, fmt.Errorf("invalid struct tag %s: %w", tag, err)
	}
	return StructTag{Address: addr, Module: parts[1], Name: parts[2], Generic: generic}, nil
}

// FunctionID is a parsed entry function id like 0xabc::module::function.
type FunctionID struct {
	Address  string
	Module   string
	Function string
}

// ParseFunctionID parses an entry function id. The address is normalized.
func ParseFunctionID(id string) (FunctionID, error) {
	parts := strings.Split(strings.TrimSpace(id), "::")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return FunctionID{}, fmt.Errorf("invalid function id: %s", id)
	}
	addr, err := NormalizeAddress(parts[0])
	if err != nil {
		return FunctionID{}, fmt.Errorf("invalid function id %s: %w", id, err)
	}
	return FunctionID{Address: addr, Module: parts[1], Function: parts[2]}, nil
}

// String renders the id with a normalized address.
func (f FunctionID) String() string {
	return f.Address + "::" + f.Module + "::" + f.Function
}
