package indexer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"curveScope/internal/aptos"
)

// ErrMalformedEvent marks an event whose payload is missing fields or has
// unparseable values. The event is skipped; its siblings are still handled.
var ErrMalformedEvent = errors.New("malformed event")

// EventKind identifies a program event.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventAssetCreated
	EventMinted
	EventBurned
	EventPurchased
	EventSold
)

func (k EventKind) String() string {
	switch k {
	case EventAssetCreated:
		return "asset_created"
	case EventMinted:
		return "minted"
	case EventBurned:
		return "burned"
	case EventPurchased:
		return "purchased"
	case EventSold:
		return "sold"
	default:
		return "unknown"
	}
}

// Event struct names emitted by the program, keyed by module.
var eventNames = map[string]map[string]EventKind{
	ModuleLaunchpad: {
		"TokenCreated": EventAssetCreated,
		"TokenMinted":  EventMinted,
		"TokenBurned":  EventBurned,
	},
	ModuleBondingCurve: {
		"TokenPurchased": EventPurchased,
		"TokenSold":      EventSold,
	},
}

// Legacy purchase detection.
const (
	LegacyBuyFunction = "buy_tokens"
	depositModule     = "fungible_asset"
)

// Event is a decoded program event.
type Event interface {
	Kind() EventKind
}

type AssetCreated struct {
	Asset          string
	Name           string
	Symbol         string
	Creator        string
	Decimals       uint8
	MaxSupply      *big.Int // nil when uncapped
	IconURI        string
	ProjectURI     string
	MintFeePerUnit *big.Int
}

type Minted struct {
	Asset     string
	Recipient string
	Amount    *big.Int
	MintFee   *big.Int
}

type Burned struct {
	Asset  string
	Burner string
	Amount *big.Int
}

type Purchased struct {
	Asset     string
	Buyer     string
	AptIn     *big.Int
	TokensOut *big.Int
}

type Sold struct {
	Asset    string
	Seller   string
	TokensIn *big.Int
	AptOut   *big.Int
}

// Unknown is any event not emitted by a recognized program struct.
type Unknown struct {
	Type string
}

func (AssetCreated) Kind() EventKind { return EventAssetCreated }
func (Minted) Kind() EventKind       { return EventMinted }
func (Burned) Kind() EventKind       { return EventBurned }
func (Purchased) Kind() EventKind    { return EventPurchased }
func (Sold) Kind() EventKind         { return EventSold }
func (Unknown) Kind() EventKind      { return EventUnknown }

// Decoder turns raw events into typed program events.
type Decoder struct {
	program string
}

func NewDecoder(program string) *Decoder {
	return &Decoder{program: program}
}

// KindOf classifies an event type tag without reading its payload.
func (d *Decoder) KindOf(typeTag string) EventKind {
	tag, err := aptos.ParseStructTag(typeTag)
	if err != nil || tag.Address != d.program {
		return EventUnknown
	}
	kind, ok := eventNames[tag.Module][tag.Name]
	if !ok {
		return EventUnknown
	}
	return kind
}

// Decode parses ev. Unrecognized types decode to Unknown; recognized types
// with bad payloads return an error wrapping ErrMalformedEvent.
func (d *Decoder) Decode(ev aptos.Event) (Event, error) {
	kind := d.KindOf(ev.Type)
	var (
		decoded Event
		err     error
	)
	switch kind {
	case EventAssetCreated:
		decoded, err = decodeAssetCreated(ev.Data)
	case EventMinted:
		decoded, err = decodeMinted(ev.Data)
	case EventBurned:
		decoded, err = decodeBurned(ev.Data)
	case EventPurchased:
		decoded, err = decodePurchased(ev.Data)
	case EventSold:
		decoded, err = decodeSold(ev.Data)
	default:
		return Unknown{Type: ev.Type}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, kind, err)
	}
	return decoded, nil
}

type assetCreatedPayload struct {
	Asset          string          `json:"fa_obj_addr"`
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Creator        string          `json:"creator"`
	Decimals       json.RawMessage `json:"decimals"`
	MaxSupply      moveOption      `json:"max_supply"`
	IconURI        string          `json:"icon_uri"`
	ProjectURI     string          `json:"project_uri"`
	MintFeePerUnit json.RawMessage `json:"mint_fee_per_unit"`
}

// moveOption is the API rendering of Option<T>: {"vec": []} or {"vec": [v]}.
type moveOption struct {
	Vec []json.RawMessage `json:"vec"`
}

func decodeAssetCreated(data json.RawMessage) (Event, error) {
	var p assetCreatedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	asset, err := requiredAddress("fa_obj_addr", p.Asset)
	if err != nil {
		return nil, err
	}
	creator, err := optionalAddress("creator", p.Creator)
	if err != nil {
		return nil, err
	}
	decimals, err := moveUint("decimals", p.Decimals)
	if err != nil {
		return nil, err
	}
	if !decimals.IsUint64() || decimals.Uint64() > 255 {
		return nil, fmt.Errorf("decimals out of range: %s", decimals)
	}
	var maxSupply *big.Int
	switch len(p.MaxSupply.Vec) {
	case 0:
	case 1:
		if maxSupply, err = moveUint("max_supply", p.MaxSupply.Vec[0]); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("max_supply: option has %d values", len(p.MaxSupply.Vec))
	}
	fee := big.NewInt(0)
	if len(p.MintFeePerUnit) > 0 {
		if fee, err = moveUint("mint_fee_per_unit", p.MintFeePerUnit); err != nil {
			return nil, err
		}
	}

	return AssetCreated{
		Asset:          asset,
		Name:           moveString(p.Name),
		Symbol:         moveString(p.Symbol),
		Creator:        creator,
		Decimals:       uint8(decimals.Uint64()),
		MaxSupply:      maxSupply,
		IconURI:        moveString(p.IconURI),
		ProjectURI:     moveString(p.ProjectURI),
		MintFeePerUnit: fee,
	}, nil
}

type mintedPayload struct {
	Asset     string          `json:"fa_obj_addr"`
	Recipient string          `json:"recipient"`
	Amount    json.RawMessage `json:"amount"`
	MintFee   json.RawMessage `json:"total_mint_fee"`
}

func decodeMinted(data json.RawMessage) (Event, error) {
	var p mintedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	asset, err := requiredAddress("fa_obj_addr", p.Asset)
	if err != nil {
		return nil, err
	}
	recipient, err := optionalAddress("recipient", p.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := moveUint("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	fee := big.NewInt(0)
	if len(p.MintFee) > 0 {
		if fee, err = moveUint("total_mint_fee", p.MintFee); err != nil {
			return nil, err
		}
	}
	return Minted{Asset: asset, Recipient: recipient, Amount: amount, MintFee: fee}, nil
}

type burnedPayload struct {
	Asset  string          `json:"fa_obj_addr"`
	Burner string          `json:"burner"`
	Amount json.RawMessage `json:"amount"`
}

func decodeBurned(data json.RawMessage) (Event, error) {
	var p burnedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	asset, err := requiredAddress("fa_obj_addr", p.Asset)
	if err != nil {
		return nil, err
	}
	burner, err := optionalAddress("burner", p.Burner)
	if err != nil {
		return nil, err
	}
	amount, err := moveUint("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	return Burned{Asset: asset, Burner: burner, Amount: amount}, nil
}

type purchasedPayload struct {
	Asset     string          `json:"fa_obj_addr"`
	Buyer     string          `json:"buyer"`
	AptIn     json.RawMessage `json:"apt_in"`
	TokensOut json.RawMessage `json:"tokens_out"`
}

func decodePurchased(data json.RawMessage) (Event, error) {
	var p purchasedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	asset, err := requiredAddress("fa_obj_addr", p.Asset)
	if err != nil {
		return nil, err
	}
	buyer, err := optionalAddress("buyer", p.Buyer)
	if err != nil {
		return nil, err
	}
	aptIn, err := moveUint("apt_in", p.AptIn)
	if err != nil {
		return nil, err
	}
	tokensOut, err := moveUint("tokens_out", p.TokensOut)
	if err != nil {
		return nil, err
	}
	return Purchased{Asset: asset, Buyer: buyer, AptIn: aptIn, TokensOut: tokensOut}, nil
}

type soldPayload struct {
	Asset    string          `json:"fa_obj_addr"`
	Seller   string          `json:"seller"`
	TokensIn json.RawMessage `json:"tokens_in"`
	AptOut   json.RawMessage `json:"apt_out"`
}

func decodeSold(data json.RawMessage) (Event, error) {
	var p soldPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	asset, err := requiredAddress("fa_obj_addr", p.Asset)
	if err != nil {
		return nil, err
	}
	seller, err := optionalAddress("seller", p.Seller)
	if err != nil {
		return nil, err
	}
	tokensIn, err := moveUint("tokens_in", p.TokensIn)
	if err != nil {
		return nil, err
	}
	aptOut, err := moveUint("apt_out", p.AptOut)
	if err != nil {
		return nil, err
	}
	return Sold{Asset: asset, Seller: seller, TokensIn: tokensIn, AptOut: aptOut}, nil
}

// DecodeLegacyPurchase recognizes a buy submitted through the pre-event
// entry function. The apt argument is gross of the trading fee; tokens come
// from the first fungible asset deposit, or zero when none was emitted.
func (d *Decoder) DecodeLegacyPurchase(tx aptos.Transaction, feeBps uint64) (Purchased, bool, error) {
	function := tx.EntryFunction()
	if function == "" {
		return Purchased{}, false, nil
	}
	id, err := aptos.ParseFunctionID(function)
	if err != nil || id.Address != d.program || id.Module != ModuleBondingCurve || id.Function != LegacyBuyFunction {
		return Purchased{}, false, nil
	}

	args := tx.Payload.Arguments
	if len(args) < 2 {
		return Purchased{}, false, fmt.Errorf("%w: %s: expected 2 arguments, got %d", ErrMalformedEvent, LegacyBuyFunction, len(args))
	}
	var rawAsset string
	if err := json.Unmarshal(args[0], &rawAsset); err != nil {
		return Purchased{}, false, fmt.Errorf("%w: %s: asset argument: %v", ErrMalformedEvent, LegacyBuyFunction, err)
	}
	asset, err := requiredAddress("asset", rawAsset)
	if err != nil {
		return Purchased{}, false, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, LegacyBuyFunction, err)
	}
	gross, err := moveUint("apt_amount", args[1])
	if err != nil {
		return Purchased{}, false, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, LegacyBuyFunction, err)
	}

	fee := new(big.Int).Mul(gross, new(big.Int).SetUint64(feeBps))
	fee.Quo(fee, big.NewInt(10_000))
	net := new(big.Int).Sub(gross, fee)

	// The buyer pays APT into the curve's store before the tokens are
	// deposited to the buyer, so the token amount is the last Deposit.
	tokens := big.NewInt(0)
	for i := len(tx.Events) - 1; i >= 0; i-- {
		ev := tx.Events[i]
		if !isDepositEvent(ev.Type) {
			continue
		}
		var p struct {
			Amount json.RawMessage `json:"amount"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			break
		}
		if amount, err := moveUint("amount", p.Amount); err == nil {
			tokens = amount
		}
		break
	}

	buyer, _ := optionalAddress("sender", tx.Sender)
	return Purchased{Asset: asset, Buyer: buyer, AptIn: net, TokensOut: tokens}, true, nil
}

func isDepositEvent(typeTag string) bool {
	tag, err := aptos.ParseStructTag(typeTag)
	if err != nil {
		return false
	}
	return tag.Address == aptos.MustNormalizeAddress("0x1") &&
		tag.Module == depositModule &&
		(tag.Name == "Deposit" || tag.Name == "DepositEvent")
}

// moveUint parses a Move unsigned integer rendered as a JSON string or number.
// moveString makes a Move string safe for TEXT columns. Move allows NUL
// bytes, Postgres does not.
func moveString(s string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
}

func moveUint(field string, raw json.RawMessage) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("missing field %s", field)
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(text), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("field %s: invalid unsigned integer %q", field, text)
	}
	return value, nil
}

func requiredAddress(field, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("missing field %s", field)
	}
	addr, err := aptos.NormalizeAddress(value)
	if err != nil {
		return "", fmt.Errorf("field %s: %w", field, err)
	}
	return addr, nil
}

func optionalAddress(field, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return requiredAddress(field, value)
}
