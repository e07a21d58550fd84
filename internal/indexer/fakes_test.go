package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"curveScope/internal/aptos"
	"curveScope/internal/model"
	"curveScope/internal/storage/memory"
)

const testProgram = "0xcafe"

var (
	programAddr = aptos.MustNormalizeAddress(testProgram)
	assetAddr   = aptos.MustNormalizeAddress("0xa55e7")
	userAddr    = aptos.MustNormalizeAddress("0xb0b")
)

// fakeClient serves a fixed, version-ordered transaction list.
type fakeClient struct {
	mu       sync.Mutex
	txs      []aptos.Transaction
	head     uint64
	headErr  error
	fetchErr error
	failures int // remaining Transactions calls that fail
	calls    int
}

func newFakeClient(txs ...aptos.Transaction) *fakeClient {
	c := &fakeClient{txs: txs}
	if len(txs) > 0 {
		c.head = uint64(txs[len(txs)-1].Version)
	}
	return c
}

// extend appends transactions and moves the head to the last one.
func (c *fakeClient) extend(txs ...aptos.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs = append(c.txs, txs...)
	if len(txs) > 0 {
		c.head = uint64(txs[len(txs)-1].Version)
	}
}

func (c *fakeClient) LedgerVersion(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headErr != nil {
		return 0, c.headErr
	}
	return c.head, nil
}

func (c *fakeClient) Transactions(_ context.Context, start uint64, limit int) ([]aptos.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("node unavailable")
	}
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	var out []aptos.Transaction
	for _, tx := range c.txs {
		if uint64(tx.Version) >= start && len(out) < limit {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (c *fakeClient) TransactionByHash(_ context.Context, hash string) (*aptos.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tx := range c.txs {
		if tx.Hash == hash {
			found := tx
			return &found, nil
		}
	}
	return nil, aptos.ErrNotFound
}

func (c *fakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// failingLedger rejects trade writes while fail is set.
type failingLedger struct {
	*memory.Ledger
	mu   sync.Mutex
	fail bool
}

func (l *failingLedger) setFail(fail bool) {
	l.mu.Lock()
	l.fail = fail
	l.mu.Unlock()
}

func (l *failingLedger) RecordTrade(ctx context.Context, trade model.Trade, delta *model.PoolDelta) (*model.PoolUpdate, error) {
	l.mu.Lock()
	fail := l.fail
	l.mu.Unlock()
	if fail {
		return nil, errors.New("database unavailable")
	}
	return l.Ledger.RecordTrade(ctx, trade, delta)
}

type recordingNotifier struct {
	mu     sync.Mutex
	trades []model.Trade
	grads  []model.Graduation
}

func (n *recordingNotifier) TradeRecorded(_ context.Context, trade model.Trade) {
	n.mu.Lock()
	n.trades = append(n.trades, trade)
	n.mu.Unlock()
}

func (n *recordingNotifier) Graduated(_ context.Context, grad model.Graduation) {
	n.mu.Lock()
	n.grads = append(n.grads, grad)
	n.mu.Unlock()
}

type recordingArchive struct {
	mu     sync.Mutex
	trades []model.Trade
	err    error
}

func (a *recordingArchive) Append(_ context.Context, trade model.Trade) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.trades = append(a.trades, trade)
	return nil
}

func programEvent(module, name string, data any) aptos.Event {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	return aptos.Event{Type: testProgram + "::" + module + "::" + name, Data: raw}
}

func createdEvent(asset string) aptos.Event {
	return programEvent(ModuleLaunchpad, "TokenCreated", map[string]any{
		"fa_obj_addr":       asset,
		"name":              "Curve Coin",
		"symbol":            "CURVE",
		"creator":           "0xc0ffee",
		"decimals":          8,
		"max_supply":        map[string]any{"vec": []string{"100000000000000000"}},
		"icon_uri":          "https://example.com/icon.png",
		"project_uri":       "https://example.com",
		"mint_fee_per_unit": "10",
	})
}

func purchasedEvent(asset, aptIn, tokensOut string) aptos.Event {
	return programEvent(ModuleBondingCurve, "TokenPurchased", map[string]any{
		"fa_obj_addr": asset,
		"buyer":       userAddr,
		"apt_in":      aptIn,
		"tokens_out":  tokensOut,
	})
}

func soldEvent(asset, tokensIn, aptOut string) aptos.Event {
	return programEvent(ModuleBondingCurve, "TokenSold", map[string]any{
		"fa_obj_addr": asset,
		"seller":      userAddr,
		"tokens_in":   tokensIn,
		"apt_out":     aptOut,
	})
}

func userTx(version uint64, function string, events ...aptos.Event) aptos.Transaction {
	tx := aptos.Transaction{
		Type:      aptos.TxTypeUser,
		Version:   aptos.U64(version),
		Hash:      fmt.Sprintf("0x%064x", version),
		Sender:    userAddr,
		Success:   true,
		VMStatus:  "Executed successfully",
		Timestamp: aptos.U64(1_700_000_000_000_000 + version),
		Events:    events,
	}
	if function != "" {
		tx.Payload = &aptos.Payload{Type: aptos.PayloadTypeEntryFunction, Function: function}
	}
	return tx
}

func otherTx(version uint64) aptos.Transaction {
	return userTx(version, "0x1::aptos_account::transfer",
		aptos.Event{Type: "0x1::fungible_asset::Withdraw", Data: json.RawMessage(`{"amount":"5"}`)})
}
