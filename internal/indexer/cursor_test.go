package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"curveScope/internal/model"
	"curveScope/internal/storage/memory"
)

func TestCursorAdvanceIsMonotonic(t *testing.T) {
	c := NewCursor(10)

	assert.True(t, c.Advance(11))
	assert.False(t, c.Advance(11))
	assert.False(t, c.Advance(5))
	assert.True(t, c.Advance(20))
	assert.Equal(t, uint64(20), c.Version())
}

func TestExplicitStartWins(t *testing.T) {
	client := newFakeClient()
	client.head = 5000
	v := uint64(1234)

	version, strategy, err := ResolveStart(context.Background(), zap.NewNop(),
		ExplicitStart(&v),
		HeadMinusMargin(client, 100),
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), version)
	assert.Equal(t, "explicit", strategy)
}

func TestResumePreviousRun(t *testing.T) {
	client := newFakeClient()
	client.head = 5000

	version, strategy, err := ResolveStart(context.Background(), zap.NewNop(),
		ExplicitStart(nil),
		ResumePrevious(NewCursor(1005)),
		HeadMinusMargin(client, 100),
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(1005), version)
	assert.Equal(t, "previous_run", strategy)

	version, strategy, err = ResolveStart(context.Background(), zap.NewNop(),
		ResumePrevious(nil),
		HeadMinusMargin(client, 100),
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(4900), version)
	assert.Equal(t, "head_minus_margin", strategy)
}

func TestResumeFromRecentTrade(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	ledger := memory.NewLedger()
	client := newFakeClient()
	client.head = 9000

	record := func(hash string, version uint64, indexedAt time.Time) {
		_, err := ledger.RecordTrade(ctx, model.Trade{
			TxHash:       hash,
			Version:      version,
			AssetAddress: assetAddr,
			Kind:         model.TradeKindBuy,
			IndexedAt:    indexedAt,
		}, nil)
		require.NoError(t, err)
	}
	record("0xold", 9999, now.Add(-2*time.Hour))
	record("0xa", 700, now.Add(-10*time.Minute))
	record("0xb", 800, now.Add(-5*time.Minute))

	version, strategy, err := ResolveStart(ctx, zap.NewNop(),
		ExplicitStart(nil),
		ResumeFromRecentTrade(ledger, client, time.Hour, func() time.Time { return now }),
		HeadMinusMargin(client, 100),
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), version)
	assert.Equal(t, "recent_trade", strategy)
}

func TestResumeResolvesVersionByHash(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	ledger := memory.NewLedger()
	tx := userTx(4242, buyFn)
	client := newFakeClient(tx)

	_, err := ledger.RecordTrade(ctx, model.Trade{TxHash: tx.Hash, AssetAddress: assetAddr, IndexedAt: now}, nil)
	require.NoError(t, err)

	version, ok, err := ResumeFromRecentTrade(ledger, client, time.Hour, time.Now).Resolve(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(4242), version)
}

func TestResumeLookupFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	client := newFakeClient()
	client.head = 50

	_, err := ledger.RecordTrade(ctx, model.Trade{TxHash: "0xgone", AssetAddress: assetAddr, IndexedAt: time.Now()}, nil)
	require.NoError(t, err)

	version, strategy, err := ResolveStart(ctx, zap.NewNop(),
		ResumeFromRecentTrade(ledger, client, time.Hour, time.Now),
		HeadMinusMargin(client, 100),
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), version, "clamped at zero")
	assert.Equal(t, "head_minus_margin", strategy)
}

func TestHeadMinusMargin(t *testing.T) {
	client := newFakeClient()
	client.head = 10_000

	version, ok, err := HeadMinusMargin(client, 100).Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(9_900), version)
}

func TestResolveStartAllFail(t *testing.T) {
	client := newFakeClient()
	client.headErr = errors.New("connection refused")

	_, _, err := ResolveStart(context.Background(), zap.NewNop(),
		ResumeFromRecentTrade(memory.NewLedger(), client, time.Hour, time.Now),
		HeadMinusMargin(client, 100),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
