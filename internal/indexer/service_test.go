package indexer

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"curveScope/internal/metrics"
	"curveScope/internal/storage/memory"
)

func testConfig() Config {
	return Config{
		ProgramAddress:      testProgram,
		GraduationThreshold: big.NewInt(2_000_000),
		TradingFeeBps:       DefaultTradingFeeBps,
		HeadMargin:          DefaultHeadMargin,
		Run: RunConfig{
			BatchSize:    DefaultBatchSize,
			PollInterval: 5 * time.Millisecond,
			BatchDelay:   5 * time.Millisecond,
			SafetyMargin: 20 * time.Millisecond,
			RetryBackoff: time.Millisecond,
		},
	}
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(testConfig(), nil, memory.NewLedger())
	assert.Error(t, err)

	_, err = NewService(testConfig(), newFakeClient(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.ProgramAddress = ""
	_, err = NewService(cfg, newFakeClient(), memory.NewLedger())
	assert.Error(t, err)
}

func TestServiceIndexesEndToEnd(t *testing.T) {
	ledger := memory.NewLedger()
	notifier := &recordingNotifier{}
	m := metrics.New(prometheus.NewRegistry())
	client := newFakeClient(
		userTx(1001, testProgram+"::launchpad::create_token", createdEvent(assetAddr)),
		otherTx(1002),
		userTx(1003, buyFn, purchasedEvent(assetAddr, "1000000", "500000000")),
		userTx(1004, buyFn, purchasedEvent(assetAddr, "1500000", "100000000")),
		userTx(1005, testProgram+"::bonding_curve_pool::sell", soldEvent(assetAddr, "1000", "2")),
	)

	svc, err := NewService(testConfig(), client, ledger,
		WithLogger(zap.NewNop()),
		WithNotifier(notifier),
		WithMetrics(m),
	)
	require.NoError(t, err)

	_, ok := svc.Cursor()
	assert.False(t, ok)

	from := uint64(1000)
	require.NoError(t, svc.Start(context.Background(), StartOptions{FromVersion: &from}))
	assert.True(t, svc.IsRunning())

	require.Eventually(t, func() bool {
		v, _ := svc.Cursor()
		return v == 1005
	}, 2*time.Second, 5*time.Millisecond)

	svc.Stop()
	svc.Stop()
	svc.Wait()
	assert.False(t, svc.IsRunning())

	assert.Equal(t, 3, ledger.TradeCount())
	stats, err := ledger.GetPoolStats(context.Background(), assetAddr)
	require.NoError(t, err)
	assert.Equal(t, "2500000", stats.AptReserves.String())
	assert.True(t, stats.Graduated)
	assert.Len(t, notifier.grads, 1)
	assert.Equal(t, 1005.0, testutil.ToFloat64(m.CursorVersion))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Running))
}

func TestServiceStartWhileRunningIsNoop(t *testing.T) {
	client := newFakeClient(otherTx(1))
	svc, err := NewService(testConfig(), client, memory.NewLedger())
	require.NoError(t, err)

	from := uint64(0)
	require.NoError(t, svc.Start(context.Background(), StartOptions{FromVersion: &from}))
	defer func() {
		svc.Stop()
		svc.Wait()
	}()

	other := uint64(500)
	require.NoError(t, svc.Start(context.Background(), StartOptions{FromVersion: &other}))

	require.Eventually(t, func() bool {
		v, _ := svc.Cursor()
		return v == 1
	}, time.Second, 5*time.Millisecond)
}

func TestServiceRestartResumesFromRecentTrade(t *testing.T) {
	ledger := memory.NewLedger()
	client := newFakeClient(
		userTx(10, buyFn, purchasedEvent(assetAddr, "1", "1")),
		userTx(20, buyFn, purchasedEvent(assetAddr, "2", "1")),
	)
	svc, err := NewService(testConfig(), client, ledger)
	require.NoError(t, err)

	from := uint64(0)
	require.NoError(t, svc.Start(context.Background(), StartOptions{FromVersion: &from}))
	require.Eventually(t, func() bool { return ledger.TradeCount() == 2 }, time.Second, 5*time.Millisecond)
	svc.Stop()
	svc.Wait()

	require.NoError(t, svc.Start(context.Background(), StartOptions{}))
	v, ok := svc.Cursor()
	assert.True(t, ok)
	assert.Equal(t, uint64(20), v)
	svc.Stop()
	svc.Wait()
	assert.Equal(t, 2, ledger.TradeCount())
}

func TestServiceBatchModeStopsItself(t *testing.T) {
	client := newFakeClient(otherTx(1))
	svc, err := NewService(testConfig(), client, memory.NewLedger())
	require.NoError(t, err)

	from := uint64(0)
	require.NoError(t, svc.Start(context.Background(), StartOptions{FromVersion: &from, MaxDuration: 80 * time.Millisecond}))

	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch run did not finish")
	}
	assert.False(t, svc.IsRunning())
	v, _ := svc.Cursor()
	assert.Equal(t, uint64(1), v)
}

func TestServiceConsecutiveBatchesContinueFromCursor(t *testing.T) {
	ledger := memory.NewLedger()
	client := newFakeClient(otherTx(1001), otherTx(1002), otherTx(1003), otherTx(1004), otherTx(1005))
	svc, err := NewService(testConfig(), client, ledger)
	require.NoError(t, err)

	from := uint64(1000)
	require.NoError(t, svc.Start(context.Background(), StartOptions{FromVersion: &from, MaxDuration: 80 * time.Millisecond}))
	svc.Wait()
	v, _ := svc.Cursor()
	require.Equal(t, uint64(1005), v)

	// No trades were recorded, so without the previous cursor the next run
	// would fall back to head minus margin and skip 1010.
	client.extend(
		userTx(1010, testProgram+"::launchpad::create_token", createdEvent(assetAddr)),
		otherTx(1300),
	)

	require.NoError(t, svc.Start(context.Background(), StartOptions{MaxDuration: 80 * time.Millisecond, Resume: true}))
	svc.Wait()
	v, _ = svc.Cursor()
	assert.Equal(t, uint64(1300), v)

	asset, err := ledger.GetAsset(context.Background(), assetAddr)
	require.NoError(t, err)
	assert.Equal(t, "CURVE", asset.Symbol)
}

func TestServiceStartFailsWhenCursorCannotInit(t *testing.T) {
	client := newFakeClient()
	client.headErr = errors.New("connection refused")
	svc, err := NewService(testConfig(), client, memory.NewLedger())
	require.NoError(t, err)

	err = svc.Start(context.Background(), StartOptions{})
	require.Error(t, err)
	assert.False(t, svc.IsRunning())
	svc.Wait()
	svc.Stop()
}

func TestServiceStopBeforeStart(t *testing.T) {
	svc, err := NewService(testConfig(), newFakeClient(), memory.NewLedger())
	require.NoError(t, err)
	svc.Stop()
	svc.Wait()
	assert.False(t, svc.IsRunning())
}
