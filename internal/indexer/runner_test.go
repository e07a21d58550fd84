package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"curveScope/internal/aptos"
	"curveScope/internal/storage"
	"curveScope/internal/storage/memory"
)

func newTestRunner(t *testing.T, cfg RunConfig, client LedgerClient, ledger storage.Ledger, cursor *Cursor) *Runner {
	t.Helper()
	classifier, err := NewClassifier(testProgram, nil)
	require.NoError(t, err)
	dispatcher := NewDispatcher(DispatcherConfig{}, programAddr, ledger, nil, nil, nil, zap.NewNop())
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	return NewRunner(cfg, client, classifier, dispatcher, cursor, nil, zap.NewNop())
}

func TestRunCycleAdvancesPastIrrelevantTransactions(t *testing.T) {
	ledger := memory.NewLedger()
	client := newFakeClient(
		otherTx(101),
		userTx(102, "", createdEvent(assetAddr)),
		otherTx(103),
		userTx(104, buyFn, purchasedEvent(assetAddr, "1000000", "500000000")),
		otherTx(105),
	)
	cursor := NewCursor(100)
	r := newTestRunner(t, RunConfig{BatchSize: 100}, client, ledger, cursor)

	result, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(101), result.From)
	assert.Equal(t, 5, result.Fetched)
	assert.Equal(t, 2, result.Relevant)
	assert.Equal(t, uint64(105), cursor.Version())
	assert.Equal(t, 1, ledger.TradeCount())

	// Caught up: nothing new, cursor unchanged.
	result, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Fetched)
	assert.Equal(t, uint64(105), cursor.Version())
}

func TestRunCycleRespectsBatchSize(t *testing.T) {
	client := newFakeClient(otherTx(1), otherTx(2), otherTx(3), otherTx(4), otherTx(5))
	cursor := NewCursor(0)
	r := newTestRunner(t, RunConfig{BatchSize: 2}, client, memory.NewLedger(), cursor)

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cursor.Version())

	_, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cursor.Version())
}

func TestRunCycleStopsCursorAtFailedDispatch(t *testing.T) {
	ledger := &failingLedger{Ledger: memory.NewLedger()}
	client := newFakeClient(
		otherTx(11),
		userTx(12, buyFn, purchasedEvent(assetAddr, "10", "10")),
		otherTx(13),
	)
	cursor := NewCursor(10)
	r := newTestRunner(t, RunConfig{BatchSize: 100}, client, ledger, cursor)

	ledger.setFail(true)
	_, err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(11), cursor.Version())

	ledger.setFail(false)
	_, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(13), cursor.Version())
	assert.Equal(t, 1, ledger.TradeCount())
}

func TestRunCycleRetriesFetch(t *testing.T) {
	client := newFakeClient(otherTx(1))
	client.failures = 2
	cursor := NewCursor(0)
	r := newTestRunner(t, RunConfig{BatchSize: 10, MaxRetries: 3}, client, memory.NewLedger(), cursor)

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, client.Calls())
	assert.Equal(t, uint64(1), cursor.Version())
}

func TestRunCycleTreatsNotFoundAsCaughtUp(t *testing.T) {
	client := newFakeClient()
	client.fetchErr = aptos.ErrNotFound
	cursor := NewCursor(7)
	r := newTestRunner(t, RunConfig{MaxRetries: 3}, client, memory.NewLedger(), cursor)

	_, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, uint64(7), cursor.Version())
}

func TestLoopSurvivesCycleFailure(t *testing.T) {
	client := newFakeClient(otherTx(1), otherTx(2), otherTx(3))
	client.failures = 1
	cursor := NewCursor(0)
	r := newTestRunner(t, RunConfig{BatchSize: 10, PollInterval: 5 * time.Millisecond}, client, memory.NewLedger(), cursor)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		r.Loop(context.Background(), stop)
		close(done)
	}()

	require.Eventually(t, func() bool { return cursor.Version() == 3 }, 2*time.Second, 5*time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after stop")
	}
}

func TestLoopExitsOnContextCancel(t *testing.T) {
	client := newFakeClient()
	r := newTestRunner(t, RunConfig{PollInterval: time.Hour}, client, memory.NewLedger(), NewCursor(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Loop(ctx, make(chan struct{}))
		close(done)
	}()

	require.Eventually(t, func() bool { return client.Calls() >= 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after cancel")
	}
}

func TestBatchStopsBeforeDeadline(t *testing.T) {
	client := newFakeClient(otherTx(1))
	r := newTestRunner(t, RunConfig{
		BatchDelay:   10 * time.Millisecond,
		SafetyMargin: 50 * time.Millisecond,
	}, client, memory.NewLedger(), NewCursor(0))

	result := r.Batch(context.Background(), make(chan struct{}), 200*time.Millisecond)

	assert.GreaterOrEqual(t, result.Cycles, 2)
	assert.Less(t, result.Elapsed, 200*time.Millisecond)
	assert.Equal(t, uint64(1), result.Cursor)
}

func TestBatchRunsOnceWhenMarginExceedsBudget(t *testing.T) {
	client := newFakeClient(otherTx(1))
	r := newTestRunner(t, RunConfig{
		BatchDelay:   time.Millisecond,
		SafetyMargin: time.Second,
	}, client, memory.NewLedger(), NewCursor(0))

	result := r.Batch(context.Background(), make(chan struct{}), 100*time.Millisecond)
	assert.Equal(t, 1, result.Cycles)
	assert.Equal(t, 1, client.Calls())
}
