package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"curveScope/internal/aptos"
	"curveScope/internal/metrics"
)

// RunConfig holds loop timing and fetch settings.
type RunConfig struct {
	BatchSize    int
	PollInterval time.Duration
	BatchDelay   time.Duration
	SafetyMargin time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// CycleResult summarizes one fetch/classify/dispatch pass.
type CycleResult struct {
	From     uint64
	Fetched  int
	Relevant int
	Cursor   uint64
}

// BatchResult summarizes a time-bounded run.
type BatchResult struct {
	Cycles   int
	Failures int
	Elapsed  time.Duration
	Cursor   uint64
}

// Runner pulls transactions after the cursor and dispatches the relevant ones.
type Runner struct {
	cfg        RunConfig
	client     LedgerClient
	classifier *Classifier
	dispatcher *Dispatcher
	cursor     *Cursor
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, client LedgerClient, classifier *Classifier, dispatcher *Dispatcher, cursor *Cursor, m *metrics.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > aptos.MaxPageSize {
		cfg.BatchSize = aptos.MaxPageSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Runner{
		cfg:        cfg,
		client:     client,
		classifier: classifier,
		dispatcher: dispatcher,
		cursor:     cursor,
		metrics:    m,
		logger:     logger,
	}
}

// RunCycle fetches one page after the cursor and processes it in version
// order. The cursor advances past each transaction only once it has been
// handled; on error it stays at the last fully handled version.
func (r *Runner) RunCycle(ctx context.Context) (CycleResult, error) {
	start := r.cursor.Version() + 1
	result := CycleResult{From: start, Cursor: r.cursor.Version()}

	txs, err := r.fetchWithRetry(ctx, start)
	if errors.Is(err, aptos.ErrNotFound) {
		// Start is past the ledger head.
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("fetch transactions from %d: %w", start, err)
	}
	result.Fetched = len(txs)

	for _, tx := range txs {
		version := uint64(tx.Version)
		if version <= r.cursor.Version() {
			continue
		}

		relevant := r.classifier.IsRelevant(tx)
		r.metrics.TransactionScanned(relevant)
		if relevant {
			result.Relevant++
			if err := r.dispatcher.Dispatch(ctx, tx); err != nil {
				result.Cursor = r.cursor.Version()
				return result, fmt.Errorf("dispatch version %d: %w", version, err)
			}
		}

		r.cursor.Advance(version)
	}

	result.Cursor = r.cursor.Version()
	r.metrics.SetCursor(result.Cursor)
	return result, nil
}

// Loop runs cycles every PollInterval until ctx ends or stop is closed.
// A failed cycle is logged and the loop keeps going.
func (r *Runner) Loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if stopped(ctx, stop) {
			return
		}
		r.runCycleLogged(ctx)

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Batch runs cycles back to back, separated by BatchDelay, and returns before
// maxDuration minus SafetyMargin has elapsed. At least one cycle always runs.
func (r *Runner) Batch(ctx context.Context, stop <-chan struct{}, maxDuration time.Duration) BatchResult {
	started := time.Now()
	deadline := started.Add(maxDuration - r.cfg.SafetyMargin)
	var result BatchResult

	for {
		if stopped(ctx, stop) {
			break
		}
		if _, err := r.runCycleLogged(ctx); err != nil {
			result.Failures++
		}
		result.Cycles++

		if !time.Now().Add(r.cfg.BatchDelay).Before(deadline) {
			break
		}

		timer := time.NewTimer(r.cfg.BatchDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-stop:
			timer.Stop()
		case <-timer.C:
		}
	}

	result.Elapsed = time.Since(started)
	result.Cursor = r.cursor.Version()
	r.logger.Info("batch finished",
		zap.Int("cycles", result.Cycles),
		zap.Int("failures", result.Failures),
		zap.Duration("elapsed", result.Elapsed),
		zap.Uint64("cursor", result.Cursor))
	return result
}

func (r *Runner) runCycleLogged(ctx context.Context) (CycleResult, error) {
	began := time.Now()
	result, err := r.RunCycle(ctx)
	r.metrics.ObserveCycle(time.Since(began).Seconds())
	if err != nil {
		r.metrics.CycleFailed()
		r.logger.Error("cycle failed",
			zap.Uint64("from", result.From),
			zap.Uint64("cursor", result.Cursor),
			zap.Error(err))
		return result, err
	}
	if result.Fetched > 0 {
		r.logger.Info("cycle complete",
			zap.Uint64("from", result.From),
			zap.Int("fetched", result.Fetched),
			zap.Int("relevant", result.Relevant),
			zap.Uint64("cursor", result.Cursor))
	}
	return result, nil
}

func (r *Runner) fetchWithRetry(ctx context.Context, start uint64) ([]aptos.Transaction, error) {
	var txs []aptos.Transaction
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		txs, err = r.client.Transactions(ctx, start, r.cfg.BatchSize)
		if err != nil {
			r.logger.Warn("fetch transactions failed", zap.Error(err), zap.Uint64("start", start))
		}
		return err
	})
	return txs, err
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}
