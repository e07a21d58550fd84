package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"curveScope/internal/aptos"
	"curveScope/internal/metrics"
	"curveScope/internal/notify"
	"curveScope/internal/storage"
)

// DispatcherConfig holds the economic parameters applied by handlers.
type DispatcherConfig struct {
	GraduationThreshold *big.Int
	TradingFeeBps       uint64
}

// Dispatcher routes a relevant transaction's events to their handlers.
type Dispatcher struct {
	cfg      DispatcherConfig
	decoder  *Decoder
	ledger   storage.Ledger
	archive  TradeArchive
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewDispatcher builds a Dispatcher. archive, notifier and m may be nil.
func NewDispatcher(cfg DispatcherConfig, program string, ledger storage.Ledger, archive TradeArchive, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.GraduationThreshold == nil {
		cfg.GraduationThreshold = new(big.Int).SetUint64(DefaultGraduationThreshold)
	}
	return &Dispatcher{
		cfg:      cfg,
		decoder:  NewDecoder(program),
		ledger:   ledger,
		archive:  archive,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch handles every event of tx in emission order. Failed transactions
// are skipped. Malformed events are logged and skipped; persistence errors
// abort and are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, tx aptos.Transaction) error {
	if !tx.Success {
		d.logger.Debug("skip failed transaction",
			zap.String("tx", tx.Hash),
			zap.Uint64("version", uint64(tx.Version)),
			zap.String("vm_status", tx.VMStatus))
		return nil
	}

	hasPurchase := false
	for _, raw := range tx.Events {
		if d.decoder.KindOf(raw.Type) == EventPurchased {
			hasPurchase = true
			break
		}
	}

	for i, raw := range tx.Events {
		ev, err := d.decoder.Decode(raw)
		if err != nil {
			d.metrics.EventMalformed(d.decoder.KindOf(raw.Type).String())
			d.logger.Warn("skip malformed event",
				zap.String("tx", tx.Hash),
				zap.Int("index", i),
				zap.String("type", raw.Type),
				zap.Error(err))
			continue
		}
		if ev.Kind() == EventUnknown {
			continue
		}
		d.metrics.EventDecoded(ev.Kind().String())

		if err := d.handle(ctx, tx, ev); err != nil {
			return fmt.Errorf("tx %s event %d (%s): %w", tx.Hash, i, ev.Kind(), err)
		}
	}

	if hasPurchase {
		return nil
	}
	legacy, ok, err := d.decoder.DecodeLegacyPurchase(tx, d.cfg.TradingFeeBps)
	if err != nil {
		d.metrics.EventMalformed(EventPurchased.String())
		d.logger.Warn("skip malformed legacy purchase", zap.String("tx", tx.Hash), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	if err := d.handlePurchased(ctx, tx, legacy); err != nil {
		return fmt.Errorf("tx %s legacy purchase: %w", tx.Hash, err)
	}
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, tx aptos.Transaction, ev Event) error {
	switch ev := ev.(type) {
	case AssetCreated:
		return d.handleAssetCreated(ctx, tx, ev)
	case Minted:
		return d.handleMinted(ctx, tx, ev)
	case Burned:
		return d.handleBurned(ctx, tx, ev)
	case Purchased:
		return d.handlePurchased(ctx, tx, ev)
	case Sold:
		return d.handleSold(ctx, tx, ev)
	default:
		return errors.New("no handler for event")
	}
}
