package indexer

import (
	"context"
	"errors"
	"math/big"

	"go.uber.org/zap"

	"curveScope/internal/aptos"
	"curveScope/internal/model"
	"curveScope/internal/storage"
)

func (d *Dispatcher) handleAssetCreated(ctx context.Context, tx aptos.Transaction, ev AssetCreated) error {
	_, err := d.ledger.GetAsset(ctx, ev.Asset)
	if err == nil {
		d.logger.Debug("asset already recorded", zap.String("asset", ev.Asset), zap.String("tx", tx.Hash))
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	creator := ev.Creator
	if creator == "" {
		creator = senderOf(tx)
	}
	asset := model.Asset{
		Address:        ev.Asset,
		Name:           ev.Name,
		Symbol:         ev.Symbol,
		Creator:        creator,
		Decimals:       ev.Decimals,
		MaxSupply:      ev.MaxSupply,
		IconURI:        ev.IconURI,
		ProjectURI:     ev.ProjectURI,
		MintFeePerUnit: ev.MintFeePerUnit,
		CreatedTxHash:  tx.Hash,
		CreatedAt:      tx.Time(),
	}
	if err := d.ledger.CreateAsset(ctx, asset); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil
		}
		return err
	}

	d.logger.Info("asset created",
		zap.String("asset", asset.Address),
		zap.String("symbol", asset.Symbol),
		zap.String("creator", asset.Creator),
		zap.Uint64("version", uint64(tx.Version)))
	return nil
}

func (d *Dispatcher) handleMinted(ctx context.Context, tx aptos.Transaction, ev Minted) error {
	trade := d.newTrade(tx, ev.Asset, ev.Recipient, model.TradeKindMint, ev.MintFee, ev.Amount)
	return d.recordTrade(ctx, tx, trade, nil)
}

func (d *Dispatcher) handleBurned(ctx context.Context, tx aptos.Transaction, ev Burned) error {
	trade := d.newTrade(tx, ev.Asset, ev.Burner, model.TradeKindBurn, big.NewInt(0), ev.Amount)
	return d.recordTrade(ctx, tx, trade, nil)
}

func (d *Dispatcher) handlePurchased(ctx context.Context, tx aptos.Transaction, ev Purchased) error {
	trade := d.newTrade(tx, ev.Asset, ev.Buyer, model.TradeKindBuy, ev.AptIn, ev.TokensOut)
	delta := &model.PoolDelta{AptIn: ev.AptIn, Threshold: d.cfg.GraduationThreshold}
	return d.recordTrade(ctx, tx, trade, delta)
}

// Sells are recorded with negative amounts and leave pool reserves untouched.
func (d *Dispatcher) handleSold(ctx context.Context, tx aptos.Transaction, ev Sold) error {
	apt := new(big.Int).Neg(ev.AptOut)
	tokens := new(big.Int).Neg(ev.TokensIn)
	trade := d.newTrade(tx, ev.Asset, ev.Seller, model.TradeKindSell, apt, tokens)
	return d.recordTrade(ctx, tx, trade, nil)
}

func (d *Dispatcher) newTrade(tx aptos.Transaction, asset, user string, kind model.TradeKind, apt, tokens *big.Int) model.Trade {
	if user == "" {
		user = senderOf(tx)
	}
	return model.Trade{
		TxHash:        tx.Hash,
		Version:       uint64(tx.Version),
		AssetAddress:  asset,
		UserAddress:   user,
		Kind:          kind,
		AptAmount:     apt,
		TokenAmount:   tokens,
		PricePerToken: model.PricePerToken(apt, tokens),
		Timestamp:     tx.Time(),
		IndexedAt:     d.now().UTC(),
	}
}

// recordTrade writes trade once per transaction hash. A repeat of an already
// recorded transaction is a no-op, which keeps replays from double counting.
func (d *Dispatcher) recordTrade(ctx context.Context, tx aptos.Transaction, trade model.Trade, delta *model.PoolDelta) error {
	exists, err := d.ledger.TradeExists(ctx, trade.TxHash)
	if err != nil {
		return err
	}
	if exists {
		d.metrics.DuplicateSkipped()
		d.logger.Debug("trade already recorded", zap.String("tx", trade.TxHash), zap.String("kind", string(trade.Kind)))
		return nil
	}

	update, err := d.ledger.RecordTrade(ctx, trade, delta)
	if errors.Is(err, storage.ErrDuplicateKey) {
		d.metrics.DuplicateSkipped()
		return nil
	}
	if err != nil {
		return err
	}

	d.metrics.TradeRecorded(string(trade.Kind))
	if d.archive != nil {
		if err := d.archive.Append(ctx, trade); err != nil {
			d.metrics.ArchiveFailed()
			d.logger.Warn("archive trade failed", zap.String("tx", trade.TxHash), zap.Error(err))
		}
	}
	d.notifier.TradeRecorded(ctx, trade)

	if update != nil && update.GraduatedNow {
		grad := model.Graduation{
			AssetAddress: trade.AssetAddress,
			AptReserves:  model.AmountString(update.Stats.AptReserves),
			Threshold:    model.AmountString(delta.Threshold),
			TxHash:       trade.TxHash,
			Version:      trade.Version,
			At:           tx.Time(),
		}
		d.metrics.Graduated()
		d.logger.Info("asset graduated",
			zap.String("asset", grad.AssetAddress),
			zap.String("reserves", grad.AptReserves),
			zap.String("threshold", grad.Threshold),
			zap.String("tx", grad.TxHash))
		d.notifier.Graduated(ctx, grad)
	}
	return nil
}

func senderOf(tx aptos.Transaction) string {
	if tx.Sender == "" {
		return ""
	}
	addr, err := aptos.NormalizeAddress(tx.Sender)
	if err != nil {
		return tx.Sender
	}
	return addr
}
