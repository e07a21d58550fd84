// Package notify fans indexer outcomes out to downstream subscribers.
// Delivery is best-effort: failures are logged and never reach the indexing loop.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"curveScope/internal/model"
)

const (
	MessageTypeTrade      = "trade"
	MessageTypeGraduation = "graduation"

	tradesSuffix    = ":trades"
	graduatedSuffix = ":graduated"
)

// Notifier receives recorded trades and graduations.
type Notifier interface {
	TradeRecorded(ctx context.Context, trade model.Trade)
	Graduated(ctx context.Context, grad model.Graduation)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) TradeRecorded(context.Context, model.Trade)  {}
func (Nop) Graduated(context.Context, model.Graduation) {}

// Log writes notifications to a zap logger.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) TradeRecorded(_ context.Context, trade model.Trade) {
	l.logger.Debug("trade recorded",
		zap.String("tx", trade.TxHash),
		zap.Uint64("version", trade.Version),
		zap.String("asset", trade.AssetAddress),
		zap.String("kind", string(trade.Kind)),
		zap.String("apt", model.AmountString(trade.AptAmount)),
		zap.String("tokens", model.AmountString(trade.TokenAmount)),
	)
}

func (l *Log) Graduated(_ context.Context, grad model.Graduation) {
	l.logger.Info("graduation published",
		zap.String("asset", grad.AssetAddress),
		zap.String("reserves", grad.AptReserves),
		zap.String("tx", grad.TxHash),
	)
}

// Multi forwards each notification to every wrapped notifier in order.
type Multi []Notifier

func (m Multi) TradeRecorded(ctx context.Context, trade model.Trade) {
	for _, n := range m {
		n.TradeRecorded(ctx, trade)
	}
}

func (m Multi) Graduated(ctx context.Context, grad model.Graduation) {
	for _, n := range m {
		n.Graduated(ctx, grad)
	}
}

// Publisher is the subset of *redis.Client used for pub/sub.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Message is the JSON envelope published on the Redis channel.
type Message struct {
	Type       string        `json:"type"`
	Trade      *TradeMessage `json:"trade,omitempty"`
	Graduation *GradMessage  `json:"graduation,omitempty"`
	SentAt     time.Time     `json:"sent_at"`
}

type TradeMessage struct {
	TxHash        string    `json:"tx_hash"`
	Version       uint64    `json:"version"`
	AssetAddress  string    `json:"asset_address"`
	UserAddress   string    `json:"user_address"`
	Kind          string    `json:"kind"`
	AptAmount     string    `json:"apt_amount"`
	TokenAmount   string    `json:"token_amount"`
	PricePerToken float64   `json:"price_per_token"`
	Timestamp     time.Time `json:"timestamp"`
}

type GradMessage struct {
	AssetAddress string    `json:"asset_address"`
	AptReserves  string    `json:"apt_reserves"`
	Threshold    string    `json:"threshold"`
	TxHash       string    `json:"tx_hash"`
	Version      uint64    `json:"version"`
	At           time.Time `json:"at"`
}

// Redis publishes JSON messages on <channel>:trades and <channel>:graduated.
type Redis struct {
	pub     Publisher
	channel string
	logger  *zap.Logger
	now     func() time.Time
}

func NewRedis(pub Publisher, channel string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{pub: pub, channel: channel, logger: logger, now: time.Now}
}

func (r *Redis) TradeRecorded(ctx context.Context, trade model.Trade) {
	r.publish(ctx, r.channel+tradesSuffix, Message{
		Type: MessageTypeTrade,
		Trade: &TradeMessage{
			TxHash:        trade.TxHash,
			Version:       trade.Version,
			AssetAddress:  trade.AssetAddress,
			UserAddress:   trade.UserAddress,
			Kind:          string(trade.Kind),
			AptAmount:     model.AmountString(trade.AptAmount),
			TokenAmount:   model.AmountString(trade.TokenAmount),
			PricePerToken: trade.PricePerToken,
			Timestamp:     trade.Timestamp,
		},
	})
}

func (r *Redis) Graduated(ctx context.Context, grad model.Graduation) {
	r.publish(ctx, r.channel+graduatedSuffix, Message{
		Type: MessageTypeGraduation,
		Graduation: &GradMessage{
			AssetAddress: grad.AssetAddress,
			AptReserves:  grad.AptReserves,
			Threshold:    grad.Threshold,
			TxHash:       grad.TxHash,
			Version:      grad.Version,
			At:           grad.At,
		},
	})
}

func (r *Redis) publish(ctx context.Context, channel string, msg Message) {
	msg.SentAt = r.now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("failed to encode notification", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	if err := r.pub.Publish(ctx, channel, payload).Err(); err != nil {
		r.logger.Warn("failed to publish notification",
			zap.String("channel", channel),
			zap.String("type", msg.Type),
			zap.Error(err))
	}
}
