// Package clickhouse archives recorded trades into ClickHouse for analytics.
// Postgres stays the source of truth; the archive is write-only from the indexer.
package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"curveScope/internal/model"
)

// Replays overwrite the same row, keyed by tx hash.
const createTradesTable = `
CREATE TABLE IF NOT EXISTS trades (
    tx_hash         String,
    version         UInt64,
    asset_address   String,
    user_address    String,
    kind            LowCardinality(String),
    apt_amount      Int256,
    token_amount    Int256,
    price_per_token Float64,
    ts              DateTime64(6, 'UTC'),
    indexed_at      DateTime64(6, 'UTC')
) ENGINE = ReplacingMergeTree(indexed_at)
ORDER BY (asset_address, tx_hash)
`

// Archive appends trades to the ClickHouse trades table.
type Archive struct {
	conn driver.Conn
}

// Open connects to ClickHouse and verifies the connection.
func Open(ctx context.Context, dsn string) (*Archive, error) {
	opts, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Archive{conn: conn}, nil
}

func (a *Archive) Close() error {
	return a.conn.Close()
}

// Migrate creates the trades table if needed.
func (a *Archive) Migrate(ctx context.Context) error {
	if err := a.conn.Exec(ctx, createTradesTable); err != nil {
		return fmt.Errorf("create trades table: %w", err)
	}
	return nil
}

// Append writes one trade as a single-row batch.
func (a *Archive) Append(ctx context.Context, t model.Trade) error {
	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO trades (
			tx_hash, version, asset_address, user_address, kind,
			apt_amount, token_amount, price_per_token, ts, indexed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		t.TxHash, t.Version, t.AssetAddress, t.UserAddress, string(t.Kind),
		orZero(t.AptAmount), orZero(t.TokenAmount), t.PricePerToken,
		t.Timestamp.UTC(), t.IndexedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountByAsset returns the number of distinct trades archived for an asset.
func (a *Archive) CountByAsset(ctx context.Context, asset string) (uint64, error) {
	var count uint64
	row := a.conn.QueryRow(ctx, `SELECT count() FROM trades FINAL WHERE asset_address = ?`, asset)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return count, nil
}

// parseDSN accepts clickhouse:// and tcp:// DSNs, including driver options
// such as secure, dial_timeout and compress. Hosts without a port use 9000.
func parseDSN(dsn string) (*clickhouse.Options, error) {
	scheme, _, found := strings.Cut(dsn, "://")
	if !found || (scheme != "clickhouse" && scheme != "tcp") {
		return nil, fmt.Errorf("unsupported dsn scheme %q", scheme)
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if len(opts.Addr) == 0 {
		return nil, fmt.Errorf("missing host")
	}
	for i, addr := range opts.Addr {
		if addr == "" {
			return nil, fmt.Errorf("missing host")
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			opts.Addr[i] = net.JoinHostPort(addr, "9000")
		}
	}
	return opts, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
