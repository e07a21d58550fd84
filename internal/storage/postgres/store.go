package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"curveScope/internal/model"
	"curveScope/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const pgErrUniqueViolation = "23505"

// Store provides Postgres persistence for assets, pool stats and trades.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ storage.Ledger = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) GetAsset(ctx context.Context, address string) (*model.Asset, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, name, symbol, creator, decimals, max_supply::text,
			icon_uri, project_uri, mint_fee_per_unit::text, created_tx_hash, created_at
		FROM assets WHERE address = $1
	`, address)

	var (
		asset     model.Asset
		decimals  int16
		maxSupply *string
		mintFee   string
	)
	err := row.Scan(&asset.Address, &asset.Name, &asset.Symbol, &asset.Creator, &decimals, &maxSupply,
		&asset.IconURI, &asset.ProjectURI, &mintFee, &asset.CreatedTxHash, &asset.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}

	asset.Decimals = uint8(decimals)
	if maxSupply != nil {
		if asset.MaxSupply, err = parseNumeric(*maxSupply); err != nil {
			return nil, err
		}
	}
	if asset.MintFeePerUnit, err = parseNumeric(mintFee); err != nil {
		return nil, err
	}
	asset.CreatedAt = asset.CreatedAt.UTC()
	return &asset, nil
}

func (s *Store) CreateAsset(ctx context.Context, asset model.Asset) error {
	if asset.Address == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO assets (
			address, name, symbol, creator, decimals, max_supply,
			icon_uri, project_uri, mint_fee_per_unit, created_tx_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (address) DO NOTHING
	`,
		asset.Address,
		asset.Name,
		asset.Symbol,
		asset.Creator,
		int16(asset.Decimals),
		numeric(asset.MaxSupply),
		asset.IconURI,
		asset.ProjectURI,
		numericOrZero(asset.MintFeePerUnit),
		asset.CreatedTxHash,
		asset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateKey
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO pool_stats (asset_address, apt_reserves, volume, trade_count, graduated, updated_at)
		VALUES ($1, 0, 0, 0, FALSE, $2)
		ON CONFLICT (asset_address) DO NOTHING
	`, asset.Address, asset.CreatedAt); err != nil {
		return fmt.Errorf("insert pool stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) GetPoolStats(ctx context.Context, asset string) (*model.PoolStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT asset_address, apt_reserves::text, volume::text, trade_count, graduated, updated_at
		FROM pool_stats WHERE asset_address = $1
	`, asset)

	stats, err := scanPoolStats(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool stats: %w", err)
	}
	return stats, nil
}

func (s *Store) TradeExists(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trades WHERE tx_hash = $1)`, txHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("check trade: %w", err)
	}
	return exists, nil
}

func (s *Store) RecordTrade(ctx context.Context, trade model.Trade, delta *model.PoolDelta) (*model.PoolUpdate, error) {
	if trade.TxHash == "" || trade.AssetAddress == "" {
		return nil, storage.ErrInvalidInput
	}
	if delta != nil && (delta.AptIn == nil || delta.Threshold == nil) {
		return nil, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	indexedAt := trade.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO trades (
			tx_hash, version, asset_address, user_address, kind,
			apt_amount, token_amount, price_per_token, ts, indexed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_hash) DO NOTHING
	`,
		trade.TxHash,
		int64(trade.Version),
		trade.AssetAddress,
		trade.UserAddress,
		string(trade.Kind),
		numericOrZero(trade.AptAmount),
		numericOrZero(trade.TokenAmount),
		trade.PricePerToken,
		trade.Timestamp,
		indexedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, storage.ErrDuplicateKey
	}

	var update *model.PoolUpdate
	if delta != nil {
		update, err = applyDelta(ctx, tx, trade.AssetAddress, delta, trade.Timestamp)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return update, nil
}

// applyDelta locks the stats row, then increments and evaluates graduation in
// one statement so the flip can never be observed twice.
func applyDelta(ctx context.Context, tx pgx.Tx, asset string, delta *model.PoolDelta, at time.Time) (*model.PoolUpdate, error) {
	var wasGraduated bool
	err := tx.QueryRow(ctx, `SELECT graduated FROM pool_stats WHERE asset_address = $1 FOR UPDATE`, asset).Scan(&wasGraduated)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lock pool stats: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO pool_stats (asset_address, apt_reserves, volume, trade_count, graduated, updated_at)
		VALUES ($1, $2::numeric, $2::numeric, 1, $2::numeric >= $3::numeric, $4)
		ON CONFLICT (asset_address) DO UPDATE SET
			apt_reserves = pool_stats.apt_reserves + EXCLUDED.apt_reserves,
			volume = pool_stats.volume + EXCLUDED.volume,
			trade_count = pool_stats.trade_count + 1,
			graduated = pool_stats.graduated OR (pool_stats.apt_reserves + EXCLUDED.apt_reserves >= $3::numeric),
			updated_at = EXCLUDED.updated_at
		RETURNING asset_address, apt_reserves::text, volume::text, trade_count, graduated, updated_at
	`, asset, numeric(delta.AptIn), numeric(delta.Threshold), at)

	stats, err := scanPoolStats(row)
	if err != nil {
		return nil, fmt.Errorf("apply pool delta: %w", err)
	}
	return &model.PoolUpdate{
		Stats:        *stats,
		GraduatedNow: !wasGraduated && stats.Graduated,
	}, nil
}

func (s *Store) LatestTradeSince(ctx context.Context, since time.Time) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tx_hash, version, asset_address, user_address, kind,
			apt_amount::text, token_amount::text, price_per_token, ts, indexed_at
		FROM trades
		WHERE indexed_at >= $1
		ORDER BY version DESC
		LIMIT 1
	`, since)

	var (
		trade   model.Trade
		version int64
		kind    string
		apt     string
		tokens  string
	)
	err := row.Scan(&trade.TxHash, &version, &trade.AssetAddress, &trade.UserAddress, &kind,
		&apt, &tokens, &trade.PricePerToken, &trade.Timestamp, &trade.IndexedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("latest trade: %w", err)
	}

	trade.Version = uint64(version)
	trade.Kind = model.TradeKind(kind)
	if trade.AptAmount, err = parseSignedNumeric(apt); err != nil {
		return nil, err
	}
	if trade.TokenAmount, err = parseSignedNumeric(tokens); err != nil {
		return nil, err
	}
	trade.Timestamp = trade.Timestamp.UTC()
	trade.IndexedAt = trade.IndexedAt.UTC()
	return &trade, nil
}

func scanPoolStats(row pgx.Row) (*model.PoolStats, error) {
	var (
		stats    model.PoolStats
		reserves string
		volume   string
		count    int64
	)
	if err := row.Scan(&stats.AssetAddress, &reserves, &volume, &count, &stats.Graduated, &stats.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if stats.AptReserves, err = parseNumeric(reserves); err != nil {
		return nil, err
	}
	if stats.Volume, err = parseNumeric(volume); err != nil {
		return nil, err
	}
	stats.TradeCount = uint64(count)
	stats.UpdatedAt = stats.UpdatedAt.UTC()
	return &stats, nil
}

func numeric(value *big.Int) pgtype.Numeric {
	if value == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: new(big.Int).Set(value), Valid: true}
}

func numericOrZero(value *big.Int) pgtype.Numeric {
	if value == nil {
		return pgtype.Numeric{Int: big.NewInt(0), Valid: true}
	}
	return numeric(value)
}

func parseNumeric(value string) (*big.Int, error) {
	parsed, err := model.ParseAmount(value)
	if err != nil {
		return nil, fmt.Errorf("scan numeric: %w", err)
	}
	return parsed, nil
}

func parseSignedNumeric(value string) (*big.Int, error) {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("scan numeric: invalid value %s", value)
	}
	return parsed, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
