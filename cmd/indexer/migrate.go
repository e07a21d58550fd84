package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"curveScope/internal/config"
	"curveScope/internal/storage/clickhouse"
	"curveScope/internal/storage/postgres"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PostgresDSN == "" {
		return fmt.Errorf("pg-dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("postgres schema applied")

	if cfg.ClickHouseDSN == "" {
		return nil
	}
	archive, err := clickhouse.Open(ctx, cfg.ClickHouseDSN)
	if err != nil {
		return err
	}
	defer archive.Close()

	if err := archive.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("clickhouse archive table applied", zap.String("table", "trades"))
	return nil
}
