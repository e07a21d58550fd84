package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"curveScope/internal/config"
	"curveScope/internal/indexer"
)

func main() {
	root := &cobra.Command{
		Use:          "curvescope",
		Short:        "Aptos bonding-curve launchpad indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Index continuously until interrupted",
		RunE:  runContinuous,
	}
	addIndexerFlags(runCmd.Flags())
	root.AddCommand(runCmd)

	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Index for a bounded duration, then exit",
		RunE:  runBatch,
	}
	addIndexerFlags(batchCmd.Flags())
	batchCmd.Flags().Duration("max-duration", 5*time.Minute, "wall-clock budget for the run")
	root.AddCommand(batchCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run a bounded batch on a cron schedule",
		RunE:  runSchedule,
	}
	addIndexerFlags(scheduleCmd.Flags())
	scheduleCmd.Flags().Duration("max-duration", 4*time.Minute, "wall-clock budget per scheduled batch")
	scheduleCmd.Flags().String("schedule", "0 */5 * * * *", "cron spec with seconds field")
	root.AddCommand(scheduleCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema and the ClickHouse archive table",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("clickhouse-dsn", "", "ClickHouse DSN for the trade archive (optional)")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addIndexerFlags(fs *pflag.FlagSet) {
	fs.String("node-url", "https://fullnode.mainnet.aptoslabs.com", "Aptos fullnode REST URL")
	fs.String("program-address", "", "launchpad program address")
	fs.StringSlice("namespaces", nil, "entry-function namespaces <address>::<module> (comma-separated)")
	fs.String("store", config.StorePostgres, "ledger backend (postgres, memory)")
	fs.String("pg-dsn", "", "Postgres DSN")
	fs.String("clickhouse-dsn", "", "ClickHouse DSN for the trade archive (optional)")
	fs.String("redis-addr", "", "Redis address for event notifications (optional)")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis database number")
	fs.String("redis-channel", "curvescope:events", "Redis pub/sub channel")
	fs.String("metrics-addr", "", "ops server listen address, e.g. :9102 (optional)")
	fs.Duration("poll-interval", indexer.DefaultPollInterval, "delay between cycles in continuous mode")
	fs.Int("batch-size", indexer.DefaultBatchSize, "transactions per fetch (max 100)")
	fs.Duration("batch-delay", indexer.DefaultBatchDelay, "delay between cycles in batch mode")
	fs.Duration("batch-safety-margin", indexer.DefaultSafetyMargin, "stop this long before max-duration")
	fs.Uint64("from-version", 0, "start cursor; overrides resume when set")
	fs.Duration("recent-window", indexer.DefaultRecentWindow, "how far back to look for a trade to resume from")
	fs.Uint64("head-margin", indexer.DefaultHeadMargin, "versions behind head to start when nothing else applies")
	fs.String("graduation-threshold", "2150000000000", "reserve level in octas at which a pool graduates")
	fs.Uint64("trading-fee-bps", indexer.DefaultTradingFeeBps, "fee deducted from legacy purchase amounts")
	fs.Int("max-retries", indexer.DefaultMaxRetries, "maximum retry attempts per node request")
	fs.Duration("retry-backoff", indexer.DefaultRetryBackoff, "initial retry backoff")
	fs.Duration("ledger-timeout", 30*time.Second, "HTTP timeout for node requests")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

func runContinuous(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.serveOps()

	if err := a.service.Start(ctx, indexer.StartOptions{FromVersion: cfg.FromVersion}); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown requested")
	a.service.Stop()
	a.service.Wait()
	return nil
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if cfg.MaxDuration <= 0 {
		return fmt.Errorf("max-duration must be positive in batch mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.serveOps()

	if err := a.service.Start(ctx, indexer.StartOptions{
		FromVersion: cfg.FromVersion,
		MaxDuration: cfg.MaxDuration,
	}); err != nil {
		return err
	}
	a.service.Wait()
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
