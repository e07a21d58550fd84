package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"curveScope/internal/indexer"
)

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// runSchedule triggers a bounded batch on every cron tick. Ticks that fire
// while a batch is still running are skipped.
func runSchedule(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if cfg.MaxDuration <= 0 {
		return fmt.Errorf("max-duration must be positive in schedule mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.serveOps()

	clog := cronLogger{sugar: logger.Sugar()}
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	_, err = c.AddFunc(cfg.Schedule, func() {
		// The first tick resolves the cursor from --from-version or recorded
		// trades. Later ticks pick up where the previous batch stopped.
		opts := indexer.StartOptions{
			FromVersion: cfg.FromVersion,
			MaxDuration: cfg.MaxDuration,
			Resume:      true,
		}
		if _, ok := a.service.Cursor(); ok {
			opts.FromVersion = nil
		}
		if err := a.service.Start(ctx, opts); err != nil {
			logger.Error("scheduled batch failed to start", zap.Error(err))
			return
		}
		a.service.Wait()
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}

	c.Start()
	logger.Info("scheduler started", zap.String("schedule", cfg.Schedule), zap.Duration("max_duration", cfg.MaxDuration))

	<-ctx.Done()
	logger.Info("shutdown requested")
	a.service.Stop()
	<-c.Stop().Done()
	return nil
}
