package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"curveScope/internal/aptos"
	"curveScope/internal/config"
	"curveScope/internal/indexer"
	"curveScope/internal/metrics"
	"curveScope/internal/notify"
	"curveScope/internal/storage"
	"curveScope/internal/storage/clickhouse"
	"curveScope/internal/storage/memory"
	"curveScope/internal/storage/postgres"
)

// app holds the wired indexer and everything that must be closed with it.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	service *indexer.Service
	metrics *metrics.Metrics
	ping    func(context.Context) error
	server  *http.Server
	closers []func()
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	client, err := aptos.NewClient(cfg.NodeURL, aptos.WithTimeout(cfg.LedgerTimeout))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)

	ledger, err := a.openLedger(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []indexer.Option{
		indexer.WithLogger(logger),
		indexer.WithMetrics(a.metrics),
	}

	notifiers := notify.Multi{notify.NewLog(logger)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			a.Close()
			return nil, fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		notifiers = append(notifiers, notify.NewRedis(rdb, cfg.RedisChannel, logger))
		logger.Info("redis notifications enabled", zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.RedisChannel))
	}
	opts = append(opts, indexer.WithNotifier(notifiers))

	if cfg.ClickHouseDSN != "" {
		archive, err := clickhouse.Open(ctx, cfg.ClickHouseDSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = archive.Close() })
		opts = append(opts, indexer.WithArchive(archive))
		logger.Info("clickhouse archive enabled")
	}

	service, err := indexer.NewService(indexer.Config{
		ProgramAddress:      cfg.ProgramAddress,
		Namespaces:          cfg.Namespaces,
		GraduationThreshold: cfg.GraduationThreshold,
		TradingFeeBps:       cfg.TradingFeeBps,
		RecentWindow:        cfg.RecentWindow,
		HeadMargin:          cfg.HeadMargin,
		Run: indexer.RunConfig{
			BatchSize:    cfg.BatchSize,
			PollInterval: cfg.PollInterval,
			BatchDelay:   cfg.BatchDelay,
			SafetyMargin: cfg.BatchSafetyMargin,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		},
	}, client, ledger, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service = service

	logger.Info("indexer configured",
		zap.String("node", cfg.NodeURL),
		zap.String("program", service.Program()),
		zap.String("store", cfg.Store),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("poll_interval", cfg.PollInterval))
	return a, nil
}

func (a *app) openLedger(ctx context.Context) (storage.Ledger, error) {
	switch a.cfg.Store {
	case config.StoreMemory:
		a.logger.Warn("using in-memory ledger; state is lost on exit")
		return memory.NewLedger(), nil
	default:
		store, err := postgres.NewStore(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.ping = store.Ping
		return store, nil
	}
}

// serveOps starts the ops server when an address is configured.
func (a *app) serveOps() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	a.server = &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("ops server listening", zap.String("addr", a.cfg.MetricsAddr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("ops server failed", zap.Error(err))
		}
	}()
}

type statusResponse struct {
	Program string  `json:"program"`
	Running bool    `json:"running"`
	Cursor  *uint64 `json:"cursor,omitempty"`
}

func (a *app) router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", a.metrics.Handler()).Methods("GET")
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if a.ping != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := a.ping(ctx); err != nil {
				http.Error(w, "ledger unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})).Methods("GET")
	r.Handle("/status", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := statusResponse{Program: a.service.Program(), Running: a.service.IsRunning()}
		if v, ok := a.service.Cursor(); ok {
			resp.Cursor = &v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})).Methods("GET")
	return r
}

// Close shuts down the ops server and releases connections in reverse order.
func (a *app) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
