package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"curveScope/internal/metrics"
	"curveScope/internal/notify"
	"curveScope/internal/storage"
)

// Defaults.
const (
	DefaultPollInterval        = 2 * time.Second
	DefaultBatchSize           = 100
	DefaultBatchDelay          = time.Second
	DefaultSafetyMargin        = 10 * time.Second
	DefaultRecentWindow        = time.Hour
	DefaultHeadMargin          = 100
	DefaultGraduationThreshold = 2_150_000_000_000 // octas
	DefaultTradingFeeBps       = 100
	DefaultMaxRetries          = 3
	DefaultRetryBackoff        = 500 * time.Millisecond
)

// Config configures a Service.
type Config struct {
	ProgramAddress      string
	Namespaces          []string
	GraduationThreshold *big.Int
	TradingFeeBps       uint64
	RecentWindow        time.Duration
	HeadMargin          uint64
	Run                 RunConfig
}

func (c Config) withDefaults() Config {
	if c.GraduationThreshold == nil {
		c.GraduationThreshold = new(big.Int).SetUint64(DefaultGraduationThreshold)
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = DefaultRecentWindow
	}
	if c.Run.BatchSize <= 0 {
		c.Run.BatchSize = DefaultBatchSize
	}
	if c.Run.PollInterval <= 0 {
		c.Run.PollInterval = DefaultPollInterval
	}
	if c.Run.BatchDelay < 0 {
		c.Run.BatchDelay = DefaultBatchDelay
	}
	if c.Run.SafetyMargin < 0 {
		c.Run.SafetyMargin = DefaultSafetyMargin
	}
	if c.Run.RetryBackoff <= 0 {
		c.Run.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// StartOptions controls one run. A nil FromVersion resumes from recent
// activity; a zero MaxDuration runs until Stop. Resume continues from the
// cursor of the previous run on this Service, when there was one.
type StartOptions struct {
	FromVersion *uint64
	MaxDuration time.Duration
	Resume      bool
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithArchive(a TradeArchive) Option {
	return func(s *Service) { s.archive = a }
}

// WithClock overrides the wall clock used for the recent-activity window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns the indexing lifecycle: cursor initialization, the loop
// goroutine and cooperative shutdown.
type Service struct {
	cfg        Config
	client     LedgerClient
	ledger     storage.Ledger
	classifier *Classifier
	dispatcher *Dispatcher

	archive  TradeArchive
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	cursor  *Cursor
}

// NewService validates cfg and wires the pipeline.
func NewService(cfg Config, client LedgerClient, ledger storage.Ledger, opts ...Option) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	cfg = cfg.withDefaults()

	classifier, err := NewClassifier(cfg.ProgramAddress, cfg.Namespaces)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		client:     client,
		ledger:     ledger,
		classifier: classifier,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	s.dispatcher = NewDispatcher(DispatcherConfig{
		GraduationThreshold: cfg.GraduationThreshold,
		TradingFeeBps:       cfg.TradingFeeBps,
	}, classifier.Program(), ledger, s.archive, s.notifier, s.metrics, s.logger)
	s.dispatcher.now = s.now

	return s, nil
}

// Start initializes the cursor and launches the loop in the background.
// Calling Start while a run is active logs and returns nil.
func (s *Service) Start(ctx context.Context, opts StartOptions) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("indexer already running, ignoring start")
		return nil
	}
	s.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	var previous *Cursor
	if opts.Resume {
		previous = s.cursor
	}
	s.mu.Unlock()

	version, strategy, err := ResolveStart(ctx, s.logger,
		ExplicitStart(opts.FromVersion),
		ResumePrevious(previous),
		ResumeFromRecentTrade(s.ledger, s.client, s.cfg.RecentWindow, s.now),
		HeadMinusMargin(s.client, s.cfg.HeadMargin),
	)
	if err != nil {
		s.finish(done)
		return err
	}

	cursor := NewCursor(version)
	s.mu.Lock()
	s.cursor = cursor
	s.mu.Unlock()

	runner := NewRunner(s.cfg.Run, s.client, s.classifier, s.dispatcher, cursor, s.metrics, s.logger)
	s.metrics.SetRunning(true)
	s.metrics.SetCursor(version)
	s.logger.Info("indexer started",
		zap.String("program", s.classifier.Program()),
		zap.String("strategy", strategy),
		zap.Uint64("cursor", version),
		zap.Duration("max_duration", opts.MaxDuration))

	go func() {
		defer s.finish(done)
		if opts.MaxDuration > 0 {
			runner.Batch(ctx, stop, opts.MaxDuration)
			return
		}
		runner.Loop(ctx, stop)
	}()
	return nil
}

func (s *Service) finish(done chan struct{}) {
	s.mu.Lock()
	s.running = false
	s.stop = nil
	s.mu.Unlock()
	s.metrics.SetRunning(false)
	close(done)
	s.logger.Info("indexer stopped")
}

// Stop asks the loop to exit after the in-flight cycle. Safe to call repeatedly.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
}

// Wait blocks until the current run, if any, has exited.
func (s *Service) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Cursor returns the last examined version of the most recent run.
func (s *Service) Cursor() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return 0, false
	}
	return s.cursor.Version(), true
}

// Program returns the normalized program address being indexed.
func (s *Service) Program() string {
	return s.classifier.Program()
}
