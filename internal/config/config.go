package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Ledger backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	NodeURL        string
	ProgramAddress string
	Namespaces     []string

	Store         string
	PostgresDSN   string
	ClickHouseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	MetricsAddr string

	PollInterval      time.Duration
	BatchSize         int
	BatchDelay        time.Duration
	BatchSafetyMargin time.Duration
	MaxDuration       time.Duration
	FromVersion       *uint64

	RecentWindow        time.Duration
	HeadMargin          uint64
	GraduationThreshold *big.Int
	TradingFeeBps       uint64

	MaxRetries    int
	RetryBackoff  time.Duration
	LedgerTimeout time.Duration

	Schedule string
	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
// Environment variables use the CURVESCOPE_ prefix, e.g. CURVESCOPE_NODE_URL.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CURVESCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("node-url", "https://fullnode.mainnet.aptoslabs.com")
	v.SetDefault("store", StorePostgres)
	v.SetDefault("redis-channel", "curvescope:events")
	v.SetDefault("poll-interval", 2*time.Second)
	v.SetDefault("batch-size", 100)
	v.SetDefault("batch-delay", time.Second)
	v.SetDefault("batch-safety-margin", 10*time.Second)
	v.SetDefault("recent-window", time.Hour)
	v.SetDefault("head-margin", uint64(100))
	v.SetDefault("graduation-threshold", "2150000000000")
	v.SetDefault("trading-fee-bps", uint64(100))
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("ledger-timeout", 30*time.Second)
	v.SetDefault("schedule", "0 */5 * * * *")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	threshold, ok := new(big.Int).SetString(strings.TrimSpace(v.GetString("graduation-threshold")), 10)
	if !ok {
		return Config{}, fmt.Errorf("graduation-threshold: invalid integer %q", v.GetString("graduation-threshold"))
	}

	cfg := Config{
		NodeURL:             v.GetString("node-url"),
		ProgramAddress:      v.GetString("program-address"),
		Namespaces:          getStringSlice(v, "namespaces"),
		Store:               strings.ToLower(v.GetString("store")),
		PostgresDSN:         v.GetString("pg-dsn"),
		ClickHouseDSN:       v.GetString("clickhouse-dsn"),
		RedisAddr:           v.GetString("redis-addr"),
		RedisPassword:       v.GetString("redis-password"),
		RedisDB:             v.GetInt("redis-db"),
		RedisChannel:        v.GetString("redis-channel"),
		MetricsAddr:         v.GetString("metrics-addr"),
		PollInterval:        v.GetDuration("poll-interval"),
		BatchSize:           v.GetInt("batch-size"),
		BatchDelay:          v.GetDuration("batch-delay"),
		BatchSafetyMargin:   v.GetDuration("batch-safety-margin"),
		MaxDuration:         v.GetDuration("max-duration"),
		RecentWindow:        v.GetDuration("recent-window"),
		HeadMargin:          v.GetUint64("head-margin"),
		GraduationThreshold: threshold,
		TradingFeeBps:       v.GetUint64("trading-fee-bps"),
		MaxRetries:          v.GetInt("max-retries"),
		RetryBackoff:        v.GetDuration("retry-backoff"),
		LedgerTimeout:       v.GetDuration("ledger-timeout"),
		Schedule:            v.GetString("schedule"),
		LogLevel:            v.GetString("log-level"),
	}
	if v.IsSet("from-version") {
		from := v.GetUint64("from-version")
		cfg.FromVersion = &from
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.NodeURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("node-url: must be an http(s) URL, got %q", c.NodeURL))
	}
	if strings.TrimSpace(c.ProgramAddress) == "" {
		errs = append(errs, errors.New("program-address: required"))
	}
	switch c.Store {
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("pg-dsn: required when store is postgres"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("store: unknown backend %q", c.Store))
	}
	if c.BatchSize <= 0 || c.BatchSize > 100 {
		errs = append(errs, fmt.Errorf("batch-size: must be within 1..100, got %d", c.BatchSize))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll-interval: must be positive"))
	}
	if c.BatchDelay < 0 || c.BatchSafetyMargin < 0 || c.MaxDuration < 0 {
		errs = append(errs, errors.New("batch durations must not be negative"))
	}
	if c.GraduationThreshold == nil || c.GraduationThreshold.Sign() <= 0 {
		errs = append(errs, errors.New("graduation-threshold: must be positive"))
	}
	if c.TradingFeeBps > 10_000 {
		errs = append(errs, fmt.Errorf("trading-fee-bps: must be at most 10000, got %d", c.TradingFeeBps))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max-retries: must not be negative"))
	}

	return errors.Join(errs...)
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
