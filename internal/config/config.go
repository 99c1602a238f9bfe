// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"regexp"
	"runtime"
	"slices"
	"time"

	"github.com/okian/installmatch/internal/domain/matching"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
	"github.com/okian/installmatch/pkg/backoff"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config contains process configuration.
type Config struct {
	Log LogConfig `koanf:"log"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	Storage  StorageConfig  `koanf:"storage"`
	Events   EventsConfig   `koanf:"events"`
	Dispatch DispatchConfig `koanf:"dispatch"`

	// Matching holds the defaults applied when a match request omits them.
	Matching matching.Options `koanf:"matching"`
	Pricing  pricing.Config   `koanf:"pricing"`
	Tiers    tier.Profile     `koanf:"tiers"`

	// MetricsInterval sets how often system and repository gauges refresh.
	MetricsInterval time.Duration `koanf:"metrics_interval"`
	Metrics         MetricsConfig `koanf:"metrics"`
}

// MetricsConfig shapes the exported Prometheus series.
type MetricsConfig struct {
	// Prefix is prepended to every metric name, e.g. "ops_".
	Prefix string `koanf:"prefix"`
	// Labels are constant labels attached to every series.
	Labels map[string]string `koanf:"labels"`
	// Buckets override the latency histogram buckets, in milliseconds.
	Buckets []float64 `koanf:"buckets"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	// Level controls verbosity: debug, info, warn, error.
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	Backend string `koanf:"backend"`

	PostgresDSN string `koanf:"postgres_dsn"`
	MaxConns    int32  `koanf:"max_conns"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix"`
}

// EventsConfig sizes the asynchronous event delivery path.
type EventsConfig struct {
	// QueueSize bounds the in-memory event queue.
	QueueSize int `koanf:"queue_size"`

	// Workers sets the number of delivery workers.
	Workers int `koanf:"workers"`

	// DedupeWindow is how many event IDs are remembered; zero never forgets.
	DedupeWindow int `koanf:"dedupe_window"`

	// Retries per sink before a delivery is given up.
	Retries int `koanf:"retries"`

	// Stream, when set and the storage backend is redis, also appends events
	// to this Redis stream.
	Stream       string `koanf:"stream"`
	StreamMaxLen int64  `koanf:"stream_max_len"`
}

// DispatchConfig tunes compare-and-swap retries in the state machine.
type DispatchConfig struct {
	MaxAttempts    int           `koanf:"max_attempts"`
	Backoff        string        `koanf:"backoff"`
	BackoffInitial time.Duration `koanf:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
}

// Strategy builds the configured backoff strategy.
func (d DispatchConfig) Strategy() (backoff.Strategy, error) {
	s, err := backoff.New(d.Backoff, d.BackoffInitial, d.BackoffMax)
	if err != nil {
		return nil, fmt.Errorf("%w: dispatch.backoff: %w", ErrInvalidConfig, err)
	}
	return s, nil
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		Log:  LogConfig{Level: "info", Format: "text"},
		Addr: ":9080",
		Storage: StorageConfig{
			Backend:   BackendMemory,
			MaxConns:  10,
			KeyPrefix: "installmatch:",
		},
		Events: EventsConfig{
			QueueSize:    10_000,
			Workers:      runtime.NumCPU(),
			DedupeWindow: 50_000,
			Retries:      2,
			StreamMaxLen: 100_000,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:    5,
			Backoff:        backoff.KindJitter,
			BackoffInitial: 5 * time.Millisecond,
			BackoffMax:     100 * time.Millisecond,
		},
		Matching:        matching.DefaultOptions(),
		Pricing:         pricing.DefaultConfig(),
		Tiers:           tier.DefaultProfile(),
		MetricsInterval: 10 * time.Second,
	}
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
	metricName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Validate rejects malformed values. Nothing is clamped.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.Events.QueueSize < 1 {
		return fmt.Errorf("%w: events.queue_size must be positive", ErrInvalidConfig)
	}
	if c.Events.Workers < 0 || c.Events.DedupeWindow < 0 || c.Events.Retries < 0 {
		return fmt.Errorf("%w: events sizes must not be negative", ErrInvalidConfig)
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("%w: dispatch.max_attempts must be at least 1", ErrInvalidConfig)
	}
	if _, err := c.Dispatch.Strategy(); err != nil {
		return err
	}
	if c.MetricsInterval <= 0 {
		return fmt.Errorf("%w: metrics_interval must be positive", ErrInvalidConfig)
	}
	if err := c.Metrics.validate(); err != nil {
		return err
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	if err := c.Pricing.Validate(); err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	if err := c.Tiers.Validate(); err != nil {
		return fmt.Errorf("tiers: %w", err)
	}
	return nil
}

func (m MetricsConfig) validate() error {
	if m.Prefix != "" && !metricName.MatchString(m.Prefix) {
		return fmt.Errorf("%w: metrics.prefix %q", ErrInvalidConfig, m.Prefix)
	}
	for k := range m.Labels {
		if !metricName.MatchString(k) {
			return fmt.Errorf("%w: metrics.labels key %q", ErrInvalidConfig, k)
		}
	}
	for i := 1; i < len(m.Buckets); i++ {
		if m.Buckets[i] <= m.Buckets[i-1] {
			return fmt.Errorf("%w: metrics.buckets must be strictly increasing", ErrInvalidConfig)
		}
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case BackendMemory:
	case BackendPostgres:
		if s.PostgresDSN == "" {
			return fmt.Errorf("%w: storage.postgres_dsn required for postgres", ErrInvalidConfig)
		}
		if s.MaxConns < 1 {
			return fmt.Errorf("%w: storage.max_conns must be positive", ErrInvalidConfig)
		}
	case BackendRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("%w: storage.redis_addr required for redis", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: storage.backend %q", ErrInvalidConfig, s.Backend)
	}
	return nil
}
