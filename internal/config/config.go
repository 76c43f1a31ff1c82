// Package config defines service configuration structures and loading hooks.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects memory or postgres persistence.
	StoreDriver string `koanf:"store_driver"`
	PostgresDSN string `koanf:"postgres_dsn"`

	// RedisAddr enables the shared generation lock when set.
	RedisAddr string `koanf:"redis_addr"`

	// AnalyticsSQLitePath enables the analytics export when set.
	AnalyticsSQLitePath string `koanf:"analytics_sqlite_path"`

	// RubricFile seeds rubrics at startup when set.
	RubricFile string `koanf:"rubric_file"`

	// OutboxQueueSize bounds the in-memory delivery queue.
	OutboxQueueSize int `koanf:"outbox_queue_size"`
	// WorkerCount sets the number of delivery workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the delivered event id cache.
	DedupeSize int `koanf:"dedupe_size"`

	OutboxBatchSize    int `koanf:"outbox_batch_size"`
	OutboxIntervalMS   int `koanf:"outbox_interval_ms"`
	ReminderIntervalMS int `koanf:"reminder_interval_ms"`

	// DefaultCoverageMin applies to rounds that never recorded constraints.
	DefaultCoverageMin int `koanf:"default_coverage_min"`
	// BiasThreshold flags judges whose mean deviation from peers exceeds it.
	BiasThreshold float64 `koanf:"bias_threshold"`

	NormalizationMethod  string `koanf:"normalization_method"`
	NormalizationRetries int    `koanf:"normalization_retries"`

	// OTelEndpoint enables tracing export when set.
	OTelEndpoint string `koanf:"otel_endpoint"`
	ServiceName  string `koanf:"service_name"`
}

// New returns a Config holding the defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		StoreDriver:          DriverMemory,
		OutboxQueueSize:      10_000,
		WorkerCount:          runtime.NumCPU(),
		DedupeSize:           100_000,
		OutboxBatchSize:      100,
		OutboxIntervalMS:     250,
		ReminderIntervalMS:   0,
		DefaultCoverageMin:   1,
		BiasThreshold:        1.0,
		NormalizationMethod:  "zscore",
		NormalizationRetries: 3,
		ServiceName:          "hackops-judging",
	}
}

// OutboxInterval is the relay poll period.
func (c *Config) OutboxInterval() time.Duration {
	return time.Duration(c.OutboxIntervalMS) * time.Millisecond
}

// ReminderInterval is the reminder sweep period; zero disables it.
func (c *Config) ReminderInterval() time.Duration {
	return time.Duration(c.ReminderIntervalMS) * time.Millisecond
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverPostgres:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == DriverPostgres && c.PostgresDSN == "":
		return fmt.Errorf("%w: postgres_dsn is required for the postgres driver", ErrInvalidConfig)
	case c.NormalizationMethod != "zscore" && c.NormalizationMethod != "raw":
		return fmt.Errorf("%w: unknown normalization_method %q", ErrInvalidConfig, c.NormalizationMethod)
	case c.NormalizationRetries < 1:
		return fmt.Errorf("%w: normalization_retries must be at least 1", ErrInvalidConfig)
	case c.OutboxQueueSize <= 0 || c.WorkerCount <= 0 || c.DedupeSize <= 0 || c.OutboxBatchSize <= 0:
		return fmt.Errorf("%w: queue, worker, dedupe and batch sizes must be positive", ErrInvalidConfig)
	case c.OutboxIntervalMS <= 0:
		return fmt.Errorf("%w: outbox_interval_ms must be positive", ErrInvalidConfig)
	case c.ReminderIntervalMS < 0:
		return fmt.Errorf("%w: reminder_interval_ms must not be negative", ErrInvalidConfig)
	case c.DefaultCoverageMin < 1:
		return fmt.Errorf("%w: default_coverage_min must be at least 1", ErrInvalidConfig)
	case c.BiasThreshold < 0:
		return fmt.Errorf("%w: bias_threshold must not be negative", ErrInvalidConfig)
	}
	return nil
}
