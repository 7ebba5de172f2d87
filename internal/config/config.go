// Package config reads the runtime configuration of the bloodledger binaries
// from environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	"bloodledger/pkg/domain"
)

// Environment variables read by Load.
const (
	EnvLogLevel          = "BLOODLEDGER_LOG_LEVEL"
	EnvLogFormat         = "BLOODLEDGER_LOG_FORMAT"
	EnvDefaultOwner      = "BLOODLEDGER_DEFAULT_OWNER"
	EnvRedisAddr         = "BLOODLEDGER_REDIS_ADDR"
	EnvRedisPassword     = "BLOODLEDGER_REDIS_PASSWORD"
	EnvRedisDB           = "BLOODLEDGER_REDIS_DB"
	EnvRelayEnabled      = "BLOODLEDGER_RELAY_ENABLED"
	EnvRelayQueue        = "BLOODLEDGER_RELAY_QUEUE"
	EnvWorkerConcurrency = "BLOODLEDGER_WORKER_CONCURRENCY"
	EnvMetricsAddr       = "BLOODLEDGER_METRICS_ADDR"
	EnvMetricsTextfile   = "BLOODLEDGER_METRICS_TEXTFILE"
)

// Log output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const (
	defaultRedisAddr         = "127.0.0.1:6379"
	defaultRelayQueue        = "ledger-events"
	defaultWorkerConcurrency = 4
	defaultMetricsAddr       = ":9464"
)

// Config is the runtime configuration shared by the CLI and the worker.
type Config struct {
	LogLevel          slog.Level
	LogFormat         string
	DefaultOwner      string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RelayEnabled      bool
	RelayQueue        string
	WorkerConcurrency int
	MetricsAddr       string
	// MetricsTextfile, when set, receives the CLI's operation metrics in the
	// Prometheus text format when the command exits.
	MetricsTextfile string
}

// Load reads configuration from environment variables, falling back to
// defaults for unset ones. Values that are set but unparsable are errors.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:          slog.LevelInfo,
		LogFormat:         readEnv(EnvLogFormat, FormatText),
		DefaultOwner:      readEnv(EnvDefaultOwner, domain.DefaultOwner),
		RedisAddr:         readEnv(EnvRedisAddr, defaultRedisAddr),
		RedisPassword:     os.Getenv(EnvRedisPassword),
		RelayQueue:        readEnv(EnvRelayQueue, defaultRelayQueue),
		WorkerConcurrency: defaultWorkerConcurrency,
		MetricsAddr:       readEnv(EnvMetricsAddr, defaultMetricsAddr),
		MetricsTextfile:   os.Getenv(EnvMetricsTextfile),
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
	}
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat != FormatText && cfg.LogFormat != FormatJSON {
		return nil, fmt.Errorf("%s: unknown format %q", EnvLogFormat, cfg.LogFormat)
	}
	var err error
	if cfg.RedisDB, err = parseInt(EnvRedisDB, 0); err != nil {
		return nil, err
	}
	if cfg.RelayEnabled, err = parseBool(EnvRelayEnabled, false); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = parseInt(EnvWorkerConcurrency, cfg.WorkerConcurrency); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultWorkerConcurrency
	}
	return cfg, nil
}

// NewLogger builds the slog logger described by the configuration.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// RedisOpt returns the asynq connection options for the relay broker.
func (c *Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func parseBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}
