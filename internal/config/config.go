// Package config loads the engine's runtime configuration. Pricing rates
// and minimums are not configurable; see amm.DefaultParams.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Lock       LockConfig       `mapstructure:"lock"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Settlement SettlementConfig `mapstructure:"settlement"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// DatabaseConfig selects PostgreSQL. An empty URL runs on the in-memory
// store, which does not persist.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig enables the read-through cache and, with lock.backend
// "redis", the distributed pool lock.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LockConfig struct {
	Backend string        `mapstructure:"backend"` // local or redis
	TTL     time.Duration `mapstructure:"ttl"`
	Wait    time.Duration `mapstructure:"wait"`
}

// KafkaConfig enables trade-event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type SettlementConfig struct {
	StoreTimeout   time.Duration `mapstructure:"store_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	UnwindAttempts uint          `mapstructure:"unwind_attempts"`
	UnwindBackoff  time.Duration `mapstructure:"unwind_backoff"`
}

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("lock.backend redis requires redis.url"))
		}
		if c.Lock.TTL <= 0 {
			errs = append(errs, errors.New("lock.ttl must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend must be %q or %q, got %q", LockLocal, LockRedis, c.Lock.Backend))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when kafka.brokers is set"))
	}
	if c.Settlement.StoreTimeout <= 0 {
		errs = append(errs, errors.New("settlement.store_timeout must be positive"))
	}
	if c.Settlement.MaxRetries < 0 {
		errs = append(errs, errors.New("settlement.max_retries must not be negative"))
	}
	if c.Settlement.UnwindAttempts == 0 {
		errs = append(errs, errors.New("settlement.unwind_attempts must be at least 1"))
	}

	return errors.Join(errs...)
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", l.Level)
}
