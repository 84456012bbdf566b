// Package config loads server settings from EDITLOCK_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name.
const Prefix = "editlock"

type Config struct {
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	LeaseDuration time.Duration `envconfig:"LEASE_DURATION" default:"5m"`
	MaxLease      time.Duration `envconfig:"MAX_LEASE" default:"1h"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
	Room          string        `envconfig:"ROOM" default:"admin"`
	SessionBuffer int           `envconfig:"SESSION_BUFFER" default:"64"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	SeedFile      string `envconfig:"SEED_FILE"`

	CacheMaxBytes int64         `envconfig:"CACHE_MAX_BYTES" default:"8388608"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"10m"`

	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"editlock.events"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"editlock-events"`

	TraceStdout bool `envconfig:"TRACE_STDOUT" default:"false"`
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("EDITLOCK_LEASE_DURATION must be positive, got %s", c.LeaseDuration)
	}
	if c.MaxLease < c.LeaseDuration {
		return fmt.Errorf("EDITLOCK_MAX_LEASE (%s) must not be below EDITLOCK_LEASE_DURATION (%s)", c.MaxLease, c.LeaseDuration)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("EDITLOCK_SWEEP_INTERVAL must not be negative")
	}
	if strings.TrimSpace(c.Room) == "" {
		return fmt.Errorf("EDITLOCK_ROOM is required")
	}
	if c.SessionBuffer < 1 {
		return fmt.Errorf("EDITLOCK_SESSION_BUFFER must be at least 1")
	}
	if c.CacheMaxBytes <= 0 {
		return fmt.Errorf("EDITLOCK_CACHE_MAX_BYTES must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("EDITLOCK_CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid EDITLOCK_LOG_LEVEL: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	return l, nil
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool { return c.Env == "production" }
