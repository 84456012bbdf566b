package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Room != "admin" || cfg.SessionBuffer != 64 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.LeaseDuration != 5*time.Minute || cfg.MaxLease != time.Hour || cfg.SweepInterval != 30*time.Second {
		t.Fatalf("unexpected lease defaults %+v", cfg)
	}
	if cfg.CacheMaxBytes != 8<<20 || cfg.CacheTTL != 10*time.Minute {
		t.Fatalf("unexpected cache defaults %+v", cfg)
	}
	if cfg.NATSSubject != "editlock.events" || cfg.KafkaTopic != "editlock-events" {
		t.Fatalf("unexpected relay defaults %+v", cfg)
	}
	if cfg.Production() {
		t.Fatal("default env should not be production")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EDITLOCK_ENV", "production")
	t.Setenv("EDITLOCK_LOG_LEVEL", "debug")
	t.Setenv("EDITLOCK_LEASE_DURATION", "2m")
	t.Setenv("EDITLOCK_SWEEP_INTERVAL", "0s")
	t.Setenv("EDITLOCK_REDIS_ADDR", "localhost:6379")
	t.Setenv("EDITLOCK_REDIS_DB", "2")
	t.Setenv("EDITLOCK_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("EDITLOCK_TRACE_STDOUT", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Production() || cfg.LeaseDuration != 2*time.Minute || cfg.SweepInterval != 0 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 2 {
		t.Fatalf("unexpected redis config %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if !cfg.TraceStdout {
		t.Fatal("expected trace stdout enabled")
	}
	if l, _ := cfg.Level(); l != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", l)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("EDITLOCK_LEASE_DURATION", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			LogLevel:      "info",
			LeaseDuration: 5 * time.Minute,
			MaxLease:      time.Hour,
			SweepInterval: 30 * time.Second,
			Room:          "admin",
			SessionBuffer: 64,
			CacheMaxBytes: 8 << 20,
			CacheTTL:      10 * time.Minute,
		}
	}
	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"zero lease":     func(c *Config) { c.LeaseDuration = 0 },
		"max below":      func(c *Config) { c.MaxLease = time.Minute },
		"negative sweep": func(c *Config) { c.SweepInterval = -time.Second },
		"empty room":     func(c *Config) { c.Room = " " },
		"zero buffer":    func(c *Config) { c.SessionBuffer = 0 },
		"bad level":      func(c *Config) { c.LogLevel = "loud" },
		"zero cache":     func(c *Config) { c.CacheMaxBytes = 0 },
		"zero cache ttl": func(c *Config) { c.CacheTTL = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
