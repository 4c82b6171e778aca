package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	backendSQLite    = "sqlite"
	backendKurrentDB = "kurrentdb"
)

// config is read from ESE_* environment variables.
type config struct {
	Backend        string        `env:"BACKEND" envDefault:"sqlite"`
	SQLitePath     string        `env:"SQLITE_PATH" envDefault:"events.db"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	KurrentDBURL   string        `env:"KURRENTDB_URL"`
	SubscriptionID string        `env:"SUBSCRIPTION_ID" envDefault:"subscriber"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	OTelEndpoint   string        `env:"OTEL_ENDPOINT"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ESE_"}); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	switch cfg.Backend {
	case backendSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return config{}, fmt.Errorf("ESE_SQLITE_PATH is required for the sqlite backend")
		}
	case backendKurrentDB:
		if strings.TrimSpace(cfg.KurrentDBURL) == "" {
			return config{}, fmt.Errorf("ESE_KURRENTDB_URL is required for the kurrentdb backend")
		}
	default:
		return config{}, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if strings.TrimSpace(cfg.SubscriptionID) == "" {
		return config{}, fmt.Errorf("ESE_SUBSCRIPTION_ID must not be empty")
	}
	if _, err := cfg.level(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid ESE_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}
