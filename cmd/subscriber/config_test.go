package main

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != backendSQLite || cfg.SQLitePath != "events.db" || cfg.SubscriptionID != "subscriber" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms poll interval, got %s", cfg.PollInterval)
	}
	if level, _ := cfg.level(); level != slog.LevelInfo {
		t.Errorf("expected info level, got %s", level)
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("ESE_BACKEND", "KurrentDB")
	t.Setenv("ESE_KURRENTDB_URL", "kurrentdb://localhost:2113?tls=false")
	t.Setenv("ESE_SUBSCRIPTION_ID", "orders-projection")
	t.Setenv("ESE_LOG_LEVEL", "debug")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != backendKurrentDB || cfg.SubscriptionID != "orders-projection" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if level, _ := cfg.level(); level != slog.LevelDebug {
		t.Errorf("expected debug level, got %s", level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"ESE_BACKEND": "postgres"}},
		{"kurrentdb without url", map[string]string{"ESE_BACKEND": "kurrentdb"}},
		{"empty subscription", map[string]string{"ESE_SUBSCRIPTION_ID": " "}},
		{"bad level", map[string]string{"ESE_LOG_LEVEL": "loud"}},
		{"bad poll interval", map[string]string{"ESE_POLL_INTERVAL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
