package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "costplane.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9000"
  read_timeout: "60s"

storage:
  backend: sqlite
  sqlite:
    cache_path: /tmp/c.db
    ledger_path: /tmp/l.db

cache:
  ttl: 48h
  similarity_thresholds:
    summarization: 0.95

budget:
  timezone: America/New_York
  firms:
    firm-acme:
      monthly_budget_cents: 50000
      auto_pause_at_100: true

telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:9000", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 60*time.Second {
		t.Errorf("expected read timeout %v, got %v", 60*time.Second, cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("expected backend sqlite, got %q", cfg.Storage.Backend)
	}
	if cfg.Cache.TTL != 48*time.Hour {
		t.Errorf("expected ttl 48h, got %v", cfg.Cache.TTL)
	}
	if got := cfg.Cache.SimilarityThresholds["summarization"]; got != 0.95 {
		t.Errorf("expected summarization threshold 0.95, got %v", got)
	}
	if cfg.Budget.Location().String() != "America/New_York" {
		t.Errorf("expected America/New_York location, got %s", cfg.Budget.Location())
	}

	acme := cfg.Budget.FirmBudget("firm-acme")
	if acme.MonthlyBudgetCents != 50000 {
		t.Errorf("expected acme budget 50000, got %d", acme.MonthlyBudgetCents)
	}
	if !BoolValue(acme.AutoPauseAt100, false) {
		t.Error("expected acme auto pause enabled")
	}
	if !BoolValue(acme.AlertAt90, false) {
		t.Error("expected acme to inherit alert_at_90 from defaults")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: cassandra
`)
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if verr.Errors[0].Field != "storage.backend" {
		t.Errorf("expected storage.backend field error, got %q", verr.Errors[0].Field)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: memory
`)

	t.Setenv("COSTPLANE_SERVER_LISTEN_ADDRESS", "127.0.0.1:7777")
	t.Setenv("COSTPLANE_STORAGE_BACKEND", "postgres")
	t.Setenv("COSTPLANE_STORAGE_POSTGRES_DSN", "postgres://localhost/costplane")
	t.Setenv("COSTPLANE_INFLIGHT_WAIT_TIMEOUT", "5s")
	t.Setenv("COSTPLANE_BUDGET_FAIL_CLOSED", "true")
	t.Setenv("COSTPLANE_TELEMETRY_METRICS_ENABLED", "false")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:7777" {
		t.Errorf("expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("expected postgres backend, got %q", cfg.Storage.Backend)
	}
	if cfg.InFlight.WaitTimeout != 5*time.Second {
		t.Errorf("expected wait timeout 5s, got %v", cfg.InFlight.WaitTimeout)
	}
	if !cfg.Budget.FailClosed {
		t.Error("expected fail closed from env")
	}
	if BoolValue(cfg.Telemetry.Metrics.Enabled, true) {
		t.Error("expected metrics disabled from env")
	}
}

func TestLoadConfigWithEnvOverrides_RevalidatesOverrides(t *testing.T) {
	path := writeConfig(t, "{}")
	t.Setenv("COSTPLANE_STORAGE_BACKEND", "postgres")

	if _, err := LoadConfigWithEnvOverrides(path); err == nil {
		t.Fatal("expected validation error for postgres without dsn")
	}
}
