package config

import (
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("expected listen address %q, got %q", DefaultListenAddress, cfg.Server.ListenAddress)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Cache.TTL != 30*24*time.Hour {
		t.Errorf("expected 30 day ttl, got %v", cfg.Cache.TTL)
	}
	if !BoolValue(cfg.Cache.RecordHits, false) {
		t.Error("expected record_hits enabled by default")
	}
	if cfg.Cache.SimilarityThresholds == nil {
		t.Error("expected non-nil similarity thresholds map")
	}
	if len(cfg.Cache.SimilarityThresholds) != 0 {
		t.Error("expected no similarity threshold defaults")
	}

	d := cfg.Budget.Defaults
	if d.MonthlyBudgetCents != 10000 {
		t.Errorf("expected default budget 10000, got %d", d.MonthlyBudgetCents)
	}
	if !*d.AlertAt75 || !*d.AlertAt90 || *d.AutoPauseAt100 {
		t.Errorf("unexpected default alert flags: 75=%v 90=%v pause=%v", *d.AlertAt75, *d.AlertAt90, *d.AutoPauseAt100)
	}

	if err := Validate(&cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := Config{Budget: BudgetConfig{Defaults: FirmBudgetConfig{AutoPauseAt100: Bool(true)}}}
	ApplyDefaults(&cfg)
	ApplyDefaults(&cfg)

	if !*cfg.Budget.Defaults.AutoPauseAt100 {
		t.Error("explicit auto pause should survive defaults")
	}
}

func TestFirmBudget(t *testing.T) {
	cfg := Config{Budget: BudgetConfig{
		Firms: map[string]FirmBudgetConfig{
			"firm-a":   {MonthlyBudgetCents: 2500},
			"firm-off": {MonthlyBudgetCents: -1, AlertAt75: Bool(false)},
		},
	}}
	ApplyDefaults(&cfg)

	tests := []struct {
		firm   string
		budget int64
		at75   bool
	}{
		{"firm-a", 2500, true},
		{"firm-off", -1, false},
		{"firm-unknown", 10000, true},
	}

	for _, tt := range tests {
		t.Run(tt.firm, func(t *testing.T) {
			got := cfg.Budget.FirmBudget(tt.firm)
			if got.MonthlyBudgetCents != tt.budget {
				t.Errorf("Expected budget %d, got %d", tt.budget, got.MonthlyBudgetCents)
			}
			if *got.AlertAt75 != tt.at75 {
				t.Errorf("Expected alert_at_75 %v, got %v", tt.at75, *got.AlertAt75)
			}
		})
	}
}
