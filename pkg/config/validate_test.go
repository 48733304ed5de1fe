package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{
			name:   "bad listen address",
			modify: func(c *Config) { c.Server.ListenAddress = "localhost" },
			field:  "server.listen_address",
		},
		{
			name:   "unknown storage backend",
			modify: func(c *Config) { c.Storage.Backend = "mongo" },
			field:  "storage.backend",
		},
		{
			name: "sqlite shared path",
			modify: func(c *Config) {
				c.Storage.Backend = "sqlite"
				c.Storage.SQLite.LedgerPath = c.Storage.SQLite.CachePath
			},
			field: "storage.sqlite.ledger_path",
		},
		{
			name:   "postgres without dsn",
			modify: func(c *Config) { c.Storage.Backend = "postgres" },
			field:  "storage.postgres.dsn",
		},
		{
			name:   "threshold above one",
			modify: func(c *Config) { c.Cache.SimilarityThresholds["summarization"] = 1.2 },
			field:  "cache.similarity_thresholds.summarization",
		},
		{
			name:   "zero threshold",
			modify: func(c *Config) { c.Cache.SimilarityThresholds["classification"] = 0 },
			field:  "cache.similarity_thresholds.classification",
		},
		{
			name:   "redis without url",
			modify: func(c *Config) { c.InFlight.Backend = "redis" },
			field:  "inflight.redis_url",
		},
		{
			name:   "wait longer than lease",
			modify: func(c *Config) { c.InFlight.WaitTimeout = 2 * c.InFlight.LeaseTTL },
			field:  "inflight.wait_timeout",
		},
		{
			name:   "bad timezone",
			modify: func(c *Config) { c.Budget.Timezone = "Mars/Olympus_Mons" },
			field:  "budget.timezone",
		},
		{
			name: "wildcard subject",
			modify: func(c *Config) {
				c.Alerts.NATS.Enabled = true
				c.Alerts.NATS.Subject = "alerts.>"
			},
			field: "alerts.nats.subject",
		},
		{
			name:   "negative price",
			modify: func(c *Config) { c.Pricing.Models = map[string]ModelPriceConfig{"gpt-4o": {Input: -1}} },
			field:  "pricing.models.gpt-4o",
		},
		{
			name:   "bad cron",
			modify: func(c *Config) { c.Maintenance.SweepSchedule = "every minute" },
			field:  "maintenance.sweep_schedule",
		},
		{
			name:   "retention shorter than a month",
			modify: func(c *Config) { c.Maintenance.RetentionDays = 7 },
			field:  "maintenance.retention_days",
		},
		{
			name:   "bad log level",
			modify: func(c *Config) { c.Telemetry.Logging.Level = "trace" },
			field:  "telemetry.logging.level",
		},
		{
			name:   "tracing without endpoint",
			modify: func(c *Config) { c.Telemetry.Tracing.Enabled = true },
			field:  "telemetry.tracing.endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}

			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %q, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "first"},
		{Field: "b", Message: "second"},
	}}

	msg := err.Error()
	if !strings.Contains(msg, "2 errors") {
		t.Errorf("expected error count in message, got %q", msg)
	}
	if !strings.Contains(msg, "a: first") || !strings.Contains(msg, "b: second") {
		t.Errorf("expected both field errors in message, got %q", msg)
	}
}
