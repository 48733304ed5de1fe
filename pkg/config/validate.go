package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateInFlight(&cfg.InFlight)...)
	errs = append(errs, validateBudget(&cfg.Budget)...)
	errs = append(errs, validateAlerts(&cfg.Alerts)...)
	errs = append(errs, validatePricing(&cfg.Pricing)...)
	errs = append(errs, validateMaintenance(&cfg.Maintenance)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	// A coalesced Resolve may wait for the lease holder before answering.
	if cfg.Server.WriteTimeout > 0 && cfg.InFlight.WaitTimeout >= cfg.Server.WriteTimeout {
		errs = append(errs, FieldError{
			Field:   "inflight.wait_timeout",
			Message: "wait timeout must be shorter than server.write_timeout",
		})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be non-negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be non-negative"})
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "max body bytes must be positive"})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.CachePath == "" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.cache_path",
				Message: "cache path is required for sqlite backend",
			})
		}
		if cfg.SQLite.LedgerPath == "" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.ledger_path",
				Message: "ledger path is required for sqlite backend",
			})
		}
		if cfg.SQLite.CachePath != "" && cfg.SQLite.CachePath == cfg.SQLite.LedgerPath {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.ledger_path",
				Message: "ledger path must differ from cache path",
			})
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			errs = append(errs, FieldError{
				Field:   "storage.postgres.dsn",
				Message: "dsn is required for postgres backend",
			})
		}
		if cfg.Postgres.MaxConns < 1 {
			errs = append(errs, FieldError{
				Field:   "storage.postgres.max_conns",
				Message: "max conns must be at least 1",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory', 'sqlite', or 'postgres'", cfg.Backend),
		})
	}

	return errs
}

func validateCache(cfg *CacheConfig) []FieldError {
	var errs []FieldError

	if cfg.TTL <= 0 {
		errs = append(errs, FieldError{Field: "cache.ttl", Message: "ttl must be positive"})
	}
	if cfg.MaxCandidates < 1 {
		errs = append(errs, FieldError{Field: "cache.max_candidates", Message: "max candidates must be at least 1"})
	}

	for op, threshold := range cfg.SimilarityThresholds {
		if op == "" {
			errs = append(errs, FieldError{
				Field:   "cache.similarity_thresholds",
				Message: "operation type cannot be empty",
			})
			continue
		}
		// Anything at or below zero would match unrelated prompts.
		if threshold <= 0 || threshold > 1.0 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("cache.similarity_thresholds.%s", op),
				Message: fmt.Sprintf("threshold %v must be in (0.0, 1.0]", threshold),
			})
		}
	}

	return errs
}

func validateInFlight(cfg *InFlightConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "redis":
		if cfg.RedisURL == "" {
			errs = append(errs, FieldError{
				Field:   "inflight.redis_url",
				Message: "redis url is required for redis backend",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "inflight.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'redis'", cfg.Backend),
		})
	}

	if cfg.LeaseTTL <= 0 {
		errs = append(errs, FieldError{Field: "inflight.lease_ttl", Message: "lease ttl must be positive"})
	}
	if cfg.WaitTimeout < 0 {
		errs = append(errs, FieldError{Field: "inflight.wait_timeout", Message: "wait timeout must be non-negative"})
	}
	if cfg.WaitTimeout > cfg.LeaseTTL {
		errs = append(errs, FieldError{
			Field:   "inflight.wait_timeout",
			Message: "wait timeout cannot exceed lease ttl",
		})
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, FieldError{Field: "inflight.poll_interval", Message: "poll interval must be positive"})
	}

	return errs
}

func validateBudget(cfg *BudgetConfig) []FieldError {
	var errs []FieldError

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, FieldError{
			Field:   "budget.timezone",
			Message: fmt.Sprintf("invalid timezone %q: %v", cfg.Timezone, err),
		})
	}

	for firmID := range cfg.Firms {
		if strings.TrimSpace(firmID) == "" {
			errs = append(errs, FieldError{
				Field:   "budget.firms",
				Message: "firm id cannot be empty",
			})
		}
	}

	return errs
}

func validateAlerts(cfg *AlertsConfig) []FieldError {
	var errs []FieldError

	if cfg.NATS.Enabled {
		if cfg.NATS.URL == "" {
			errs = append(errs, FieldError{Field: "alerts.nats.url", Message: "url is required when nats is enabled"})
		}
		if cfg.NATS.Subject == "" {
			errs = append(errs, FieldError{Field: "alerts.nats.subject", Message: "subject is required when nats is enabled"})
		}
		if strings.ContainsAny(cfg.NATS.Subject, " *>") {
			errs = append(errs, FieldError{
				Field:   "alerts.nats.subject",
				Message: "subject must not contain spaces or wildcards",
			})
		}
	}

	return errs
}

func validatePricing(cfg *PricingConfig) []FieldError {
	var errs []FieldError

	for model, price := range cfg.Models {
		if price.Input < 0 || price.Output < 0 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("pricing.models.%s", model),
				Message: "prices must be non-negative",
			})
		}
	}
	if cfg.Default.Input < 0 || cfg.Default.Output < 0 {
		errs = append(errs, FieldError{Field: "pricing.default", Message: "prices must be non-negative"})
	}

	return errs
}

func validateMaintenance(cfg *MaintenanceConfig) []FieldError {
	var errs []FieldError

	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "maintenance.sweep_schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.SweepSchedule, err),
		})
	}
	if _, err := cron.ParseStandard(cfg.RetentionSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "maintenance.retention_schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.RetentionSchedule, err),
		})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{
			Field:   "maintenance.retention_days",
			Message: "retention days must be non-negative",
		})
	} else if cfg.RetentionDays > 0 && cfg.RetentionDays < MinRetentionDays {
		// Month-to-date spend is summed from the ledger.
		errs = append(errs, FieldError{
			Field:   "maintenance.retention_days",
			Message: fmt.Sprintf("retention days must be 0 or at least %d", MinRetentionDays),
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if BoolValue(cfg.Metrics.Enabled, DefaultMetricsEnabled) && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.liveness_path",
			Message: "liveness path must start with /",
		})
	}
	if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.readiness_path",
			Message: "readiness path must start with /",
		})
	}
	if cfg.Health.CheckTimeout <= 0 || cfg.Health.CheckTimeout > 60*time.Second {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must be between 0s and 60s",
		})
	}

	return errs
}
