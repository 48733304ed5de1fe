package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. It does not
// validate; callers that build configuration from sources other than a file
// should call Validate themselves.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention COSTPLANE_SECTION_FIELD (e.g., COSTPLANE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format COSTPLANE_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("COSTPLANE_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("COSTPLANE_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("COSTPLANE_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("COSTPLANE_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Storage overrides
	envString("COSTPLANE_STORAGE_BACKEND", &cfg.Storage.Backend)
	envString("COSTPLANE_STORAGE_SQLITE_CACHE_PATH", &cfg.Storage.SQLite.CachePath)
	envString("COSTPLANE_STORAGE_SQLITE_LEDGER_PATH", &cfg.Storage.SQLite.LedgerPath)
	envString("COSTPLANE_STORAGE_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)

	// Cache overrides
	envDuration("COSTPLANE_CACHE_TTL", &cfg.Cache.TTL)
	if val := os.Getenv("COSTPLANE_CACHE_MAX_CANDIDATES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Cache.MaxCandidates = i
		}
	}

	// In-flight overrides
	envString("COSTPLANE_INFLIGHT_BACKEND", &cfg.InFlight.Backend)
	envString("COSTPLANE_INFLIGHT_REDIS_URL", &cfg.InFlight.RedisURL)
	envDuration("COSTPLANE_INFLIGHT_LEASE_TTL", &cfg.InFlight.LeaseTTL)
	envDuration("COSTPLANE_INFLIGHT_WAIT_TIMEOUT", &cfg.InFlight.WaitTimeout)

	// Budget overrides
	envString("COSTPLANE_BUDGET_TIMEZONE", &cfg.Budget.Timezone)
	if val := os.Getenv("COSTPLANE_BUDGET_FAIL_CLOSED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Budget.FailClosed = b
		}
	}
	if val := os.Getenv("COSTPLANE_BUDGET_DEFAULT_MONTHLY_CENTS"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Budget.Defaults.MonthlyBudgetCents = i
		}
	}

	// Alert overrides
	if val := os.Getenv("COSTPLANE_ALERTS_NATS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Alerts.NATS.Enabled = b
		}
	}
	envString("COSTPLANE_ALERTS_NATS_URL", &cfg.Alerts.NATS.URL)
	envString("COSTPLANE_ALERTS_NATS_SUBJECT", &cfg.Alerts.NATS.Subject)

	// Maintenance overrides
	envString("COSTPLANE_MAINTENANCE_SWEEP_SCHEDULE", &cfg.Maintenance.SweepSchedule)
	if val := os.Getenv("COSTPLANE_MAINTENANCE_RETENTION_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Maintenance.RetentionDays = i
		}
	}

	// Telemetry overrides
	envString("COSTPLANE_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("COSTPLANE_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	if val := os.Getenv("COSTPLANE_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = Bool(b)
		}
	}
	if val := os.Getenv("COSTPLANE_TELEMETRY_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}
	envString("COSTPLANE_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv("COSTPLANE_TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
