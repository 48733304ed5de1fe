package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8090"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = int64(8 << 20) // 8MB

	// Storage defaults
	DefaultStorageBackend           = "memory"
	DefaultSQLiteCachePath          = "data/cache.db"
	DefaultSQLiteLedgerPath         = "data/ledger.db"
	DefaultSQLiteBusyTimeout        = 5 * time.Second
	DefaultSQLiteCheckpointInterval = 5 * time.Minute
	DefaultPostgresMaxConns         = int32(10)
	DefaultPostgresConnectTimeout   = 10 * time.Second

	// Cache defaults
	DefaultCacheTTL           = 30 * 24 * time.Hour
	DefaultCacheMaxCandidates = 500
	DefaultCacheRecordHits    = true

	// In-flight defaults
	DefaultInFlightBackend      = "memory"
	DefaultInFlightKeyPrefix    = "costplane:inflight:"
	DefaultInFlightLeaseTTL     = 2 * time.Minute
	DefaultInFlightWaitTimeout  = 30 * time.Second
	DefaultInFlightPollInterval = 100 * time.Millisecond

	// Budget defaults
	DefaultBudgetTimezone     = "UTC"
	DefaultMonthlyBudgetCents = int64(10000) // $100.00
	DefaultAlertAt75          = true
	DefaultAlertAt90          = true
	DefaultAutoPauseAt100     = false

	// Alert defaults
	DefaultNATSURL     = "nats://127.0.0.1:4222"
	DefaultNATSSubject = "costplane.alerts"
	DefaultNATSTimeout = 5 * time.Second

	// Maintenance defaults
	DefaultMaintenanceEnabled = true
	DefaultSweepSchedule      = "*/15 * * * *"
	DefaultRetentionSchedule  = "0 3 * * *"
	MinRetentionDays          = 31

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultLoggingRedactPII   = true
	DefaultMetricsEnabled     = true
	DefaultPrometheusPath     = "/metrics"
	DefaultMetricsNamespace   = "mercator"
	DefaultMetricsSubsystem   = "costplane"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "mercator-costplane"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultHealthCheckTimeout = 5 * time.Second
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.SQLite.CachePath == "" {
		cfg.Storage.SQLite.CachePath = DefaultSQLiteCachePath
	}
	if cfg.Storage.SQLite.LedgerPath == "" {
		cfg.Storage.SQLite.LedgerPath = DefaultSQLiteLedgerPath
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Storage.SQLite.CheckpointInterval == 0 {
		cfg.Storage.SQLite.CheckpointInterval = DefaultSQLiteCheckpointInterval
	}
	if cfg.Storage.Postgres.MaxConns == 0 {
		cfg.Storage.Postgres.MaxConns = DefaultPostgresMaxConns
	}
	if cfg.Storage.Postgres.ConnectTimeout == 0 {
		cfg.Storage.Postgres.ConnectTimeout = DefaultPostgresConnectTimeout
	}

	// Cache defaults
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.MaxCandidates == 0 {
		cfg.Cache.MaxCandidates = DefaultCacheMaxCandidates
	}
	if cfg.Cache.RecordHits == nil {
		cfg.Cache.RecordHits = Bool(DefaultCacheRecordHits)
	}
	if cfg.Cache.SimilarityThresholds == nil {
		cfg.Cache.SimilarityThresholds = make(map[string]float64)
	}

	// In-flight defaults
	if cfg.InFlight.Backend == "" {
		cfg.InFlight.Backend = DefaultInFlightBackend
	}
	if cfg.InFlight.KeyPrefix == "" {
		cfg.InFlight.KeyPrefix = DefaultInFlightKeyPrefix
	}
	if cfg.InFlight.LeaseTTL == 0 {
		cfg.InFlight.LeaseTTL = DefaultInFlightLeaseTTL
	}
	if cfg.InFlight.WaitTimeout == 0 {
		cfg.InFlight.WaitTimeout = DefaultInFlightWaitTimeout
	}
	if cfg.InFlight.PollInterval == 0 {
		cfg.InFlight.PollInterval = DefaultInFlightPollInterval
	}

	// Budget defaults
	if cfg.Budget.Timezone == "" {
		cfg.Budget.Timezone = DefaultBudgetTimezone
	}
	if cfg.Budget.Defaults.MonthlyBudgetCents == 0 {
		cfg.Budget.Defaults.MonthlyBudgetCents = DefaultMonthlyBudgetCents
	}
	if cfg.Budget.Defaults.AlertAt75 == nil {
		cfg.Budget.Defaults.AlertAt75 = Bool(DefaultAlertAt75)
	}
	if cfg.Budget.Defaults.AlertAt90 == nil {
		cfg.Budget.Defaults.AlertAt90 = Bool(DefaultAlertAt90)
	}
	if cfg.Budget.Defaults.AutoPauseAt100 == nil {
		cfg.Budget.Defaults.AutoPauseAt100 = Bool(DefaultAutoPauseAt100)
	}

	// Alert defaults
	if cfg.Alerts.NATS.URL == "" {
		cfg.Alerts.NATS.URL = DefaultNATSURL
	}
	if cfg.Alerts.NATS.Subject == "" {
		cfg.Alerts.NATS.Subject = DefaultNATSSubject
	}
	if cfg.Alerts.NATS.Timeout == 0 {
		cfg.Alerts.NATS.Timeout = DefaultNATSTimeout
	}

	// Maintenance defaults
	if cfg.Maintenance.Enabled == nil {
		cfg.Maintenance.Enabled = Bool(DefaultMaintenanceEnabled)
	}
	if cfg.Maintenance.SweepSchedule == "" {
		cfg.Maintenance.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Maintenance.RetentionSchedule == "" {
		cfg.Maintenance.RetentionSchedule = DefaultRetentionSchedule
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Logging.RedactPII == nil {
		cfg.Telemetry.Logging.RedactPII = Bool(DefaultLoggingRedactPII)
	}
	if cfg.Telemetry.Metrics.Enabled == nil {
		cfg.Telemetry.Metrics.Enabled = Bool(DefaultMetricsEnabled)
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Telemetry.Health.LivenessPath == "" {
		cfg.Telemetry.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Telemetry.Health.ReadinessPath == "" {
		cfg.Telemetry.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

// FirmBudget returns the effective budget configuration for a firm: the
// firm's override with unset fields taken from Defaults. A firm override
// with MonthlyBudgetCents of zero inherits the default budget; use a
// negative value to disable enforcement for that firm.
func (b *BudgetConfig) FirmBudget(firmID string) FirmBudgetConfig {
	eff := b.Defaults
	override, ok := b.Firms[firmID]
	if !ok {
		return eff
	}
	if override.MonthlyBudgetCents != 0 {
		eff.MonthlyBudgetCents = override.MonthlyBudgetCents
	}
	if override.AlertAt75 != nil {
		eff.AlertAt75 = override.AlertAt75
	}
	if override.AlertAt90 != nil {
		eff.AlertAt90 = override.AlertAt90
	}
	if override.AutoPauseAt100 != nil {
		eff.AutoPauseAt100 = override.AutoPauseAt100
	}
	return eff
}

// Location returns the configured timezone, falling back to UTC when it
// cannot be loaded.
func (b *BudgetConfig) Location() *time.Location {
	if b.Timezone == "" || b.Timezone == "UTC" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
