// Package config provides configuration management for the costplane service.
//
// This package handles loading, validating, and reloading configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("costplane.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("costplane.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention COSTPLANE_SECTION_FIELD.
// For example:
//
//   - COSTPLANE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - COSTPLANE_STORAGE_POSTGRES_DSN overrides storage.postgres.dsn
//   - COSTPLANE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and reloads it after
// a short debounce. Per-firm budgets, similarity thresholds and pricing are
// applied by OnChange listeners; storage and server settings require a
// restart.
//
// # Example Configuration
//
//	storage:
//	  backend: sqlite
//
//	cache:
//	  ttl: 720h
//	  similarity_thresholds:
//	    summarization: 0.95
//	    classification: 0.92
//
//	budget:
//	  timezone: America/New_York
//	  defaults:
//	    monthly_budget_cents: 10000
//	    auto_pause_at_100: false
//	  firms:
//	    firm-acme:
//	      monthly_budget_cents: 50000
//	      auto_pause_at_100: true
package config
