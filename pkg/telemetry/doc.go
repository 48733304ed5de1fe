// Package telemetry groups the observability packages of the control plane.
//
// # Components
//
//   - logging: slog-based structured logging with prompt and PII redaction
//   - metrics: Prometheus metrics for cache, ledger, budget and in-flight
//     coordination
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
//   - health: liveness and readiness endpoints backed by storage pings
package telemetry
