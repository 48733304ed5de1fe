// Package metrics provides Prometheus metrics for the control plane.
//
// # Metrics
//
// With the default namespace "mercator" and subsystem "costplane":
//
//   - mercator_costplane_resolve_total{outcome}
//   - mercator_costplane_cache_lookups_total{operation_type,result}
//   - mercator_costplane_cache_writes_total{result}
//   - mercator_costplane_usage_cost_cents_total{operation_type,model}
//   - mercator_costplane_budget_decisions_total{verdict}
//   - mercator_costplane_budget_alerts_total{threshold}
//   - mercator_costplane_budget_usage_ratio{firm_id}
//
// Firm-labelled series are capped by a CardinalityLimiter; firms beyond the
// cap are reported as "other".
//
// # Nil Collector
//
// A nil *Collector is valid and records nothing. NewCollector returns nil
// when metrics are disabled.
package metrics
