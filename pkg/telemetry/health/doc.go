// Package health provides liveness and readiness endpoints.
//
// Liveness only reports that the process is up. Readiness pings every
// registered dependency (cache store, ledger, budget store, Redis, NATS)
// concurrently, each bounded by a per-check timeout, and answers 503 when
// any of them is unhealthy.
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("ledger", ledger.Ping)
//	mux.Handle("/ready", checker.ReadinessHandler())
package health
