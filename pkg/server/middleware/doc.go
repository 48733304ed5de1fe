// Package middleware provides the HTTP middleware chain of the costplane
// API server: request IDs, structured access logging, panic recovery,
// request body limits and OpenTelemetry instrumentation.
//
// Middlewares are plain func(http.Handler) http.Handler values and are
// applied by the server in this order, outermost first:
//
//	Recovery → Tracing → RequestID → Logging → BodyLimit → mux
package middleware
