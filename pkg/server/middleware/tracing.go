package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request with the given tracer
// provider. Health and metrics probes are not traced.
func Tracing(provider trace.TracerProvider, untraced ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(untraced))
	for _, p := range untraced {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "costplane",
			otelhttp.WithTracerProvider(provider),
			otelhttp.WithFilter(func(r *http.Request) bool {
				return !skip[r.URL.Path]
			}),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}
