package metrics

import (
	"time"

	"mercator-hq/costplane/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks facade call outcomes and latency.
//
// Metrics:
//   - <ns>_<sub>_resolve_total{outcome}
//   - <ns>_<sub>_resolve_duration_seconds{outcome}
//   - <ns>_<sub>_record_total{status}
//   - <ns>_<sub>_record_duration_seconds{status}
type RequestMetrics struct {
	resolveTotal    *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	recordTotal     *prometheus.CounterVec
	recordDuration  *prometheus.HistogramVec
}

// Control-plane calls are storage-bound; buckets span 0.5ms to 2.5s.
var callDurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1, 2.5}

// NewRequestMetrics creates and registers request metrics.
func NewRequestMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		resolveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "resolve_total",
				Help:      "Total number of resolve calls by outcome",
			},
			[]string{"outcome"},
		),
		resolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "resolve_duration_seconds",
				Help:      "Resolve latency in seconds, including any in-flight wait",
				Buckets:   append(callDurationBuckets, 10, 30),
			},
			[]string{"outcome"},
		),
		recordTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "record_total",
				Help:      "Total number of record calls by status",
			},
			[]string{"status"},
		),
		recordDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "record_duration_seconds",
				Help:      "Record latency in seconds",
				Buckets:   callDurationBuckets,
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(rm.resolveTotal, rm.resolveDuration, rm.recordTotal, rm.recordDuration)
	return rm
}

// RecordResolve records a resolve call.
func (rm *RequestMetrics) RecordResolve(outcome string, duration time.Duration) {
	rm.resolveTotal.WithLabelValues(outcome).Inc()
	rm.resolveDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRecord records a record call.
func (rm *RequestMetrics) RecordRecord(status string, duration time.Duration) {
	rm.recordTotal.WithLabelValues(status).Inc()
	rm.recordDuration.WithLabelValues(status).Observe(duration.Seconds())
}
