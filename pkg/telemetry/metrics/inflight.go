package metrics

import (
	"mercator-hq/costplane/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// InFlightMetrics tracks coordination of concurrent misses.
//
// Metrics:
//   - <ns>_<sub>_inflight_total{result}
type InFlightMetrics struct {
	total *prometheus.CounterVec
}

// NewInFlightMetrics creates and registers in-flight metrics.
func NewInFlightMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *InFlightMetrics {
	im := &InFlightMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "inflight_total",
				Help:      "Full cache misses by in-flight coordination result",
			},
			[]string{"result"},
		),
	}
	registry.MustRegister(im.total)
	return im
}

// Record records a coordination result.
func (im *InFlightMetrics) Record(result string) {
	im.total.WithLabelValues(result).Inc()
}
