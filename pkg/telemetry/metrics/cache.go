package metrics

import (
	"mercator-hq/costplane/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics tracks response cache effectiveness.
//
// Metrics:
//   - <ns>_<sub>_cache_lookups_total{operation_type,result}
//   - <ns>_<sub>_cache_similarity_score{operation_type}
//   - <ns>_<sub>_cache_writes_total{result}
//   - <ns>_<sub>_cache_swept_total
type CacheMetrics struct {
	lookupsTotal *prometheus.CounterVec
	scores       *prometheus.HistogramVec
	writesTotal  *prometheus.CounterVec
	sweptTotal   prometheus.Counter
}

// NewCacheMetrics creates and registers cache metrics with the provided registry.
func NewCacheMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_lookups_total",
				Help:      "Total number of cache lookups by result (exact, similar, miss)",
			},
			[]string{"operation_type", "result"},
		),
		scores: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_similarity_score",
				Help:      "Best cosine similarity found by similarity lookups",
				Buckets:   []float64{0.5, 0.7, 0.8, 0.85, 0.9, 0.92, 0.94, 0.96, 0.98, 0.99, 1},
			},
			[]string{"operation_type"},
		),
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_writes_total",
				Help:      "Total number of cache population attempts by result",
			},
			[]string{"result"},
		),
		sweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cache_swept_total",
				Help:      "Total number of expired cache entries removed",
			},
		),
	}

	registry.MustRegister(cm.lookupsTotal, cm.scores, cm.writesTotal, cm.sweptTotal)
	return cm
}

// RecordLookup records a cache lookup result.
func (cm *CacheMetrics) RecordLookup(operationType, result string) {
	cm.lookupsTotal.WithLabelValues(operationType, result).Inc()
}

// RecordScore records a similarity score.
func (cm *CacheMetrics) RecordScore(operationType string, score float64) {
	cm.scores.WithLabelValues(operationType).Observe(score)
}

// RecordWrite records a cache write result.
func (cm *CacheMetrics) RecordWrite(result string) {
	cm.writesTotal.WithLabelValues(result).Inc()
}

// RecordSwept records swept entries.
func (cm *CacheMetrics) RecordSwept(n int) {
	if n > 0 {
		cm.sweptTotal.Add(float64(n))
	}
}
