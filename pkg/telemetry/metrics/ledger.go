package metrics

import (
	"strconv"

	"mercator-hq/costplane/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks usage ledger appends, spend and token volume.
//
// Metrics:
//   - <ns>_<sub>_usage_records_total{operation_type,model,cached}
//   - <ns>_<sub>_usage_cost_cents_total{operation_type,model}
//   - <ns>_<sub>_usage_tokens_total{operation_type,model}
//   - <ns>_<sub>_ledger_failures_total{operation_type}
//   - <ns>_<sub>_ledger_pruned_total
type LedgerMetrics struct {
	recordsTotal  *prometheus.CounterVec
	costTotal     *prometheus.CounterVec
	tokensTotal   *prometheus.CounterVec
	failuresTotal *prometheus.CounterVec
	prunedTotal   prometheus.Counter
}

// NewLedgerMetrics creates and registers ledger metrics.
func NewLedgerMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *LedgerMetrics {
	lm := &LedgerMetrics{
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "usage_records_total",
				Help:      "Total number of usage records appended",
			},
			[]string{"operation_type", "model", "cached"},
		),
		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "usage_cost_cents_total",
				Help:      "Total recorded spend in cents",
			},
			[]string{"operation_type", "model"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "usage_tokens_total",
				Help:      "Total recorded tokens (input + output)",
			},
			[]string{"operation_type", "model"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_failures_total",
				Help:      "Total number of failed ledger appends",
			},
			[]string{"operation_type"},
		),
		prunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_pruned_total",
				Help:      "Total number of usage records removed by retention",
			},
		),
	}

	registry.MustRegister(lm.recordsTotal, lm.costTotal, lm.tokensTotal, lm.failuresTotal, lm.prunedTotal)
	return lm
}

// RecordUsage records one appended usage record.
func (lm *LedgerMetrics) RecordUsage(operationType, model string, cached bool, costCents float64, tokens int64) {
	lm.recordsTotal.WithLabelValues(operationType, model, strconv.FormatBool(cached)).Inc()
	if costCents > 0 {
		lm.costTotal.WithLabelValues(operationType, model).Add(costCents)
	}
	if tokens > 0 {
		lm.tokensTotal.WithLabelValues(operationType, model).Add(float64(tokens))
	}
}

// RecordFailure records a failed append.
func (lm *LedgerMetrics) RecordFailure(operationType string) {
	lm.failuresTotal.WithLabelValues(operationType).Inc()
}

// RecordPruned records pruned records.
func (lm *LedgerMetrics) RecordPruned(n int) {
	if n > 0 {
		lm.prunedTotal.Add(float64(n))
	}
}
