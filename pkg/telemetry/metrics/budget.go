package metrics

import (
	"mercator-hq/costplane/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// BudgetMetrics tracks budget governor decisions.
//
// Metrics:
//   - <ns>_<sub>_budget_decisions_total{verdict}
//   - <ns>_<sub>_budget_alerts_total{threshold}
//   - <ns>_<sub>_budget_fail_open_total
//   - <ns>_<sub>_budget_month_rollovers_total
//   - <ns>_<sub>_budget_usage_ratio{firm_id}
type BudgetMetrics struct {
	decisionsTotal *prometheus.CounterVec
	alertsTotal    *prometheus.CounterVec
	failOpenTotal  prometheus.Counter
	rolloversTotal prometheus.Counter
	usage          *prometheus.GaugeVec
}

// NewBudgetMetrics creates and registers budget metrics.
func NewBudgetMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *BudgetMetrics {
	bm := &BudgetMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "budget_decisions_total",
				Help:      "Total number of governor decisions by verdict",
			},
			[]string{"verdict"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "budget_alerts_total",
				Help:      "Total number of budget alerts emitted by threshold",
			},
			[]string{"threshold"},
		),
		failOpenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "budget_fail_open_total",
				Help:      "Total number of evaluations that allowed a request because spend was unavailable",
			},
		),
		rolloversTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "budget_month_rollovers_total",
				Help:      "Total number of monthly alert resets",
			},
		),
		usage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "budget_usage_ratio",
				Help:      "Month-to-date spend divided by monthly budget",
			},
			[]string{"firm_id"},
		),
	}

	registry.MustRegister(bm.decisionsTotal, bm.alertsTotal, bm.failOpenTotal, bm.rolloversTotal, bm.usage)
	return bm
}

// RecordDecision records a verdict.
func (bm *BudgetMetrics) RecordDecision(verdict string) {
	bm.decisionsTotal.WithLabelValues(verdict).Inc()
}

// RecordAlert records an alert.
func (bm *BudgetMetrics) RecordAlert(threshold string) {
	bm.alertsTotal.WithLabelValues(threshold).Inc()
}

// RecordFailOpen records a fail-open evaluation.
func (bm *BudgetMetrics) RecordFailOpen() {
	bm.failOpenTotal.Inc()
}

// RecordRollover records a month reset.
func (bm *BudgetMetrics) RecordRollover() {
	bm.rolloversTotal.Inc()
}

// UpdateUsage sets a firm's usage ratio.
func (bm *BudgetMetrics) UpdateUsage(firmID string, pct float64) {
	bm.usage.WithLabelValues(firmID).Set(pct)
}
