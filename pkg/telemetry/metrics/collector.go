package metrics

import (
	"sync"
	"time"

	"mercator-hq/costplane/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// maxFirmCardinality bounds the number of distinct firm label values.
const maxFirmCardinality = 5000

// Collector owns every Prometheus metric exported by the control plane.
//
// All recording methods are safe on a nil *Collector, so components built
// without metrics (tests, the one-shot CLI commands) need no special casing.
type Collector struct {
	registry *prometheus.Registry

	requestMetrics  *RequestMetrics
	cacheMetrics    *CacheMetrics
	ledgerMetrics   *LedgerMetrics
	budgetMetrics   *BudgetMetrics
	inflightMetrics *InFlightMetrics

	firms *CardinalityLimiter
}

// NewCollector creates a collector and registers its metrics on registry.
// If registry is nil a fresh registry is created. When metrics are
// disabled in cfg, NewCollector returns nil.
//
// Example:
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	mux.Handle("/metrics", collector.Handler())
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if !config.BoolValue(cfg.Enabled, config.DefaultMetricsEnabled) {
		return nil
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}

	return &Collector{
		registry:        registry,
		requestMetrics:  NewRequestMetrics(cfg, registry),
		cacheMetrics:    NewCacheMetrics(cfg, registry),
		ledgerMetrics:   NewLedgerMetrics(cfg, registry),
		budgetMetrics:   NewBudgetMetrics(cfg, registry),
		inflightMetrics: NewInFlightMetrics(cfg, registry),
		firms:           NewCardinalityLimiter(maxFirmCardinality),
	}
}

// RecordResolve records the outcome and duration of a Resolve call.
// Outcomes: "cached", "must_invoke", "blocked", "error".
func (c *Collector) RecordResolve(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestMetrics.RecordResolve(outcome, duration)
}

// RecordRecord records the status and duration of a Record call.
// Statuses: "ok", "error".
func (c *Collector) RecordRecord(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestMetrics.RecordRecord(status, duration)
}

// RecordCacheLookup records a cache probe result: "exact", "similar" or
// "miss".
func (c *Collector) RecordCacheLookup(operationType, result string) {
	if c == nil {
		return
	}
	c.cacheMetrics.RecordLookup(operationType, result)
}

// RecordSimilarityScore records the best cosine score seen by a similarity
// probe, whether or not it cleared the threshold.
func (c *Collector) RecordSimilarityScore(operationType string, score float64) {
	if c == nil {
		return
	}
	c.cacheMetrics.RecordScore(operationType, score)
}

// RecordCacheWrite records a cache population attempt: "stored",
// "duplicate", "skipped" or "failed".
func (c *Collector) RecordCacheWrite(result string) {
	if c == nil {
		return
	}
	c.cacheMetrics.RecordWrite(result)
}

// RecordCacheSwept records entries removed by the expiry sweep.
func (c *Collector) RecordCacheSwept(n int) {
	if c == nil {
		return
	}
	c.cacheMetrics.RecordSwept(n)
}

// RecordUsage records one appended ledger row.
func (c *Collector) RecordUsage(operationType, model string, cached bool, costCents float64, tokens int64) {
	if c == nil {
		return
	}
	c.ledgerMetrics.RecordUsage(operationType, model, cached, costCents, tokens)
}

// RecordLedgerFailure records a failed ledger append.
func (c *Collector) RecordLedgerFailure(operationType string) {
	if c == nil {
		return
	}
	c.ledgerMetrics.RecordFailure(operationType)
}

// RecordLedgerPruned records usage records removed by retention.
func (c *Collector) RecordLedgerPruned(n int) {
	if c == nil {
		return
	}
	c.ledgerMetrics.RecordPruned(n)
}

// RecordDecision records a governor verdict.
func (c *Collector) RecordDecision(verdict string) {
	if c == nil {
		return
	}
	c.budgetMetrics.RecordDecision(verdict)
}

// RecordAlert records an emitted threshold alert.
func (c *Collector) RecordAlert(threshold string) {
	if c == nil {
		return
	}
	c.budgetMetrics.RecordAlert(threshold)
}

// RecordFailOpen records an evaluation that could not read spend.
func (c *Collector) RecordFailOpen() {
	if c == nil {
		return
	}
	c.budgetMetrics.RecordFailOpen()
}

// RecordMonthRollover records a month reset of a firm's alert state.
func (c *Collector) RecordMonthRollover() {
	if c == nil {
		return
	}
	c.budgetMetrics.RecordRollover()
}

// UpdateBudgetUsage sets the month-to-date spend ratio of a firm. Firms
// beyond the cardinality limit are folded into "other".
func (c *Collector) UpdateBudgetUsage(firmID string, pct float64) {
	if c == nil {
		return
	}
	if !c.firms.Allow(firmID) {
		firmID = "other"
	}
	c.budgetMetrics.UpdateUsage(firmID, pct)
}

// RecordInFlight records how a full miss was coordinated: "acquired",
// "waited_hit", "waited_fallback" or "unavailable".
func (c *Collector) RecordInFlight(result string) {
	if c == nil {
		return
	}
	c.inflightMetrics.Record(result)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value may be used as a label. Values already seen
// are always allowed; new values are allowed until the limit is reached.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
