package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/costplane/pkg/budget"
	"mercator-hq/costplane/pkg/cache"
	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/inflight"
	"mercator-hq/costplane/pkg/ledger"
	"mercator-hq/costplane/pkg/pricing"
	"mercator-hq/costplane/pkg/similarity"
	"mercator-hq/costplane/pkg/telemetry/logging"
	"mercator-hq/costplane/pkg/telemetry/metrics"
	"mercator-hq/costplane/pkg/telemetry/tracing"
)

// Config wires the facade to its collaborators.
type Config struct {
	// Cache, Ledger and Governor are required.
	Cache    cache.Store
	Ledger   ledger.Ledger
	Governor *budget.Governor

	// Matcher enables similarity lookups. Nil disables them.
	Matcher *similarity.Matcher

	// InFlight coalesces concurrent misses. Defaults to a MemoryTracker.
	InFlight inflight.Tracker

	// Pricing fills in CostCents for records that omit it. Nil leaves
	// the cost as reported.
	Pricing *pricing.Calculator

	// CacheSettings provides the entry TTL and whether hits are recorded
	// in the ledger.
	CacheSettings config.CacheConfig

	// WaitTimeout bounds how long a caller waits for another caller's
	// lease. Defaults to config.DefaultInFlightWaitTimeout.
	WaitTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer

	// Now defaults to time.Now.
	Now func() time.Time
}

// Facade implements Resolve, Record and Abandon.
type Facade struct {
	cache    cache.Store
	ledger   ledger.Ledger
	governor *budget.Governor
	matcher  *similarity.Matcher
	inflight inflight.Tracker
	pricing  *pricing.Calculator
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
	now      func() time.Time

	mu          sync.RWMutex
	ttl         time.Duration
	recordHits  bool
	waitTimeout time.Duration
}

// New creates a facade.
func New(cfg Config) (*Facade, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Governor == nil {
		return nil, fmt.Errorf("budget governor is required")
	}
	if cfg.InFlight == nil {
		cfg.InFlight = inflight.NewMemoryTracker(config.DefaultInFlightLeaseTTL)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Noop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	f := &Facade{
		cache:    cfg.Cache,
		ledger:   cfg.Ledger,
		governor: cfg.Governor,
		matcher:  cfg.Matcher,
		inflight: cfg.InFlight,
		pricing:  cfg.Pricing,
		logger:   cfg.Logger.With("component", "controlplane"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		now:      cfg.Now,
	}
	f.applyCacheSettings(cfg.CacheSettings, cfg.WaitTimeout)
	return f, nil
}

func (f *Facade) applyCacheSettings(c config.CacheConfig, wait time.Duration) {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = config.DefaultCacheTTL
	}
	if wait <= 0 {
		wait = config.DefaultInFlightWaitTimeout
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl = ttl
	f.recordHits = config.BoolValue(c.RecordHits, config.DefaultCacheRecordHits)
	f.waitTimeout = wait
}

func (f *Facade) settings() (ttl time.Duration, recordHits bool, wait time.Duration) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ttl, f.recordHits, f.waitTimeout
}

// ApplyConfig applies the hot-reloadable parts of cfg: cache TTL,
// similarity thresholds, prices and budgets.
func (f *Facade) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	f.applyCacheSettings(cfg.Cache, cfg.InFlight.WaitTimeout)
	if f.matcher != nil {
		f.matcher.UpdateThresholds(cfg.Cache.SimilarityThresholds)
	}
	if f.pricing != nil {
		f.pricing.UpdatePricing(cfg.Pricing)
	}
	f.governor.UpdateConfig(cfg.Budget)
	return f.governor.ApplyFirmOverrides(ctx)
}

func validateScope(firmID, operationType string) error {
	if strings.TrimSpace(firmID) == "" {
		return fmt.Errorf("%w: firm id is required", ErrInvalidContext)
	}
	if strings.TrimSpace(operationType) == "" {
		return fmt.Errorf("%w: operation type is required", ErrInvalidContext)
	}
	return nil
}

// Resolve decides how to serve a prompt: from the cache, by invoking the
// model, or not at all because the firm is paused.
func (f *Facade) Resolve(ctx context.Context, req ResolveRequest) (res *ResolveResult, err error) {
	start := time.Now()
	ctx, span := f.tracer.Start(ctx, "controlplane.Resolve")
	defer func() {
		outcome := "error"
		if res != nil {
			outcome = string(res.Outcome)
			span.SetAttributes(attribute.String(tracing.AttrOutcome, outcome))
		}
		tracing.SetStatus(span, err)
		span.End()
		f.metrics.RecordResolve(outcome, time.Since(start))
	}()
	tracing.SetRequestAttributes(span, req.FirmID, req.OperationType)

	if err := validateScope(req.FirmID, req.OperationType); err != nil {
		return nil, &Error{Op: "resolve", FirmID: req.FirmID, Err: err}
	}
	ctx = logging.WithAttribution(ctx, req.FirmID, req.UserID, req.CaseID, req.OperationType)

	decision := f.governor.Evaluate(ctx, req.FirmID)
	span.SetAttributes(
		attribute.String(tracing.AttrVerdict, string(decision.Verdict)),
		attribute.Float64(tracing.AttrSpendPct, decision.Percent),
	)

	res = &ResolveResult{
		Decision:   decision,
		PromptHash: cache.HashPrompt(req.FirmID, req.OperationType, req.Prompt),
	}

	if f.serveFromCache(ctx, req, res) {
		return res, nil
	}

	// Nothing cached; a paused firm may not spend more.
	if decision.Blocked() {
		res.Outcome = OutcomeBlocked
		f.logger.InfoContext(ctx, "request blocked by budget",
			"state", string(decision.State),
			"spend_cents", decision.SpendCents,
			"budget_cents", decision.BudgetCents,
		)
		return res, nil
	}

	if err := f.coalesce(ctx, req, res); err != nil {
		return nil, &Error{Op: "resolve", FirmID: req.FirmID, Err: err}
	}
	return res, nil
}

// coalesce takes the in-flight lease for the prompt or waits for its
// holder and probes the cache again.
func (f *Facade) coalesce(ctx context.Context, req ResolveRequest, res *ResolveResult) error {
	res.Outcome = OutcomeMustInvoke
	key := inflight.Key(req.FirmID, res.PromptHash)

	lease, ok, err := f.inflight.Acquire(ctx, key)
	if err != nil {
		// Coalescing is an optimization; fall back to a real call.
		f.logger.WarnContext(ctx, "failed to acquire in-flight lease", "error", err)
		f.metrics.RecordInFlight("error")
		return nil
	}
	if ok {
		res.Lease = lease
		f.metrics.RecordInFlight("acquired")
		return nil
	}

	_, _, wait := f.settings()
	f.metrics.RecordInFlight("waited")
	released, err := f.inflight.Wait(ctx, key, wait)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		f.logger.WarnContext(ctx, "failed to wait for in-flight lease", "error", err)
	}
	if !released {
		f.metrics.RecordInFlight("timeout")
	}

	if f.serveFromCache(ctx, req, res) {
		return nil
	}

	// The holder abandoned or timed out. Try to become the new holder;
	// either way this caller makes its own call.
	f.metrics.RecordInFlight("fallback")
	if lease, ok, err := f.inflight.Acquire(ctx, key); err == nil && ok {
		res.Lease = lease
	}
	return nil
}

// serveFromCache probes the cache and fills res on a hit.
func (f *Facade) serveFromCache(ctx context.Context, req ResolveRequest, res *ResolveResult) bool {
	entry, kind, score := f.probe(ctx, req, res.PromptHash)
	if entry == nil {
		return false
	}

	count, err := f.cache.Hit(ctx, entry.FirmID, entry.OperationType, entry.PromptHash)
	switch {
	case err == nil:
		entry.HitCount = count
	case errors.Is(err, cache.ErrMiss):
		// Expired between lookup and hit; the response is still valid
		// for this request.
	default:
		f.logger.WarnContext(ctx, "failed to count cache hit", "error", err)
	}

	res.Outcome = OutcomeCached
	res.Entry = entry
	res.Match = kind
	res.Score = score
	res.Lease = nil

	_, recordHits, _ := f.settings()
	if recordHits {
		f.recordHit(ctx, req, entry)
	}
	return true
}

func (f *Facade) probe(ctx context.Context, req ResolveRequest, hash string) (*cache.Entry, MatchKind, float64) {
	entry, err := f.cache.LookupExact(ctx, req.FirmID, req.OperationType, hash)
	if err == nil {
		f.metrics.RecordCacheLookup(req.OperationType, "exact")
		return entry, MatchExact, 1
	}
	if !errors.Is(err, cache.ErrMiss) {
		f.logger.WarnContext(ctx, "exact cache lookup failed", "error", err)
	}

	if f.matcher != nil && len(req.Embedding) > 0 {
		match, err := f.matcher.LookupSimilar(ctx, req.FirmID, req.OperationType, req.Embedding)
		if err == nil {
			f.metrics.RecordCacheLookup(req.OperationType, "similar")
			f.metrics.RecordSimilarityScore(req.OperationType, match.Score)
			return match.Entry, MatchSimilar, match.Score
		}
		if !errors.Is(err, similarity.ErrMiss) {
			f.logger.WarnContext(ctx, "similarity lookup failed", "error", err)
		}
	}

	f.metrics.RecordCacheLookup(req.OperationType, "miss")
	return nil, "", 0
}

// recordHit appends a zero-cost usage record for a cache hit. Failures are
// logged; the cached response is served regardless.
func (f *Facade) recordHit(ctx context.Context, req ResolveRequest, entry *cache.Entry) {
	rec := &ledger.UsageRecord{
		UserID:        req.UserID,
		CaseID:        req.CaseID,
		FirmID:        req.FirmID,
		OperationType: req.OperationType,
		ModelUsed:     entry.ModelUsed,
		Cached:        true,
	}
	if err := f.ledger.Record(ctx, rec); err != nil {
		f.metrics.RecordLedgerFailure(req.OperationType)
		f.logger.ErrorContext(ctx, "failed to record cache hit", "error", err)
		return
	}
	f.metrics.RecordUsage(rec.OperationType, rec.ModelUsed, true, 0, 0)
}

// Record stores the result of a model invocation: the response goes into
// the cache (best effort), the usage into the ledger, and the budget is
// re-evaluated.
func (f *Facade) Record(ctx context.Context, req RecordRequest) (res *RecordResult, err error) {
	start := time.Now()
	ctx, span := f.tracer.Start(ctx, "controlplane.Record")
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		tracing.SetStatus(span, err)
		span.End()
		f.metrics.RecordRecord(status, time.Since(start))
	}()
	tracing.SetRequestAttributes(span, req.FirmID, req.OperationType)

	if err := validateScope(req.FirmID, req.OperationType); err != nil {
		return nil, &Error{Op: "record", FirmID: req.FirmID, Err: err}
	}
	ctx = logging.WithAttribution(ctx, req.FirmID, req.UserID, req.CaseID, req.OperationType)

	costCents := req.CostCents
	if costCents == 0 && f.pricing != nil && req.InputTokens+req.OutputTokens > 0 {
		costCents = f.pricing.CostCents(req.ModelUsed, req.InputTokens, req.OutputTokens)
	}

	res = &RecordResult{}
	if req.Response != "" {
		res.Cached = f.writeCache(ctx, req)
	}

	// Waiters can now find the entry.
	if req.Lease != nil {
		if err := f.inflight.Release(ctx, req.Lease); err != nil && !errors.Is(err, inflight.ErrLeaseNotHeld) {
			f.logger.WarnContext(ctx, "failed to release in-flight lease", "error", err)
		}
	}

	rec := &ledger.UsageRecord{
		UserID:        req.UserID,
		CaseID:        req.CaseID,
		FirmID:        req.FirmID,
		OperationType: req.OperationType,
		ModelUsed:     req.ModelUsed,
		InputTokens:   req.InputTokens,
		OutputTokens:  req.OutputTokens,
		CostCents:     costCents,
		LatencyMs:     req.LatencyMs,
	}
	if err := f.ledger.Record(ctx, rec); err != nil {
		f.metrics.RecordLedgerFailure(req.OperationType)
		f.logger.ErrorContext(ctx, "failed to append usage record",
			"model", req.ModelUsed,
			"cost_cents", costCents,
			"error", err,
		)
		return nil, &Error{Op: "record", FirmID: req.FirmID, Err: fmt.Errorf("%w: %w", ErrLedgerWriteFailed, err)}
	}
	res.Record = rec
	f.metrics.RecordUsage(rec.OperationType, rec.ModelUsed, false, rec.CostCents, rec.TotalTokens)
	tracing.SetUsageAttributes(span, rec.ModelUsed, rec.CostCents, rec.TotalTokens)

	res.Decision = f.governor.Evaluate(ctx, req.FirmID)
	res.Alert = res.Decision.Alert
	return res, nil
}

// writeCache stores the response. It reports whether the prompt is cached
// afterwards; failures are logged and counted, never returned.
func (f *Facade) writeCache(ctx context.Context, req RecordRequest) bool {
	ttl, _, _ := f.settings()
	now := f.now()

	entry := &cache.Entry{
		FirmID:        req.FirmID,
		OperationType: req.OperationType,
		PromptHash:    cache.HashPrompt(req.FirmID, req.OperationType, req.Prompt),
		PromptText:    req.Prompt,
		Embedding:     req.Embedding,
		Response:      req.Response,
		ModelUsed:     req.ModelUsed,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}

	err := f.cache.Put(ctx, entry)
	switch {
	case err == nil:
		f.metrics.RecordCacheWrite("stored")
		return true
	case errors.Is(err, cache.ErrDuplicateKey):
		// Another caller populated it first.
		f.metrics.RecordCacheWrite("duplicate")
		return true
	default:
		f.metrics.RecordCacheWrite("failed")
		f.logger.WarnContext(ctx, "failed to write cache entry",
			"prompt_hash", entry.PromptHash,
			"error", fmt.Errorf("%w: %w", ErrCacheWriteFailed, err),
		)
		return false
	}
}

// Abandon releases a lease whose model call failed, so waiting callers
// stop waiting and make their own calls.
func (f *Facade) Abandon(ctx context.Context, lease *inflight.Lease) error {
	if lease == nil {
		return nil
	}
	f.metrics.RecordInFlight("abandoned")
	err := f.inflight.Release(ctx, lease)
	if err == nil || errors.Is(err, inflight.ErrLeaseNotHeld) {
		return nil
	}
	return &Error{Op: "abandon", Err: err}
}

// Governor returns the budget governor.
func (f *Facade) Governor() *budget.Governor {
	return f.governor
}

// Ledger returns the usage ledger.
func (f *Facade) Ledger() ledger.Ledger {
	return f.ledger
}
