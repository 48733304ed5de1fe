package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/telemetry/metrics"
)

// GovernorConfig wires a Governor.
type GovernorConfig struct {
	// Store persists settings and alert markers. Required.
	Store Store

	// Spend reports month-to-date spend. Required.
	Spend SpendSource

	// Notifier receives fired alerts. Defaults to a LogNotifier.
	Notifier Notifier

	// Budget supplies the default policy, per-firm overrides, timezone and
	// failure policy.
	Budget config.BudgetConfig

	Logger  *slog.Logger
	Metrics *metrics.Collector

	// Now defaults to time.Now.
	Now func() time.Time
}

// Governor evaluates per-firm budgets. It holds no per-firm state of its
// own; every decision is derived from the store and the ledger, so any
// number of governors may share a backend.
type Governor struct {
	store    Store
	spend    SpendSource
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Collector
	now      func() time.Time

	mu         sync.RWMutex
	budget     config.BudgetConfig
	location   *time.Location
	failClosed bool
}

// NewGovernor creates a governor.
func NewGovernor(cfg GovernorConfig) (*Governor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("budget store is required")
	}
	if cfg.Spend == nil {
		return nil, fmt.Errorf("spend source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewLogNotifier(cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	g := &Governor{
		store:    cfg.Store,
		spend:    cfg.Spend,
		notifier: cfg.Notifier,
		logger:   cfg.Logger.With("component", "budget.governor"),
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
	g.UpdateConfig(cfg.Budget)
	return g, nil
}

// UpdateConfig swaps the budget configuration. Firms created afterwards
// get the new defaults; call ApplyFirmOverrides to push explicit per-firm
// policies into the store.
func (g *Governor) UpdateConfig(cfg config.BudgetConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.budget = cfg
	g.location = cfg.Location()
	g.failClosed = cfg.FailClosed
}

// ApplyFirmOverrides writes the policy of every firm listed in the
// configuration to the store.
func (g *Governor) ApplyFirmOverrides(ctx context.Context) error {
	g.mu.RLock()
	cfg := g.budget
	g.mu.RUnlock()

	now := g.now()
	for firmID := range cfg.Firms {
		if err := g.store.SetPolicy(ctx, firmID, PolicyFromConfig(cfg.FirmBudget(firmID)), now); err != nil {
			return fmt.Errorf("failed to apply budget for firm %q: %w", firmID, err)
		}
	}
	return nil
}

func (g *Governor) snapshot() (config.BudgetConfig, *time.Location, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.budget, g.location, g.failClosed
}

// Period returns the current budget month.
func (g *Governor) Period() Period {
	_, loc, _ := g.snapshot()
	return MonthOf(g.now(), loc)
}

// Evaluate runs the state machine for the firm: month rollover, threshold
// check-and-set, alert delivery. It never returns an error; failures to
// read the budget are reported through Decision.FailOpen.
func (g *Governor) Evaluate(ctx context.Context, firmID string) *Decision {
	cfg, loc, failClosed := g.snapshot()
	now := g.now()
	period := MonthOf(now, loc)

	settings, err := g.load(ctx, firmID, cfg, period, now)
	if err != nil {
		return g.unavailable(ctx, firmID, failClosed, err)
	}

	if settings.MonthlyBudgetCents <= 0 {
		d := &Decision{Verdict: VerdictAllow, State: StateNormal}
		g.metrics.RecordDecision(string(d.Verdict))
		return d
	}

	spend, err := g.spend.SumSpend(ctx, firmID, period.Start, period.End)
	if err != nil {
		return g.unavailable(ctx, firmID, failClosed, fmt.Errorf("failed to sum spend: %w", err))
	}

	pct := spend / float64(settings.MonthlyBudgetCents)
	g.metrics.UpdateBudgetUsage(firmID, pct)

	d := &Decision{
		SpendCents:  spend,
		BudgetCents: settings.MonthlyBudgetCents,
		Percent:     pct,
	}

	crossed := crossedThresholds(settings.Policy, pct)
	if len(crossed) > 0 {
		added, err := g.store.MarkAlerts(ctx, firmID, period.Label, crossed, now)
		if err != nil {
			return g.unavailable(ctx, firmID, failClosed, fmt.Errorf("failed to mark alerts: %w", err))
		}
		// Only the highest crossed tag may alert, and only for the
		// evaluator whose check-and-set added it.
		if len(added) > 0 && added[0] == crossed[0] {
			d.Alert = &Alert{
				FirmID:      firmID,
				Threshold:   crossed[0],
				MonthYear:   period.Label,
				SpendCents:  spend,
				BudgetCents: settings.MonthlyBudgetCents,
				FiredAt:     now,
			}
		}
	}

	d.State = stateFor(settings, pct)
	switch {
	case d.State == StatePaused:
		d.Verdict = VerdictBlock
	case d.Alert != nil:
		d.Verdict = VerdictAllowWithAlert
	default:
		d.Verdict = VerdictAllow
	}

	if d.Alert != nil {
		g.fire(ctx, *d.Alert)
	}
	g.metrics.RecordDecision(string(d.Verdict))
	return d
}

// load returns the firm's settings for the period, creating them with the
// configured policy and rolling the month over when needed.
func (g *Governor) load(ctx context.Context, firmID string, cfg config.BudgetConfig, period Period, now time.Time) (*Settings, error) {
	settings, err := g.store.Get(ctx, firmID, period.Label)
	if errors.Is(err, ErrNotFound) {
		if err := g.store.Ensure(ctx, firmID, PolicyFromConfig(cfg.FirmBudget(firmID)), now); err != nil {
			return nil, fmt.Errorf("failed to create budget settings: %w", err)
		}
		settings, err = g.store.Get(ctx, firmID, period.Label)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load budget settings: %w", err)
	}

	if settings.LastAlertResetAt.Before(period.Start) {
		rolled, err := g.store.ResetMonth(ctx, firmID, period.Start, period.Label, now)
		if err != nil {
			return nil, fmt.Errorf("failed to reset budget month: %w", err)
		}
		if rolled {
			g.metrics.RecordMonthRollover()
			g.logger.InfoContext(ctx, "budget month rolled over", "firm_id", firmID, "month", period.Label)
		}
		settings.LastAlertResetAt = period.Start
	}
	return settings, nil
}

func (g *Governor) unavailable(ctx context.Context, firmID string, failClosed bool, err error) *Decision {
	err = fmt.Errorf("%w: %w", ErrEvaluationUnavailable, err)
	d := &Decision{Verdict: VerdictAllow, State: StateNormal, FailOpen: true, Cause: err}
	if failClosed {
		d.Verdict = VerdictBlock
		d.FailOpen = false
	} else {
		g.metrics.RecordFailOpen()
	}

	g.logger.ErrorContext(ctx, "budget evaluation unavailable",
		"firm_id", firmID,
		"fail_closed", failClosed,
		"error", err,
	)
	g.metrics.RecordDecision(string(d.Verdict))
	return d
}

func (g *Governor) fire(ctx context.Context, alert Alert) {
	g.metrics.RecordAlert(string(alert.Threshold))
	g.logger.InfoContext(ctx, "budget alert fired",
		"firm_id", alert.FirmID,
		"threshold", string(alert.Threshold),
		"month", alert.MonthYear,
	)

	// At-most-once: the marker stays set even if delivery fails.
	if err := g.notifier.Notify(context.WithoutCancel(ctx), alert); err != nil {
		g.logger.ErrorContext(ctx, "failed to deliver budget alert",
			"firm_id", alert.FirmID,
			"threshold", string(alert.Threshold),
			"error", err,
		)
	}
}

// crossedThresholds returns the enabled thresholds at or below pct,
// highest first.
func crossedThresholds(p Policy, pct float64) []Threshold {
	var out []Threshold
	if p.AutoPauseAt100 && pct >= Threshold100.Ratio() {
		out = append(out, Threshold100)
	}
	if p.AlertAt90 && pct >= Threshold90.Ratio() {
		out = append(out, Threshold90)
	}
	if p.AlertAt75 && pct >= Threshold75.Ratio() {
		out = append(out, Threshold75)
	}
	return out
}

func stateFor(s *Settings, pct float64) State {
	switch {
	case s.AutoPauseAt100 && pct >= Threshold100.Ratio() && !s.Resumed():
		return StatePaused
	case pct >= Threshold90.Ratio():
		return StateWarned90
	case pct >= Threshold75.Ratio():
		return StateWarned75
	default:
		return StateNormal
	}
}

// Status returns the firm's current budget position without changing any
// state. Firms without stored settings report their configured policy.
func (g *Governor) Status(ctx context.Context, firmID string) (*Status, error) {
	cfg, loc, _ := g.snapshot()
	period := MonthOf(g.now(), loc)

	settings, err := g.store.Get(ctx, firmID, period.Label)
	if errors.Is(err, ErrNotFound) {
		settings = &Settings{FirmID: firmID, Policy: PolicyFromConfig(cfg.FirmBudget(firmID))}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load budget settings: %w", err)
	}

	spend, err := g.spend.SumSpend(ctx, firmID, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("failed to sum spend: %w", err)
	}

	st := &Status{
		FirmID:           firmID,
		Policy:           settings.Policy,
		State:            StateNormal,
		MonthYear:        period.Label,
		SpendCents:       spend,
		AlertsSent:       settings.AlertsSent(),
		Resumed:          settings.Resumed(),
		LastAlertResetAt: settings.LastAlertResetAt,
	}
	if settings.MonthlyBudgetCents > 0 {
		st.Percent = spend / float64(settings.MonthlyBudgetCents)
		st.State = stateFor(settings, st.Percent)
	}
	return st, nil
}

// SetPolicy replaces the firm's policy.
func (g *Governor) SetPolicy(ctx context.Context, firmID string, p Policy) error {
	if err := g.store.SetPolicy(ctx, firmID, p, g.now()); err != nil {
		return fmt.Errorf("failed to set budget policy: %w", err)
	}
	g.logger.InfoContext(ctx, "budget policy updated",
		"firm_id", firmID,
		"monthly_budget_cents", p.MonthlyBudgetCents,
		"auto_pause_at_100", p.AutoPauseAt100,
	)
	return nil
}

// Resume lifts the auto-pause for the rest of the current month. The "100"
// marker stays set, so the pause alert does not fire again this month.
func (g *Governor) Resume(ctx context.Context, firmID string) error {
	cfg, loc, _ := g.snapshot()
	now := g.now()
	period := MonthOf(now, loc)

	// Roll the month over first so the override lands in the current month.
	if _, err := g.load(ctx, firmID, cfg, period, now); err != nil {
		return err
	}
	if _, err := g.store.MarkAlerts(ctx, firmID, period.Label, []Threshold{markerResumed}, now); err != nil {
		return fmt.Errorf("failed to resume firm: %w", err)
	}
	g.logger.InfoContext(ctx, "budget pause lifted", "firm_id", firmID, "month", period.Label)
	return nil
}
