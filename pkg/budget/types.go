package budget

import (
	"context"
	"errors"
	"slices"
	"time"

	"mercator-hq/costplane/pkg/config"
)

var (
	// ErrNotFound is returned by Store.Get for firms without settings.
	ErrNotFound = errors.New("budget settings not found")

	// ErrEvaluationUnavailable wraps store and ledger failures reported in
	// a fail-open Decision.
	ErrEvaluationUnavailable = errors.New("budget evaluation unavailable")
)

// Threshold is a budget checkpoint tag used for alert de-duplication.
type Threshold string

const (
	Threshold75  Threshold = "75"
	Threshold90  Threshold = "90"
	Threshold100 Threshold = "100"

	// markerResumed records an operator override of the pause for the
	// month. It is stored alongside the alert tags but never alerts.
	markerResumed Threshold = "resumed"
)

// Ratio returns the fraction of the budget the threshold represents.
func (t Threshold) Ratio() float64 {
	switch t {
	case Threshold75:
		return 0.75
	case Threshold90:
		return 0.90
	case Threshold100:
		return 1.0
	default:
		return 0
	}
}

// State is a firm's position in the budget state machine.
type State string

const (
	StateNormal   State = "normal"
	StateWarned75 State = "warned_75"
	StateWarned90 State = "warned_90"
	StatePaused   State = "paused"
)

// Verdict is the governor's instruction to the caller.
type Verdict string

const (
	VerdictAllow          Verdict = "allow"
	VerdictAllowWithAlert Verdict = "allow_with_alert"
	VerdictBlock          Verdict = "block"
)

// Policy is a firm's budget configuration.
type Policy struct {
	// MonthlyBudgetCents is the monthly budget in US cents. Zero or less
	// disables enforcement.
	MonthlyBudgetCents int64 `json:"monthly_budget_cents"`

	AlertAt75      bool `json:"alert_at_75"`
	AlertAt90      bool `json:"alert_at_90"`
	AutoPauseAt100 bool `json:"auto_pause_at_100"`
}

// DefaultPolicy returns the built-in per-firm defaults.
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.FirmBudgetConfig{})
}

// PolicyFromConfig converts a firm's effective configuration.
func PolicyFromConfig(c config.FirmBudgetConfig) Policy {
	budget := c.MonthlyBudgetCents
	if budget == 0 {
		budget = config.DefaultMonthlyBudgetCents
	}
	return Policy{
		MonthlyBudgetCents: budget,
		AlertAt75:          config.BoolValue(c.AlertAt75, config.DefaultAlertAt75),
		AlertAt90:          config.BoolValue(c.AlertAt90, config.DefaultAlertAt90),
		AutoPauseAt100:     config.BoolValue(c.AutoPauseAt100, config.DefaultAutoPauseAt100),
	}
}

// Settings is the persisted per-firm budget aggregate.
type Settings struct {
	FirmID string `json:"firm_id"`
	Policy

	// Markers holds the tags recorded for the month that was queried,
	// sorted. Use Sent, Resumed and AlertsSent to read it.
	Markers []Threshold `json:"-"`

	// LastAlertResetAt is the start of the month the firm was last reset
	// for. Zero when the firm has never been evaluated.
	LastAlertResetAt time.Time `json:"last_alert_reset_at"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Sent reports whether tag is recorded for the month.
func (s *Settings) Sent(tag Threshold) bool {
	return slices.Contains(s.Markers, tag)
}

// Resumed reports whether an operator lifted the pause for the month.
func (s *Settings) Resumed() bool {
	return s.Sent(markerResumed)
}

// AlertsSent returns the alert tags fired this month, in ascending order.
func (s *Settings) AlertsSent() []Threshold {
	var out []Threshold
	for _, t := range []Threshold{Threshold75, Threshold90, Threshold100} {
		if s.Sent(t) {
			out = append(out, t)
		}
	}
	return out
}

// Alert is the event emitted when a threshold fires.
type Alert struct {
	FirmID      string    `json:"firm_id"`
	Threshold   Threshold `json:"threshold"`
	MonthYear   string    `json:"month_year"`
	SpendCents  float64   `json:"spend_cents"`
	BudgetCents int64     `json:"budget_cents"`
	FiredAt     time.Time `json:"fired_at"`
}

// Decision is the result of a governor evaluation.
type Decision struct {
	Verdict Verdict `json:"verdict"`
	State   State   `json:"state"`

	// Alert is set when this evaluation fired a threshold.
	Alert *Alert `json:"alert,omitempty"`

	SpendCents  float64 `json:"spend_cents"`
	BudgetCents int64   `json:"budget_cents"`

	// Percent is spend divided by budget (1.0 = 100%).
	Percent float64 `json:"percent"`

	// FailOpen is true when the budget could not be evaluated and the
	// request was allowed anyway. Cause holds the underlying error.
	FailOpen bool  `json:"fail_open,omitempty"`
	Cause    error `json:"-"`
}

// Blocked reports whether new model invocations must be refused.
func (d *Decision) Blocked() bool {
	return d.Verdict == VerdictBlock
}

// Status is a read-only view of a firm's budget.
type Status struct {
	FirmID           string      `json:"firm_id"`
	Policy           Policy      `json:"policy"`
	State            State       `json:"state"`
	MonthYear        string      `json:"month_year"`
	SpendCents       float64     `json:"spend_cents"`
	Percent          float64     `json:"percent"`
	AlertsSent       []Threshold `json:"alerts_sent"`
	Resumed          bool        `json:"resumed"`
	LastAlertResetAt time.Time   `json:"last_alert_reset_at"`
}

// Store persists budget settings and per-month alert markers. All methods
// that change state are atomic with respect to concurrent callers.
type Store interface {
	// Ensure creates settings with policy when the firm has none. Existing
	// settings are left untouched.
	Ensure(ctx context.Context, firmID string, policy Policy, now time.Time) error

	// Get returns the firm's settings with the markers of month
	// ("2006-01"), or ErrNotFound.
	Get(ctx context.Context, firmID, month string) (*Settings, error)

	// SetPolicy creates or replaces the firm's policy.
	SetPolicy(ctx context.Context, firmID string, policy Policy, now time.Time) error

	// ResetMonth moves LastAlertResetAt to monthStart if it is earlier and
	// drops markers of other months. It returns true for the single caller
	// that performed the reset.
	ResetMonth(ctx context.Context, firmID string, monthStart time.Time, month string, now time.Time) (bool, error)

	// MarkAlerts records tags for the month and returns the ones that were
	// not already recorded.
	MarkAlerts(ctx context.Context, firmID, month string, tags []Threshold, now time.Time) ([]Threshold, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// SpendSource reports month-to-date spend. ledger.Ledger satisfies it.
type SpendSource interface {
	SumSpend(ctx context.Context, firmID string, from, to time.Time) (float64, error)
}
