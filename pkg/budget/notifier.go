package budget

import (
	"context"
	"errors"
	"log/slog"
)

// Notifier delivers alert events. Delivery is at-most-once: the governor
// calls Notify once per fired threshold and does not retry.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, alert Alert) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at warn level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "budget.notifier")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, alert Alert) error {
	n.logger.WarnContext(ctx, "budget threshold reached",
		"firm_id", alert.FirmID,
		"threshold", string(alert.Threshold),
		"month", alert.MonthYear,
		"spend_cents", alert.SpendCents,
		"budget_cents", alert.BudgetCents,
	)
	return nil
}

// MultiNotifier fans an alert out to every notifier. All notifiers are
// attempted; their errors are joined.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
