// Package maintenance runs the background jobs that keep the stores
// bounded: deleting expired cache entries and pruning usage records past
// the retention period.
//
// # Basic Usage
//
//	sched := maintenance.New(backends.Cache, backends.Ledger, maintenance.Config{
//	    SweepSchedule:     "*/15 * * * *",
//	    RetentionSchedule: "0 3 * * *",
//	    RetentionDays:     400,
//	})
//	if err := sched.Start(ctx); err != nil {
//	    return err
//	}
//	defer sched.Stop()
//
// RunOnce executes both jobs immediately; the "sweep" command uses it.
//
// # Retention
//
// RetentionDays of zero keeps usage records forever. Any other value must
// cover at least a full month, since budgets are computed from the
// month-to-date ledger.
package maintenance
