// Package budget enforces per-firm monthly AI spend budgets.
//
// # States
//
// A firm is in one of four states, derived on every evaluation from
// month-to-date spend (read from the usage ledger) against its monthly
// budget:
//
//	Normal    spend below 75%
//	Warned75  spend at or above 75%
//	Warned90  spend at or above 90%
//	Paused    spend at or above 100% with auto-pause enabled
//
// Paused blocks new model invocations until the month rolls over, the
// budget is raised, or an operator calls Resume. Cached responses are
// never blocked; that distinction is made by the caller of Evaluate.
//
// # Alerts
//
// Each threshold tag ("75", "90", "100") fires at most once per firm per
// calendar month. Crossed thresholds are evaluated high-to-low and marked
// sent in a single atomic check-and-set on the store; only the highest tag
// newly added by that check-and-set produces an alert event. A jump from
// 60% to 101% therefore emits the "100" pause alert alone, and "75" and
// "90" stay silent for the rest of the month.
//
// # Month rollover
//
// The first evaluation in a new month (in the configured timezone) resets
// the firm through a guarded ResetMonth, which succeeds for exactly one
// concurrent evaluator. Alert rows are keyed by month, so a reset that
// races with an evaluation can never resurrect last month's markers.
//
// # Failure policy
//
// When the store or the ledger cannot be read, the governor fails open:
// the decision is Allow with FailOpen set, unless FailClosed is configured.
// Notifier failures are logged; the sent marker is not rolled back.
package budget
