// Costplane is the cost and caching control plane for AI-assisted work.
//
// It sits in front of model invocations and, per firm:
//   - serves repeated prompts from an exact or similarity cache
//   - coalesces concurrent identical misses into one model call
//   - records every call, cached or not, in a usage ledger
//   - enforces monthly budgets with 75/90/100 percent alerts and auto-pause
//
// Usage:
//
//	# Start the HTTP control plane
//	costplane serve --config costplane.yaml
//
//	# Inspect or change a firm's budget
//	costplane budget status firm-acme
//	costplane budget set firm-acme --monthly-cents 50000 --auto-pause
//	costplane budget resume firm-acme
//
//	# Month-to-date usage, grouped by operation and model
//	costplane usage firm-acme --output csv
//
//	# Run cache expiry and ledger retention once
//	costplane sweep
package main

func main() {
	Execute()
}
