package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file, apply defaults and environment overrides, and
report every validation error.

Examples:
  costplane validate --config /etc/costplane/costplane.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ %s is valid\n", cfgFile)
	fmt.Fprintf(out, "  storage:   %s\n", cfg.Storage.Backend)
	fmt.Fprintf(out, "  inflight:  %s\n", cfg.InFlight.Backend)
	fmt.Fprintf(out, "  timezone:  %s\n", cfg.Budget.Timezone)
	fmt.Fprintf(out, "  default budget: %s\n", formatCents(float64(cfg.Budget.Defaults.MonthlyBudgetCents)))

	firms := make([]string, 0, len(cfg.Budget.Firms))
	for firmID := range cfg.Budget.Firms {
		firms = append(firms, firmID)
	}
	sort.Strings(firms)
	for _, firmID := range firms {
		eff := cfg.Budget.FirmBudget(firmID)
		fmt.Fprintf(out, "  firm %s: %s\n", firmID, formatCents(float64(eff.MonthlyBudgetCents)))
	}

	if cfg.Alerts.NATS.Enabled {
		fmt.Fprintf(out, "  alerts:    nats %s (%s)\n", cfg.Alerts.NATS.URL, cfg.Alerts.NATS.Subject)
	}
	return nil
}

