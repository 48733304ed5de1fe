package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"mercator-hq/costplane/pkg/budget"
	"mercator-hq/costplane/pkg/cli"
	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/storage"
	"mercator-hq/costplane/pkg/telemetry/logging"
)

var budgetSetFlags struct {
	monthlyCents int64
	alert75      bool
	alert90      bool
	autoPause    bool
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect and manage firm budgets",
	Long: `Inspect and manage per-firm monthly budgets in the configured storage.

The commands open the storage backend directly, so they work whether or not
a server is running against it.`,
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status FIRM...",
	Short: "Show month-to-date spend and budget state",
	Long: `Show each firm's budget, month-to-date spend, state and the alerts already
sent this month.

Examples:
  costplane budget status firm-acme
  costplane budget status firm-acme firm-b --output json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBudgetStatus,
}

var budgetSetCmd = &cobra.Command{
	Use:   "set FIRM",
	Short: "Change a firm's budget policy",
	Long: `Change a firm's monthly budget or alert switches. Flags that are not given
keep their current value.

Examples:
  # Raise the budget to $500.00
  costplane budget set firm-acme --monthly-cents 50000

  # Block new model calls once the budget is spent
  costplane budget set firm-acme --auto-pause`,
	Args: cobra.ExactArgs(1),
	RunE: runBudgetSet,
}

var budgetResumeCmd = &cobra.Command{
	Use:   "resume FIRM",
	Short: "Lift an auto-pause for the rest of the month",
	Args:  cobra.ExactArgs(1),
	RunE:  runBudgetResume,
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetStatusCmd, budgetSetCmd, budgetResumeCmd)

	flags := budgetSetCmd.Flags()
	flags.Int64Var(&budgetSetFlags.monthlyCents, "monthly-cents", 0, "monthly budget in US cents (0 disables enforcement)")
	flags.BoolVar(&budgetSetFlags.alert75, "alert-75", true, "alert at 75% of budget")
	flags.BoolVar(&budgetSetFlags.alert90, "alert-90", true, "alert at 90% of budget")
	flags.BoolVar(&budgetSetFlags.autoPause, "auto-pause", false, "block new model calls at 100% of budget")
}

// openGovernor opens the configured storage and builds a governor over it.
// The caller closes the returned backends.
func openGovernor(ctx context.Context, cfg *config.Config) (*storage.Backends, *budget.Governor, error) {
	logger := logging.Discard()

	backends, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}

	gov, err := budget.NewGovernor(budget.GovernorConfig{
		Store:  backends.Budget,
		Spend:  backends.Ledger,
		Budget: cfg.Budget,
		Logger: logger,
	})
	if err != nil {
		backends.Close()
		return nil, nil, err
	}
	return backends, gov, nil
}

func runBudgetStatus(cmd *cobra.Command, args []string) error {
	out, err := formatter()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backends, gov, err := openGovernor(cmd.Context(), cfg)
	if err != nil {
		return cli.NewCommandError("budget status", err)
	}
	defer backends.Close()

	statuses := make(statusTable, 0, len(args))
	for _, firmID := range args {
		st, err := gov.Status(cmd.Context(), firmID)
		if err != nil {
			return cli.NewCommandError("budget status", fmt.Errorf("%s: %w", firmID, err))
		}
		statuses = append(statuses, st)
	}
	return out.FormatTo(cmd.OutOrStdout(), statuses)
}

func runBudgetSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if budgetSetFlags.monthlyCents < 0 {
		return cli.NewConfigError("monthly-cents", "must not be negative")
	}

	backends, gov, err := openGovernor(cmd.Context(), cfg)
	if err != nil {
		return cli.NewCommandError("budget set", err)
	}
	defer backends.Close()

	firmID := args[0]
	st, err := gov.Status(cmd.Context(), firmID)
	if err != nil {
		return cli.NewCommandError("budget set", err)
	}

	policy := st.Policy
	flags := cmd.Flags()
	if flags.Changed("monthly-cents") {
		policy.MonthlyBudgetCents = budgetSetFlags.monthlyCents
	}
	if flags.Changed("alert-75") {
		policy.AlertAt75 = budgetSetFlags.alert75
	}
	if flags.Changed("alert-90") {
		policy.AlertAt90 = budgetSetFlags.alert90
	}
	if flags.Changed("auto-pause") {
		policy.AutoPauseAt100 = budgetSetFlags.autoPause
	}

	if err := gov.SetPolicy(cmd.Context(), firmID, policy); err != nil {
		return cli.NewCommandError("budget set", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Budget for %s set to %s (auto-pause %t)\n",
		firmID, formatCents(float64(policy.MonthlyBudgetCents)), policy.AutoPauseAt100)
	return nil
}

func runBudgetResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backends, gov, err := openGovernor(cmd.Context(), cfg)
	if err != nil {
		return cli.NewCommandError("budget resume", err)
	}
	defer backends.Close()

	if err := gov.Resume(cmd.Context(), args[0]); err != nil {
		return cli.NewCommandError("budget resume", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s resumed for %s\n", args[0], gov.Period().Label)
	return nil
}

// statusTable renders budget statuses for the text and CSV formatters.
type statusTable []*budget.Status

func (statusTable) Header() []string {
	return []string{"FIRM", "MONTH", "BUDGET", "SPEND", "USED", "STATE", "ALERTS", "RESUMED"}
}

func (t statusTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, st := range t {
		alerts := lo.Map(st.AlertsSent, func(tag budget.Threshold, _ int) string { return string(tag) })
		rows = append(rows, []string{
			st.FirmID,
			st.MonthYear,
			formatCents(float64(st.Policy.MonthlyBudgetCents)),
			formatCents(st.SpendCents),
			strconv.FormatFloat(st.Percent*100, 'f', 1, 64) + "%",
			string(st.State),
			strings.Join(alerts, ","),
			strconv.FormatBool(st.Resumed),
		})
	}
	return rows
}

// formatCents renders US cents as dollars.
func formatCents(cents float64) string {
	return "$" + strconv.FormatFloat(cents/100, 'f', 2, 64)
}
