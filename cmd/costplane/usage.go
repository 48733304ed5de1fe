package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/costplane/pkg/cli"
	"mercator-hq/costplane/pkg/ledger"
)

var usageFlags struct {
	from string
	to   string
}

var usageCmd = &cobra.Command{
	Use:   "usage FIRM",
	Short: "Summarize a firm's usage by operation and model",
	Long: `Summarize the usage ledger for a firm, grouped by operation type and model.

The window defaults to the current budget month. --from and --to take RFC3339
timestamps; --to is exclusive.

Examples:
  costplane usage firm-acme
  costplane usage firm-acme --from 2026-02-01T00:00:00Z --to 2026-03-01T00:00:00Z --output csv`,
	Args: cobra.ExactArgs(1),
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringVar(&usageFlags.from, "from", "", "window start (RFC3339), default start of the budget month")
	usageCmd.Flags().StringVar(&usageFlags.to, "to", "", "window end (RFC3339, exclusive), default end of the budget month")
}

func runUsage(cmd *cobra.Command, args []string) error {
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
		return cli.NewCommandError("usage", err)
	}
	defer backends.Close()

	period := gov.Period()
	from, to := period.Start, period.End
	if usageFlags.from != "" {
		if from, err = time.Parse(time.RFC3339, usageFlags.from); err != nil {
			return cli.NewConfigError("from", fmt.Sprintf("invalid RFC3339 time: %v", err))
		}
	}
	if usageFlags.to != "" {
		if to, err = time.Parse(time.RFC3339, usageFlags.to); err != nil {
			return cli.NewConfigError("to", fmt.Sprintf("invalid RFC3339 time: %v", err))
		}
	}
	if !to.After(from) {
		return cli.NewConfigError("to", "must be after from")
	}

	summaries, err := backends.Ledger.Summarize(cmd.Context(), ledger.Filter{FirmID: args[0], From: from, To: to})
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	if summaries == nil {
		summaries = []ledger.Summary{}
	}
	return out.FormatTo(cmd.OutOrStdout(), usageTable(summaries))
}

// usageTable renders ledger summaries for the text and CSV formatters.
type usageTable []ledger.Summary

func (usageTable) Header() []string {
	return []string{"OPERATION", "MODEL", "REQUESTS", "CACHED", "INPUT_TOKENS", "OUTPUT_TOKENS", "COST"}
}

func (t usageTable) Rows() [][]string {
	rows := make([][]string, 0, len(t)+1)
	var total ledger.Summary
	for _, s := range t {
		rows = append(rows, []string{
			s.OperationType,
			s.ModelUsed,
			strconv.FormatInt(s.Requests, 10),
			strconv.FormatInt(s.CachedRequests, 10),
			strconv.FormatInt(s.InputTokens, 10),
			strconv.FormatInt(s.OutputTokens, 10),
			formatCents(s.CostCents),
		})
		total.Requests += s.Requests
		total.CachedRequests += s.CachedRequests
		total.InputTokens += s.InputTokens
		total.OutputTokens += s.OutputTokens
		total.CostCents += s.CostCents
	}
	rows = append(rows, []string{
		"TOTAL", "",
		strconv.FormatInt(total.Requests, 10),
		strconv.FormatInt(total.CachedRequests, 10),
		strconv.FormatInt(total.InputTokens, 10),
		strconv.FormatInt(total.OutputTokens, 10),
		formatCents(total.CostCents),
	})
	return rows
}
