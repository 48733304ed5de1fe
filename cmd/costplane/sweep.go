package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/costplane/pkg/cli"
	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/maintenance"
	"mercator-hq/costplane/pkg/storage"
	"mercator-hq/costplane/pkg/telemetry/logging"
)

var sweepFlags struct {
	retentionDays int
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired cache entries and prune old usage records",
	Long: `Run the maintenance jobs once against the configured storage.

Expired cache entries are always deleted. Usage records are pruned only when
maintenance.retention_days (or --retention-days) is set.

Examples:
  # Sweep with the configured retention
  costplane sweep

  # Keep 90 days of usage records
  costplane sweep --retention-days 90`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().IntVar(&sweepFlags.retentionDays, "retention-days", 0, "override maintenance.retention_days")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sweepFlags.retentionDays != 0 {
		if sweepFlags.retentionDays < config.MinRetentionDays {
			return cli.NewConfigError("retention-days", fmt.Sprintf("must be at least %d", config.MinRetentionDays))
		}
		cfg.Maintenance.RetentionDays = sweepFlags.retentionDays
	}

	backends, err := storage.Open(cmd.Context(), cfg.Storage, logging.Discard())
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}
	defer backends.Close()

	mc := maintenance.FromConfig(cfg.Maintenance)
	mc.Logger = slog.Default()
	res, err := maintenance.New(backends.Cache, backends.Ledger, mc).RunOnce(cmd.Context())
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d expired cache entries\n", res.CacheSwept)
	if cfg.Maintenance.RetentionDays > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d usage records older than %d days\n", res.LedgerPruned, cfg.Maintenance.RetentionDays)
	}
	return nil
}
