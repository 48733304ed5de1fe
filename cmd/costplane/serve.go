package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/costplane/pkg/cli"
	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/telemetry/logging"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	watch         bool
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control plane HTTP server",
	Long: `Start the control plane with the specified configuration.

The server exposes /v1/resolve, /v1/record and /v1/abandon for callers that
invoke models, plus budget and usage endpoints per firm. Cache expiry and
ledger retention run on their cron schedules while the server is up.

Examples:
  # Start with default config
  costplane serve

  # Start with custom config and reload budgets when it changes
  costplane serve --config /etc/costplane/costplane.yaml --watch

  # Override listen address
  costplane serve --listen 0.0.0.0:8090

  # Validate config and open backends without serving
  costplane serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.watch, "watch", true, "reload budgets, thresholds and prices when the config file changes")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "open backends and exit without serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}

	logger, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	if serveFlags.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration valid, %s backends reachable\n", a.backends.Name)
		return nil
	}

	var watcher *config.Watcher
	if serveFlags.watch {
		watcher, err = config.NewWatcher(cfgFile, cfg, logger)
		if err != nil {
			return cli.NewCommandError("serve", err)
		}
		defer watcher.Stop()
	}

	logger.Info("costplane starting",
		"version", Version,
		"listen_address", cfg.Server.ListenAddress,
		"storage_backend", cfg.Storage.Backend,
		"inflight_backend", cfg.InFlight.Backend,
	)

	if err := a.Run(ctx, watcher); err != nil {
		return cli.NewCommandError("serve", err)
	}

	logger.Info("costplane stopped")
	return nil
}
