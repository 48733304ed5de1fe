package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mercator-hq/costplane/pkg/budget"
	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/controlplane"
	"mercator-hq/costplane/pkg/inflight"
	"mercator-hq/costplane/pkg/maintenance"
	"mercator-hq/costplane/pkg/pricing"
	"mercator-hq/costplane/pkg/server"
	"mercator-hq/costplane/pkg/similarity"
	"mercator-hq/costplane/pkg/storage"
	"mercator-hq/costplane/pkg/telemetry/health"
	"mercator-hq/costplane/pkg/telemetry/metrics"
	"mercator-hq/costplane/pkg/telemetry/tracing"
)

// app is the serve command's object graph.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	tracer   *tracing.Tracer
	metrics  *metrics.Collector
	backends *storage.Backends
	tracker  inflight.Tracker
	governor *budget.Governor
	facade   *controlplane.Facade
	health   *health.Checker
	maint    *maintenance.Scheduler
	server   *server.Server

	closers []io.Closer
}

// newApp opens every backend named by cfg and wires the control plane.
// On error, anything already opened is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.tracer, err = tracing.New(ctx, cfg.Telemetry.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.metrics = metrics.NewCollector(cfg.Telemetry.Metrics, nil)

	a.backends, err = storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.closers = append(a.closers, a.backends)

	a.tracker, err = inflight.New(ctx, cfg.InFlight, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create inflight tracker: %w", err)
	}
	a.closers = append(a.closers, a.tracker)

	a.health = health.New(cfg.Telemetry.Health.CheckTimeout)
	a.health.RegisterCheck("storage", a.backends.Ping)
	a.health.RegisterCheck("inflight", a.tracker.Ping)

	notifiers := budget.MultiNotifier{budget.NewLogNotifier(logger)}
	if cfg.Alerts.NATS.Enabled {
		nn, err := budget.NewNATSNotifier(cfg.Alerts.NATS, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nn)
		a.health.RegisterCheck("nats", nn.Ping)
		notifiers = append(notifiers, nn)
	}

	a.governor, err = budget.NewGovernor(budget.GovernorConfig{
		Store:    a.backends.Budget,
		Spend:    a.backends.Ledger,
		Notifier: notifiers,
		Budget:   cfg.Budget,
		Logger:   logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := a.governor.ApplyFirmOverrides(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply firm budgets: %w", err)
	}

	a.facade, err = controlplane.New(controlplane.Config{
		Cache:         a.backends.Cache,
		Ledger:        a.backends.Ledger,
		Governor:      a.governor,
		Matcher:       similarity.NewMatcher(a.backends.Cache, cfg.Cache.SimilarityThresholds, cfg.Cache.MaxCandidates),
		InFlight:      a.tracker,
		Pricing:       pricing.NewCalculator(cfg.Pricing),
		CacheSettings: cfg.Cache,
		WaitTimeout:   cfg.InFlight.WaitTimeout,
		Logger:        logger,
		Metrics:       a.metrics,
		Tracer:        a.tracer,
	})
	if err != nil {
		return nil, err
	}

	if config.BoolValue(cfg.Maintenance.Enabled, config.DefaultMaintenanceEnabled) {
		mc := maintenance.FromConfig(cfg.Maintenance)
		mc.Logger = logger
		mc.Metrics = a.metrics
		a.maint = maintenance.New(a.backends.Cache, a.backends.Ledger, mc)
	}

	a.server, err = server.New(server.Options{
		Config:    cfg.Server,
		Telemetry: cfg.Telemetry,
		Facade:    a.facade,
		Health:    a.health,
		Metrics:   a.metrics,
		Tracer:    a.tracer,
		Logger:    logger,
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Run serves until ctx is cancelled or a component fails. A non-nil
// watcher reloads budgets, thresholds and prices when the config file
// changes.
func (a *app) Run(ctx context.Context, watcher *config.Watcher) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.maint != nil {
		if err := a.maint.Start(gctx); err != nil {
			return err
		}
	}

	g.Go(func() error {
		return a.server.Start(gctx)
	})

	if watcher != nil {
		watcher.OnChange(func(cfg *config.Config) {
			if err := a.facade.ApplyConfig(gctx, cfg); err != nil {
				a.logger.Error("failed to apply reloaded config", "error", err)
			}
		})
		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	}

	return g.Wait()
}

// Close stops the scheduler, flushes spans and closes the backends.
func (a *app) Close(ctx context.Context) error {
	if a.maint != nil {
		a.maint.Stop()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if a.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
