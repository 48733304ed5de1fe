package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/costplane/pkg/cache"
	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/ledger"
	"mercator-hq/costplane/pkg/telemetry/metrics"
)

// Config configures the scheduler.
type Config struct {
	// SweepSchedule is a cron expression for deleting expired cache
	// entries. Empty disables the job.
	SweepSchedule string

	// RetentionSchedule is a cron expression for pruning usage records.
	// Empty disables the job.
	RetentionSchedule string

	// RetentionDays is how long usage records are kept. Zero keeps them
	// forever.
	RetentionDays int

	Logger  *slog.Logger
	Metrics *metrics.Collector

	// Now defaults to time.Now.
	Now func() time.Time
}

// FromConfig converts the maintenance section of the service configuration.
func FromConfig(c config.MaintenanceConfig) Config {
	return Config{
		SweepSchedule:     c.SweepSchedule,
		RetentionSchedule: c.RetentionSchedule,
		RetentionDays:     c.RetentionDays,
	}
}

// Result reports what a maintenance run removed.
type Result struct {
	CacheSwept   int64 `json:"cache_swept"`
	LedgerPruned int64 `json:"ledger_pruned"`
}

// Scheduler runs the cache sweep and the ledger retention job on cron
// schedules.
type Scheduler struct {
	cache   cache.Store
	ledger  ledger.Ledger
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	running bool
}

// New creates a scheduler. Either store may be nil, which disables its job.
func New(c cache.Store, l ledger.Ledger, cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger.With("component", "maintenance")

	cl := cronLogger{logger: logger}
	return &Scheduler{
		cache:   c,
		ledger:  l,
		cfg:     cfg,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Sweep deletes expired cache entries.
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}

	n, err := s.cache.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	s.metrics.RecordCacheSwept(int(n))

	if n > 0 {
		s.logger.Info("cache sweep completed", "deleted_count", n)
	} else {
		s.logger.Debug("cache sweep completed, no entries deleted")
	}
	return n, nil
}

// Prune deletes usage records older than the retention period.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	if s.ledger == nil || s.cfg.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	s.logger.Debug("pruning usage records",
		"cutoff_time", cutoff,
		"retention_days", s.cfg.RetentionDays,
	)

	n, err := s.ledger.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}
	s.metrics.RecordLedgerPruned(int(n))

	if n > 0 {
		s.logger.Info("ledger pruning completed",
			"deleted_count", n,
			"retention_days", s.cfg.RetentionDays,
		)
	}
	return n, nil
}

// RunOnce runs both jobs now. A failing job does not stop the other.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var errs []error

	n, err := s.Sweep(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	res.CacheSwept = n

	n, err = s.Prune(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	res.LedgerPruned = n

	return res, errors.Join(errs...)
}

// Start schedules the jobs and returns. The scheduler stops when ctx is
// cancelled or Stop is called. Jobs with an empty schedule are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("maintenance scheduler already running")
	}

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) (int64, error)
	}{
		{"sweep", s.cfg.SweepSchedule, s.Sweep},
		{"retention", s.cfg.RetentionSchedule, s.Prune},
	}

	for _, job := range jobs {
		if job.schedule == "" {
			s.logger.Info("job schedule not configured, skipping", "job", job.name)
			continue
		}
		if _, err := cron.ParseStandard(job.schedule); err != nil {
			s.removeAll()
			return fmt.Errorf("invalid cron schedule %q for %s: %w", job.schedule, job.name, err)
		}

		name, run := job.name, job.run
		id, err := s.cron.AddFunc(job.schedule, func() {
			if _, err := run(ctx); err != nil {
				s.logger.Error("scheduled job failed", "job", name, "error", err)
			}
		})
		if err != nil {
			s.removeAll()
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		s.entries[job.name] = id
	}

	if len(s.entries) == 0 {
		return nil
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("maintenance scheduler started",
		"sweep_schedule", s.cfg.SweepSchedule,
		"retention_schedule", s.cfg.RetentionSchedule,
		"retention_days", s.cfg.RetentionDays,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) removeAll() {
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("maintenance scheduler stopped")
}

// IsRunning reports whether any job is scheduled.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled time of the named job ("sweep" or
// "retention"), or nil when it is not scheduled.
func (s *Scheduler) NextRun(job string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[job]
	if !ok {
		return nil
	}
	next := s.cron.Entry(id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
