// Package storage builds the cache, ledger and budget stores for the
// configured backend.
//
// Supported backends:
//   - "memory": process-local stores, lost on restart
//   - "sqlite": cache.db (mattn/go-sqlite3) plus ledger.db holding usage
//     records and budget settings (modernc.org/sqlite)
//   - "postgres": one pgx pool shared by all three stores
//
// Example:
//
//	backends, err := storage.Open(ctx, cfg.Storage, logger)
//	if err != nil {
//	    return err
//	}
//	defer backends.Close()
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mercator-hq/costplane/pkg/budget"
	"mercator-hq/costplane/pkg/cache"
	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/ledger"
	"mercator-hq/costplane/pkg/storage/postgres"
	"mercator-hq/costplane/pkg/storage/sqlitedb"
)

// Backends holds the opened stores. Close releases the stores and the
// databases underneath them.
type Backends struct {
	Name   string
	Cache  cache.Store
	Ledger ledger.Ledger
	Budget budget.Store

	closers []io.Closer
}

// Options tunes Open.
type Options struct {
	// Now is the clock used by the stores. Defaults to time.Now.
	Now func() time.Time
}

// Open builds the stores selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger, opts ...Options) (*Backends, error) {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if len(opts) > 0 && opts[0].Now != nil {
		now = opts[0].Now
	}

	var (
		b   *Backends
		err error
	)
	switch cfg.Backend {
	case "", "memory":
		b = openMemory(now)
	case "sqlite":
		b, err = openSQLite(cfg.SQLite, logger, now)
	case "postgres":
		b, err = openPostgres(ctx, cfg.Postgres, logger, now)
	default:
		err = fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("storage backends opened", "backend", b.Name)
	return b, nil
}

func openMemory(now func() time.Time) *Backends {
	b := &Backends{
		Name:   "memory",
		Cache:  cache.NewMemoryStore(cache.WithClock(now)),
		Ledger: ledger.NewMemoryLedger(now),
		Budget: budget.NewMemoryStore(),
	}
	b.closers = []io.Closer{b.Cache, b.Ledger, b.Budget}
	return b
}

func openSQLite(cfg config.SQLiteConfig, logger *slog.Logger, now func() time.Time) (_ *Backends, err error) {
	b := &Backends{Name: "sqlite"}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	cacheDB, err := sqlitedb.Open(sqlitedb.Config{
		Path:               cfg.CachePath,
		Driver:             sqlitedb.DriverCGO,
		BusyTimeout:        cfg.BusyTimeout,
		CheckpointInterval: cfg.CheckpointInterval,
		MaxOpenConns:       4,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	b.closers = append(b.closers, cacheDB)

	ledgerDB, err := sqlitedb.Open(sqlitedb.Config{
		Path:               cfg.LedgerPath,
		Driver:             sqlitedb.DriverPure,
		BusyTimeout:        cfg.BusyTimeout,
		CheckpointInterval: cfg.CheckpointInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	b.closers = append(b.closers, ledgerDB)

	cacheStore, err := cache.NewSQLiteStore(cacheDB, cache.WithClock(now))
	if err != nil {
		return nil, err
	}
	b.Cache = cacheStore

	usage, err := ledger.NewSQLiteLedger(ledgerDB, now)
	if err != nil {
		return nil, err
	}
	b.Ledger = usage

	budgets, err := budget.NewSQLiteStore(ledgerDB)
	if err != nil {
		return nil, err
	}
	b.Budget = budgets

	// Stores close their statements before the databases close.
	b.closers = append([]io.Closer{cacheStore, usage, budgets}, b.closers...)
	return b, nil
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig, logger *slog.Logger, now func() time.Time) (*Backends, error) {
	db, err := postgres.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Backends{
		Name:    "postgres",
		Cache:   postgres.NewCacheStore(db, now),
		Ledger:  postgres.NewLedger(db, now),
		Budget:  postgres.NewBudgetStore(db),
		closers: []io.Closer{db},
	}, nil
}

// Ping checks every store.
func (b *Backends) Ping(ctx context.Context) error {
	return errors.Join(b.Cache.Ping(ctx), b.Ledger.Ping(ctx), b.Budget.Ping(ctx))
}

// Close closes the stores, then the databases.
func (b *Backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
