// Package sqlitedb opens SQLite databases for the cache, ledger and budget
// stores. Connections run in WAL mode with a busy timeout, and a background
// loop checkpoints the WAL periodically.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go driver, registered as "sqlite"
)

// Supported driver names.
const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"

	// DriverPure is modernc.org/sqlite.
	DriverPure = "sqlite"
)

// Config configures a SQLite database.
type Config struct {
	// Path is the database file path. ":memory:" is not supported because
	// every pooled connection would see a different database.
	Path string

	// Driver is DriverCGO or DriverPure.
	// Default: DriverPure
	Driver string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL. Zero disables
	// the background checkpoint loop.
	CheckpointInterval time.Duration

	// MaxOpenConns bounds the connection pool. SQLite allows a single
	// writer, so larger pools only help concurrent readers.
	// Default: 1
	MaxOpenConns int
}

// DB is an open SQLite database.
type DB struct {
	*sql.DB

	path      string
	driver    string
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// Open opens the database at cfg.Path, creating its parent directory when
// needed, and applies WAL mode and the busy timeout.
func Open(cfg Config, logger *slog.Logger) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverPure
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database %q: %w", cfg.Path, err)
	}

	db := &DB{
		DB:     sqlDB,
		path:   cfg.Path,
		driver: cfg.Driver,
		logger: logger.With("component", "sqlitedb", "path", cfg.Path),
		done:   make(chan struct{}),
	}

	if cfg.CheckpointInterval > 0 {
		go db.checkpointLoop(cfg.CheckpointInterval)
	}

	db.logger.Debug("SQLite database opened", "driver", cfg.Driver)
	return db, nil
}

func buildDSN(cfg Config) (string, error) {
	busy := cfg.BusyTimeout.Milliseconds()
	switch cfg.Driver {
	case DriverCGO:
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL&_foreign_keys=on",
			cfg.Path, busy), nil
	case DriverPure:
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
			cfg.Path, busy), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the registered driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// Close stops the checkpoint loop and closes the database. It is safe to
// call more than once.
func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		close(db.done)
		// Final checkpoint so the WAL does not outlive the process.
		_, _ = db.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		err = db.DB.Close()
	})
	return err
}

func (db *DB) checkpointLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := db.DB.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				db.logger.Warn("WAL checkpoint failed", "error", err)
			}
		case <-db.done:
			return
		}
	}
}
