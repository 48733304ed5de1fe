// Package postgres implements the cache, ledger and budget stores on
// PostgreSQL through a pgx connection pool. Queries are built with
// squirrel where they vary and written out where they are fixed.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mercator-hq/costplane/pkg/config"
)

// migrationLockID serializes schema creation between replicas starting at
// the same time.
const migrationLockID = 0x636f7374 // "cost"

// psql builds queries with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DB is a PostgreSQL connection pool shared by the stores.
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to cfg.DSN, verifies the connection and creates the schema.
func Open(ctx context.Context, cfg config.PostgresConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer(
		otelpgx.WithTrimSQLInSpanName(),
		otelpgx.WithSpanNameFunc(func(stmt string) string {
			return stmt[:min(len(stmt), 80)]
		}),
	)

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db := &DB{Pool: pool, logger: logger.With("component", "storage.postgres")}
	if err := db.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	db.logger.Info("postgres storage initialized",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
	)
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}
	if _, err := tx.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close closes the pool.
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	seq            BIGINT GENERATED ALWAYS AS IDENTITY,
	firm_id        TEXT        NOT NULL,
	operation_type TEXT        NOT NULL,
	prompt_hash    TEXT        NOT NULL,
	prompt_text    TEXT        NOT NULL,
	embedding      BYTEA,
	response       TEXT        NOT NULL,
	model_used     TEXT        NOT NULL,
	hit_count      BIGINT      NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (firm_id, operation_type, prompt_hash)
);

CREATE INDEX IF NOT EXISTS idx_cache_scope_created ON cache_entries (firm_id, operation_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries (expires_at);

CREATE TABLE IF NOT EXISTS usage_records (
	id             UUID             PRIMARY KEY,
	user_id        TEXT,
	case_id        TEXT,
	firm_id        TEXT             NOT NULL,
	operation_type TEXT             NOT NULL,
	model_used     TEXT             NOT NULL,
	input_tokens   BIGINT           NOT NULL,
	output_tokens  BIGINT           NOT NULL,
	total_tokens   BIGINT           NOT NULL,
	cost_cents     DOUBLE PRECISION NOT NULL,
	latency_ms     BIGINT           NOT NULL,
	cached         BOOLEAN          NOT NULL,
	created_at     TIMESTAMPTZ      NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_firm_created ON usage_records (firm_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_records (created_at);

CREATE TABLE IF NOT EXISTS budget_settings (
	firm_id              TEXT        PRIMARY KEY,
	monthly_budget_cents BIGINT      NOT NULL,
	alert_at_75          BOOLEAN     NOT NULL,
	alert_at_90          BOOLEAN     NOT NULL,
	auto_pause_at_100    BOOLEAN     NOT NULL,
	last_alert_reset_at  TIMESTAMPTZ,
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS budget_alerts (
	firm_id   TEXT        NOT NULL,
	month     TEXT        NOT NULL,
	threshold TEXT        NOT NULL,
	sent_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (firm_id, month, threshold)
);
`
