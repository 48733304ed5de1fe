package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"mercator-hq/costplane/pkg/storage/sqlitedb"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id             TEXT    PRIMARY KEY,
	user_id        TEXT,
	case_id        TEXT,
	firm_id        TEXT    NOT NULL,
	operation_type TEXT    NOT NULL,
	model_used     TEXT    NOT NULL,
	input_tokens   INTEGER NOT NULL,
	output_tokens  INTEGER NOT NULL,
	total_tokens   INTEGER NOT NULL,
	cost_cents     REAL    NOT NULL,
	latency_ms     INTEGER NOT NULL,
	cached         INTEGER NOT NULL,
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_firm_created ON usage_records(firm_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_records(created_at);
`

// SQLiteLedger implements Ledger on a SQLite database. Timestamps are
// stored as Unix nanoseconds.
type SQLiteLedger struct {
	db  *sqlitedb.DB
	now func() time.Time

	insertStmt *sql.Stmt
	sumStmt    *sql.Stmt
	pruneStmt  *sql.Stmt
}

// NewSQLiteLedger creates the ledger schema in db and prepares statements.
// now defaults to time.Now when nil. The caller owns db.
func NewSQLiteLedger(db *sqlitedb.DB, now func() time.Time) (*SQLiteLedger, error) {
	if now == nil {
		now = time.Now
	}
	l := &SQLiteLedger{db: db, now: now}

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	if err := l.prepareStatements(); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return l, nil
}

func (l *SQLiteLedger) prepareStatements() error {
	var err error

	l.insertStmt, err = l.db.Prepare(`
		INSERT INTO usage_records (
			id, user_id, case_id, firm_id, operation_type, model_used,
			input_tokens, output_tokens, total_tokens, cost_cents, latency_ms, cached, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	l.sumStmt, err = l.db.Prepare(`
		SELECT COALESCE(SUM(cost_cents), 0)
		FROM usage_records
		WHERE firm_id = ? AND created_at >= ? AND created_at < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sum statement: %w", err)
	}

	l.pruneStmt, err = l.db.Prepare(`DELETE FROM usage_records WHERE created_at < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare prune statement: %w", err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Record implements Ledger.
func (l *SQLiteLedger) Record(ctx context.Context, r *UsageRecord) error {
	if err := r.Prepare(l.now()); err != nil {
		return err
	}

	_, err := l.insertStmt.ExecContext(ctx,
		r.ID, nullString(r.UserID), nullString(r.CaseID), r.FirmID, r.OperationType, r.ModelUsed,
		r.InputTokens, r.OutputTokens, r.TotalTokens, r.CostCents, r.LatencyMs, r.Cached,
		r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// SumSpend implements Ledger.
func (l *SQLiteLedger) SumSpend(ctx context.Context, firmID string, from, to time.Time) (float64, error) {
	var total float64
	if err := l.sumStmt.QueryRowContext(ctx, firmID, from.UnixNano(), to.UnixNano()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum spend: %w", err)
	}
	return total, nil
}

// Summarize implements Ledger.
func (l *SQLiteLedger) Summarize(ctx context.Context, filter Filter) ([]Summary, error) {
	query, args, err := sq.Select(
		"operation_type",
		"model_used",
		"COUNT(*)",
		"COALESCE(SUM(cached), 0)",
		"COALESCE(SUM(input_tokens), 0)",
		"COALESCE(SUM(output_tokens), 0)",
		"COALESCE(SUM(total_tokens), 0)",
		"COALESCE(SUM(cost_cents), 0)",
	).
		From("usage_records").
		Where(filter.Where(func(t time.Time) any { return t.UnixNano() })).
		GroupBy("operation_type", "model_used").
		OrderBy("operation_type", "model_used").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build summary query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.OperationType, &s.ModelUsed, &s.Requests, &s.CachedRequests,
			&s.InputTokens, &s.OutputTokens, &s.TotalTokens, &s.CostCents); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summary: %w", err)
	}
	return summaries, nil
}

// Prune implements Ledger.
func (l *SQLiteLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.pruneStmt.ExecContext(ctx, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}
	return res.RowsAffected()
}

// Ping implements Ledger.
func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.Ping(ctx)
}

// Close closes the prepared statements. The database is closed by its
// owner.
func (l *SQLiteLedger) Close() error {
	for _, stmt := range []*sql.Stmt{l.insertStmt, l.sumStmt, l.pruneStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
