package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"mercator-hq/costplane/pkg/storage/sqlitedb"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS budget_settings (
	firm_id              TEXT    PRIMARY KEY,
	monthly_budget_cents INTEGER NOT NULL,
	alert_at_75          INTEGER NOT NULL,
	alert_at_90          INTEGER NOT NULL,
	auto_pause_at_100    INTEGER NOT NULL,
	last_alert_reset_at  INTEGER,
	updated_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS budget_alerts (
	firm_id   TEXT    NOT NULL,
	month     TEXT    NOT NULL,
	threshold TEXT    NOT NULL,
	sent_at   INTEGER NOT NULL,
	PRIMARY KEY (firm_id, month, threshold)
);
`

// SQLiteStore implements Store on a SQLite database. It normally shares the
// ledger database. Timestamps are stored as Unix nanoseconds.
type SQLiteStore struct {
	db *sqlitedb.DB

	ensureStmt    *sql.Stmt
	getStmt       *sql.Stmt
	markersStmt   *sql.Stmt
	setPolicyStmt *sql.Stmt
}

// NewSQLiteStore creates the budget schema in db and prepares statements.
// The caller owns db.
func NewSQLiteStore(db *sqlitedb.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize budget schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.ensureStmt, err = s.db.Prepare(`
		INSERT INTO budget_settings (firm_id, monthly_budget_cents, alert_at_75, alert_at_90, auto_pause_at_100, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (firm_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ensure statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(`
		SELECT monthly_budget_cents, alert_at_75, alert_at_90, auto_pause_at_100, last_alert_reset_at, updated_at
		FROM budget_settings
		WHERE firm_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.markersStmt, err = s.db.Prepare(`
		SELECT threshold FROM budget_alerts WHERE firm_id = ? AND month = ? ORDER BY threshold
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare markers statement: %w", err)
	}

	s.setPolicyStmt, err = s.db.Prepare(`
		INSERT INTO budget_settings (firm_id, monthly_budget_cents, alert_at_75, alert_at_90, auto_pause_at_100, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (firm_id) DO UPDATE SET
			monthly_budget_cents = excluded.monthly_budget_cents,
			alert_at_75 = excluded.alert_at_75,
			alert_at_90 = excluded.alert_at_90,
			auto_pause_at_100 = excluded.auto_pause_at_100,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare set policy statement: %w", err)
	}

	return nil
}

// Ensure implements Store.
func (s *SQLiteStore) Ensure(ctx context.Context, firmID string, policy Policy, now time.Time) error {
	_, err := s.ensureStmt.ExecContext(ctx, firmID, policy.MonthlyBudgetCents,
		policy.AlertAt75, policy.AlertAt90, policy.AutoPauseAt100, now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert budget settings: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, firmID, month string) (*Settings, error) {
	settings := &Settings{FirmID: firmID}
	var (
		resetAt   sql.NullInt64
		updatedAt int64
	)
	err := s.getStmt.QueryRowContext(ctx, firmID).Scan(
		&settings.MonthlyBudgetCents, &settings.AlertAt75, &settings.AlertAt90, &settings.AutoPauseAt100,
		&resetAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query budget settings: %w", err)
	}
	if resetAt.Valid {
		settings.LastAlertResetAt = time.Unix(0, resetAt.Int64)
	}
	settings.UpdatedAt = time.Unix(0, updatedAt)

	rows, err := s.markersStmt.QueryContext(ctx, firmID, month)
	if err != nil {
		return nil, fmt.Errorf("failed to query budget alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan budget alert: %w", err)
		}
		settings.Markers = append(settings.Markers, Threshold(tag))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate budget alerts: %w", err)
	}
	slices.Sort(settings.Markers)
	return settings, nil
}

// SetPolicy implements Store.
func (s *SQLiteStore) SetPolicy(ctx context.Context, firmID string, policy Policy, now time.Time) error {
	_, err := s.setPolicyStmt.ExecContext(ctx, firmID, policy.MonthlyBudgetCents,
		policy.AlertAt75, policy.AlertAt90, policy.AutoPauseAt100, now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert budget settings: %w", err)
	}
	return nil
}

// ResetMonth implements Store.
func (s *SQLiteStore) ResetMonth(ctx context.Context, firmID string, monthStart time.Time, month string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE budget_settings
		SET last_alert_reset_at = ?, updated_at = ?
		WHERE firm_id = ? AND (last_alert_reset_at IS NULL OR last_alert_reset_at < ?)
	`, monthStart.UnixNano(), now.UnixNano(), firmID, monthStart.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to reset budget month: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM budget_alerts WHERE firm_id = ? AND month <> ?`, firmID, month); err != nil {
		return false, fmt.Errorf("failed to clear budget alerts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit month reset: %w", err)
	}
	return true, nil
}

// MarkAlerts implements Store.
func (s *SQLiteStore) MarkAlerts(ctx context.Context, firmID, month string, tags []Threshold, now time.Time) ([]Threshold, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var added []Threshold
	for _, tag := range tags {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO budget_alerts (firm_id, month, threshold, sent_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (firm_id, month, threshold) DO NOTHING
		`, firmID, month, string(tag), now.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("failed to mark alert %s: %w", tag, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 1 {
			added = append(added, tag)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit alerts: %w", err)
	}
	return added, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the prepared statements. The database is closed by its
// owner.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.ensureStmt, s.getStmt, s.markersStmt, s.setPolicyStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
