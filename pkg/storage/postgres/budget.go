package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"mercator-hq/costplane/pkg/budget"
)

// BudgetStore implements budget.Store. Alert markers are rows keyed by
// (firm_id, month, threshold); inserting one is the check-and-set.
type BudgetStore struct {
	db *DB
}

// NewBudgetStore creates a budget store on db.
func NewBudgetStore(db *DB) *BudgetStore {
	return &BudgetStore{db: db}
}

// Ensure implements budget.Store.
func (s *BudgetStore) Ensure(ctx context.Context, firmID string, policy budget.Policy, now time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO budget_settings (firm_id, monthly_budget_cents, alert_at_75, alert_at_90, auto_pause_at_100, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (firm_id) DO NOTHING
	`, firmID, policy.MonthlyBudgetCents, policy.AlertAt75, policy.AlertAt90, policy.AutoPauseAt100, now)
	if err != nil {
		return fmt.Errorf("failed to insert budget settings: %w", err)
	}
	return nil
}

// Get implements budget.Store.
func (s *BudgetStore) Get(ctx context.Context, firmID, month string) (*budget.Settings, error) {
	settings := &budget.Settings{FirmID: firmID}
	var resetAt *time.Time
	err := s.db.Pool.QueryRow(ctx, `
		SELECT monthly_budget_cents, alert_at_75, alert_at_90, auto_pause_at_100, last_alert_reset_at, updated_at
		FROM budget_settings
		WHERE firm_id = $1
	`, firmID).Scan(
		&settings.MonthlyBudgetCents, &settings.AlertAt75, &settings.AlertAt90, &settings.AutoPauseAt100,
		&resetAt, &settings.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, budget.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query budget settings: %w", err)
	}
	settings.LastAlertResetAt = lo.FromPtr(resetAt)

	rows, err := s.db.Pool.Query(ctx,
		`SELECT threshold FROM budget_alerts WHERE firm_id = $1 AND month = $2`, firmID, month)
	if err != nil {
		return nil, fmt.Errorf("failed to query budget alerts: %w", err)
	}
	tags, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan budget alerts: %w", err)
	}
	settings.Markers = lo.Map(tags, func(tag string, _ int) budget.Threshold { return budget.Threshold(tag) })
	slices.Sort(settings.Markers)
	return settings, nil
}

// SetPolicy implements budget.Store.
func (s *BudgetStore) SetPolicy(ctx context.Context, firmID string, policy budget.Policy, now time.Time) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO budget_settings (firm_id, monthly_budget_cents, alert_at_75, alert_at_90, auto_pause_at_100, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (firm_id) DO UPDATE SET
			monthly_budget_cents = EXCLUDED.monthly_budget_cents,
			alert_at_75 = EXCLUDED.alert_at_75,
			alert_at_90 = EXCLUDED.alert_at_90,
			auto_pause_at_100 = EXCLUDED.auto_pause_at_100,
			updated_at = EXCLUDED.updated_at
	`, firmID, policy.MonthlyBudgetCents, policy.AlertAt75, policy.AlertAt90, policy.AutoPauseAt100, now)
	if err != nil {
		return fmt.Errorf("failed to upsert budget settings: %w", err)
	}
	return nil
}

// ResetMonth implements budget.Store. The guarded UPDATE takes the row
// lock, so exactly one concurrent caller sees a row affected.
func (s *BudgetStore) ResetMonth(ctx context.Context, firmID string, monthStart time.Time, month string, now time.Time) (bool, error) {
	var reset bool
	err := pgx.BeginFunc(ctx, s.db.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE budget_settings
			SET last_alert_reset_at = $1, updated_at = $2
			WHERE firm_id = $3 AND (last_alert_reset_at IS NULL OR last_alert_reset_at < $1)
		`, monthStart, now, firmID)
		if err != nil {
			return fmt.Errorf("failed to reset budget month: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		reset = true

		if _, err := tx.Exec(ctx, `DELETE FROM budget_alerts WHERE firm_id = $1 AND month <> $2`, firmID, month); err != nil {
			return fmt.Errorf("failed to clear budget alerts: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return reset, nil
}

// MarkAlerts implements budget.Store. All tags are inserted by a single
// statement; RETURNING yields only the rows that did not already exist.
func (s *BudgetStore) MarkAlerts(ctx context.Context, firmID, month string, tags []budget.Threshold, now time.Time) ([]budget.Threshold, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	rows, err := s.db.Pool.Query(ctx, `
		INSERT INTO budget_alerts (firm_id, month, threshold, sent_at)
		SELECT $1, $2, t, $4 FROM unnest($3::TEXT[]) AS t
		ON CONFLICT (firm_id, month, threshold) DO NOTHING
		RETURNING threshold
	`, firmID, month, lo.Map(tags, func(t budget.Threshold, _ int) string { return string(t) }), now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark alerts: %w", err)
	}
	inserted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to mark alerts: %w", err)
	}

	// Report in the caller's order.
	return lo.Filter(tags, func(t budget.Threshold, _ int) bool {
		return slices.Contains(inserted, string(t))
	}), nil
}

// Ping implements budget.Store.
func (s *BudgetStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close is a no-op; the pool is closed by its owner.
func (s *BudgetStore) Close() error {
	return nil
}
