package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"mercator-hq/costplane/pkg/ledger"
)

// Ledger implements ledger.Ledger.
type Ledger struct {
	db  *DB
	now func() time.Time
}

// NewLedger creates a ledger on db. now defaults to time.Now.
func NewLedger(db *DB, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{db: db, now: now}
}

// Record implements ledger.Ledger.
func (l *Ledger) Record(ctx context.Context, r *ledger.UsageRecord) error {
	if err := r.Prepare(l.now()); err != nil {
		return err
	}

	_, err := l.db.Pool.Exec(ctx, `
		INSERT INTO usage_records (
			id, user_id, case_id, firm_id, operation_type, model_used,
			input_tokens, output_tokens, total_tokens, cost_cents, latency_ms, cached, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		r.ID, lo.EmptyableToPtr(r.UserID), lo.EmptyableToPtr(r.CaseID), r.FirmID, r.OperationType, r.ModelUsed,
		r.InputTokens, r.OutputTokens, r.TotalTokens, r.CostCents, r.LatencyMs, r.Cached, r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: record %s already exists", ledger.ErrInvalidRecord, r.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// SumSpend implements ledger.Ledger.
func (l *Ledger) SumSpend(ctx context.Context, firmID string, from, to time.Time) (float64, error) {
	var total float64
	err := l.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_cents), 0)
		FROM usage_records
		WHERE firm_id = $1 AND created_at >= $2 AND created_at < $3
	`, firmID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum spend: %w", err)
	}
	return total, nil
}

// Summarize implements ledger.Ledger.
func (l *Ledger) Summarize(ctx context.Context, filter ledger.Filter) ([]ledger.Summary, error) {
	query, args, err := psql.Select(
		"operation_type",
		"model_used",
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE cached)",
		"COALESCE(SUM(input_tokens), 0)::BIGINT",
		"COALESCE(SUM(output_tokens), 0)::BIGINT",
		"COALESCE(SUM(total_tokens), 0)::BIGINT",
		"COALESCE(SUM(cost_cents), 0)",
	).
		From("usage_records").
		Where(filter.Where(func(t time.Time) any { return t })).
		GroupBy("operation_type", "model_used").
		OrderBy("operation_type", "model_used").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build summary query: %w", err)
	}

	rows, err := l.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Summary, error) {
		var s ledger.Summary
		err := row.Scan(&s.OperationType, &s.ModelUsed, &s.Requests, &s.CachedRequests,
			&s.InputTokens, &s.OutputTokens, &s.TotalTokens, &s.CostCents)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan summary: %w", err)
	}
	return summaries, nil
}

// Prune implements ledger.Ledger.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := l.db.Pool.Exec(ctx, `DELETE FROM usage_records WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping implements ledger.Ledger.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.Ping(ctx)
}

// Close is a no-op; the pool is closed by its owner.
func (l *Ledger) Close() error {
	return nil
}
