package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"mercator-hq/costplane/pkg/cache"
)

const entryColumns = `firm_id, operation_type, prompt_hash, prompt_text, embedding, response, model_used, hit_count, created_at, expires_at`

// CacheStore implements cache.Store.
type CacheStore struct {
	db  *DB
	now func() time.Time
}

// NewCacheStore creates a cache store on db. now defaults to time.Now.
func NewCacheStore(db *DB, now func() time.Time) *CacheStore {
	if now == nil {
		now = time.Now
	}
	return &CacheStore{db: db, now: now}
}

func scanEntry(row pgx.Row) (*cache.Entry, error) {
	var (
		e    cache.Entry
		blob []byte
	)
	if err := row.Scan(&e.FirmID, &e.OperationType, &e.PromptHash, &e.PromptText, &blob,
		&e.Response, &e.ModelUsed, &e.HitCount, &e.CreatedAt, &e.ExpiresAt); err != nil {
		return nil, err
	}
	embedding, err := cache.DecodeEmbedding(blob)
	if err != nil {
		return nil, err
	}
	e.Embedding = embedding
	return &e, nil
}

// LookupExact implements cache.Store.
func (s *CacheStore) LookupExact(ctx context.Context, firmID, operationType, promptHash string) (*cache.Entry, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM cache_entries
		WHERE firm_id = $1 AND operation_type = $2 AND prompt_hash = $3 AND expires_at > $4
	`, firmID, operationType, promptHash, s.now())

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up cache entry: %w", err)
	}
	return e, nil
}

// Put implements cache.Store. A dead row with the same key is overwritten
// in place; a live one leaves the statement with zero rows affected.
func (s *CacheStore) Put(ctx context.Context, entry *cache.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	now := s.now()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	tag, err := s.db.Pool.Exec(ctx, `
		INSERT INTO cache_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
		ON CONFLICT (firm_id, operation_type, prompt_hash) DO UPDATE SET
			prompt_text = EXCLUDED.prompt_text,
			embedding = EXCLUDED.embedding,
			response = EXCLUDED.response,
			model_used = EXCLUDED.model_used,
			hit_count = 0,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE cache_entries.expires_at <= $10
	`,
		entry.FirmID, entry.OperationType, entry.PromptHash, entry.PromptText,
		cache.EncodeEmbedding(entry.Embedding), entry.Response, entry.ModelUsed,
		createdAt, entry.ExpiresAt, now,
	)
	if isUniqueViolation(err) {
		return cache.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cache.ErrDuplicateKey
	}
	return nil
}

// Hit implements cache.Store.
func (s *CacheStore) Hit(ctx context.Context, firmID, operationType, promptHash string) (int64, error) {
	var count int64
	err := s.db.Pool.QueryRow(ctx, `
		UPDATE cache_entries
		SET hit_count = hit_count + 1
		WHERE firm_id = $1 AND operation_type = $2 AND prompt_hash = $3 AND expires_at > $4
		RETURNING hit_count
	`, firmID, operationType, promptHash, s.now()).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, cache.ErrMiss
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment hit count: %w", err)
	}
	return count, nil
}

// Candidates implements cache.Store.
func (s *CacheStore) Candidates(ctx context.Context, firmID, operationType string, limit int) ([]*cache.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	query, args, err := psql.Select(entryColumns).
		From("cache_entries").
		Where(sq.Eq{"firm_id": firmID, "operation_type": operationType}).
		Where(sq.Gt{"expires_at": s.now()}).
		OrderBy("created_at DESC", "seq DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build candidates query: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*cache.Entry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan candidates: %w", err)
	}
	return entries, nil
}

// DeleteExpired implements cache.Store.
func (s *CacheStore) DeleteExpired(ctx context.Context) (int64, error) {
	query, args, err := psql.Delete("cache_entries").Where(sq.LtOrEq{"expires_at": s.now()}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build sweep query: %w", err)
	}
	tag, err := s.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping implements cache.Store.
func (s *CacheStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close is a no-op; the pool is closed by its owner.
func (s *CacheStore) Close() error {
	return nil
}
