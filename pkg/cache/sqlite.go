package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mercator-hq/costplane/pkg/storage/sqlitedb"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	firm_id        TEXT    NOT NULL,
	operation_type TEXT    NOT NULL,
	prompt_hash    TEXT    NOT NULL,
	prompt_text    TEXT    NOT NULL,
	embedding      BLOB,
	response       TEXT    NOT NULL,
	model_used     TEXT    NOT NULL,
	hit_count      INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL,
	PRIMARY KEY (firm_id, operation_type, prompt_hash)
);

CREATE INDEX IF NOT EXISTS idx_cache_scope_created ON cache_entries(firm_id, operation_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
`

const entryColumns = `firm_id, operation_type, prompt_hash, prompt_text, embedding, response, model_used, hit_count, created_at, expires_at`

// SQLiteStore implements Store on a SQLite database. Timestamps are stored
// as Unix nanoseconds.
type SQLiteStore struct {
	db  *sqlitedb.DB
	now func() time.Time

	lookupStmt     *sql.Stmt
	putStmt        *sql.Stmt
	hitStmt        *sql.Stmt
	candidatesStmt *sql.Stmt
	sweepStmt      *sql.Stmt
}

// NewSQLiteStore creates the cache schema in db and prepares statements.
// The caller owns db and closes it after the store.
func NewSQLiteStore(db *sqlitedb.DB, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	s := &SQLiteStore{db: db, now: o.now}

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.lookupStmt, err = s.db.Prepare(`
		SELECT ` + entryColumns + `
		FROM cache_entries
		WHERE firm_id = ? AND operation_type = ? AND prompt_hash = ? AND expires_at > ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare lookup statement: %w", err)
	}

	// The conflict branch only fires for a dead row, so a live duplicate
	// leaves the table untouched and reports zero rows affected.
	s.putStmt, err = s.db.Prepare(`
		INSERT INTO cache_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (firm_id, operation_type, prompt_hash) DO UPDATE SET
			prompt_text = excluded.prompt_text,
			embedding = excluded.embedding,
			response = excluded.response,
			model_used = excluded.model_used,
			hit_count = 0,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE cache_entries.expires_at <= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare put statement: %w", err)
	}

	s.hitStmt, err = s.db.Prepare(`
		UPDATE cache_entries
		SET hit_count = hit_count + 1
		WHERE firm_id = ? AND operation_type = ? AND prompt_hash = ? AND expires_at > ?
		RETURNING hit_count
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare hit statement: %w", err)
	}

	s.candidatesStmt, err = s.db.Prepare(`
		SELECT ` + entryColumns + `
		FROM cache_entries
		WHERE firm_id = ? AND operation_type = ? AND expires_at > ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare candidates statement: %w", err)
	}

	s.sweepStmt, err = s.db.Prepare(`DELETE FROM cache_entries WHERE expires_at <= ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare sweep statement: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                    Entry
		blob                 []byte
		createdAt, expiresAt int64
	)
	if err := row.Scan(&e.FirmID, &e.OperationType, &e.PromptHash, &e.PromptText, &blob,
		&e.Response, &e.ModelUsed, &e.HitCount, &createdAt, &expiresAt); err != nil {
		return nil, err
	}

	embedding, err := DecodeEmbedding(blob)
	if err != nil {
		return nil, err
	}
	e.Embedding = embedding
	e.CreatedAt = time.Unix(0, createdAt)
	e.ExpiresAt = time.Unix(0, expiresAt)
	return &e, nil
}

// LookupExact implements Store.
func (s *SQLiteStore) LookupExact(ctx context.Context, firmID, operationType, promptHash string) (*Entry, error) {
	row := s.lookupStmt.QueryRowContext(ctx, firmID, operationType, promptHash, s.now().UnixNano())
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up cache entry: %w", err)
	}
	return e, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	now := s.now()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	res, err := s.putStmt.ExecContext(ctx,
		entry.FirmID, entry.OperationType, entry.PromptHash, entry.PromptText,
		EncodeEmbedding(entry.Embedding), entry.Response, entry.ModelUsed,
		createdAt.UnixNano(), entry.ExpiresAt.UnixNano(),
		now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicateKey
	}
	return nil
}

// Hit implements Store.
func (s *SQLiteStore) Hit(ctx context.Context, firmID, operationType, promptHash string) (int64, error) {
	var count int64
	err := s.hitStmt.QueryRowContext(ctx, firmID, operationType, promptHash, s.now().UnixNano()).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMiss
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment hit count: %w", err)
	}
	return count, nil
}

// Candidates implements Store.
func (s *SQLiteStore) Candidates(ctx context.Context, firmID, operationType string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.candidatesStmt.QueryContext(ctx, firmID, operationType, s.now().UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return entries, nil
}

// DeleteExpired implements Store.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.sweepStmt.ExecContext(ctx, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the prepared statements. The database itself is closed by
// its owner.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.lookupStmt, s.putStmt, s.hitStmt, s.candidatesStmt, s.sweepStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
