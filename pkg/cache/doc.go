// Package cache stores AI responses keyed by firm, operation type and the
// hash of the normalized prompt.
//
// # Scope
//
// Every entry belongs to exactly one firm and one operation type. Lookups,
// hit counting and candidate listing are always scoped to that pair, so an
// entry written for one firm can never be served to another.
//
// # Expiry
//
// Entries carry an absolute ExpiresAt. An entry is dead once the store's
// clock reaches ExpiresAt; dead entries are invisible to every read and may
// be replaced by Put. DeleteExpired physically removes them and is driven
// by the maintenance scheduler.
//
// # Backends
//
//   - MemoryStore: in-process, github.com/patrickmn/go-cache
//   - SQLiteStore: github.com/mattn/go-sqlite3 (see storage/sqlitedb)
//   - postgres.CacheStore: pgx, in package storage/postgres
//
// Hit counts are incremented inside the backend (an atomic counter or an
// UPDATE ... SET hit_count = hit_count + 1), never as a read-modify-write
// in application code.
package cache
