// Package ledger is the append-only record of every AI invocation, cached
// or not.
//
// Each UsageRecord is written by a single atomic append and never updated.
// Spend queries sum CostCents over a half-open [from, to) window, and a
// write that returned successfully is visible to the next query in the
// same process.
//
// Backends:
//
//   - MemoryLedger for tests and single-process deployments
//   - SQLiteLedger on modernc.org/sqlite (see storage/sqlitedb)
//   - postgres.Ledger in package storage/postgres
//
// Retention pruning (Prune) is the only operation that removes rows and is
// driven by the maintenance scheduler.
package ledger
