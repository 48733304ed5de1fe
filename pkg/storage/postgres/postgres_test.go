package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"mercator-hq/costplane/pkg/budget"
	"mercator-hq/costplane/pkg/cache"
	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/ledger"
	"mercator-hq/costplane/pkg/telemetry/logging"
)

// openTestDB connects to COSTPLANE_TEST_POSTGRES_DSN. Tests use a fresh
// firm id so runs do not interfere with each other.
func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	dsn := os.Getenv("COSTPLANE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COSTPLANE_TEST_POSTGRES_DSN not set")
	}

	db, err := Open(context.Background(), config.PostgresConfig{
		DSN:            dsn,
		MaxConns:       8,
		ConnectTimeout: 5 * time.Second,
	}, logging.Discard())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, "firm-" + uuid.NewString()
}

func TestCacheStore(t *testing.T) {
	db, firm := openTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)
	s := NewCacheStore(db, func() time.Time { return now })

	entry := &cache.Entry{
		FirmID:        firm,
		OperationType: "summarization",
		PromptHash:    cache.HashPrompt(firm, "summarization", "summarize the deposition"),
		PromptText:    "summarize the deposition",
		Embedding:     []float32{0.1, 0.2, 0.3},
		Response:      "The witness stated...",
		ModelUsed:     "gpt-4o",
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := s.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, entry); !errors.Is(err, cache.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, err := s.LookupExact(ctx, firm, "summarization", entry.PromptHash)
	if err != nil {
		t.Fatalf("LookupExact failed: %v", err)
	}
	if diff := cmp.Diff(entry.Embedding, got.Embedding); diff != "" {
		t.Errorf("embedding mismatch (-want +got):\n%s", diff)
	}

	const hits = 20
	var wg sync.WaitGroup
	for range hits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Hit(ctx, firm, "summarization", entry.PromptHash); err != nil {
				t.Errorf("Hit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ = s.LookupExact(ctx, firm, "summarization", entry.PromptHash)
	if got.HitCount != hits {
		t.Errorf("Expected hit count %d, got %d", hits, got.HitCount)
	}

	candidates, err := s.Candidates(ctx, firm, "summarization", 10)
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("Expected 1 candidate, got %d", len(candidates))
	}
	if c, _ := s.Candidates(ctx, "other-"+firm, "summarization", 10); len(c) != 0 {
		t.Errorf("Expected no candidates for another firm, got %d", len(c))
	}

	// Expire the entry and check it is replaceable and sweepable.
	later := now.Add(2 * time.Hour)
	s.now = func() time.Time { return later }
	if _, err := s.LookupExact(ctx, firm, "summarization", entry.PromptHash); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("Expected ErrMiss for expired entry, got %v", err)
	}
	if n, err := s.DeleteExpired(ctx); err != nil || n < 1 {
		t.Errorf("Expected at least one swept entry, got %d (%v)", n, err)
	}
}

func TestLedger(t *testing.T) {
	db, firm := openTestDB(t)
	ctx := context.Background()
	l := NewLedger(db, nil)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*ledger.UsageRecord{
		{FirmID: firm, OperationType: "summarization", ModelUsed: "gpt-4o", InputTokens: 100, OutputTokens: 50, CostCents: 12.5, CreatedAt: start.Add(time.Hour)},
		{FirmID: firm, OperationType: "summarization", ModelUsed: "gpt-4o", Cached: true, CreatedAt: start.Add(2 * time.Hour)},
		{FirmID: firm, OperationType: "classification", ModelUsed: "gpt-4o-mini", CostCents: 0.25, CreatedAt: start.Add(3 * time.Hour)},
		{FirmID: firm, OperationType: "classification", ModelUsed: "gpt-4o-mini", CostCents: 99, CreatedAt: start.AddDate(0, 1, 0)},
	}
	for _, r := range records {
		if err := l.Record(ctx, r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	if err := l.Record(ctx, &ledger.UsageRecord{ID: records[0].ID, FirmID: firm, OperationType: "x", ModelUsed: "y"}); !errors.Is(err, ledger.ErrInvalidRecord) {
		t.Errorf("Expected ErrInvalidRecord for duplicate id, got %v", err)
	}

	spend, err := l.SumSpend(ctx, firm, start, start.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("SumSpend failed: %v", err)
	}
	if spend != 12.75 {
		t.Errorf("Expected spend 12.75, got %v", spend)
	}

	summaries, err := l.Summarize(ctx, ledger.Filter{FirmID: firm, From: start, To: start.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	want := []ledger.Summary{
		{OperationType: "classification", ModelUsed: "gpt-4o-mini", Requests: 1, CostCents: 0.25},
		{OperationType: "summarization", ModelUsed: "gpt-4o", Requests: 2, CachedRequests: 1, InputTokens: 100, OutputTokens: 50, TotalTokens: 150, CostCents: 12.5},
	}
	if diff := cmp.Diff(want, summaries); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestBudgetStore(t *testing.T) {
	db, firm := openTestDB(t)
	ctx := context.Background()
	s := NewBudgetStore(db)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.Get(ctx, firm, "2026-03"); !errors.Is(err, budget.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if err := s.Ensure(ctx, firm, budget.DefaultPolicy(), now); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	const callers = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		resets int
		fired  int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reset, err := s.ResetMonth(ctx, firm, march, "2026-03", now)
			if err != nil {
				t.Errorf("ResetMonth failed: %v", err)
				return
			}
			added, err := s.MarkAlerts(ctx, firm, "2026-03", []budget.Threshold{budget.Threshold90, budget.Threshold75}, now)
			if err != nil {
				t.Errorf("MarkAlerts failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if reset {
				resets++
			}
			if len(added) > 0 && added[0] == budget.Threshold90 {
				fired++
			}
		}()
	}
	wg.Wait()

	if resets != 1 {
		t.Errorf("Expected exactly one reset, got %d", resets)
	}
	if fired != 1 {
		t.Errorf("Expected exactly one 90 marker insert, got %d", fired)
	}

	got, err := s.Get(ctx, firm, "2026-03")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if diff := cmp.Diff([]budget.Threshold{budget.Threshold75, budget.Threshold90}, got.AlertsSent()); diff != "" {
		t.Errorf("alerts mismatch (-want +got):\n%s", diff)
	}
	if !got.LastAlertResetAt.Equal(march) {
		t.Errorf("Expected reset at %v, got %v", march, got.LastAlertResetAt)
	}
}
