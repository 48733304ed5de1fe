package cache

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/costplane/pkg/storage/sqlitedb"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// forEachStore runs fn against every backend in this package.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		clock := newFakeClock()
		s := NewMemoryStore(WithClock(clock.Now))
		defer s.Close()
		fn(t, s, clock)
	})

	t.Run("sqlite", func(t *testing.T) {
		db, err := sqlitedb.Open(sqlitedb.Config{
			Path:   filepath.Join(t.TempDir(), "cache.db"),
			Driver: sqlitedb.DriverCGO,
		}, nil)
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		clock := newFakeClock()
		s, err := NewSQLiteStore(db, WithClock(clock.Now))
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		defer s.Close()
		fn(t, s, clock)
	})
}

func testEntry(clock *fakeClock, firm, op, prompt string) *Entry {
	return &Entry{
		FirmID:        firm,
		OperationType: op,
		PromptHash:    HashPrompt(firm, op, prompt),
		PromptText:    prompt,
		Embedding:     []float32{0.1, 0.2, 0.3},
		Response:      "response to " + prompt,
		ModelUsed:     "gpt-4o",
		CreatedAt:     clock.Now(),
		ExpiresAt:     clock.Now().Add(time.Hour),
	}
}

func TestStore_PutAndLookup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		entry := testEntry(clock, "firm-a", "summarization", "Summarize the deposition")

		if err := s.Put(ctx, entry); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := s.LookupExact(ctx, "firm-a", "summarization", entry.PromptHash)
		if err != nil {
			t.Fatalf("LookupExact failed: %v", err)
		}

		want := *entry
		if diff := cmp.Diff(&want, got); diff != "" {
			t.Errorf("entry mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStore_LookupMiss(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		entry := testEntry(clock, "firm-a", "summarization", "prompt")
		if err := s.Put(ctx, entry); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		tests := []struct {
			name     string
			firm, op string
		}{
			{"other firm", "firm-b", "summarization"},
			{"other operation", "firm-a", "classification"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.LookupExact(ctx, tt.firm, tt.op, entry.PromptHash)
				if !errors.Is(err, ErrMiss) {
					t.Errorf("Expected ErrMiss, got %v", err)
				}
			})
		}
	})
}

func TestStore_DuplicateKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		entry := testEntry(clock, "firm-a", "summarization", "prompt")
		if err := s.Put(ctx, entry); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		dup := testEntry(clock, "firm-a", "summarization", "prompt")
		dup.Response = "different"
		if err := s.Put(ctx, dup); !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("Expected ErrDuplicateKey, got %v", err)
		}

		got, err := s.LookupExact(ctx, "firm-a", "summarization", entry.PromptHash)
		if err != nil {
			t.Fatalf("LookupExact failed: %v", err)
		}
		if got.Response != entry.Response {
			t.Errorf("Expected original response %q, got %q", entry.Response, got.Response)
		}
	})
}

func TestStore_ExpiredEntryReplaced(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		entry := testEntry(clock, "firm-a", "summarization", "prompt")
		if err := s.Put(ctx, entry); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := s.Hit(ctx, "firm-a", "summarization", entry.PromptHash); err != nil {
			t.Fatalf("Hit failed: %v", err)
		}

		// Lookups treat now == expiresAt as dead.
		clock.Advance(time.Hour)
		if _, err := s.LookupExact(ctx, "firm-a", "summarization", entry.PromptHash); !errors.Is(err, ErrMiss) {
			t.Fatalf("Expected ErrMiss at expiry, got %v", err)
		}
		if _, err := s.Hit(ctx, "firm-a", "summarization", entry.PromptHash); !errors.Is(err, ErrMiss) {
			t.Fatalf("Expected Hit on dead entry to miss, got %v", err)
		}

		fresh := testEntry(clock, "firm-a", "summarization", "prompt")
		fresh.Response = "fresh"
		if err := s.Put(ctx, fresh); err != nil {
			t.Fatalf("Put over expired entry failed: %v", err)
		}

		got, err := s.LookupExact(ctx, "firm-a", "summarization", entry.PromptHash)
		if err != nil {
			t.Fatalf("LookupExact failed: %v", err)
		}
		if got.Response != "fresh" {
			t.Errorf("Expected fresh response, got %q", got.Response)
		}
		if got.HitCount != 0 {
			t.Errorf("Expected hit count reset to 0, got %d", got.HitCount)
		}
	})
}

func TestStore_ConcurrentHits(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		entry := testEntry(clock, "firm-a", "summarization", "prompt")
		if err := s.Put(ctx, entry); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		const workers = 20
		const hitsPerWorker = 10

		var wg sync.WaitGroup
		errCh := make(chan error, workers*hitsPerWorker)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range hitsPerWorker {
					if _, err := s.Hit(ctx, "firm-a", "summarization", entry.PromptHash); err != nil {
						errCh <- err
					}
				}
			}()
		}
		wg.Wait()
		close(errCh)

		for err := range errCh {
			t.Fatalf("Hit failed: %v", err)
		}

		got, err := s.LookupExact(ctx, "firm-a", "summarization", entry.PromptHash)
		if err != nil {
			t.Fatalf("LookupExact failed: %v", err)
		}
		if got.HitCount != workers*hitsPerWorker {
			t.Errorf("Expected hit count %d, got %d", workers*hitsPerWorker, got.HitCount)
		}
	})
}

func TestStore_ConcurrentPutSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		const writers = 10
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- s.Put(ctx, testEntry(clock, "firm-a", "summarization", "same prompt"))
			}()
		}
		wg.Wait()
		close(results)

		var ok, dup int
		for err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicateKey):
				dup++
			default:
				t.Fatalf("unexpected Put error: %v", err)
			}
		}
		if ok != 1 || dup != writers-1 {
			t.Errorf("Expected 1 insert and %d duplicates, got %d and %d", writers-1, ok, dup)
		}
	})
}

func TestStore_CandidatesScopedNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		for _, prompt := range []string{"first", "second", "third"} {
			if err := s.Put(ctx, testEntry(clock, "firm-a", "summarization", prompt)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			clock.Advance(time.Minute)
		}
		if err := s.Put(ctx, testEntry(clock, "firm-b", "summarization", "other firm")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Put(ctx, testEntry(clock, "firm-a", "classification", "other op")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := s.Candidates(ctx, "firm-a", "summarization", 2)
		if err != nil {
			t.Fatalf("Candidates failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 candidates, got %d", len(got))
		}
		if got[0].PromptText != "third" || got[1].PromptText != "second" {
			t.Errorf("Expected [third second], got [%s %s]", got[0].PromptText, got[1].PromptText)
		}
		for _, e := range got {
			if e.FirmID != "firm-a" || e.OperationType != "summarization" {
				t.Errorf("candidate escaped scope: %s/%s", e.FirmID, e.OperationType)
			}
		}

		none, err := s.Candidates(ctx, "firm-a", "summarization", 0)
		if err != nil || len(none) != 0 {
			t.Errorf("Expected no candidates for limit 0, got %d (err=%v)", len(none), err)
		}
	})
}

func TestStore_DeleteExpired(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		short := testEntry(clock, "firm-a", "summarization", "short lived")
		short.ExpiresAt = clock.Now().Add(time.Minute)
		long := testEntry(clock, "firm-a", "summarization", "long lived")
		long.ExpiresAt = clock.Now().Add(24 * time.Hour)

		for _, e := range []*Entry{short, long} {
			if err := s.Put(ctx, e); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}

		clock.Advance(2 * time.Minute)
		removed, err := s.DeleteExpired(ctx)
		if err != nil {
			t.Fatalf("DeleteExpired failed: %v", err)
		}
		if removed != 1 {
			t.Errorf("Expected 1 removed entry, got %d", removed)
		}

		if _, err := s.LookupExact(ctx, "firm-a", "summarization", long.PromptHash); err != nil {
			t.Errorf("long-lived entry should survive the sweep: %v", err)
		}
	})
}

func TestStore_InvalidEntry(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()

		tests := []struct {
			name   string
			mutate func(e *Entry)
		}{
			{"missing firm", func(e *Entry) { e.FirmID = "" }},
			{"missing operation", func(e *Entry) { e.OperationType = "" }},
			{"missing hash", func(e *Entry) { e.PromptHash = "" }},
			{"missing expiry", func(e *Entry) { e.ExpiresAt = time.Time{} }},
			{"expiry before creation", func(e *Entry) { e.ExpiresAt = e.CreatedAt.Add(-time.Second) }},
			{"NaN embedding", func(e *Entry) { e.Embedding = []float32{1, float32(math.NaN())} }},
			{"infinite embedding", func(e *Entry) { e.Embedding = []float32{float32(math.Inf(-1)), 0} }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				e := testEntry(clock, "firm-a", "summarization", tt.name)
				tt.mutate(e)
				if err := s.Put(ctx, e); !errors.Is(err, ErrInvalidEntry) {
					t.Errorf("Expected ErrInvalidEntry, got %v", err)
				}
			})
		}
	})
}

func TestStore_Ping(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}
