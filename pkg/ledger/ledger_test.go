package ledger

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"mercator-hq/costplane/pkg/storage/sqlitedb"
)

var monthStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func forEachLedger(t *testing.T, fn func(t *testing.T, l Ledger)) {
	t.Helper()
	now := func() time.Time { return monthStart.Add(24 * time.Hour) }

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryLedger(now))
	})

	t.Run("sqlite", func(t *testing.T) {
		db, err := sqlitedb.Open(sqlitedb.Config{Path: filepath.Join(t.TempDir(), "ledger.db")}, nil)
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		l, err := NewSQLiteLedger(db, now)
		if err != nil {
			t.Fatalf("NewSQLiteLedger failed: %v", err)
		}
		defer l.Close()
		fn(t, l)
	})
}

func record(firm string, cost float64, at time.Time) *UsageRecord {
	return &UsageRecord{
		FirmID:        firm,
		OperationType: "summarization",
		ModelUsed:     "gpt-4o",
		InputTokens:   100,
		OutputTokens:  50,
		CostCents:     cost,
		CreatedAt:     at,
	}
}

func TestLedger_RecordAssignsDefaults(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		r := &UsageRecord{FirmID: "firm-a", OperationType: "classification", InputTokens: 10, OutputTokens: 5}
		if err := l.Record(context.Background(), r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if r.ID == "" {
			t.Error("Expected ID to be assigned")
		}
		if !r.CreatedAt.Equal(monthStart.Add(24 * time.Hour)) {
			t.Errorf("Expected CreatedAt from ledger clock, got %v", r.CreatedAt)
		}
		if r.TotalTokens != 15 {
			t.Errorf("Expected total tokens 15, got %d", r.TotalTokens)
		}
	})
}

func TestLedger_RecordInvalid(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		tests := []struct {
			name string
			r    UsageRecord
		}{
			{"missing firm", UsageRecord{OperationType: "summarization"}},
			{"missing operation", UsageRecord{FirmID: "firm-a"}},
			{"negative tokens", UsageRecord{FirmID: "firm-a", OperationType: "summarization", InputTokens: -1}},
			{"negative cost", UsageRecord{FirmID: "firm-a", OperationType: "summarization", CostCents: -0.5}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r := tt.r
				if err := l.Record(context.Background(), &r); !errors.Is(err, ErrInvalidRecord) {
					t.Errorf("Expected ErrInvalidRecord, got %v", err)
				}
			})
		}
	})
}

func TestLedger_SumSpendWindow(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		nextMonth := monthStart.AddDate(0, 1, 0)

		records := []*UsageRecord{
			record("firm-a", 100, monthStart.Add(-time.Nanosecond)), // previous month
			record("firm-a", 25.5, monthStart),                      // inclusive lower bound
			record("firm-a", 10.25, monthStart.Add(48*time.Hour)),
			record("firm-a", 999, nextMonth), // exclusive upper bound
			record("firm-b", 500, monthStart.Add(time.Hour)),
		}
		for _, r := range records {
			if err := l.Record(ctx, r); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		got, err := l.SumSpend(ctx, "firm-a", monthStart, nextMonth)
		if err != nil {
			t.Fatalf("SumSpend failed: %v", err)
		}
		if math.Abs(got-35.75) > 1e-9 {
			t.Errorf("Expected spend 35.75, got %v", got)
		}

		empty, err := l.SumSpend(ctx, "firm-z", monthStart, nextMonth)
		if err != nil {
			t.Fatalf("SumSpend failed: %v", err)
		}
		if empty != 0 {
			t.Errorf("Expected 0 for unknown firm, got %v", empty)
		}
	})
}

func TestLedger_ConcurrentRecords(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		const writers = 50

		var wg sync.WaitGroup
		errCh := make(chan error, writers)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errCh <- l.Record(ctx, record("firm-a", 1.5, monthStart.Add(time.Hour)))
			}()
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		got, err := l.SumSpend(ctx, "firm-a", monthStart, monthStart.AddDate(0, 1, 0))
		if err != nil {
			t.Fatalf("SumSpend failed: %v", err)
		}
		if got != writers*1.5 {
			t.Errorf("Expected spend %v, got %v", writers*1.5, got)
		}
	})
}

func TestLedger_Summarize(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		at := monthStart.Add(time.Hour)

		cached := record("firm-a", 0, at)
		cached.Cached = true
		classify := record("firm-a", 2, at)
		classify.OperationType = "classification"
		classify.ModelUsed = "gpt-4o-mini"

		for _, r := range []*UsageRecord{record("firm-a", 10, at), cached, classify, record("firm-b", 7, at)} {
			if err := l.Record(ctx, r); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		got, err := l.Summarize(ctx, Filter{FirmID: "firm-a", From: monthStart, To: monthStart.AddDate(0, 1, 0)})
		if err != nil {
			t.Fatalf("Summarize failed: %v", err)
		}

		want := []Summary{
			{OperationType: "classification", ModelUsed: "gpt-4o-mini", Requests: 1, InputTokens: 100, OutputTokens: 50, TotalTokens: 150, CostCents: 2},
			{OperationType: "summarization", ModelUsed: "gpt-4o", Requests: 2, CachedRequests: 1, InputTokens: 200, OutputTokens: 100, TotalTokens: 300, CostCents: 10},
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("summary mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestLedger_Prune(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		old := record("firm-a", 5, monthStart.AddDate(0, -3, 0))
		recent := record("firm-a", 7, monthStart)
		for _, r := range []*UsageRecord{old, recent} {
			if err := l.Record(ctx, r); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		removed, err := l.Prune(ctx, monthStart.AddDate(0, -1, 0))
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if removed != 1 {
			t.Errorf("Expected 1 pruned record, got %d", removed)
		}

		total, err := l.SumSpend(ctx, "firm-a", monthStart.AddDate(-1, 0, 0), monthStart.AddDate(1, 0, 0))
		if err != nil {
			t.Fatalf("SumSpend failed: %v", err)
		}
		if total != 7 {
			t.Errorf("Expected remaining spend 7, got %v", total)
		}
	})
}
