package budget

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/costplane/pkg/storage/sqlitedb"
)

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})

	t.Run("sqlite", func(t *testing.T) {
		db, err := sqlitedb.Open(sqlitedb.Config{Path: filepath.Join(t.TempDir(), "ledger.db")}, nil)
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		s, err := NewSQLiteStore(db)
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
}

var storeNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestStore_EnsureAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, err := s.Get(ctx, "firm-a", "2026-03"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}

		policy := Policy{MonthlyBudgetCents: 5000, AlertAt75: true, AlertAt90: false, AutoPauseAt100: true}
		if err := s.Ensure(ctx, "firm-a", policy, storeNow); err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}
		// A second Ensure must not overwrite the stored policy.
		if err := s.Ensure(ctx, "firm-a", DefaultPolicy(), storeNow); err != nil {
			t.Fatalf("second Ensure failed: %v", err)
		}

		got, err := s.Get(ctx, "firm-a", "2026-03")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if diff := cmp.Diff(policy, got.Policy); diff != "" {
			t.Errorf("policy mismatch (-want +got):\n%s", diff)
		}
		if !got.LastAlertResetAt.IsZero() {
			t.Errorf("Expected zero LastAlertResetAt for new firm, got %v", got.LastAlertResetAt)
		}
		if len(got.Markers) != 0 {
			t.Errorf("Expected no markers, got %v", got.Markers)
		}
	})
}

func TestStore_SetPolicy(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		updated := Policy{MonthlyBudgetCents: 20000, AlertAt90: true}
		if err := s.SetPolicy(ctx, "firm-a", updated, storeNow); err != nil {
			t.Fatalf("SetPolicy on new firm failed: %v", err)
		}
		if err := s.SetPolicy(ctx, "firm-a", updated, storeNow.Add(time.Hour)); err != nil {
			t.Fatalf("SetPolicy failed: %v", err)
		}

		got, err := s.Get(ctx, "firm-a", "2026-03")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Policy != updated {
			t.Errorf("Expected policy %+v, got %+v", updated, got.Policy)
		}
		if !got.UpdatedAt.Equal(storeNow.Add(time.Hour)) {
			t.Errorf("Expected UpdatedAt %v, got %v", storeNow.Add(time.Hour), got.UpdatedAt)
		}
	})
}

func TestStore_MarkAlertsCheckAndSet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Ensure(ctx, "firm-a", DefaultPolicy(), storeNow); err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}

		added, err := s.MarkAlerts(ctx, "firm-a", "2026-03", []Threshold{Threshold90, Threshold75}, storeNow)
		if err != nil {
			t.Fatalf("MarkAlerts failed: %v", err)
		}
		if diff := cmp.Diff([]Threshold{Threshold90, Threshold75}, added); diff != "" {
			t.Errorf("added mismatch (-want +got):\n%s", diff)
		}

		added, err = s.MarkAlerts(ctx, "firm-a", "2026-03", []Threshold{Threshold100, Threshold90, Threshold75}, storeNow)
		if err != nil {
			t.Fatalf("MarkAlerts failed: %v", err)
		}
		if diff := cmp.Diff([]Threshold{Threshold100}, added); diff != "" {
			t.Errorf("added mismatch (-want +got):\n%s", diff)
		}

		// Markers are per month.
		other, err := s.Get(ctx, "firm-a", "2026-04")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(other.Markers) != 0 {
			t.Errorf("Expected no markers for another month, got %v", other.Markers)
		}
	})
}

func TestStore_MarkAlertsConcurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Ensure(ctx, "firm-a", DefaultPolicy(), storeNow); err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}

		const workers = 25
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			fired int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				added, err := s.MarkAlerts(ctx, "firm-a", "2026-03", []Threshold{Threshold90}, storeNow)
				if err != nil {
					t.Errorf("MarkAlerts failed: %v", err)
					return
				}
				mu.Lock()
				fired += len(added)
				mu.Unlock()
			}()
		}
		wg.Wait()

		if fired != 1 {
			t.Errorf("Expected exactly 1 newly marked alert, got %d", fired)
		}
	})
}

func TestStore_ResetMonthOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Ensure(ctx, "firm-a", DefaultPolicy(), storeNow); err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}
		if _, err := s.MarkAlerts(ctx, "firm-a", "2026-02", []Threshold{Threshold75}, storeNow); err != nil {
			t.Fatalf("MarkAlerts failed: %v", err)
		}

		march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		const workers = 10
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			resets int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.ResetMonth(ctx, "firm-a", march, "2026-03", storeNow)
				if err != nil {
					t.Errorf("ResetMonth failed: %v", err)
					return
				}
				if ok {
					mu.Lock()
					resets++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if resets != 1 {
			t.Errorf("Expected exactly one reset, got %d", resets)
		}

		got, err := s.Get(ctx, "firm-a", "2026-02")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !got.LastAlertResetAt.Equal(march) {
			t.Errorf("Expected LastAlertResetAt %v, got %v", march, got.LastAlertResetAt)
		}
		if len(got.Markers) != 0 {
			t.Errorf("Expected previous month markers cleared, got %v", got.Markers)
		}
	})
}
