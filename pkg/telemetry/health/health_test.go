package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckReadiness_AllHealthy(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("cache", func(ctx context.Context) error { return nil })
	c.RegisterCheck("ledger", func(ctx context.Context) error { return nil })

	status := c.CheckReadiness(context.Background())
	if status.Status != StatusReady {
		t.Errorf("Expected ready, got %s", status.Status)
	}
	if len(status.Checks) != 2 {
		t.Errorf("Expected 2 check results, got %d", len(status.Checks))
	}
}

func TestCheckReadiness_NoChecks(t *testing.T) {
	status := New(0).CheckReadiness(context.Background())
	if status.Status != StatusReady {
		t.Errorf("Expected ready with no checks, got %s", status.Status)
	}
}

func TestCheckReadiness_Unhealthy(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("cache", func(ctx context.Context) error { return nil })
	c.RegisterCheck("ledger", func(ctx context.Context) error { return errors.New("database is locked") })

	status := c.CheckReadiness(context.Background())
	if status.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", status.Status)
	}
	if status.Checks["ledger"].Message != "database is locked" {
		t.Errorf("Expected ledger failure message, got %q", status.Checks["ledger"].Message)
	}
	if status.Checks["cache"].Status != StatusOK {
		t.Errorf("Expected cache ok, got %s", status.Checks["cache"].Status)
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	c := New(50 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		time.Sleep(500 * time.Millisecond)
		return nil
	})

	start := time.Now()
	status := c.CheckReadiness(context.Background())
	if time.Since(start) > 400*time.Millisecond {
		t.Error("readiness should not wait for a timed-out check")
	}
	if status.Checks["slow"].Message != ErrCheckTimeout.Error() {
		t.Errorf("Expected timeout message, got %q", status.Checks["slow"].Message)
	}
}

func TestReadinessHandler(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}

	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", body.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	c := New(time.Second)

	rec := httptest.NewRecorder()
	c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST, got %d", rec.Code)
	}
}

func TestListChecks_Sorted(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("ledger", nil)
	c.RegisterCheck("cache", nil)

	names := c.ListChecks()
	if len(names) != 2 || names[0] != "cache" || names[1] != "ledger" {
		t.Errorf("Expected [cache ledger], got %v", names)
	}
}
