package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/costplane/pkg/budget"
	"mercator-hq/costplane/pkg/cache"
	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/controlplane"
	"mercator-hq/costplane/pkg/inflight"
	"mercator-hq/costplane/pkg/ledger"
	"mercator-hq/costplane/pkg/server/middleware"
	"mercator-hq/costplane/pkg/telemetry/health"
	"mercator-hq/costplane/pkg/telemetry/logging"
	"mercator-hq/costplane/pkg/telemetry/metrics"
)

var testNow = time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	server  *Server
	handler http.Handler
	ledger  ledger.Ledger
}

func newTestEnv(t *testing.T, ldg ledger.Ledger) *testEnv {
	t.Helper()

	now := func() time.Time { return testNow }
	if ldg == nil {
		ldg = ledger.NewMemoryLedger(now)
	}
	store := cache.NewMemoryStore(cache.WithClock(now))
	collector := metrics.NewCollector(config.MetricsConfig{Enabled: config.Bool(true)}, prometheus.NewRegistry())

	gov, err := budget.NewGovernor(budget.GovernorConfig{
		Store: budget.NewMemoryStore(),
		Spend: ldg,
		Budget: config.BudgetConfig{
			Timezone: "UTC",
			Defaults: config.FirmBudgetConfig{MonthlyBudgetCents: 1000, AutoPauseAt100: config.Bool(true)},
		},
		Logger: logging.Discard(),
		Now:    now,
	})
	if err != nil {
		t.Fatalf("NewGovernor failed: %v", err)
	}

	facade, err := controlplane.New(controlplane.Config{
		Cache:         store,
		Ledger:        ldg,
		Governor:      gov,
		InFlight:      inflight.NewMemoryTracker(time.Minute),
		CacheSettings: config.CacheConfig{TTL: time.Hour},
		WaitTimeout:   100 * time.Millisecond,
		Logger:        logging.Discard(),
		Metrics:       collector,
		Now:           now,
	})
	if err != nil {
		t.Fatalf("controlplane.New failed: %v", err)
	}

	checker := health.New(time.Second)
	checker.RegisterCheck("ledger", ldg.Ping)

	srv, err := New(Options{
		Config:  config.ServerConfig{ListenAddress: "127.0.0.1:0", MaxBodyBytes: 1 << 16, ShutdownTimeout: time.Second},
		Facade:  facade,
		Health:  checker,
		Metrics: collector,
		Logger:  logging.Discard(),
		Version: "1.2.3",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &testEnv{server: srv, handler: srv.Handler(), ledger: ldg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestResolveRecordRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	resolveBody := ResolveRequest{FirmID: "firm-a", OperationType: "summarization", Prompt: "Summarize the brief"}

	w := env.do(t, http.MethodPost, "/v1/resolve", resolveBody)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	miss := decode[ResolveResponse](t, w)
	if miss.Outcome != controlplane.OutcomeMustInvoke {
		t.Fatalf("Expected must_invoke, got %s", miss.Outcome)
	}
	if miss.Lease == nil || miss.Lease.Token == "" {
		t.Fatal("Expected a lease for the first caller")
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("Expected X-Request-ID header")
	}

	w = env.do(t, http.MethodPost, "/v1/record", RecordRequest{
		FirmID:        "firm-a",
		OperationType: "summarization",
		Prompt:        "Summarize the brief",
		Response:      "The brief argues...",
		ModelUsed:     "gpt-4o",
		InputTokens:   900,
		OutputTokens:  100,
		CostCents:     800,
		Lease:         miss.Lease,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rec := decode[RecordResponse](t, w)
	if !rec.Cached {
		t.Error("Expected response to be cached")
	}
	if rec.Alert == nil || rec.Alert.Threshold != budget.Threshold75 {
		t.Errorf("Expected 75%% alert, got %+v", rec.Alert)
	}
	if rec.Record == nil || rec.Record.TotalTokens != 1000 {
		t.Errorf("Expected 1000 total tokens, got %+v", rec.Record)
	}

	w = env.do(t, http.MethodPost, "/v1/resolve", resolveBody)
	hit := decode[ResolveResponse](t, w)
	want := ResolveResponse{
		Outcome:    controlplane.OutcomeCached,
		PromptHash: miss.PromptHash,
		Response:   "The brief argues...",
		ModelUsed:  "gpt-4o",
		Match:      controlplane.MatchExact,
		Score:      1,
		HitCount:   1,
	}
	if diff := cmp.Diff(want, hit, cmpIgnoreBudget); diff != "" {
		t.Errorf("cached response mismatch (-want +got):\n%s", diff)
	}
}

var cmpIgnoreBudget = cmp.FilterPath(func(p cmp.Path) bool {
	return p.String() == "Budget"
}, cmp.Ignore())

func TestResolve_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"missing firm", ResolveRequest{OperationType: "summarization", Prompt: "p"}, http.StatusBadRequest, "invalid_context"},
		{"missing operation", ResolveRequest{FirmID: "firm-a", Prompt: "p"}, http.StatusBadRequest, "invalid_context"},
		{"malformed json", `{"firm_id":`, http.StatusBadRequest, "invalid_json"},
		{"too large", `{"prompt":"` + strings.Repeat("x", 1<<17) + `"}`, http.StatusRequestEntityTooLarge, "request_too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/resolve", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			body := decode[middleware.ErrorBody](t, w)
			if body.Error.Code != tt.wantErr {
				t.Errorf("Expected code %q, got %q", tt.wantErr, body.Error.Code)
			}
		})
	}
}

func TestResolve_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/resolve", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

type downLedger struct {
	*ledger.MemoryLedger
}

func (downLedger) Record(ctx context.Context, r *ledger.UsageRecord) error {
	return errors.New("connection refused")
}

func TestRecord_LedgerFailureIs503(t *testing.T) {
	env := newTestEnv(t, downLedger{ledger.NewMemoryLedger(nil)})

	w := env.do(t, http.MethodPost, "/v1/record", RecordRequest{
		FirmID:        "firm-a",
		OperationType: "summarization",
		Prompt:        "p",
		Response:      "r",
		CostCents:     5,
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode[middleware.ErrorBody](t, w); body.Error.Code != "ledger_unavailable" {
		t.Errorf("Expected ledger_unavailable, got %q", body.Error.Code)
	}
}

func TestAbandon(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/resolve", ResolveRequest{FirmID: "firm-a", OperationType: "summarization", Prompt: "p"})
	res := decode[ResolveResponse](t, w)

	w = env.do(t, http.MethodPost, "/v1/abandon", AbandonRequest{Lease: res.Lease})
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", w.Code, w.Body.String())
	}

	// The prompt is free again: the next caller gets a fresh lease.
	w = env.do(t, http.MethodPost, "/v1/resolve", ResolveRequest{FirmID: "firm-a", OperationType: "summarization", Prompt: "p"})
	again := decode[ResolveResponse](t, w)
	if again.Lease == nil || again.Lease.Token == res.Lease.Token {
		t.Errorf("Expected a new lease, got %+v", again.Lease)
	}

	w = env.do(t, http.MethodPost, "/v1/abandon", AbandonRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing lease, got %d", w.Code)
	}
}

func TestBudgetEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/v1/firms/firm-a/budget", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	st := decode[budget.Status](t, w)
	if st.Policy.MonthlyBudgetCents != 1000 || st.State != budget.StateNormal {
		t.Errorf("unexpected initial status %+v", st)
	}

	// Spend past the budget to pause the firm.
	env.do(t, http.MethodPost, "/v1/record", RecordRequest{FirmID: "firm-a", OperationType: "summarization", Prompt: "p", CostCents: 1200})

	w = env.do(t, http.MethodPost, "/v1/resolve", ResolveRequest{FirmID: "firm-a", OperationType: "summarization", Prompt: "other"})
	if res := decode[ResolveResponse](t, w); res.Outcome != controlplane.OutcomeBlocked {
		t.Fatalf("Expected blocked, got %s", res.Outcome)
	}

	w = env.do(t, http.MethodPost, "/v1/firms/firm-a/budget/resume", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if st := decode[budget.Status](t, w); !st.Resumed || st.State == budget.StatePaused {
		t.Errorf("Expected resumed status, got %+v", st)
	}

	w = env.do(t, http.MethodPost, "/v1/resolve", ResolveRequest{FirmID: "firm-a", OperationType: "summarization", Prompt: "other"})
	if res := decode[ResolveResponse](t, w); res.Outcome != controlplane.OutcomeMustInvoke {
		t.Errorf("Expected must_invoke after resume, got %s", res.Outcome)
	}

	w = env.do(t, http.MethodPut, "/v1/firms/firm-a/budget", budget.Policy{MonthlyBudgetCents: 5000, AlertAt90: true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	st = decode[budget.Status](t, w)
	if st.Policy.MonthlyBudgetCents != 5000 || st.Policy.AlertAt75 || !st.Policy.AlertAt90 {
		t.Errorf("Expected updated policy, got %+v", st.Policy)
	}
	if st.SpendCents != 1200 {
		t.Errorf("Expected spend 1200, got %v", st.SpendCents)
	}

	w = env.do(t, http.MethodPut, "/v1/firms/firm-a/budget", budget.Policy{MonthlyBudgetCents: -1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for a negative budget, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode[middleware.ErrorBody](t, w); body.Error.Code != "invalid_value" {
		t.Errorf("Expected code invalid_value, got %q", body.Error.Code)
	}

	w = env.do(t, http.MethodGet, "/v1/firms/firm-a/budget", nil)
	if st := decode[budget.Status](t, w); st.Policy.MonthlyBudgetCents != 5000 {
		t.Errorf("Expected rejected update to leave budget 5000, got %d", st.Policy.MonthlyBudgetCents)
	}
}

func TestUsageEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, cost := range []float64{10, 15} {
		env.do(t, http.MethodPost, "/v1/record", RecordRequest{
			FirmID: "firm-a", OperationType: "classification", Prompt: "p", ModelUsed: "gpt-4o-mini", CostCents: cost,
		})
	}

	w := env.do(t, http.MethodGet, "/v1/firms/firm-a/usage", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	usage := decode[UsageResponse](t, w)
	if len(usage.Summaries) != 1 || usage.Summaries[0].Requests != 2 || usage.Summaries[0].CostCents != 25 {
		t.Errorf("unexpected usage %+v", usage.Summaries)
	}
	if !usage.From.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected window to start at the month, got %v", usage.From)
	}

	w = env.do(t, http.MethodGet, "/v1/firms/firm-a/usage?from=2026-05-01T00:00:00Z", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for inverted window, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/v1/firms/firm-a/usage?to=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad timestamp, got %d", w.Code)
	}
}

func TestProbeEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/v1/resolve", ResolveRequest{FirmID: "firm-a", OperationType: "summarization", Prompt: "p"})

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{"/health", http.StatusOK, `"status":"ok"`},
		{"/ready", http.StatusOK, `"ledger"`},
		{"/version", http.StatusOK, `"version":"1.2.3"`},
		{"/metrics", http.StatusOK, "mercator_costplane_resolve_total"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.path, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d", tt.wantCode, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("Expected body to contain %q, got %s", tt.contains, w.Body.String())
			}
		})
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for env.server.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + env.server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	if err := env.server.Start(ctx); err == nil {
		t.Error("Expected error starting a running server")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
	if env.server.IsRunning() {
		t.Error("Expected server to be stopped")
	}
}

func TestNew_RequiresFacade(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("Expected error without facade")
	}
}
