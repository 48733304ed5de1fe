package server

import (
	"time"

	"mercator-hq/costplane/pkg/budget"
	"mercator-hq/costplane/pkg/controlplane"
	"mercator-hq/costplane/pkg/inflight"
	"mercator-hq/costplane/pkg/ledger"
)

// ResolveRequest is the body of POST /v1/resolve.
type ResolveRequest struct {
	FirmID        string    `json:"firm_id"`
	OperationType string    `json:"operation_type"`
	UserID        string    `json:"user_id,omitempty"`
	CaseID        string    `json:"case_id,omitempty"`
	Prompt        string    `json:"prompt"`
	Embedding     []float32 `json:"embedding,omitempty"`
}

// ResolveResponse is the body returned by POST /v1/resolve.
type ResolveResponse struct {
	Outcome    controlplane.Outcome   `json:"outcome"`
	PromptHash string                 `json:"prompt_hash"`
	Response   string                 `json:"response,omitempty"`
	ModelUsed  string                 `json:"model_used,omitempty"`
	Match      controlplane.MatchKind `json:"match,omitempty"`
	Score      float64                `json:"score,omitempty"`
	HitCount   int64                  `json:"hit_count,omitempty"`
	Lease      *inflight.Lease        `json:"lease,omitempty"`
	Budget     *budget.Decision       `json:"budget"`
}

func newResolveResponse(res *controlplane.ResolveResult) ResolveResponse {
	out := ResolveResponse{
		Outcome:    res.Outcome,
		PromptHash: res.PromptHash,
		Lease:      res.Lease,
		Budget:     res.Decision,
	}
	if res.Entry != nil {
		out.Response = res.Entry.Response
		out.ModelUsed = res.Entry.ModelUsed
		out.Match = res.Match
		out.Score = res.Score
		out.HitCount = res.Entry.HitCount
	}
	return out
}

// RecordRequest is the body of POST /v1/record.
type RecordRequest struct {
	FirmID        string          `json:"firm_id"`
	OperationType string          `json:"operation_type"`
	UserID        string          `json:"user_id,omitempty"`
	CaseID        string          `json:"case_id,omitempty"`
	Prompt        string          `json:"prompt"`
	Embedding     []float32       `json:"embedding,omitempty"`
	Response      string          `json:"response"`
	ModelUsed     string          `json:"model_used"`
	InputTokens   int64           `json:"input_tokens"`
	OutputTokens  int64           `json:"output_tokens"`
	CostCents     float64         `json:"cost_cents"`
	LatencyMs     int64           `json:"latency_ms"`
	Lease         *inflight.Lease `json:"lease,omitempty"`
}

func (r RecordRequest) toFacade() controlplane.RecordRequest {
	return controlplane.RecordRequest{
		FirmID:        r.FirmID,
		OperationType: r.OperationType,
		UserID:        r.UserID,
		CaseID:        r.CaseID,
		Prompt:        r.Prompt,
		Embedding:     r.Embedding,
		Response:      r.Response,
		ModelUsed:     r.ModelUsed,
		InputTokens:   r.InputTokens,
		OutputTokens:  r.OutputTokens,
		CostCents:     r.CostCents,
		LatencyMs:     r.LatencyMs,
		Lease:         r.Lease,
	}
}

// RecordResponse is the body returned by POST /v1/record.
type RecordResponse struct {
	Record *ledger.UsageRecord `json:"record"`
	Cached bool                `json:"cached"`
	Budget *budget.Decision    `json:"budget"`
	Alert  *budget.Alert       `json:"alert,omitempty"`
}

// AbandonRequest is the body of POST /v1/abandon.
type AbandonRequest struct {
	Lease *inflight.Lease `json:"lease"`
}

// UsageResponse is the body returned by GET /v1/firms/{firm}/usage.
type UsageResponse struct {
	FirmID    string           `json:"firm_id"`
	From      time.Time        `json:"from"`
	To        time.Time        `json:"to"`
	Summaries []ledger.Summary `json:"summaries"`
}
