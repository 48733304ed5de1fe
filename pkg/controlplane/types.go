package controlplane

import (
	"errors"
	"fmt"

	"mercator-hq/costplane/pkg/budget"
	"mercator-hq/costplane/pkg/cache"
	"mercator-hq/costplane/pkg/inflight"
	"mercator-hq/costplane/pkg/ledger"
)

var (
	// ErrInvalidContext is returned when the firm or operation type is
	// missing. Nothing is looked up or recorded.
	ErrInvalidContext = errors.New("invalid request context")

	// ErrLedgerWriteFailed is returned by Record when the usage record
	// could not be appended. The core does not retry.
	ErrLedgerWriteFailed = errors.New("ledger write failed")

	// ErrCacheWriteFailed marks a failed cache write. Record logs and counts
	// it but does not return it.
	ErrCacheWriteFailed = errors.New("cache write failed")
)

// Error describes a failed facade operation.
type Error struct {
	// Op is "resolve", "record" or "abandon".
	Op string

	// FirmID is the tenant of the request, possibly empty.
	FirmID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.FirmID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s for firm %s: %v", e.Op, e.FirmID, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Outcome tells the caller what to do after Resolve.
type Outcome string

const (
	// OutcomeCached means Entry holds the response; do not invoke a model.
	OutcomeCached Outcome = "cached"

	// OutcomeMustInvoke means the caller should invoke the model and then
	// call Record (or Abandon).
	OutcomeMustInvoke Outcome = "must_invoke"

	// OutcomeBlocked means the firm is paused and nothing was cached.
	OutcomeBlocked Outcome = "blocked"
)

// MatchKind tells how a cached response was found.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchSimilar MatchKind = "similar"
)

// ResolveRequest is the input to Resolve.
type ResolveRequest struct {
	FirmID        string    `json:"firm_id"`
	OperationType string    `json:"operation_type"`
	UserID        string    `json:"user_id,omitempty"`
	CaseID        string    `json:"case_id,omitempty"`
	Prompt        string    `json:"prompt"`
	Embedding     []float32 `json:"embedding,omitempty"`
}

// ResolveResult is the output of Resolve.
type ResolveResult struct {
	Outcome Outcome `json:"outcome"`

	// Entry is the cached response for OutcomeCached.
	Entry *cache.Entry `json:"entry,omitempty"`

	// Match and Score describe the cache hit. Score is 1 for exact hits.
	Match MatchKind `json:"match,omitempty"`
	Score float64   `json:"score,omitempty"`

	// Decision is the budget evaluation made for this request. For
	// OutcomeMustInvoke with an alert the caller may surface the warning.
	Decision *budget.Decision `json:"decision"`

	// PromptHash is the exact-match key of the prompt.
	PromptHash string `json:"prompt_hash"`

	// Lease is set for OutcomeMustInvoke when this caller owns the
	// in-flight slot for the prompt. Pass it back to Record or Abandon.
	Lease *inflight.Lease `json:"lease,omitempty"`
}

// RecordRequest reports a completed model invocation.
type RecordRequest struct {
	FirmID        string    `json:"firm_id"`
	OperationType string    `json:"operation_type"`
	UserID        string    `json:"user_id,omitempty"`
	CaseID        string    `json:"case_id,omitempty"`
	Prompt        string    `json:"prompt"`
	Embedding     []float32 `json:"embedding,omitempty"`

	// Response is cached when non-empty.
	Response  string `json:"response"`
	ModelUsed string `json:"model_used"`

	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`

	// CostCents is computed from the price table when zero and tokens
	// were used.
	CostCents float64 `json:"cost_cents"`
	LatencyMs int64   `json:"latency_ms"`

	// Lease is the lease returned by Resolve, if any.
	Lease *inflight.Lease `json:"lease,omitempty"`
}

// RecordResult is the output of Record.
type RecordResult struct {
	// Record is the appended usage record.
	Record *ledger.UsageRecord `json:"record"`

	// Cached reports whether the response is now in the cache (written by
	// this call or already present).
	Cached bool `json:"cached"`

	// Decision is the budget re-evaluation after the spend was recorded.
	Decision *budget.Decision `json:"decision"`

	// Alert is the threshold alert fired by this call, if any.
	Alert *budget.Alert `json:"alert,omitempty"`
}
