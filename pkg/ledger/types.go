package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// ErrInvalidRecord is returned by Record for records missing their scope or
// carrying negative counters.
var ErrInvalidRecord = errors.New("invalid usage record")

// UsageRecord is a single invocation. Records are immutable once written.
type UsageRecord struct {
	// ID is a UUID assigned by Record when empty.
	ID string `json:"id"`

	// UserID and CaseID attribute the call. Both are optional.
	UserID string `json:"user_id,omitempty"`
	CaseID string `json:"case_id,omitempty"`

	// FirmID is the tenant that pays for the call.
	FirmID string `json:"firm_id"`

	// OperationType is the kind of AI task (summarization, classification...).
	OperationType string `json:"operation_type"`

	// ModelUsed is the model that served the call. For cache hits it is the
	// model that produced the cached response.
	ModelUsed string `json:"model_used"`

	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`

	// TotalTokens defaults to InputTokens + OutputTokens.
	TotalTokens int64 `json:"total_tokens"`

	// CostCents is the cost in US cents. Fractional cents are allowed.
	CostCents float64 `json:"cost_cents"`

	// LatencyMs is the end-to-end model latency in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// Cached is true when the response was served from the cache.
	Cached bool `json:"cached"`

	// CreatedAt is assigned by Record when zero.
	CreatedAt time.Time `json:"created_at"`
}

// Prepare assigns the ID, CreatedAt and TotalTokens defaults and validates
// the record. Backends call it before writing.
func (r *UsageRecord) Prepare(now time.Time) error {
	switch {
	case r.FirmID == "":
		return fmt.Errorf("%w: firm id is required", ErrInvalidRecord)
	case r.OperationType == "":
		return fmt.Errorf("%w: operation type is required", ErrInvalidRecord)
	case r.InputTokens < 0 || r.OutputTokens < 0 || r.TotalTokens < 0:
		return fmt.Errorf("%w: token counts must be non-negative", ErrInvalidRecord)
	case r.CostCents < 0:
		return fmt.Errorf("%w: cost must be non-negative", ErrInvalidRecord)
	case r.LatencyMs < 0:
		return fmt.Errorf("%w: latency must be non-negative", ErrInvalidRecord)
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.InputTokens + r.OutputTokens
	}
	return nil
}

// Filter selects records for Summarize. Zero fields are unbounded.
type Filter struct {
	FirmID string
	From   time.Time
	To     time.Time
}

// Where renders the filter as squirrel predicates. ts converts times to the
// backend's column representation.
func (f Filter) Where(ts func(time.Time) any) sq.And {
	where := sq.And{}
	if f.FirmID != "" {
		where = append(where, sq.Eq{"firm_id": f.FirmID})
	}
	if !f.From.IsZero() {
		where = append(where, sq.GtOrEq{"created_at": ts(f.From)})
	}
	if !f.To.IsZero() {
		where = append(where, sq.Lt{"created_at": ts(f.To)})
	}
	return where
}

// Summary aggregates records by operation type and model.
type Summary struct {
	OperationType  string  `json:"operation_type"`
	ModelUsed      string  `json:"model_used"`
	Requests       int64   `json:"requests"`
	CachedRequests int64   `json:"cached_requests"`
	InputTokens    int64   `json:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens"`
	TotalTokens    int64   `json:"total_tokens"`
	CostCents      float64 `json:"cost_cents"`
}

// Ledger is the persistence contract for usage records.
type Ledger interface {
	// Record appends r, filling ID, CreatedAt and TotalTokens when unset.
	Record(ctx context.Context, r *UsageRecord) error

	// SumSpend returns the total CostCents of the firm's records with
	// from <= CreatedAt < to.
	SumSpend(ctx context.Context, firmID string, from, to time.Time) (float64, error)

	// Summarize groups matching records by operation type and model,
	// ordered by operation type then model.
	Summarize(ctx context.Context, filter Filter) ([]Summary, error)

	// Prune deletes records created before the cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
