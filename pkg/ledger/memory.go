package ledger

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// MemoryLedger implements Ledger in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string][]UsageRecord
	now     func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger. now defaults to
// time.Now when nil.
func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		records: make(map[string][]UsageRecord),
		now:     now,
	}
}

// Record implements Ledger.
func (l *MemoryLedger) Record(ctx context.Context, r *UsageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Prepare(l.now()); err != nil {
		return err
	}

	l.mu.Lock()
	l.records[r.FirmID] = append(l.records[r.FirmID], *r)
	l.mu.Unlock()
	return nil
}

// SumSpend implements Ledger.
func (l *MemoryLedger) SumSpend(ctx context.Context, firmID string, from, to time.Time) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var total float64
	for _, r := range l.records[firmID] {
		if !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			total += r.CostCents
		}
	}
	return total, nil
}

// Summarize implements Ledger.
func (l *MemoryLedger) Summarize(ctx context.Context, filter Filter) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	var matched []UsageRecord
	for firm, records := range l.records {
		if filter.FirmID != "" && firm != filter.FirmID {
			continue
		}
		matched = append(matched, lo.Filter(records, func(r UsageRecord, _ int) bool {
			return (filter.From.IsZero() || !r.CreatedAt.Before(filter.From)) &&
				(filter.To.IsZero() || r.CreatedAt.Before(filter.To))
		})...)
	}
	l.mu.RUnlock()

	type groupKey struct{ op, model string }
	groups := lo.GroupBy(matched, func(r UsageRecord) groupKey {
		return groupKey{r.OperationType, r.ModelUsed}
	})

	summaries := make([]Summary, 0, len(groups))
	for key, records := range groups {
		s := Summary{OperationType: key.op, ModelUsed: key.model}
		for _, r := range records {
			s.Requests++
			if r.Cached {
				s.CachedRequests++
			}
			s.InputTokens += r.InputTokens
			s.OutputTokens += r.OutputTokens
			s.TotalTokens += r.TotalTokens
			s.CostCents += r.CostCents
		}
		summaries = append(summaries, s)
	}

	slices.SortFunc(summaries, func(a, b Summary) int {
		return cmp.Or(cmp.Compare(a.OperationType, b.OperationType), cmp.Compare(a.ModelUsed, b.ModelUsed))
	})
	return summaries, nil
}

// Prune implements Ledger.
func (l *MemoryLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var removed int64
	for firm, records := range l.records {
		kept := lo.Reject(records, func(r UsageRecord, _ int) bool {
			return r.CreatedAt.Before(before)
		})
		removed += int64(len(records) - len(kept))
		if len(kept) == 0 {
			delete(l.records, firm)
			continue
		}
		l.records[firm] = kept
	}
	return removed, nil
}

// Ping implements Ledger.
func (l *MemoryLedger) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Ledger.
func (l *MemoryLedger) Close() error {
	return nil
}
