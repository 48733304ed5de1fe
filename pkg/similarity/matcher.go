// Package similarity finds the closest cached entry to a prompt embedding
// within a single firm and operation type.
//
// The matcher is an exact brute-force cosine scan over a bounded,
// newest-first candidate set from the cache store. Each operation type has
// its own threshold; operation types without one never match by similarity.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"mercator-hq/costplane/pkg/cache"
)

// DefaultMaxCandidates bounds the scan when no limit is configured.
const DefaultMaxCandidates = 500

// ErrMiss is returned when no candidate reaches the threshold.
var ErrMiss = cache.ErrMiss

// CandidateSource lists live cache entries of a scope, newest first.
// cache.Store satisfies it.
type CandidateSource interface {
	Candidates(ctx context.Context, firmID, operationType string, limit int) ([]*cache.Entry, error)
}

// Match is the result of a successful similarity lookup.
type Match struct {
	Entry *cache.Entry
	Score float64
}

// Matcher performs scoped nearest-neighbour lookups.
type Matcher struct {
	source        CandidateSource
	maxCandidates int

	mu         sync.RWMutex
	thresholds map[string]float64
}

// NewMatcher creates a matcher over source. thresholds maps operation type
// to the minimum cosine similarity for a match.
func NewMatcher(source CandidateSource, thresholds map[string]float64, maxCandidates int) *Matcher {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	m := &Matcher{
		source:        source,
		maxCandidates: maxCandidates,
	}
	m.UpdateThresholds(thresholds)
	return m
}

// UpdateThresholds replaces the per-operation thresholds. It is safe to
// call concurrently with lookups.
func (m *Matcher) UpdateThresholds(thresholds map[string]float64) {
	copied := make(map[string]float64, len(thresholds))
	for op, t := range thresholds {
		copied[op] = t
	}

	m.mu.Lock()
	m.thresholds = copied
	m.mu.Unlock()
}

// Threshold returns the threshold for an operation type, if any.
func (m *Matcher) Threshold(operationType string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.thresholds[operationType]
	return t, ok
}

// LookupSimilar returns the best-scoring candidate at or above the
// operation type's threshold. Ties go to the newer entry. Candidates from
// another scope, with a different dimension or with a zero vector are
// skipped.
func (m *Matcher) LookupSimilar(ctx context.Context, firmID, operationType string, embedding []float32) (*Match, error) {
	threshold, ok := m.Threshold(operationType)
	if !ok || len(embedding) == 0 {
		return nil, ErrMiss
	}

	queryNorm := norm(embedding)
	if queryNorm == 0 || !finite(queryNorm) {
		return nil, ErrMiss
	}

	candidates, err := m.source.Candidates(ctx, firmID, operationType, m.maxCandidates)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to load similarity candidates: %w", err)
	}

	var best *Match
	for _, c := range candidates {
		// Scope is enforced by the source; checked again so a faulty
		// backend can never leak another firm's entry.
		if c.FirmID != firmID || c.OperationType != operationType {
			continue
		}
		if len(c.Embedding) != len(embedding) {
			continue
		}

		score, ok := cosine(embedding, queryNorm, c.Embedding)
		if !ok || score < threshold {
			continue
		}

		// Candidates arrive newest first, so only a strictly better score
		// displaces the current best.
		if best == nil || score > best.Score || (score == best.Score && c.CreatedAt.After(best.Entry.CreatedAt)) {
			best = &Match{Entry: c, Score: score}
		}
	}

	if best == nil {
		return nil, ErrMiss
	}
	return best, nil
}

// Cosine returns the cosine similarity of a and b. It returns false for
// mismatched dimensions, zero vectors or non-finite values.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	na := norm(a)
	if na == 0 || !finite(na) {
		return 0, false
	}
	return cosine(a, na, b)
}

func cosine(a []float32, normA float64, b []float32) (float64, bool) {
	var dot, sumB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		sumB += float64(b[i]) * float64(b[i])
	}
	if sumB == 0 {
		return 0, false
	}
	score := dot / (normA * math.Sqrt(sumB))
	if !finite(score) {
		return 0, false
	}
	// Rounding can push identical vectors a hair above 1.
	return math.Min(score, 1), true
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
