package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrMiss is returned when no live entry matches the lookup.
	ErrMiss = errors.New("cache miss")

	// ErrDuplicateKey is returned by Put when a live entry already exists
	// for the same firm, operation type and prompt hash. Callers treat it
	// as successful population.
	ErrDuplicateKey = errors.New("cache entry already exists")

	// ErrInvalidEntry is returned by Put for entries missing their scope,
	// hash or expiry.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Entry is a cached response.
type Entry struct {
	// FirmID and OperationType scope the entry.
	FirmID        string `json:"firm_id"`
	OperationType string `json:"operation_type"`

	// PromptHash is HashPrompt(FirmID, OperationType, PromptText).
	PromptHash string `json:"prompt_hash"`

	// PromptText is the original prompt.
	PromptText string `json:"prompt_text"`

	// Embedding is the caller-computed prompt embedding. It may be empty,
	// in which case the entry only matches exactly.
	Embedding []float32 `json:"embedding,omitempty"`

	// Response is the model output served on a hit.
	Response string `json:"response"`

	// ModelUsed is the model that produced Response.
	ModelUsed string `json:"model_used"`

	// HitCount is the number of times the entry has been served.
	HitCount int64 `json:"hit_count"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is dead at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Validate checks that the entry can be stored.
func (e *Entry) Validate() error {
	switch {
	case e.FirmID == "":
		return fmt.Errorf("%w: firm id is required", ErrInvalidEntry)
	case e.OperationType == "":
		return fmt.Errorf("%w: operation type is required", ErrInvalidEntry)
	case e.PromptHash == "":
		return fmt.Errorf("%w: prompt hash is required", ErrInvalidEntry)
	case e.ExpiresAt.IsZero():
		return fmt.Errorf("%w: expires_at is required", ErrInvalidEntry)
	case !e.CreatedAt.IsZero() && !e.ExpiresAt.After(e.CreatedAt):
		return fmt.Errorf("%w: expires_at must be after created_at", ErrInvalidEntry)
	}
	for _, f := range e.Embedding {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: embedding values must be finite", ErrInvalidEntry)
		}
	}
	return nil
}

// Store is the persistence contract for cache entries.
type Store interface {
	// LookupExact returns the live entry for the key, or ErrMiss.
	LookupExact(ctx context.Context, firmID, operationType, promptHash string) (*Entry, error)

	// Put inserts entry. A live entry with the same key yields
	// ErrDuplicateKey; a dead one is replaced. CreatedAt defaults to the
	// store's clock.
	Put(ctx context.Context, entry *Entry) error

	// Hit atomically increments the hit count of the live entry and
	// returns the new count, or ErrMiss.
	Hit(ctx context.Context, firmID, operationType, promptHash string) (int64, error)

	// Candidates returns up to limit live entries of the scope, newest
	// first.
	Candidates(ctx context.Context, firmID, operationType string, limit int) ([]*Entry, error)

	// DeleteExpired removes dead entries and returns how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock used to judge expiry. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
