package inflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/costplane/pkg/config"
)

// ErrLeaseNotHeld is returned by Release when the lease has expired or is
// held under a different token.
var ErrLeaseNotHeld = errors.New("inflight lease not held")

// ErrClosed is returned by Acquire once the tracker has been closed.
var ErrClosed = errors.New("inflight tracker closed")

// Lease is the right to populate the cache for one key.
type Lease struct {
	// Key identifies the in-flight request (see Key).
	Key string `json:"key"`

	// Token is unique to this acquisition. Only the holder of the token
	// can release the lease.
	Token string `json:"token"`

	// ExpiresAt is when the lease lapses if it is not released.
	ExpiresAt time.Time `json:"expires_at"`
}

// Tracker hands out per-key leases.
//
// Implementations must be safe for concurrent use.
type Tracker interface {
	// Acquire takes the lease for key. It returns ok=false without
	// blocking if another caller holds it.
	Acquire(ctx context.Context, key string) (*Lease, bool, error)

	// Wait blocks until the lease for key is released or expires, the
	// timeout elapses or ctx is cancelled. It reports whether the lease
	// went away before the timeout. A key with no lease returns true
	// immediately.
	Wait(ctx context.Context, key string, timeout time.Duration) (bool, error)

	// Release gives the lease up and wakes waiters.
	Release(ctx context.Context, lease *Lease) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Key builds the lease key for a prompt within a firm. The prompt hash
// already covers the operation type.
func Key(firmID, promptHash string) string {
	return firmID + ":" + promptHash
}

// New builds the tracker selected by cfg.Backend.
func New(ctx context.Context, cfg config.InFlightConfig, logger *slog.Logger) (Tracker, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryTracker(cfg.LeaseTTL), nil
	case "redis":
		return NewRedisTracker(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown inflight backend %q", cfg.Backend)
	}
}
