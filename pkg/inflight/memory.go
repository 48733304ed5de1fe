package inflight

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTracker keeps leases in process memory.
//
// Each lease owns a done channel that is closed exactly once, on release
// or expiry; waiters select on it.
type MemoryTracker struct {
	ttl time.Duration

	mu     sync.Mutex
	leases map[string]*memoryLease
	closed bool
}

type memoryLease struct {
	token string
	done  chan struct{}
	timer *time.Timer
}

// NewMemoryTracker creates a tracker whose leases expire after ttl.
func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &MemoryTracker{
		ttl:    ttl,
		leases: make(map[string]*memoryLease),
	}
}

// Acquire implements Tracker.
func (t *MemoryTracker) Acquire(ctx context.Context, key string) (*Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, false, ErrClosed
	}
	if _, held := t.leases[key]; held {
		return nil, false, nil
	}

	l := &memoryLease{
		token: uuid.NewString(),
		done:  make(chan struct{}),
	}
	l.timer = time.AfterFunc(t.ttl, func() {
		t.drop(key, l.token)
	})
	t.leases[key] = l

	return &Lease{Key: key, Token: l.token, ExpiresAt: time.Now().Add(t.ttl)}, true, nil
}

// Wait implements Tracker.
func (t *MemoryTracker) Wait(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	t.mu.Lock()
	l, held := t.leases[key]
	t.mu.Unlock()

	if !held {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.done:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Release implements Tracker.
func (t *MemoryTracker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return ErrLeaseNotHeld
	}
	if !t.drop(lease.Key, lease.Token) {
		return ErrLeaseNotHeld
	}
	return nil
}

// drop removes the lease for key if it is still held under token.
func (t *MemoryTracker) drop(key, token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, held := t.leases[key]
	if !held || l.token != token {
		return false
	}
	l.timer.Stop()
	delete(t.leases, key)
	close(l.done)
	return true
}

// Held returns the number of leases currently held.
func (t *MemoryTracker) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leases)
}

// Ping implements Tracker.
func (t *MemoryTracker) Ping(ctx context.Context) error {
	return nil
}

// Close releases every lease, waking all waiters.
func (t *MemoryTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	for key, l := range t.leases {
		l.timer.Stop()
		close(l.done)
		delete(t.leases, key)
	}
	return nil
}
