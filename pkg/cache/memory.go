package cache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"
)

// DefaultMemoryCleanupInterval is how often the in-memory janitor drops
// entries whose wall-clock lifetime has elapsed.
const DefaultMemoryCleanupInterval = 10 * time.Minute

// MemoryStore implements Store in process memory. It is suitable for tests
// and single-instance deployments that accept losing the cache on restart.
type MemoryStore struct {
	items *gocache.Cache
	now   func() time.Time
	seq   atomic.Int64

	// mu serializes the check-and-replace in Put against DeleteExpired.
	// Reads and Hit never take it.
	mu sync.Mutex
}

type memoryItem struct {
	entry Entry
	hits  atomic.Int64
	seq   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		items: gocache.New(gocache.NoExpiration, DefaultMemoryCleanupInterval),
		now:   o.now,
	}
}

func memoryKey(firmID, operationType, promptHash string) string {
	return firmID + "\x00" + operationType + "\x00" + promptHash
}

func (s *MemoryStore) live(key string, now time.Time) (*memoryItem, bool) {
	obj, ok := s.items.Get(key)
	if !ok {
		return nil, false
	}
	item := obj.(*memoryItem)
	if item.entry.Expired(now) {
		return nil, false
	}
	return item, true
}

func (item *memoryItem) snapshot() *Entry {
	e := item.entry
	e.Embedding = slices.Clone(item.entry.Embedding)
	e.HitCount = item.hits.Load()
	return &e
}

// LookupExact implements Store.
func (s *MemoryStore) LookupExact(ctx context.Context, firmID, operationType, promptHash string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, ok := s.live(memoryKey(firmID, operationType, promptHash), s.now())
	if !ok {
		return nil, ErrMiss
	}
	return item.snapshot(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	now := s.now()
	e := *entry
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.Embedding = slices.Clone(entry.Embedding)
	e.HitCount = 0

	key := memoryKey(e.FirmID, e.OperationType, e.PromptHash)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key, now); ok {
		return ErrDuplicateKey
	}

	item := &memoryItem{entry: e, seq: s.seq.Add(1)}
	ttl := e.ExpiresAt.Sub(now)
	if ttl <= 0 {
		// Already dead by the store clock; keep it until the next sweep
		// so DeleteExpired accounts for it.
		ttl = gocache.NoExpiration
	}
	s.items.Set(key, item, ttl)
	return nil
}

// Hit implements Store.
func (s *MemoryStore) Hit(ctx context.Context, firmID, operationType, promptHash string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	item, ok := s.live(memoryKey(firmID, operationType, promptHash), s.now())
	if !ok {
		return 0, ErrMiss
	}
	return item.hits.Add(1), nil
}

// Candidates implements Store.
func (s *MemoryStore) Candidates(ctx context.Context, firmID, operationType string, limit int) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	now := s.now()
	items := lo.FilterMap(lo.Values(s.items.Items()), func(it gocache.Item, _ int) (*memoryItem, bool) {
		item := it.Object.(*memoryItem)
		return item, item.entry.FirmID == firmID &&
			item.entry.OperationType == operationType &&
			!item.entry.Expired(now)
	})

	slices.SortFunc(items, func(a, b *memoryItem) int {
		if c := b.entry.CreatedAt.Compare(a.entry.CreatedAt); c != 0 {
			return c
		}
		return int(b.seq - a.seq)
	})

	if len(items) > limit {
		items = items[:limit]
	}
	return lo.Map(items, func(item *memoryItem, _ int) *Entry {
		return item.snapshot()
	}), nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for key, it := range s.items.Items() {
		if it.Object.(*memoryItem).entry.Expired(now) {
			s.items.Delete(key)
			removed++
		}
	}
	s.items.DeleteExpired()
	return removed, nil
}

// Len returns the number of stored entries, live or dead.
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.items.Flush()
	return nil
}
