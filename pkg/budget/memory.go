package budget

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	firms map[string]*memoryFirm
}

type memoryFirm struct {
	settings Settings
	markers  map[string]map[Threshold]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{firms: make(map[string]*memoryFirm)}
}

// Ensure implements Store.
func (s *MemoryStore) Ensure(ctx context.Context, firmID string, policy Policy, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.firms[firmID]; !ok {
		s.firms[firmID] = newMemoryFirm(firmID, policy, now)
	}
	return nil
}

func newMemoryFirm(firmID string, policy Policy, now time.Time) *memoryFirm {
	return &memoryFirm{
		settings: Settings{FirmID: firmID, Policy: policy, UpdatedAt: now},
		markers:  make(map[string]map[Threshold]time.Time),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, firmID, month string) (*Settings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.firms[firmID]
	if !ok {
		return nil, ErrNotFound
	}

	out := f.settings
	out.Markers = nil
	for tag := range f.markers[month] {
		out.Markers = append(out.Markers, tag)
	}
	slices.Sort(out.Markers)
	return &out, nil
}

// SetPolicy implements Store.
func (s *MemoryStore) SetPolicy(ctx context.Context, firmID string, policy Policy, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.firms[firmID]
	if !ok {
		s.firms[firmID] = newMemoryFirm(firmID, policy, now)
		return nil
	}
	f.settings.Policy = policy
	f.settings.UpdatedAt = now
	return nil
}

// ResetMonth implements Store.
func (s *MemoryStore) ResetMonth(ctx context.Context, firmID string, monthStart time.Time, month string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.firms[firmID]
	if !ok {
		return false, ErrNotFound
	}
	if !f.settings.LastAlertResetAt.Before(monthStart) {
		return false, nil
	}

	f.settings.LastAlertResetAt = monthStart
	f.settings.UpdatedAt = now
	for m := range f.markers {
		if m != month {
			delete(f.markers, m)
		}
	}
	return true, nil
}

// MarkAlerts implements Store.
func (s *MemoryStore) MarkAlerts(ctx context.Context, firmID, month string, tags []Threshold, now time.Time) ([]Threshold, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.firms[firmID]
	if !ok {
		return nil, ErrNotFound
	}

	sent := f.markers[month]
	if sent == nil {
		sent = make(map[Threshold]time.Time)
		f.markers[month] = sent
	}

	var added []Threshold
	for _, tag := range tags {
		if _, ok := sent[tag]; ok {
			continue
		}
		sent[tag] = now
		added = append(added, tag)
	}
	return added, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
