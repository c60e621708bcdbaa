package reporting

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is a bounded, thread-safe Store used when no database is
// configured. The oldest snapshots are dropped beyond capacity.
type InMemoryStore struct {
	mu        sync.RWMutex
	capacity  int
	snapshots map[uuid.UUID]*Snapshot
	// insertion order, oldest first
	order []uuid.UUID
}

// NewInMemoryStore creates a store keeping at most capacity snapshots.
func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &InMemoryStore{
		capacity:  capacity,
		snapshots: make(map[uuid.UUID]*Snapshot),
	}
}

func (s *InMemoryStore) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	cp := *snap
	if _, exists := s.snapshots[cp.ID]; !exists {
		s.order = append(s.order, cp.ID)
	}
	s.snapshots[cp.ID] = &cp
	for len(s.order) > s.capacity {
		delete(s.snapshots, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context, limit, offset int) ([]*Snapshot, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.order)
	out := []*Snapshot{}
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *s.snapshots[s.order[i]]
		cp.Report = nil
		out = append(out, &cp)
	}
	return out, total, nil
}
