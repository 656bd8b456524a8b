package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// Store persists queue entries. Every call must be durable when it returns.
type Store interface {
	Load(ctx context.Context) ([]domain.PendingMutation, error)
	Put(ctx context.Context, m domain.PendingMutation) error
	// PutAll writes the batch atomically.
	PutAll(ctx context.Context, ms []domain.PendingMutation) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore keeps entries in process memory. It survives a Queue being
// reopened over it, which is enough for tests and standalone mode.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]domain.PendingMutation
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]domain.PendingMutation)}
}

func (s *MemoryStore) Load(context.Context) ([]domain.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PendingMutation, 0, len(s.rows))
	for _, m := range s.rows {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, m domain.PendingMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) PutAll(_ context.Context, ms []domain.PendingMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range ms {
		s.rows[m.ID] = m.Clone()
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
