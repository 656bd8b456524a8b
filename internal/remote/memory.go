package remote

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// ErrOffline is returned by MemoryStore while it is marked unreachable.
var ErrOffline = errors.New("remote store offline")

// MemoryStore is an in-process Store. It backs standalone mode and lets
// tests simulate outages, rejections, slow applies and foreign writers.
type MemoryStore struct {
	mu         sync.Mutex
	docs       map[domain.EntityType]map[string]domain.Document
	subs       map[domain.EntityType]map[int]func(Change)
	nextSub    int
	reachable  bool
	failWhen   func(domain.PendingMutation) error
	applyDelay time.Duration
	applied    []domain.PendingMutation
	newID      func() string
}

// NewMemoryStore returns an empty, reachable store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[domain.EntityType]map[string]domain.Document),
		subs:      make(map[domain.EntityType]map[int]func(Change)),
		reachable: true,
		newID:     uuid.NewString,
	}
}

// SetReachable simulates losing or regaining the network.
func (s *MemoryStore) SetReachable(reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reachable = reachable
}

// FailWhen installs a hook consulted before each apply. A non-nil result
// is returned as the apply error and nothing is written.
func (s *MemoryStore) FailWhen(fn func(domain.PendingMutation) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWhen = fn
}

// SetApplyDelay makes Apply wait before writing, honoring ctx.
func (s *MemoryStore) SetApplyDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyDelay = d
}

// SetIDGenerator overrides how ids for created entities are chosen.
func (s *MemoryStore) SetIDGenerator(fn func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newID = fn
}

// Applied lists every mutation that changed the store, in order.
func (s *MemoryStore) Applied() []domain.PendingMutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PendingMutation, len(s.applied))
	for i, m := range s.applied {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a stored document.
func (s *MemoryStore) Get(entityType domain.EntityType, id string) (domain.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[entityType][id]
	return doc.Clone(), ok
}

// Put writes doc as another client would and pushes the change.
func (s *MemoryStore) Put(entityType domain.EntityType, doc domain.Document) {
	doc = doc.Clone()
	s.mu.Lock()
	s.collection(entityType)[doc.ID()] = doc
	subs := s.subscribersLocked(entityType)
	s.mu.Unlock()

	notify(subs, Change{Type: ChangeUpsert, EntityType: entityType, ID: doc.ID(), Document: doc})
}

func (s *MemoryStore) Apply(ctx context.Context, m domain.PendingMutation) (domain.Document, error) {
	s.mu.Lock()
	delay := s.applyDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	if !s.reachable {
		s.mu.Unlock()
		return nil, Unreachable(ErrOffline)
	}
	if s.failWhen != nil {
		if err := s.failWhen(m); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	coll := s.collection(m.EntityType)
	var change Change
	switch m.Kind {
	case domain.MutationCreate:
		if existing := s.findByClientRefLocked(m.EntityType, m.TargetID); existing != nil {
			s.mu.Unlock()
			return existing.Clone(), nil
		}
		doc, err := prepare(m, s.newID(), nil)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		coll[doc.ID()] = doc
		change = Change{Type: ChangeUpsert, EntityType: m.EntityType, ID: doc.ID(), Document: doc.Clone()}

	case domain.MutationUpdate:
		current, ok := coll[m.TargetID]
		if !ok {
			s.mu.Unlock()
			return nil, Rejectedf("%s %s not found", m.EntityType, m.TargetID)
		}
		if alreadyApplied(m, current) {
			s.mu.Unlock()
			return current.Clone(), nil
		}
		doc, err := prepare(m, m.TargetID, current)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		coll[m.TargetID] = doc
		change = Change{Type: ChangeUpsert, EntityType: m.EntityType, ID: m.TargetID, Document: doc.Clone()}

	case domain.MutationDelete:
		if _, ok := coll[m.TargetID]; !ok {
			s.mu.Unlock()
			return nil, nil
		}
		delete(coll, m.TargetID)
		change = Change{Type: ChangeDelete, EntityType: m.EntityType, ID: m.TargetID}

	default:
		s.mu.Unlock()
		return nil, Rejectedf("unsupported mutation kind %q", m.Kind)
	}

	s.applied = append(s.applied, m.Clone())
	subs := s.subscribersLocked(m.EntityType)
	result := change.Document.Clone()
	s.mu.Unlock()

	notify(subs, change)
	return result, nil
}

func (s *MemoryStore) FetchAll(_ context.Context, entityType domain.EntityType) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return nil, Unreachable(ErrOffline)
	}
	out := make([]domain.Document, 0, len(s.docs[entityType]))
	for _, doc := range s.docs[entityType] {
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (s *MemoryStore) Subscribe(_ context.Context, entityType domain.EntityType, fn func(Change)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	if s.subs[entityType] == nil {
		s.subs[entityType] = make(map[int]func(Change))
	}
	s.subs[entityType][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[entityType], id)
	}, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return ErrOffline
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) collection(entityType domain.EntityType) map[string]domain.Document {
	coll, ok := s.docs[entityType]
	if !ok {
		coll = make(map[string]domain.Document)
		s.docs[entityType] = coll
	}
	return coll
}

func (s *MemoryStore) findByClientRefLocked(entityType domain.EntityType, ref string) domain.Document {
	for _, doc := range s.docs[entityType] {
		if doc.String(FieldClientRef) == ref {
			return doc
		}
	}
	return nil
}

func (s *MemoryStore) subscribersLocked(entityType domain.EntityType) []func(Change) {
	ids := make([]int, 0, len(s.subs[entityType]))
	for id := range s.subs[entityType] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Change), len(ids))
	for i, id := range ids {
		out[i] = s.subs[entityType][id]
	}
	return out
}

func notify(subs []func(Change), change Change) {
	for _, fn := range subs {
		delivered := change
		delivered.Document = change.Document.Clone()
		fn(delivered)
	}
}
