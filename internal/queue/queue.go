// Package queue holds local writes until the remote store confirms them.
//
// Entries for one entity are applied strictly in submission order. Entries
// for different entities are independent. Every state change is written
// through to the Store before the call returns, so a restarted process
// picks up exactly where the previous one stopped.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/clock"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/observability"
)

var (
	ErrNotFound = errors.New("mutation not found")
	ErrNotFatal = errors.New("mutation is not in the fatal state")
)

type entityKey struct {
	entityType domain.EntityType
	id         string
}

func keyOf(m *domain.PendingMutation) entityKey {
	return entityKey{entityType: m.EntityType, id: m.TargetID}
}

// Stats summarizes the queue.
type Stats struct {
	Pending  int `json:"pending"`
	Fatal    int `json:"fatal"`
	InFlight int `json:"in_flight"`
}

// Option customizes a Queue.
type Option func(*Queue)

func WithPolicy(p RetryPolicy) Option { return func(q *Queue) { q.policy = p } }
func WithClock(c clock.Clock) Option { return func(q *Queue) { q.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(q *Queue) { q.logger = l } }
func WithCollapse(enabled bool) Option { return func(q *Queue) { q.collapse = enabled } }
func WithMetrics(m *observability.Metrics) Option { return func(q *Queue) { q.metrics = m } }

// Queue is the MutationQueue.
type Queue struct {
	store    Store
	policy   RetryPolicy
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *observability.Metrics
	collapse bool

	mu        sync.Mutex
	items     []*domain.PendingMutation
	inFlight  map[string]bool
	// attempted holds entries that may already have reached the remote
	// store. The remote recognizes a replay by mutation id, so nothing may
	// be merged into them.
	attempted map[string]bool
	nextSeq   int64
}

// Open loads the persisted entries from store. In-flight markers do not
// survive a restart: anything that was being applied is due again. Every
// restored entry counts as attempted since a crash may have interrupted
// an apply after the remote committed it.
func Open(ctx context.Context, store Store, opts ...Option) (*Queue, error) {
	q := &Queue{
		store:     store,
		policy:    DefaultRetryPolicy(),
		clock:     clock.Real(),
		logger:    zap.NewNop(),
		collapse:  true,
		inFlight:  make(map[string]bool),
		attempted: make(map[string]bool),
		nextSeq:   1,
	}
	for _, opt := range opts {
		opt(q)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	for i := range loaded {
		m := loaded[i]
		if m.Seq >= q.nextSeq {
			q.nextSeq = m.Seq + 1
		}
		q.items = append(q.items, &m)
		q.attempted[m.ID] = true
	}
	q.publishDepthLocked()
	if len(loaded) > 0 {
		q.logger.Info("mutation queue restored", zap.Int("entries", len(loaded)))
	}
	return q, nil
}

// Close releases the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}

// Enqueue persists m and returns the id of the entry that now carries it.
// When collapsing is enabled an Update may be merged into the entity's
// trailing Update, in which case that entry's id is returned. Entries that
// were ever claimed are never merged into.
func (q *Queue) Enqueue(ctx context.Context, m domain.PendingMutation) (string, error) {
	if m.EntityType == "" || m.TargetID == "" {
		return "", errors.New("enqueue: entity type and target id are required")
	}
	switch m.Kind {
	case domain.MutationCreate, domain.MutationUpdate, domain.MutationDelete:
	default:
		return "", fmt.Errorf("enqueue: unknown mutation kind %q", m.Kind)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.collapse && m.Kind == domain.MutationUpdate {
		if last := q.lastForLocked(m.EntityType, m.TargetID); last != nil && q.canAbsorbLocked(last) {
			merged := last.Clone()
			merged.Payload = domain.MergePatches(last.Payload, m.Payload)
			if err := q.store.Put(ctx, merged); err != nil {
				return "", fmt.Errorf("persist collapsed mutation: %w", err)
			}
			*last = merged
			q.metrics.RecordCollapse()
			q.logger.Debug("collapsed update into pending mutation",
				zap.String("mutation_id", merged.ID),
				zap.String("entity_type", string(merged.EntityType)),
				zap.String("target_id", merged.TargetID),
			)
			return merged.ID, nil
		}
	}

	now := q.clock.Now()
	entry := m.Clone()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Seq = q.nextSeq
	entry.EnqueuedAt = now
	entry.NextAttemptAt = now
	entry.State = domain.MutationPending
	entry.RetryCount = 0
	entry.UnknownFailures = 0
	entry.LastError = nil
	if entry.Payload == nil {
		entry.Payload = domain.Document{}
	}

	if err := q.store.Put(ctx, entry); err != nil {
		return "", fmt.Errorf("persist mutation: %w", err)
	}
	q.nextSeq++
	q.items = append(q.items, &entry)
	q.publishDepthLocked()

	q.logger.Debug("mutation enqueued",
		zap.String("mutation_id", entry.ID),
		zap.String("kind", string(entry.Kind)),
		zap.String("entity_type", string(entry.EntityType)),
		zap.String("target_id", entry.TargetID),
	)
	return entry.ID, nil
}

func (q *Queue) canAbsorbLocked(last *domain.PendingMutation) bool {
	return last.Kind == domain.MutationUpdate &&
		last.State == domain.MutationPending &&
		last.RetryCount == 0 &&
		!q.inFlight[last.ID] &&
		!q.attempted[last.ID]
}

// DequeueConfirmed removes an entry the remote store acknowledged.
func (q *Queue) DequeueConfirmed(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	if err := q.store.Delete(ctx, id); err != nil {
		return err
	}
	q.removeLocked(idx)
	return nil
}

// ListPending returns every non-fatal entry in submission order.
func (q *Queue) ListPending() []domain.PendingMutation {
	return q.list(func(m *domain.PendingMutation) bool { return m.State != domain.MutationFatal })
}

// ListFatal returns entries that stopped retrying and need an operator.
func (q *Queue) ListFatal() []domain.PendingMutation {
	return q.list(func(m *domain.PendingMutation) bool { return m.State == domain.MutationFatal })
}

// PendingFor returns the non-fatal entries for one entity in order.
func (q *Queue) PendingFor(entityType domain.EntityType, id string) []domain.PendingMutation {
	return q.list(func(m *domain.PendingMutation) bool {
		return m.EntityType == entityType && m.TargetID == id && m.State != domain.MutationFatal
	})
}

// Get returns a copy of one entry.
func (q *Queue) Get(id string) (domain.PendingMutation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx := q.indexLocked(id); idx >= 0 {
		return q.items[idx].Clone(), true
	}
	return domain.PendingMutation{}, false
}

// Stats counts entries by state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	for _, m := range q.items {
		if m.State == domain.MutationFatal {
			s.Fatal++
		} else {
			s.Pending++
		}
	}
	s.InFlight = len(q.inFlight)
	return s
}

// NextRetryDelay returns the backoff after retryCount failed attempts.
func (q *Queue) NextRetryDelay(retryCount int) time.Duration {
	return q.policy.Delay(retryCount)
}

// ClaimDue marks and returns the entity heads whose retry time has come.
func (q *Queue) ClaimDue(now time.Time) []domain.PendingMutation {
	return q.claim(now, false)
}

// ClaimAll is ClaimDue ignoring backoff. It is used for the single flush
// that follows a reconnect.
func (q *Queue) ClaimAll() []domain.PendingMutation {
	return q.claim(time.Time{}, true)
}

// claim returns at most one entry per entity: its oldest one. An entity is
// skipped while its head is in flight or fatal, and an entry is held back
// while its payload references an entity whose create is still queued.
func (q *Queue) claim(now time.Time, ignoreBackoff bool) []domain.PendingMutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	unconfirmed := make(map[string]bool)
	for _, m := range q.items {
		if m.Kind == domain.MutationCreate && domain.IsTempID(m.TargetID) {
			unconfirmed[m.TargetID] = true
		}
	}

	seen := make(map[entityKey]bool)
	var out []domain.PendingMutation
	for _, m := range q.items {
		key := keyOf(m)
		if seen[key] {
			continue
		}
		seen[key] = true

		if m.State == domain.MutationFatal || q.inFlight[m.ID] {
			continue
		}
		if !ignoreBackoff && m.NextAttemptAt.After(now) {
			continue
		}
		if referencesUnconfirmed(m, unconfirmed) {
			continue
		}
		q.inFlight[m.ID] = true
		q.attempted[m.ID] = true
		out = append(out, m.Clone())
	}
	return out
}

func referencesUnconfirmed(m *domain.PendingMutation, unconfirmed map[string]bool) bool {
	for _, ref := range m.Payload.StringsWithPrefix(domain.TempIDPrefix) {
		if ref != m.TargetID && unconfirmed[ref] {
			return true
		}
	}
	return false
}

// Release clears the in-flight marker without recording an attempt.
func (q *Queue) Release(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
}

// MarkRetry records a failed attempt and schedules the next one. Unknown
// failures count towards escalation; once the policy limit is reached the
// entry becomes fatal and MarkRetry reports escalated.
func (q *Queue) MarkRetry(ctx context.Context, id string, cause error, unknown bool) (escalated bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return false, ErrNotFound
	}
	next := q.items[idx].Clone()
	next.RetryCount++
	next.LastError = errorText(cause)
	if unknown {
		next.UnknownFailures++
	} else {
		next.UnknownFailures = 0
	}

	if unknown && q.policy.escalates(next.UnknownFailures) {
		next.State = domain.MutationFatal
		escalated = true
	} else {
		next.NextAttemptAt = q.clock.Now().Add(q.policy.Delay(next.RetryCount))
	}

	if err := q.store.Put(ctx, next); err != nil {
		return false, fmt.Errorf("persist retry: %w", err)
	}
	*q.items[idx] = next
	delete(q.inFlight, id)
	q.publishDepthLocked()
	return escalated, nil
}

// MarkFatal stops retrying an entry. It stays listed in ListFatal and
// blocks later entries for the same entity until retried or discarded.
func (q *Queue) MarkFatal(ctx context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	next := q.items[idx].Clone()
	next.RetryCount++
	next.LastError = errorText(cause)
	next.State = domain.MutationFatal

	if err := q.store.Put(ctx, next); err != nil {
		return fmt.Errorf("persist fatal mutation: %w", err)
	}
	*q.items[idx] = next
	delete(q.inFlight, id)
	q.publishDepthLocked()
	return nil
}

// Retry returns a fatal entry to the pending state, due immediately.
func (q *Queue) Retry(ctx context.Context, id string) (domain.PendingMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return domain.PendingMutation{}, ErrNotFound
	}
	if q.items[idx].State != domain.MutationFatal {
		return domain.PendingMutation{}, ErrNotFatal
	}
	next := q.items[idx].Clone()
	next.State = domain.MutationPending
	next.UnknownFailures = 0
	next.NextAttemptAt = q.clock.Now()

	if err := q.store.Put(ctx, next); err != nil {
		return domain.PendingMutation{}, fmt.Errorf("persist retried mutation: %w", err)
	}
	*q.items[idx] = next
	q.publishDepthLocked()
	return next.Clone(), nil
}

// Discard drops a fatal entry for good.
func (q *Queue) Discard(ctx context.Context, id string) (domain.PendingMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return domain.PendingMutation{}, ErrNotFound
	}
	if q.items[idx].State != domain.MutationFatal {
		return domain.PendingMutation{}, ErrNotFatal
	}
	dropped := q.items[idx].Clone()
	if err := q.store.Delete(ctx, id); err != nil {
		return domain.PendingMutation{}, err
	}
	q.removeLocked(idx)
	return dropped, nil
}

// Rekey replaces every occurrence of tempID with realID in target ids and
// payloads. It holds the queue lock for the whole rewrite so no entry can
// be claimed with a half-rewritten reference.
func (q *Queue) Rekey(ctx context.Context, tempID, realID string) (int, error) {
	if tempID == realID {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		indexes []int
		updated []domain.PendingMutation
	)
	for i, m := range q.items {
		next := m.Clone()
		changed := false
		if next.TargetID == tempID {
			next.TargetID = realID
			changed = true
		}
		if next.Payload.ReplaceString(tempID, realID) {
			changed = true
		}
		if changed {
			indexes = append(indexes, i)
			updated = append(updated, next)
		}
	}
	if len(updated) == 0 {
		return 0, nil
	}
	if err := q.store.PutAll(ctx, updated); err != nil {
		return 0, fmt.Errorf("persist rekey: %w", err)
	}
	for n, idx := range indexes {
		*q.items[idx] = updated[n]
	}
	q.logger.Debug("rekeyed queued mutations",
		zap.String("temp_id", tempID),
		zap.String("id", realID),
		zap.Int("mutations", len(updated)),
	)
	return len(updated), nil
}

func (q *Queue) list(keep func(*domain.PendingMutation) bool) []domain.PendingMutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.PendingMutation, 0)
	for _, m := range q.items {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

func (q *Queue) lastForLocked(entityType domain.EntityType, id string) *domain.PendingMutation {
	for i := len(q.items) - 1; i >= 0; i-- {
		m := q.items[i]
		if m.EntityType == entityType && m.TargetID == id {
			return m
		}
	}
	return nil
}

func (q *Queue) indexLocked(id string) int {
	for i, m := range q.items {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(idx int) {
	delete(q.inFlight, q.items[idx].ID)
	delete(q.attempted, q.items[idx].ID)
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	q.publishDepthLocked()
}

func (q *Queue) publishDepthLocked() {
	if q.metrics == nil {
		return
	}
	pending, fatal := 0, 0
	for _, m := range q.items {
		if m.State == domain.MutationFatal {
			fatal++
		} else {
			pending++
		}
	}
	q.metrics.SetQueueDepth(pending, fatal)
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
