// Package reconcile maintains the materialized view.
//
// The view is composed on read from two layers: the baseline holds the
// last confirmed remote value of each entity, the overlay holds the
// entity's still-pending local mutations in submission order. Reads fold
// the overlay onto the baseline and recompute derived fields. Nothing
// outside this package mutates either layer.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/clock"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/queue"
	"github.com/spec-kit/ticket-sync/internal/remote"
)

// MutationQueue is the part of the queue the reconciler drives.
type MutationQueue interface {
	Enqueue(ctx context.Context, m domain.PendingMutation) (string, error)
	DequeueConfirmed(ctx context.Context, id string) error
	PendingFor(entityType domain.EntityType, id string) []domain.PendingMutation
	ListPending() []domain.PendingMutation
	Rekey(ctx context.Context, tempID, realID string) (int, error)
}

// Subscriber opens push subscriptions, usually a *remote.Client.
type Subscriber interface {
	Subscribe(ctx context.Context, entityType domain.EntityType, fn func(remote.Change)) (func(), error)
}

// Conflict records a foreign write that landed while local mutations for
// the same entity were pending. It is resolved last-write-wins: whichever
// write the remote store applies last is what the view settles on.
type Conflict struct {
	EntityType       domain.EntityType `json:"entityType"`
	EntityID         string            `json:"entityId"`
	LocalMutationIDs []string          `json:"localMutationIds"`
	RemoteMutationID string            `json:"remoteMutationId,omitempty"`
	Resolution       string            `json:"resolution"`
	DetectedAt       time.Time         `json:"detectedAt"`
}

// ResolutionLastWriteWins is the only conflict resolution.
const ResolutionLastWriteWins = "last-write-wins"

// ConflictHandler is told about every detected conflict, outside the lock.
type ConflictHandler func(Conflict)

const recentConfirmations = 1024

// Option customizes a Reconciler.
type Option func(*Reconciler)

func WithClock(c clock.Clock) Option { return func(r *Reconciler) { r.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(r *Reconciler) { r.logger = l } }
func WithMetrics(m *observability.Metrics) Option { return func(r *Reconciler) { r.metrics = m } }
func WithDeriver(d Deriver) Option { return func(r *Reconciler) { r.derive = d } }
func WithConflictHandler(h ConflictHandler) Option { return func(r *Reconciler) { r.onConflict = h } }

// Reconciler owns the materialized view.
type Reconciler struct {
	queue      MutationQueue
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *observability.Metrics
	derive     Deriver
	onConflict ConflictHandler

	mu        sync.Mutex
	baseline  map[domain.EntityType]map[string]domain.Document
	overlay   map[domain.EntityType]map[string][]domain.PendingMutation
	rekeyed   map[string]string
	confirmed map[string]bool
	confOrder []string
	conflicts []Conflict
	listeners map[domain.EntityType]map[int]*listener
	nextID    int
}

// New builds a Reconciler and seeds the overlay from whatever the queue
// restored from disk.
func New(q MutationQueue, opts ...Option) *Reconciler {
	r := &Reconciler{
		queue:     q,
		clock:     clock.Real(),
		logger:    zap.NewNop(),
		derive:    DefaultDeriver,
		baseline:  make(map[domain.EntityType]map[string]domain.Document),
		overlay:   make(map[domain.EntityType]map[string][]domain.PendingMutation),
		rekeyed:   make(map[string]string),
		confirmed: make(map[string]bool),
		listeners: make(map[domain.EntityType]map[int]*listener),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, m := range q.ListPending() {
		layer := r.overlayFor(m.EntityType)
		layer[m.TargetID] = append(layer[m.TargetID], m)
	}
	return r
}

// SetConflictHandler replaces the conflict handler. It exists for
// handlers that need the Reconciler themselves.
func (r *Reconciler) SetConflictHandler(h ConflictHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConflict = h
}

// Submit durably enqueues m, overlays it, and notifies listeners. The
// returned id identifies the queue entry now carrying the change.
func (r *Reconciler) Submit(ctx context.Context, m domain.PendingMutation) (string, error) {
	m = m.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()

	if real, ok := r.rekeyed[m.TargetID]; ok {
		m.TargetID = real
	}
	for tmp, real := range r.rekeyed {
		m.Payload.ReplaceString(tmp, real)
	}

	id, err := r.queue.Enqueue(ctx, m)
	if err != nil {
		return "", err
	}
	r.refreshOverlayLocked(m.EntityType, m.TargetID)
	r.markLocked(m.EntityType, m.TargetID, "")
	return id, nil
}

// ApplySnapshot replaces the baseline of one entity type.
func (r *Reconciler) ApplySnapshot(entityType domain.EntityType, docs []domain.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.baseline[entityType]
	next := make(map[string]domain.Document, len(docs))
	for _, doc := range docs {
		if id := doc.ID(); id != "" {
			next[id] = doc.Clone()
		}
	}
	r.baseline[entityType] = next

	for id := range previous {
		if _, ok := next[id]; !ok {
			r.markLocked(entityType, id, "")
		}
	}
	for id := range next {
		r.markLocked(entityType, id, "")
	}
}

// ApplyPush folds one remote delivery into the baseline. Overlays still
// win on read, so a push for an entity with pending mutations only moves
// the baseline underneath them.
func (r *Reconciler) ApplyPush(change remote.Change) {
	if change.Type == remote.ChangeSnapshot {
		r.ApplySnapshot(change.EntityType, change.Snapshot)
		return
	}

	r.mu.Lock()
	entityType := change.EntityType
	id := change.ID
	if id == "" {
		id = change.Document.ID()
	}

	var conflict *Conflict
	switch change.Type {
	case remote.ChangeUpsert:
		doc := change.Document.Clone()
		conflict = r.detectConflictLocked(entityType, id, doc)
		r.baselineFor(entityType)[id] = doc
	case remote.ChangeDelete:
		delete(r.baselineFor(entityType), id)
	}
	r.markLocked(entityType, id, "")
	handler := r.onConflict
	r.mu.Unlock()

	if conflict != nil {
		r.logger.Warn("concurrent remote edit on entity with pending mutations",
			zap.String("entity_type", string(conflict.EntityType)),
			zap.String("id", conflict.EntityID),
			zap.Strings("local_mutations", conflict.LocalMutationIDs),
			zap.String("remote_mutation", conflict.RemoteMutationID),
			zap.String("resolution", conflict.Resolution),
		)
		r.metrics.RecordConflict()
		if handler != nil {
			handler(*conflict)
		}
	}
}

func (r *Reconciler) detectConflictLocked(entityType domain.EntityType, id string, doc domain.Document) *Conflict {
	pending := r.overlay[entityType][id]
	if len(pending) == 0 {
		return nil
	}
	writer := doc.String(remote.FieldLastMutationID)
	if writer == "" || r.confirmed[writer] {
		return nil
	}
	local := make([]string, 0, len(pending))
	for _, m := range pending {
		if m.ID == writer {
			return nil
		}
		local = append(local, m.ID)
	}
	c := Conflict{
		EntityType:       entityType,
		EntityID:         id,
		LocalMutationIDs: local,
		RemoteMutationID: writer,
		Resolution:       ResolutionLastWriteWins,
		DetectedAt:       r.clock.Now(),
	}
	r.conflicts = append(r.conflicts, c)
	return &c
}

// Confirm settles m after the remote store acknowledged it with doc. For a
// create under a temporary id, the id is rekeyed everywhere first: queue
// entries, overlay keys, and references inside documents. The queue lock
// is held for the queue part of the rewrite, so no entry referencing the
// temporary id can be claimed half-way through.
func (r *Reconciler) Confirm(ctx context.Context, m domain.PendingMutation, doc domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entityType := m.EntityType
	id := m.TargetID
	if m.Kind == domain.MutationCreate && doc != nil && doc.ID() != "" && doc.ID() != id {
		if err := r.rekeyLocked(ctx, entityType, id, doc.ID()); err != nil {
			return err
		}
		id = doc.ID()
	}

	if err := r.queue.DequeueConfirmed(ctx, m.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
		return fmt.Errorf("dequeue confirmed mutation: %w", err)
	}
	r.rememberConfirmedLocked(m.ID)

	if m.Kind == domain.MutationDelete || doc == nil {
		delete(r.baselineFor(entityType), id)
	} else {
		r.baselineFor(entityType)[id] = doc.Clone()
	}
	r.refreshOverlayLocked(entityType, id)
	r.markLocked(entityType, id, "")
	return nil
}

func (r *Reconciler) rekeyLocked(ctx context.Context, entityType domain.EntityType, tempID, realID string) error {
	if _, err := r.queue.Rekey(ctx, tempID, realID); err != nil {
		return fmt.Errorf("rekey %s: %w", tempID, err)
	}

	for et, layer := range r.overlay {
		for key, pending := range layer {
			for i := range pending {
				pending[i].Payload.ReplaceString(tempID, realID)
				if pending[i].TargetID == tempID {
					pending[i].TargetID = realID
				}
			}
			if key == tempID {
				delete(layer, key)
				layer[realID] = append(layer[realID], pending...)
				r.markLocked(et, realID, tempID)
			}
		}
	}
	for et, layer := range r.baseline {
		for id, doc := range layer {
			if doc.ReplaceString(tempID, realID) {
				r.markLocked(et, id, "")
			}
		}
	}
	r.rekeyed[tempID] = realID
	r.markLocked(entityType, realID, tempID)

	r.logger.Info("rekeyed temporary id",
		zap.String("entity_type", string(entityType)),
		zap.String("temp_id", tempID),
		zap.String("id", realID),
	)
	return nil
}

// Reject drops the overlay of a mutation the queue marked fatal.
func (r *Reconciler) Reject(m domain.PendingMutation, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshOverlayLocked(m.EntityType, m.TargetID)
	r.markLocked(m.EntityType, m.TargetID, "")
	r.logger.Warn("mutation rejected",
		zap.String("mutation_id", m.ID),
		zap.String("entity_type", string(m.EntityType)),
		zap.String("target_id", m.TargetID),
		zap.Error(cause),
	)
}

// Resync reloads the overlay of one entity from the queue, e.g. after an
// operator retried or discarded a fatal mutation.
func (r *Reconciler) Resync(entityType domain.EntityType, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id = r.resolveLocked(id)
	r.refreshOverlayLocked(entityType, id)
	r.markLocked(entityType, id, "")
}

// Get returns the composed view of one entity. A temporary id that has
// since been confirmed still resolves.
func (r *Reconciler) Get(entityType domain.EntityType, id string) (domain.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.composeLocked(entityType, r.resolveLocked(id))
	return doc, doc != nil
}

// IsPending reports whether the entity has unconfirmed local mutations.
func (r *Reconciler) IsPending(entityType domain.EntityType, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.overlay[entityType][r.resolveLocked(id)]) > 0
}

// List returns the composed view of one entity type ordered by id.
func (r *Reconciler) List(entityType domain.EntityType) []domain.Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.idsLocked(entityType)
	out := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		if doc := r.composeLocked(entityType, id); doc != nil {
			out = append(out, doc)
		}
	}
	return out
}

// Conflicts returns every conflict detected so far.
func (r *Reconciler) Conflicts() []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conflict, len(r.conflicts))
	copy(out, r.conflicts)
	return out
}

// Subscribe delivers a snapshot of the entity type and then coalesced
// changes, on a goroutine owned by the subscription. Unsubscribing stops
// delivery immediately and never touches in-flight remote applies.
func (r *Reconciler) Subscribe(entityType domain.EntityType, fn func(ViewEvent)) (unsubscribe func()) {
	l := newListener(entityType, fn)

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	if r.listeners[entityType] == nil {
		r.listeners[entityType] = make(map[int]*listener)
	}
	r.listeners[entityType][id] = l
	r.mu.Unlock()

	go r.serve(l)

	return func() {
		r.mu.Lock()
		delete(r.listeners[entityType], id)
		r.mu.Unlock()
		l.stop()
	}
}

func (r *Reconciler) serve(l *listener) {
	snapshot := r.List(l.entityType)
	changes := make([]ViewChange, len(snapshot))
	for i, doc := range snapshot {
		changes[i] = ViewChange{ID: doc.ID(), Document: doc, Pending: r.IsPending(l.entityType, doc.ID())}
	}
	if l.stopped() {
		return
	}
	l.fn(ViewEvent{EntityType: l.entityType, Snapshot: true, Changes: changes})

	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		batch := l.drain()
		if len(batch) == 0 {
			continue
		}
		r.mu.Lock()
		for i := range batch {
			batch[i].Document = r.composeLocked(l.entityType, batch[i].ID)
			batch[i].Pending = len(r.overlay[l.entityType][batch[i].ID]) > 0
		}
		r.mu.Unlock()
		if l.stopped() {
			return
		}
		l.fn(ViewEvent{EntityType: l.entityType, Changes: batch})
	}
}

// Attach opens push subscriptions for the given entity types and feeds
// them into the view. The returned function closes all of them.
func (r *Reconciler) Attach(ctx context.Context, sub Subscriber, entityTypes ...domain.EntityType) (func(), error) {
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	for _, et := range entityTypes {
		unsubscribe, err := sub.Subscribe(ctx, et, r.ApplyPush)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("subscribe %s: %w", et, err)
		}
		closers = append(closers, unsubscribe)
	}
	return closeAll, nil
}

func (r *Reconciler) composeLocked(entityType domain.EntityType, id string) domain.Document {
	doc := r.baseline[entityType][id].Clone()
	for _, m := range r.overlay[entityType][id] {
		doc = m.Apply(doc)
	}
	if doc == nil {
		return nil
	}
	return r.derive(entityType, doc, r.clock.Now())
}

// idsLocked lists the ids visible in the view. A baseline entry created
// from a temporary id is hidden while the create is still overlaid under
// that id, so the entity never shows twice.
func (r *Reconciler) idsLocked(entityType domain.EntityType) []string {
	overlay := r.overlay[entityType]
	seen := make(map[string]bool)
	var ids []string
	for id, doc := range r.baseline[entityType] {
		if ref := doc.String(remote.FieldClientRef); ref != "" && len(overlay[ref]) > 0 {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for id, pending := range overlay {
		if len(pending) > 0 && !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Reconciler) refreshOverlayLocked(entityType domain.EntityType, id string) {
	pending := r.queue.PendingFor(entityType, id)
	layer := r.overlayFor(entityType)
	if len(pending) == 0 {
		delete(layer, id)
		return
	}
	layer[id] = pending
}

func (r *Reconciler) resolveLocked(id string) string {
	if real, ok := r.rekeyed[id]; ok {
		return real
	}
	return id
}

func (r *Reconciler) rememberConfirmedLocked(id string) {
	if r.confirmed[id] {
		return
	}
	r.confirmed[id] = true
	r.confOrder = append(r.confOrder, id)
	if len(r.confOrder) > recentConfirmations {
		delete(r.confirmed, r.confOrder[0])
		r.confOrder = r.confOrder[1:]
	}
}

func (r *Reconciler) markLocked(entityType domain.EntityType, id, previousID string) {
	for _, l := range r.listeners[entityType] {
		l.mark(id, previousID)
	}
}

func (r *Reconciler) baselineFor(entityType domain.EntityType) map[string]domain.Document {
	layer, ok := r.baseline[entityType]
	if !ok {
		layer = make(map[string]domain.Document)
		r.baseline[entityType] = layer
	}
	return layer
}

func (r *Reconciler) overlayFor(entityType domain.EntityType) map[string][]domain.PendingMutation {
	layer, ok := r.overlay[entityType]
	if !ok {
		layer = make(map[string][]domain.PendingMutation)
		r.overlay[entityType] = layer
	}
	return layer
}
