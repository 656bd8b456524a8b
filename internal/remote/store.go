// Package remote talks to the authoritative entity store.
//
// A Store applies queued mutations and pushes every committed change back
// to subscribers. Client wraps a Store with per-attempt timeouts, failure
// normalization, and snapshot-then-push subscriptions.
package remote

import (
	"context"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// Stamped on every document written through Apply.
const (
	FieldClientRef      = "clientRef"
	FieldLastMutationID = "lastMutationId"
)

// ChangeType tells subscribers how to read a Change.
type ChangeType string

const (
	ChangeSnapshot ChangeType = "snapshot"
	ChangeUpsert   ChangeType = "upsert"
	ChangeDelete   ChangeType = "delete"
)

// Change is one delivery on a subscription.
type Change struct {
	Type       ChangeType        `json:"type"`
	EntityType domain.EntityType `json:"entityType"`
	ID         string            `json:"id,omitempty"`
	Document   domain.Document   `json:"document,omitempty"`
	Snapshot   []domain.Document `json:"snapshot,omitempty"`
}

// Store is the capability every remote backend provides.
//
// Apply must be idempotent per mutation: a Create carrying a temporary id
// that was already stored returns the stored document, and replaying an
// Update whose id matches the document's lastMutationId is a no-op.
type Store interface {
	Apply(ctx context.Context, m domain.PendingMutation) (domain.Document, error)
	FetchAll(ctx context.Context, entityType domain.EntityType) ([]domain.Document, error)
	// Subscribe delivers pushes only. ctx bounds the setup, not the
	// subscription.
	Subscribe(ctx context.Context, entityType domain.EntityType, fn func(Change)) (unsubscribe func(), err error)
	Ping(ctx context.Context) error
	Close() error
}

// prepare computes the document a mutation produces on top of current.
// It is shared by the backends so they agree on stamping rules.
func prepare(m domain.PendingMutation, id string, current domain.Document) (domain.Document, error) {
	doc := m.Apply(current)
	if doc == nil {
		return nil, nil
	}
	if m.Kind == domain.MutationCreate && domain.IsTempID(m.TargetID) {
		doc.ReplaceString(m.TargetID, id)
		doc[FieldClientRef] = m.TargetID
	}
	doc["id"] = id
	doc[FieldLastMutationID] = m.ID
	if err := domain.ValidateDocument(m.EntityType, doc); err != nil {
		return nil, Rejected(err)
	}
	return doc, nil
}

// alreadyApplied reports whether current was last written by m.
func alreadyApplied(m domain.PendingMutation, current domain.Document) bool {
	return current != nil && current.String(FieldLastMutationID) == m.ID
}
