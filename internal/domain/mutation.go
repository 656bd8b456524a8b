package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityType names a materialized view partition.
type EntityType string

// MutationKind enumerates queued write operations.
type MutationKind string

const (
	MutationCreate MutationKind = "CREATE"
	MutationUpdate MutationKind = "UPDATE"
	MutationDelete MutationKind = "DELETE"
)

// MutationState tracks whether a queued mutation is still being retried.
type MutationState string

const (
	MutationPending MutationState = "PENDING"
	MutationFatal   MutationState = "FATAL"
)

// TempIDPrefix marks ids assigned by the client before the remote store
// has confirmed the entity.
const TempIDPrefix = "tmp-"

// NewTempID allocates a temporary client id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was client-assigned.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// PendingMutation is a local write awaiting remote confirmation.
type PendingMutation struct {
	ID              string        `json:"id"`
	Seq             int64         `json:"seq"`
	EntityType      EntityType    `json:"entityType"`
	TargetID        string        `json:"targetId"`
	Kind            MutationKind  `json:"kind"`
	Payload         Document      `json:"payload"`
	EnqueuedAt      time.Time     `json:"enqueuedAt"`
	RetryCount      int           `json:"retryCount"`
	UnknownFailures int           `json:"unknownFailures"`
	LastError       *string       `json:"lastError"`
	State           MutationState `json:"state"`
	NextAttemptAt   time.Time     `json:"nextAttemptAt"`
}

// Clone deep-copies the mutation.
func (m PendingMutation) Clone() PendingMutation {
	out := m
	out.Payload = m.Payload.Clone()
	if m.LastError != nil {
		msg := *m.LastError
		out.LastError = &msg
	}
	return out
}

// Apply folds the mutation onto base, returning nil for deletions.
func (m PendingMutation) Apply(base Document) Document {
	switch m.Kind {
	case MutationCreate:
		doc := m.Payload.Clone()
		if doc == nil {
			doc = Document{}
		}
		doc["id"] = m.TargetID
		return doc
	case MutationDelete:
		return nil
	default:
		if base == nil {
			base = Document{"id": m.TargetID}
		}
		return ApplyPatch(base, m.Payload)
	}
}
