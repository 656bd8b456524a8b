package dto

import (
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// SyncStatusResponse summarizes connectivity and the local queue.
type SyncStatusResponse struct {
	Online    bool `json:"online"`
	Pending   int  `json:"pending"`
	Fatal     int  `json:"fatal"`
	InFlight  int  `json:"in_flight"`
	Conflicts int  `json:"conflicts"`
}

// MutationResponse is one queue entry.
type MutationResponse struct {
	ID              string               `json:"id"`
	EntityType      domain.EntityType    `json:"entity_type"`
	TargetID        string               `json:"target_id"`
	Kind            domain.MutationKind  `json:"kind"`
	State           domain.MutationState `json:"state"`
	EnqueuedAt      time.Time            `json:"enqueued_at"`
	RetryCount      int                  `json:"retry_count"`
	UnknownFailures int                  `json:"unknown_failures"`
	LastError       *string              `json:"last_error"`
	NextAttemptAt   time.Time            `json:"next_attempt_at"`
	Payload         domain.Document      `json:"payload,omitempty"`
}

// NewMutationResponse converts a queue entry.
func NewMutationResponse(m domain.PendingMutation) MutationResponse {
	return MutationResponse{
		ID:              m.ID,
		EntityType:      m.EntityType,
		TargetID:        m.TargetID,
		Kind:            m.Kind,
		State:           m.State,
		EnqueuedAt:      m.EnqueuedAt,
		RetryCount:      m.RetryCount,
		UnknownFailures: m.UnknownFailures,
		LastError:       m.LastError,
		NextAttemptAt:   m.NextAttemptAt,
		Payload:         m.Payload,
	}
}
