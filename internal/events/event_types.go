package events

import (
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated      EventType = "ticket_created"
	EventTicketChanged      EventType = "ticket_changed"
	EventTicketDeleted      EventType = "ticket_deleted"
	EventTicketMessageAdded EventType = "ticket_message_added"
)

// Event represents a domain event emitted by services. Events are only
// published after the mutation behind them has been durably queued.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	TicketID  string       `json:"ticket_id"`
	Actor     domain.Actor `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   any          `json:"payload"`
}

// TicketChangedPayload carries the ticket around one lifecycle operation.
// Before is nil for EventTicketCreated.
type TicketChangedPayload struct {
	Before    *domain.Ticket `json:"before,omitempty"`
	After     *domain.Ticket `json:"after"`
	PendingID string         `json:"pending_id"`
	Bulk      bool           `json:"bulk"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string `json:"message_id"`
	AuthorID    string `json:"author_id"`
	BodyPreview string `json:"body_preview"`
	PendingID   string `json:"pending_id"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	Before    *domain.Ticket `json:"before"`
	PendingID string         `json:"pending_id"`
}
