package dto

import (
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	RequesterID    string                `json:"requester_id"`
	RequesterEmail string                `json:"requester_email"`
	Priority       domain.TicketPriority `json:"priority"`
	AssignedTechID *string               `json:"assigned_tech_id"`
	Notes          string                `json:"notes"`
}

// UpdateTicketRequest is a partial update; omitted fields are unchanged and
// an empty assigned_tech_id unassigns.
type UpdateTicketRequest struct {
	Status         *domain.TicketStatus   `json:"status"`
	Priority       *domain.TicketPriority `json:"priority"`
	AssignedTechID *string                `json:"assigned_tech_id"`
	Notes          *string                `json:"notes"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Body string `json:"body"`
}

// TicketResponse is a ticket as the view currently shows it.
type TicketResponse struct {
	ID             string                 `json:"id"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	RequesterID    string                 `json:"requester_id"`
	RequesterEmail string                 `json:"requester_email,omitempty"`
	AssignedTechID *string                `json:"assigned_tech_id"`
	Status         domain.TicketStatus    `json:"status"`
	StatusLabel    string                 `json:"status_label"`
	Priority       domain.TicketPriority  `json:"priority"`
	PriorityLabel  string                 `json:"priority_label"`
	Notes          string                 `json:"notes"`
	DateCreated    time.Time              `json:"date_created"`
	DateResolved   *time.Time             `json:"date_resolved"`
	SLADueAt       *time.Time             `json:"sla_due_at"`
	SLABreached    bool                   `json:"sla_breached"`
	Pending        bool                   `json:"pending"`
	PendingID      string                 `json:"pending_id,omitempty"`
	History        []HistoryEntryResponse `json:"history,omitempty"`
	ChatHistory    []ChatMessageResponse  `json:"chat_history,omitempty"`
}

// HistoryEntryResponse is one audit trail entry.
type HistoryEntryResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Change    string    `json:"change"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessageResponse is one chat thread message.
type ChatMessageResponse struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	PendingID string    `json:"pending_id,omitempty"`
}

// BulkTicketsRequest applies one change to many tickets.
type BulkTicketsRequest struct {
	IDs    []string            `json:"ids"`
	Change UpdateTicketRequest `json:"change"`
}

// BulkUsersRequest applies one change to many accounts.
type BulkUsersRequest struct {
	IDs    []string          `json:"ids"`
	Change UpdateUserRequest `json:"change"`
}
