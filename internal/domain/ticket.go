package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityTypeTickets is the materialized view key for tickets.
const EntityTypeTickets EntityType = "tickets"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved:
		return true
	}
	return false
}

// Label renders the status for history descriptions.
func (s TicketStatus) Label() string {
	switch s {
	case TicketStatusOpen:
		return "Open"
	case TicketStatusInProgress:
		return "In Progress"
	case TicketStatusResolved:
		return "Resolved"
	}
	return string(s)
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	_, ok := SLAHours[p]
	return ok
}

// Label renders the priority for history descriptions.
func (p TicketPriority) Label() string {
	switch p {
	case TicketPriorityLow:
		return "Low"
	case TicketPriorityMedium:
		return "Medium"
	case TicketPriorityHigh:
		return "High"
	case TicketPriorityUrgent:
		return "Urgent"
	}
	return string(p)
}

// Ticket is the aggregate for support requests.
//
// DateResolved is non-nil exactly when Status is RESOLVED. History and
// ChatHistory only ever grow.
type Ticket struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	RequesterID    string         `json:"requesterId"`
	RequesterEmail string         `json:"requesterEmail"`
	AssignedTechID *string        `json:"assignedTechId"`
	Status         TicketStatus   `json:"status"`
	Priority       TicketPriority `json:"priority"`
	Notes          string         `json:"notes"`
	DateCreated    time.Time      `json:"dateCreated"`
	DateResolved   *time.Time     `json:"dateResolved"`
	SLADueAt       *time.Time     `json:"slaDueAt,omitempty"`
	SLABreached    bool           `json:"slaBreached"`
	History        []HistoryEntry `json:"history"`
	ChatHistory    []ChatMessage  `json:"chatHistory"`
}

// TicketFromDocument decodes a materialized document into a Ticket.
func TicketFromDocument(doc Document) (*Ticket, error) {
	if doc == nil {
		return nil, fmt.Errorf("decode ticket: nil document")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	var ticket Ticket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	return &ticket, nil
}

// Document encodes the ticket into its storage form.
func (t *Ticket) Document() (Document, error) {
	return ToDocument(t)
}

// AssigneeEquals compares the assignment against id, treating nil and "" alike.
func (t *Ticket) AssigneeEquals(id *string) bool {
	return derefString(t.AssignedTechID) == derefString(id)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
