package domain

import "time"

// HistoryEntry is an immutable audit trail entry. One entry is written per
// mutating operation and describes every field that operation changed.
type HistoryEntry struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticketId"`
	UserID    string    `json:"userId"`
	Change    string    `json:"change"`
	Timestamp time.Time `json:"timestamp"`
}
