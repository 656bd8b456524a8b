package domain

import "time"

// ChatMessage captures communications in a ticket thread.
type ChatMessage struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticketId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}
