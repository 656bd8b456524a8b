package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// HistorySummarizer summarizes a ticket from its own audit trail and chat.
type HistorySummarizer struct {
	// MaxEntries caps how many recent history entries are listed.
	MaxEntries int
}

// SummarizeTicket lists the latest history entries and the chat volume.
func (h HistorySummarizer) SummarizeTicket(_ context.Context, t *domain.Ticket) (string, error) {
	limit := h.MaxEntries
	if limit <= 0 {
		limit = 3
	}
	if len(t.History) == 0 && len(t.ChatHistory) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Recent activity:")
	start := len(t.History) - limit
	if start < 0 {
		start = 0
	}
	for _, entry := range t.History[start:] {
		fmt.Fprintf(&b, "\n- %s %s", entry.Timestamp.UTC().Format("2006-01-02 15:04"), entry.Change)
	}
	if n := len(t.ChatHistory); n > 0 {
		fmt.Fprintf(&b, "\n%d chat message(s) on this ticket.", n)
	}
	return b.String(), nil
}
