package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/reconcile"
)

// ConflictAuditor records concurrent edits on tickets in the ticket's own
// history, so users can see that a remote change raced theirs.
type ConflictAuditor struct {
	tickets *TicketService
	logger  *zap.Logger
}

// NewConflictAuditor constructs the auditor.
func NewConflictAuditor(tickets *TicketService, logger *zap.Logger) *ConflictAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictAuditor{tickets: tickets, logger: logger}
}

// Handle is a reconcile.ConflictHandler.
func (a *ConflictAuditor) Handle(c reconcile.Conflict) {
	if c.EntityType != domain.EntityTypeTickets {
		return
	}
	text := fmt.Sprintf("Concurrent edit detected (remote %s, local %s); resolved by %s",
		orUnknown(c.RemoteMutationID), strings.Join(c.LocalMutationIDs, ", "), c.Resolution)
	if _, err := a.tickets.appendSystemHistory(context.Background(), c.EntityID, text); err != nil {
		a.logger.Warn("failed to record conflict in ticket history",
			zap.String("ticket_id", c.EntityID),
			zap.Error(err),
		)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
