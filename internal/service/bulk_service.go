package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

// BulkItem is the outcome for one id of a bulk operation. Skipped items
// already matched the change: nothing was queued and no history written.
type BulkItem struct {
	ID        string `json:"id"`
	OK        bool   `json:"ok"`
	Skipped   bool   `json:"skipped,omitempty"`
	PendingID string `json:"pending_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BulkResult reports every success, skip and failure. There is no
// all-or-nothing: whatever succeeded stays applied.
type BulkResult struct {
	Items     []BulkItem `json:"items"`
	Succeeded int        `json:"succeeded"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
}

func (r *BulkResult) add(item BulkItem) {
	r.Items = append(r.Items, item)
	switch {
	case !item.OK:
		r.Failed++
	case item.Skipped:
		r.Skipped++
	default:
		r.Succeeded++
	}
}

// applied builds the item for a write that went through the
// single-entity path. An empty pending id means nothing changed.
func applied(id, pendingID string) BulkItem {
	return BulkItem{ID: id, OK: true, Skipped: pendingID == "", PendingID: pendingID}
}

// BulkCoordinator applies one change to many entities through the same
// single-entity paths the API uses.
type BulkCoordinator struct {
	tickets *TicketService
	users   *UserService
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewBulkCoordinator constructs the coordinator.
func NewBulkCoordinator(tickets *TicketService, users *UserService, logger *zap.Logger, metrics *observability.Metrics) *BulkCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkCoordinator{tickets: tickets, users: users, logger: logger, metrics: metrics}
}

// UpdateTickets applies change to every listed ticket. Each changed
// ticket gets its own history entry, prefixed as a bulk action.
func (b *BulkCoordinator) UpdateTickets(ctx context.Context, actor domain.Actor, ids []string, change TicketChange) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, util.NewValidationError("ids are required", nil)
	}
	if change.IsEmpty() {
		return nil, util.NewValidationError("change is empty", nil)
	}
	if err := change.Validate(); err != nil {
		return nil, err
	}

	result := &BulkResult{Items: make([]BulkItem, 0, len(ids))}
	for _, id := range ids {
		res, err := b.tickets.update(ctx, actor, id, change, true)
		if err != nil {
			result.add(BulkItem{ID: id, Error: errorMessage(err)})
			b.metrics.RecordBulkItem(string(domain.EntityTypeTickets), false)
			continue
		}
		result.add(applied(id, res.PendingID))
		b.metrics.RecordBulkItem(string(domain.EntityTypeTickets), true)
	}

	b.logger.Info("bulk ticket update finished",
		zap.String("actor", actor.UserID),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// UpdateUsers applies change to every listed account except the acting
// user's own, which is reported as a failure.
func (b *BulkCoordinator) UpdateUsers(ctx context.Context, actor domain.Actor, ids []string, change UserChange) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, util.NewValidationError("ids are required", nil)
	}
	if !actor.IsAdmin() {
		return nil, util.NewForbidden("only admins can modify users")
	}
	if err := change.Validate(); err != nil {
		return nil, err
	}

	result := &BulkResult{Items: make([]BulkItem, 0, len(ids))}
	for _, id := range ids {
		if id == actor.UserID {
			result.add(BulkItem{ID: id, Error: "cannot bulk-modify your own account"})
			b.metrics.RecordBulkItem(string(domain.EntityTypeUsers), false)
			continue
		}
		res, err := b.users.UpdateUser(ctx, actor, id, change)
		if err != nil {
			result.add(BulkItem{ID: id, Error: errorMessage(err)})
			b.metrics.RecordBulkItem(string(domain.EntityTypeUsers), false)
			continue
		}
		result.add(applied(id, res.PendingID))
		b.metrics.RecordBulkItem(string(domain.EntityTypeUsers), true)
	}

	b.logger.Info("bulk user update finished",
		zap.String("actor", actor.UserID),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func errorMessage(err error) string {
	if de := util.ToDomainError(err); de != nil && de.Code != "INTERNAL_ERROR" {
		return de.Message
	}
	return err.Error()
}
