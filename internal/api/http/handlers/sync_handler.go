package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/api/dto"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/queue"
	"github.com/spec-kit/ticket-sync/internal/reconcile"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

// SyncQueue is the mutation queue as the operator endpoints use it.
type SyncQueue interface {
	Stats() queue.Stats
	ListPending() []domain.PendingMutation
	ListFatal() []domain.PendingMutation
	Retry(ctx context.Context, id string) (domain.PendingMutation, error)
	Discard(ctx context.Context, id string) (domain.PendingMutation, error)
}

// SyncView is the part of the reconciler the operator endpoints touch.
type SyncView interface {
	Resync(entityType domain.EntityType, id string)
	Conflicts() []reconcile.Conflict
}

// SyncHandler exposes queue state and manual intervention on fatal
// mutations.
type SyncHandler struct {
	queue  SyncQueue
	view   SyncView
	online func() bool
	kick   func()
	logger *zap.Logger
}

// NewSyncHandler constructs handler. online and kick may be nil.
func NewSyncHandler(q SyncQueue, view SyncView, online func() bool, kick func(), logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{queue: q, view: view, online: online, kick: kick, logger: logger}
}

// Status handles GET /sync/status.
func (h *SyncHandler) Status(c *fiber.Ctx) error {
	stats := h.queue.Stats()
	return c.JSON(fiber.Map{"data": dto.SyncStatusResponse{
		Online:    h.online != nil && h.online(),
		Pending:   stats.Pending,
		Fatal:     stats.Fatal,
		InFlight:  stats.InFlight,
		Conflicts: len(h.view.Conflicts()),
	}})
}

// Pending handles GET /sync/pending.
func (h *SyncHandler) Pending(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": mutationResponses(h.queue.ListPending())})
}

// Fatal handles GET /sync/fatal.
func (h *SyncHandler) Fatal(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": mutationResponses(h.queue.ListFatal())})
}

// Retry handles POST /sync/fatal/:id/retry.
func (h *SyncHandler) Retry(c *fiber.Ctx) error {
	m, err := h.queue.Retry(c.UserContext(), c.Params("id"))
	if err != nil {
		return queueError(err, c.Params("id"))
	}
	h.view.Resync(m.EntityType, m.TargetID)
	h.logger.Info("fatal mutation retried", zap.String("mutation_id", m.ID), zap.String("target_id", m.TargetID))
	if h.kick != nil {
		h.kick()
	}
	return c.JSON(fiber.Map{"data": dto.NewMutationResponse(m)})
}

// Discard handles DELETE /sync/fatal/:id.
func (h *SyncHandler) Discard(c *fiber.Ctx) error {
	m, err := h.queue.Discard(c.UserContext(), c.Params("id"))
	if err != nil {
		return queueError(err, c.Params("id"))
	}
	h.view.Resync(m.EntityType, m.TargetID)
	h.logger.Info("fatal mutation discarded", zap.String("mutation_id", m.ID), zap.String("target_id", m.TargetID))
	if h.kick != nil {
		h.kick()
	}
	return c.JSON(fiber.Map{"data": dto.NewMutationResponse(m)})
}

// Conflicts handles GET /sync/conflicts.
func (h *SyncHandler) Conflicts(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.view.Conflicts()})
}

func mutationResponses(ms []domain.PendingMutation) []dto.MutationResponse {
	out := make([]dto.MutationResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, dto.NewMutationResponse(m))
	}
	return out
}

func queueError(err error, id string) error {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return util.NewNotFound("mutation", map[string]any{"id": id})
	case errors.Is(err, queue.ErrNotFatal):
		return util.NewConflict("mutation is not fatal", map[string]any{"id": id})
	default:
		return err
	}
}
