package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sync/internal/api/dto"
	"github.com/spec-kit/ticket-sync/internal/service"
)

// BulkHandler exposes bulk operations. The response lists every item's
// outcome; partial success is still a 200.
type BulkHandler struct {
	bulk *service.BulkCoordinator
}

// NewBulkHandler constructs handler.
func NewBulkHandler(bulk *service.BulkCoordinator) *BulkHandler {
	return &BulkHandler{bulk: bulk}
}

// Tickets handles POST /bulk/tickets.
func (h *BulkHandler) Tickets(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.BulkTicketsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.bulk.UpdateTickets(c.UserContext(), actor, req.IDs, ticketChange(req.Change))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": res})
}

// Users handles POST /bulk/users.
func (h *BulkHandler) Users(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.BulkUsersRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.bulk.UpdateUsers(c.UserContext(), actor, req.IDs, userChange(req.Change))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": res})
}
