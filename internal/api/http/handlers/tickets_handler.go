package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sync/internal/api/dto"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/service"
)

// TicketsHandler exposes the ticket lifecycle. Every write answers as soon
// as the change is queued locally; pending_id names the queue entry.
type TicketsHandler struct {
	service *service.TicketService
	view    PendingChecker
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, view PendingChecker) *TicketsHandler {
	return &TicketsHandler{service: ticketService, view: view}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	res, err := h.service.CreateTicket(c.UserContext(), actor, service.TicketCreateInput{
		Title:          req.Title,
		Description:    req.Description,
		RequesterID:    req.RequesterID,
		RequesterEmail: req.RequesterEmail,
		Priority:       req.Priority,
		AssignedTechID: req.AssignedTechID,
		Notes:          req.Notes,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(res.Ticket, true, res.PendingID, true)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter := service.TicketFilter{}
	for _, s := range splitList(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.TicketStatus(s))
	}
	for _, p := range splitList(c.Query("priority")) {
		filter.Priorities = append(filter.Priorities, domain.TicketPriority(p))
	}
	if tech := c.Query("assigned_tech_id"); tech != "" {
		filter.AssignedTechID = &tech
	}
	if requester := c.Query("requester_id"); requester != "" {
		filter.RequesterID = &requester
	}

	tickets, err := h.service.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i], h.pending(tickets[i].ID), "", false))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.service.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket, h.pending(ticket.ID), "", true)})
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	res, err := h.service.UpdateTicket(c.UserContext(), actor, c.Params("id"), ticketChange(req))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(res.Ticket, h.pending(res.Ticket.ID), res.PendingID, true)})
}

// DeleteTicket DELETE /tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	pendingID, err := h.service.DeleteTicket(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": fiber.Map{"id": c.Params("id"), "pending_id": pendingID}})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	msg, pendingID, err := h.service.AddChatMessage(c.UserContext(), actor, c.Params("id"), req.Body)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": chatMessageResponse(msg, pendingID)})
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	entries, err := h.service.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

func (h *TicketsHandler) pending(id string) bool {
	return h.view != nil && h.view.IsPending(domain.EntityTypeTickets, id)
}
