package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sync/internal/service"
)

// NotificationsHandler exposes failed deliveries for manual remediation.
type NotificationsHandler struct {
	orchestrator *service.NotificationOrchestrator
}

// NewNotificationsHandler constructs handler.
func NewNotificationsHandler(orchestrator *service.NotificationOrchestrator) *NotificationsHandler {
	return &NotificationsHandler{orchestrator: orchestrator}
}

// Failures handles GET /notifications/failures.
func (h *NotificationsHandler) Failures(c *fiber.Ctx) error {
	failures := h.orchestrator.Failures()
	if ticketID := c.Query("ticket_id"); ticketID != "" {
		filtered := failures[:0]
		for _, f := range failures {
			if f.TicketID == ticketID {
				filtered = append(filtered, f)
			}
		}
		failures = filtered
	}
	return c.JSON(fiber.Map{"data": failures})
}

// Resend handles POST /notifications/failures/:id/resend.
func (h *NotificationsHandler) Resend(c *fiber.Ctx) error {
	if err := h.orchestrator.Resend(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Dismiss handles DELETE /notifications/failures/:id.
func (h *NotificationsHandler) Dismiss(c *fiber.Ctx) error {
	if err := h.orchestrator.Dismiss(c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
