package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sync/internal/api/dto"
	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/service"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

// PendingChecker reports whether an entity still has unconfirmed local
// writes.
type PendingChecker interface {
	IsPending(entityType domain.EntityType, id string) bool
}

func actorFrom(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, util.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	return nil
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func ticketChange(req dto.UpdateTicketRequest) service.TicketChange {
	return service.TicketChange{
		Status:         req.Status,
		Priority:       req.Priority,
		AssignedTechID: req.AssignedTechID,
		Notes:          req.Notes,
	}
}

func userChange(req dto.UpdateUserRequest) service.UserChange {
	return service.UserChange{Name: req.Name, Role: req.Role, Active: req.Active}
}

func ticketResponse(t *domain.Ticket, pending bool, pendingID string, detail bool) dto.TicketResponse {
	resp := dto.TicketResponse{
		ID:             t.ID,
		Title:          t.Title,
		Description:    t.Description,
		RequesterID:    t.RequesterID,
		RequesterEmail: t.RequesterEmail,
		AssignedTechID: t.AssignedTechID,
		Status:         t.Status,
		StatusLabel:    t.Status.Label(),
		Priority:       t.Priority,
		PriorityLabel:  t.Priority.Label(),
		Notes:          t.Notes,
		DateCreated:    t.DateCreated,
		DateResolved:   t.DateResolved,
		SLADueAt:       t.SLADueAt,
		SLABreached:    t.SLABreached,
		Pending:        pending,
		PendingID:      pendingID,
	}
	if !detail {
		return resp
	}
	resp.History = historyResponses(t.History)
	resp.ChatHistory = make([]dto.ChatMessageResponse, 0, len(t.ChatHistory))
	for _, msg := range t.ChatHistory {
		resp.ChatHistory = append(resp.ChatHistory, chatMessageResponse(&msg, ""))
	}
	return resp
}

func historyResponses(entries []domain.HistoryEntry) []dto.HistoryEntryResponse {
	resp := make([]dto.HistoryEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.HistoryEntryResponse{
			ID:        entry.ID,
			UserID:    entry.UserID,
			Change:    entry.Change,
			Timestamp: entry.Timestamp,
		})
	}
	return resp
}

func chatMessageResponse(msg *domain.ChatMessage, pendingID string) dto.ChatMessageResponse {
	return dto.ChatMessageResponse{
		ID:        msg.ID,
		AuthorID:  msg.AuthorID,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
		PendingID: pendingID,
	}
}

func userResponse(u *domain.User, pending bool, pendingID string) dto.UserResponse {
	return dto.UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		Active:    u.Active,
		Pending:   pending,
		PendingID: pendingID,
	}
}
