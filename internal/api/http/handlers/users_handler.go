package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-sync/internal/api/dto"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/service"
)

// UsersHandler exposes account management.
type UsersHandler struct {
	users *service.UserService
	view  PendingChecker
}

// NewUsersHandler constructs handler.
func NewUsersHandler(users *service.UserService, view PendingChecker) *UsersHandler {
	return &UsersHandler{users: users, view: view}
}

// List handles GET /users.
func (h *UsersHandler) List(c *fiber.Ctx) error {
	users, err := h.users.ListUsers(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		items = append(items, userResponse(&users[i], h.pending(users[i].ID), ""))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Create handles POST /users.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.users.CreateUser(c.UserContext(), actor, service.UserCreateInput{
		Name:  req.Name,
		Email: req.Email,
		Role:  req.Role,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": userResponse(res.User, true, res.PendingID)})
}

// Update handles PATCH /users/:id.
func (h *UsersHandler) Update(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.users.UpdateUser(c.UserContext(), actor, c.Params("id"), userChange(req))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(res.User, h.pending(res.User.ID), res.PendingID)})
}

func (h *UsersHandler) pending(id string) bool {
	return h.view != nil && h.view.IsPending(domain.EntityTypeUsers, id)
}
