package dto

import "github.com/spec-kit/ticket-sync/internal/domain"

// CreateUserRequest payload for new accounts.
type CreateUserRequest struct {
	Name  string          `json:"name"`
	Email string          `json:"email"`
	Role  domain.UserRole `json:"role"`
}

// UpdateUserRequest is a partial account update.
type UpdateUserRequest struct {
	Name   *string          `json:"name"`
	Role   *domain.UserRole `json:"role"`
	Active *bool            `json:"active"`
}

// UserResponse is an account as the view currently shows it.
type UserResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Role      domain.UserRole `json:"role"`
	Active    bool            `json:"active"`
	Pending   bool            `json:"pending"`
	PendingID string          `json:"pending_id,omitempty"`
}
