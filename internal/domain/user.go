package domain

import (
	"encoding/json"
	"fmt"
)

// EntityTypeUsers is the materialized view key for user accounts.
const EntityTypeUsers EntityType = "users"

// UserRole represents what an account may do.
type UserRole string

const (
	UserRoleAdmin      UserRole = "ADMIN"
	UserRoleTechnician UserRole = "TECHNICIAN"
	UserRoleRequester  UserRole = "REQUESTER"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleAdmin, UserRoleTechnician, UserRoleRequester:
		return true
	}
	return false
}

// User is an account that submits or works tickets.
type User struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
	Active bool     `json:"active"`
}

// UserFromDocument decodes a materialized document into a User.
func UserFromDocument(doc Document) (*User, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// SystemUserID is the actor recorded on entries the sync layer writes on
// its own behalf.
const SystemUserID = "system"

// Actor identifies who performed an operation.
type Actor struct {
	UserID string   `json:"userId"`
	Role   UserRole `json:"role"`
}

// IsAdmin reports whether the actor may run administrative edits.
func (a Actor) IsAdmin() bool {
	return a.Role == UserRoleAdmin
}
