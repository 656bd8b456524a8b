package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

// UserService manages accounts through the materialized view.
type UserService struct {
	view   View
	kicker Kicker
	logger *zap.Logger

	mu sync.Mutex
}

// UserCreateInput describes a new account.
type UserCreateInput struct {
	Name  string
	Email string
	Role  domain.UserRole
}

// UserChange is a partial account update.
type UserChange struct {
	Name   *string          `json:"name,omitempty"`
	Role   *domain.UserRole `json:"role,omitempty"`
	Active *bool            `json:"active,omitempty"`
}

// Validate checks enum values.
func (c UserChange) Validate() error {
	if c.Role != nil && !c.Role.Valid() {
		return util.NewValidationError("invalid role", map[string]any{"role": *c.Role})
	}
	if c.Name != nil && strings.TrimSpace(*c.Name) == "" {
		return util.NewValidationError("name cannot be empty", nil)
	}
	return nil
}

// UserResult is the outcome of an account write.
type UserResult struct {
	User      *domain.User
	PendingID string
}

// NewUserService constructs the service.
func NewUserService(view View, kicker Kicker, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{view: view, kicker: kicker, logger: logger}
}

// CreateUser queues a new account. Only admins may create accounts.
func (s *UserService) CreateUser(ctx context.Context, actor domain.Actor, input UserCreateInput) (*UserResult, error) {
	if !actor.IsAdmin() {
		return nil, util.NewForbidden("only admins can create users")
	}
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)
	if name == "" || email == "" {
		return nil, util.NewValidationError("name and email are required", nil)
	}
	role := input.Role
	if role == "" {
		role = domain.UserRoleRequester
	}
	if !role.Valid() {
		return nil, util.NewValidationError("invalid role", map[string]any{"role": role})
	}

	id := domain.NewTempID()
	user := domain.User{ID: id, Name: name, Email: email, Role: role, Active: true}
	payload, err := domain.ToDocument(user)
	if err != nil {
		return nil, util.NewInternalError(err)
	}
	pendingID, err := s.view.Submit(ctx, domain.PendingMutation{
		EntityType: domain.EntityTypeUsers,
		TargetID:   id,
		Kind:       domain.MutationCreate,
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("queue user create: %w", err)
	}
	s.kick()
	created, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return &UserResult{User: created, PendingID: pendingID}, nil
}

// UpdateUser applies change to one account. Only admins may edit accounts.
func (s *UserService) UpdateUser(ctx context.Context, actor domain.Actor, userID string, change UserChange) (*UserResult, error) {
	if !actor.IsAdmin() {
		return nil, util.NewForbidden("only admins can modify users")
	}
	if err := change.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.load(userID)
	if err != nil {
		return nil, err
	}

	patch := domain.Document{}
	if change.Name != nil && strings.TrimSpace(*change.Name) != current.Name {
		patch["name"] = strings.TrimSpace(*change.Name)
	}
	if change.Role != nil && *change.Role != current.Role {
		patch["role"] = string(*change.Role)
	}
	if change.Active != nil && *change.Active != current.Active {
		patch["active"] = *change.Active
	}
	if len(patch) == 0 {
		return &UserResult{User: current}, nil
	}

	pendingID, err := s.view.Submit(ctx, domain.PendingMutation{
		EntityType: domain.EntityTypeUsers,
		TargetID:   current.ID,
		Kind:       domain.MutationUpdate,
		Payload:    patch,
	})
	if err != nil {
		return nil, fmt.Errorf("queue user update: %w", err)
	}
	s.logger.Info("user updated", zap.String("user_id", current.ID), zap.String("pending_id", pendingID))
	s.kick()

	updated, err := s.load(current.ID)
	if err != nil {
		return nil, err
	}
	return &UserResult{User: updated, PendingID: pendingID}, nil
}

// GetUser returns one materialized account.
func (s *UserService) GetUser(_ context.Context, userID string) (*domain.User, error) {
	return s.load(userID)
}

// ListUsers returns every account ordered by name.
func (s *UserService) ListUsers(_ context.Context) ([]domain.User, error) {
	docs := s.view.List(domain.EntityTypeUsers)
	out := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		user, err := domain.UserFromDocument(doc)
		if err != nil {
			continue
		}
		out = append(out, *user)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *UserService) load(userID string) (*domain.User, error) {
	doc, ok := s.view.Get(domain.EntityTypeUsers, userID)
	if !ok {
		return nil, util.NewNotFound("user", map[string]any{"id": userID})
	}
	user, err := domain.UserFromDocument(doc)
	if err != nil {
		return nil, util.NewInternalError(err)
	}
	return user, nil
}

func (s *UserService) kick() {
	if s.kicker != nil {
		s.kicker.Kick()
	}
}
