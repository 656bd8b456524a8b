package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/clock"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

// BulkPrefix marks history entries written by a bulk operation.
const BulkPrefix = "[bulk action] "

// View is the materialized view as the services use it, usually a
// *reconcile.Reconciler.
type View interface {
	Submit(ctx context.Context, m domain.PendingMutation) (string, error)
	Get(entityType domain.EntityType, id string) (domain.Document, bool)
	List(entityType domain.EntityType) []domain.Document
}

// Kicker asks the flush engine to try the queue soon.
type Kicker interface {
	Kick()
}

// TicketService is the ticket lifecycle engine. Every write goes through
// the view, which queues it durably before the call returns.
type TicketService struct {
	view       View
	dispatcher events.Dispatcher
	kicker     Kicker
	clock      clock.Clock
	logger     *zap.Logger

	// serializes read-modify-write cycles so two edits of one ticket
	// cannot both diff against the same state
	mu sync.Mutex
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	View       View
	Dispatcher events.Dispatcher
	Kicker     Kicker
	Clock      clock.Clock
	Logger     *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title          string
	Description    string
	RequesterID    string
	RequesterEmail string
	Priority       domain.TicketPriority
	AssignedTechID *string
	Notes          string
}

// TicketChange is a partial update. Nil fields are left alone; an empty
// AssignedTechID unassigns the ticket.
type TicketChange struct {
	Status         *domain.TicketStatus   `json:"status,omitempty"`
	Priority       *domain.TicketPriority `json:"priority,omitempty"`
	AssignedTechID *string                `json:"assignedTechId,omitempty"`
	Notes          *string                `json:"notes,omitempty"`
}

// IsEmpty reports whether the change sets nothing.
func (c TicketChange) IsEmpty() bool {
	return c.Status == nil && c.Priority == nil && c.AssignedTechID == nil && c.Notes == nil
}

// Validate checks enum values.
func (c TicketChange) Validate() error {
	if c.Status != nil && !c.Status.Valid() {
		return util.NewValidationError("invalid status", map[string]any{"status": *c.Status})
	}
	if c.Priority != nil && !c.Priority.Valid() {
		return util.NewValidationError("invalid priority", map[string]any{"priority": *c.Priority})
	}
	return nil
}

// TicketResult is the outcome of a lifecycle write. PendingID is empty
// when the operation changed nothing and so queued nothing.
type TicketResult struct {
	Ticket    *domain.Ticket
	PendingID string
}

// TicketFilter narrows ListTickets.
type TicketFilter struct {
	Statuses       []domain.TicketStatus
	Priorities     []domain.TicketPriority
	AssignedTechID *string
	RequesterID    *string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &TicketService{
		view:       deps.View,
		dispatcher: deps.Dispatcher,
		kicker:     deps.Kicker,
		clock:      deps.Clock,
		logger:     deps.Logger,
	}
}

// CreateTicket queues a new ticket under a temporary id.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*TicketResult, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, util.NewValidationError("title is required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		return nil, util.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}
	requesterID := input.RequesterID
	if requesterID == "" {
		requesterID = actor.UserID
	}

	now := s.clock.Now().UTC()
	id := domain.NewTempID()
	due := domain.SLADueDate(now, priority)
	ticket := &domain.Ticket{
		ID:             id,
		Title:          title,
		Description:    strings.TrimSpace(input.Description),
		RequesterID:    requesterID,
		RequesterEmail: strings.TrimSpace(input.RequesterEmail),
		AssignedTechID: normalizeAssignee(input.AssignedTechID),
		Status:         domain.TicketStatusOpen,
		Priority:       priority,
		Notes:          input.Notes,
		DateCreated:    now,
		SLADueAt:       &due,
		History: []domain.HistoryEntry{
			s.historyEntry(id, actor.UserID, "Ticket created", now),
		},
		ChatHistory: []domain.ChatMessage{},
	}
	payload, err := ticket.Document()
	if err != nil {
		return nil, util.NewInternalError(err)
	}

	pendingID, err := s.view.Submit(ctx, domain.PendingMutation{
		EntityType: domain.EntityTypeTickets,
		TargetID:   id,
		Kind:       domain.MutationCreate,
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("queue ticket create: %w", err)
	}

	created, err := s.load(id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ticket created", zap.String("ticket_id", id), zap.String("pending_id", pendingID))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: id,
		Actor:    actor,
		Payload:  events.TicketChangedPayload{After: created, PendingID: pendingID},
	})
	s.kick()
	return &TicketResult{Ticket: created, PendingID: pendingID}, nil
}

// UpdateTicket applies change and records one history entry describing
// every field it changed.
func (s *TicketService) UpdateTicket(ctx context.Context, actor domain.Actor, ticketID string, change TicketChange) (*TicketResult, error) {
	return s.update(ctx, actor, ticketID, change, false)
}

func (s *TicketService) update(ctx context.Context, actor domain.Actor, ticketID string, change TicketChange, bulk bool) (*TicketResult, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	before, err := s.load(ticketID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	patch, description := s.diff(before, change)
	if len(description) == 0 {
		s.mu.Unlock()
		return &TicketResult{Ticket: before}, nil
	}

	text := strings.Join(description, "; ")
	if bulk {
		text = BulkPrefix + text
	}
	now := s.clock.Now().UTC()
	patch["history"] = []any{historyDocument(s.historyEntry(before.ID, actor.UserID, text, now))}

	pendingID, err := s.view.Submit(ctx, domain.PendingMutation{
		EntityType: domain.EntityTypeTickets,
		TargetID:   before.ID,
		Kind:       domain.MutationUpdate,
		Payload:    patch,
	})
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("queue ticket update: %w", err)
	}
	after, err := s.load(before.ID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket updated",
		zap.String("ticket_id", after.ID),
		zap.String("pending_id", pendingID),
		zap.String("change", text),
	)
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketChanged,
		TicketID: after.ID,
		Actor:    actor,
		Payload:  events.TicketChangedPayload{Before: before, After: after, PendingID: pendingID, Bulk: bulk},
	})
	s.kick()
	return &TicketResult{Ticket: after, PendingID: pendingID}, nil
}

// diff builds the patch for change against current and describes each
// field that actually differs.
func (s *TicketService) diff(current *domain.Ticket, change TicketChange) (domain.Document, []string) {
	patch := domain.Document{}
	var parts []string
	now := s.clock.Now().UTC()

	priority := current.Priority
	priorityChanged := change.Priority != nil && *change.Priority != current.Priority
	if priorityChanged {
		priority = *change.Priority
		patch["priority"] = string(priority)
		if current.Status != domain.TicketStatusResolved {
			patch["slaDueAt"] = stamp(domain.SLADueDate(current.DateCreated, priority))
		}
	}

	if change.Status != nil && *change.Status != current.Status {
		status := *change.Status
		patch["status"] = string(status)
		parts = append(parts, fmt.Sprintf("Status: %s → %s", current.Status.Label(), status.Label()))

		switch {
		case status == domain.TicketStatusResolved && current.DateResolved == nil:
			// SLA is judged once, at resolution, and frozen from then on.
			due := domain.SLADueDate(current.DateCreated, priority)
			patch["dateResolved"] = stamp(now)
			patch["slaDueAt"] = stamp(due)
			patch["slaBreached"] = now.After(due)
		case current.Status == domain.TicketStatusResolved:
			patch["dateResolved"] = nil
			patch["slaDueAt"] = stamp(domain.SLADueDate(current.DateCreated, priority))
			patch["slaBreached"] = nil
		}
	}
	if priorityChanged {
		parts = append(parts, fmt.Sprintf("Priority: %s → %s", current.Priority.Label(), priority.Label()))
	}

	if change.AssignedTechID != nil {
		next := normalizeAssignee(change.AssignedTechID)
		if !current.AssigneeEquals(next) {
			if next == nil {
				patch["assignedTechId"] = nil
			} else {
				patch["assignedTechId"] = *next
			}
			parts = append(parts, fmt.Sprintf("Assignee: %s → %s", s.technicianName(current.AssignedTechID), s.technicianName(next)))
		}
	}

	if change.Notes != nil && *change.Notes != current.Notes {
		patch["notes"] = *change.Notes
		parts = append(parts, "Notes updated")
	}
	return patch, parts
}

// AddChatMessage appends a message to the ticket's chat thread.
func (s *TicketService) AddChatMessage(ctx context.Context, actor domain.Actor, ticketID, body string) (*domain.ChatMessage, string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, "", util.NewValidationError("message body is required", nil)
	}

	s.mu.Lock()
	ticket, err := s.load(ticketID)
	if err != nil {
		s.mu.Unlock()
		return nil, "", err
	}
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		AuthorID:  actor.UserID,
		Body:      body,
		Timestamp: s.clock.Now().UTC(),
	}
	msgDoc, err := domain.ToDocument(msg)
	if err != nil {
		s.mu.Unlock()
		return nil, "", util.NewInternalError(err)
	}
	pendingID, err := s.view.Submit(ctx, domain.PendingMutation{
		EntityType: domain.EntityTypeTickets,
		TargetID:   ticket.ID,
		Kind:       domain.MutationUpdate,
		Payload:    domain.Document{"chatHistory": []any{msgDoc}},
	})
	s.mu.Unlock()
	if err != nil {
		return nil, "", fmt.Errorf("queue chat message: %w", err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketMessageAdded,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload: events.TicketMessageAddedPayload{
			MessageID:   msg.ID,
			AuthorID:    msg.AuthorID,
			BodyPreview: stringPreview(msg.Body, 120),
			PendingID:   pendingID,
		},
	})
	s.kick()
	return &msg, pendingID, nil
}

// DeleteTicket queues removal of the ticket.
func (s *TicketService) DeleteTicket(ctx context.Context, actor domain.Actor, ticketID string) (string, error) {
	s.mu.Lock()
	ticket, err := s.load(ticketID)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	pendingID, err := s.view.Submit(ctx, domain.PendingMutation{
		EntityType: domain.EntityTypeTickets,
		TargetID:   ticket.ID,
		Kind:       domain.MutationDelete,
	})
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("queue ticket delete: %w", err)
	}

	s.logger.Info("ticket deleted", zap.String("ticket_id", ticket.ID), zap.String("pending_id", pendingID))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketDeleted,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload:  events.TicketDeletedPayload{Before: ticket, PendingID: pendingID},
	})
	s.kick()
	return pendingID, nil
}

// GetTicket returns the materialized ticket.
func (s *TicketService) GetTicket(_ context.Context, ticketID string) (*domain.Ticket, error) {
	return s.load(ticketID)
}

// ListTickets returns matching tickets, newest first.
func (s *TicketService) ListTickets(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	docs := s.view.List(domain.EntityTypeTickets)
	out := make([]domain.Ticket, 0, len(docs))
	for _, doc := range docs {
		ticket, err := domain.TicketFromDocument(doc)
		if err != nil {
			s.logger.Warn("skipping undecodable ticket", zap.String("ticket_id", doc.ID()), zap.Error(err))
			continue
		}
		if filter.matches(ticket) {
			out = append(out, *ticket)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DateCreated.Equal(out[j].DateCreated) {
			return out[i].DateCreated.After(out[j].DateCreated)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f TicketFilter) matches(t *domain.Ticket) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority) {
		return false
	}
	if f.AssignedTechID != nil && !t.AssigneeEquals(f.AssignedTechID) {
		return false
	}
	if f.RequesterID != nil && t.RequesterID != *f.RequesterID {
		return false
	}
	return true
}

// History returns the ticket's audit trail, oldest first.
func (s *TicketService) History(_ context.Context, ticketID string) ([]domain.HistoryEntry, error) {
	ticket, err := s.load(ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.History == nil {
		return []domain.HistoryEntry{}, nil
	}
	return ticket.History, nil
}

// appendSystemHistory records an entry that is not tied to a field change.
func (s *TicketService) appendSystemHistory(ctx context.Context, ticketID, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, err := s.load(ticketID)
	if err != nil {
		return "", err
	}
	entry := s.historyEntry(ticket.ID, domain.SystemUserID, text, s.clock.Now().UTC())
	pendingID, err := s.view.Submit(ctx, domain.PendingMutation{
		EntityType: domain.EntityTypeTickets,
		TargetID:   ticket.ID,
		Kind:       domain.MutationUpdate,
		Payload:    domain.Document{"history": []any{historyDocument(entry)}},
	})
	if err != nil {
		return "", err
	}
	s.kick()
	return pendingID, nil
}

func (s *TicketService) load(ticketID string) (*domain.Ticket, error) {
	doc, ok := s.view.Get(domain.EntityTypeTickets, ticketID)
	if !ok {
		return nil, util.NewNotFound("ticket", map[string]any{"id": ticketID})
	}
	ticket, err := domain.TicketFromDocument(doc)
	if err != nil {
		return nil, util.NewInternalError(err)
	}
	return ticket, nil
}

func (s *TicketService) technicianName(id *string) string {
	if id == nil || *id == "" {
		return "Unassigned"
	}
	if doc, ok := s.view.Get(domain.EntityTypeTechnicians, *id); ok {
		if name := doc.String("name"); name != "" {
			return name
		}
	}
	return *id
}

func (s *TicketService) historyEntry(ticketID, userID, change string, at time.Time) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		UserID:    userID,
		Change:    change,
		Timestamp: at,
	}
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func (s *TicketService) kick() {
	if s.kicker != nil {
		s.kicker.Kick()
	}
}

func historyDocument(entry domain.HistoryEntry) domain.Document {
	return domain.Document{
		"id":        entry.ID,
		"ticketId":  entry.TicketID,
		"userId":    entry.UserID,
		"change":    entry.Change,
		"timestamp": stamp(entry.Timestamp),
	}
}

func normalizeAssignee(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// stringPreview shortens body to at most max runes.
func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
