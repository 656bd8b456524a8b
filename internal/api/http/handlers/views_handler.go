package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/reconcile"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

// ViewSource is the materialized view with change subscriptions.
type ViewSource interface {
	PendingChecker
	List(entityType domain.EntityType) []domain.Document
	Subscribe(entityType domain.EntityType, fn func(reconcile.ViewEvent)) (unsubscribe func())
}

var viewEntities = map[string]domain.EntityType{
	string(domain.EntityTypeTickets):     domain.EntityTypeTickets,
	string(domain.EntityTypeUsers):       domain.EntityTypeUsers,
	string(domain.EntityTypeTechnicians): domain.EntityTypeTechnicians,
}

// ViewsHandler serves raw materialized documents and their change stream.
type ViewsHandler struct {
	view      ViewSource
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewViewsHandler constructs handler.
func NewViewsHandler(view ViewSource, logger *zap.Logger) *ViewsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewsHandler{view: view, keepAlive: 15 * time.Second, logger: logger}
}

// List handles GET /views/:entity.
func (h *ViewsHandler) List(c *fiber.Ctx) error {
	entityType, err := entityParam(c)
	if err != nil {
		return err
	}
	docs := h.view.List(entityType)
	changes := make([]reconcile.ViewChange, 0, len(docs))
	for _, doc := range docs {
		changes = append(changes, reconcile.ViewChange{
			ID:       doc.ID(),
			Document: doc,
			Pending:  h.view.IsPending(entityType, doc.ID()),
		})
	}
	return c.JSON(fiber.Map{"data": changes})
}

// Stream handles GET /views/:entity/stream as server-sent events. The
// first event is a snapshot; later events carry coalesced changes.
func (h *ViewsHandler) Stream(c *fiber.Ctx) error {
	entityType, err := entityParam(c)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	events := make(chan reconcile.ViewEvent, 16)
	done := make(chan struct{})
	unsubscribe := h.view.Subscribe(entityType, func(ev reconcile.ViewEvent) {
		select {
		case events <- ev:
		case <-done:
		}
	})
	keepAlive := h.keepAlive

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			close(done)
			unsubscribe()
		}()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case ev := <-events:
				if err := writeEvent(w, ev); err != nil {
					h.logger.Debug("view stream closed", zap.String("entity_type", string(entityType)), zap.Error(err))
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, ev reconcile.ViewEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	name := "change"
	if ev.Snapshot {
		name = "snapshot"
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return w.Flush()
}

func entityParam(c *fiber.Ctx) (domain.EntityType, error) {
	entityType, ok := viewEntities[c.Params("entity")]
	if !ok {
		return "", util.NewNotFound("view", map[string]any{"entity": c.Params("entity")})
	}
	return entityType, nil
}
