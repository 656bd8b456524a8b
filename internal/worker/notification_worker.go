package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/service"
)

// ErrBacklogFull is returned when the worker cannot accept another event.
var ErrBacklogFull = errors.New("notification backlog full")

// EventHandler processes one ticket event. HandleDropped is called on the
// publisher's goroutine for events the backlog had no room for and must
// not block on delivery.
type EventHandler interface {
	HandleEvent(ctx context.Context, event events.Event) error
	HandleDropped(ctx context.Context, event events.Event, cause error) []service.NotificationFailure
}

// NotificationWorker moves notification delivery off the write path.
// Ticket events are buffered on publish and handed to the handler from
// Run, one at a time, in publish order.
type NotificationWorker struct {
	handler EventHandler
	events  chan events.Event
	logger  *zap.Logger
}

// NewNotificationWorker creates a worker with room for backlog events.
func NewNotificationWorker(handler EventHandler, backlog int, logger *zap.Logger) *NotificationWorker {
	if backlog <= 0 {
		backlog = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{
		handler: handler,
		events:  make(chan events.Event, backlog),
		logger:  logger,
	}
}

// Register subscribes the worker to the ticket events that can notify.
func (w *NotificationWorker) Register(dispatcher events.Dispatcher) {
	if dispatcher == nil || w.handler == nil {
		return
	}
	dispatcher.Subscribe(events.EventTicketCreated, w.enqueue)
	dispatcher.Subscribe(events.EventTicketChanged, w.enqueue)
}

// enqueue never blocks the publisher. An event that does not fit is handed
// to HandleDropped so its notifications surface as failures.
func (w *NotificationWorker) enqueue(ctx context.Context, event events.Event) error {
	select {
	case w.events <- event:
		return nil
	default:
	}
	failures := w.handler.HandleDropped(ctx, event, ErrBacklogFull)
	w.logger.Warn("notification backlog full; recorded as failures",
		zap.String("event_id", event.ID),
		zap.String("ticket_id", event.TicketID),
		zap.Int("failures", len(failures)),
	)
	return ErrBacklogFull
}

// Run handles events until ctx is cancelled. Events still buffered at
// that point are handled before Run returns.
func (w *NotificationWorker) Run(ctx context.Context) error {
	for {
		select {
		case event := <-w.events:
			w.handle(ctx, event)
		case <-ctx.Done():
			w.drain()
			return nil
		}
	}
}

func (w *NotificationWorker) drain() {
	ctx := context.Background()
	for {
		select {
		case event := <-w.events:
			w.handle(ctx, event)
		default:
			return
		}
	}
}

func (w *NotificationWorker) handle(ctx context.Context, event events.Event) {
	if err := w.handler.HandleEvent(ctx, event); err != nil {
		w.logger.Warn("notification handler failed",
			zap.String("event_id", event.ID),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err),
		)
	}
}
