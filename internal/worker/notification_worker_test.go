package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/notify"
	"github.com/spec-kit/ticket-sync/internal/queue"
	"github.com/spec-kit/ticket-sync/internal/reconcile"
	"github.com/spec-kit/ticket-sync/internal/service"
)

type recordingHandler struct {
	mu      sync.Mutex
	seen    []string
	dropped []string
}

func (h *recordingHandler) HandleDropped(_ context.Context, event events.Event, cause error) []service.NotificationFailure {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped = append(h.dropped, event.TicketID)
	return []service.NotificationFailure{{TicketID: event.TicketID, Reason: cause.Error()}}
}

func (h *recordingHandler) HandleEvent(_ context.Context, event events.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, event.TicketID)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func TestWorkerHandlesEventsInOrder(t *testing.T) {
	handler := &recordingHandler{}
	w := NewNotificationWorker(handler, 8, nil)
	dispatcher := events.NewInMemoryDispatcher(nil)
	w.Register(dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"T-1", "T-2", "T-3"} {
		_ = dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketChanged, TicketID: id})
	}
	_ = dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketDeleted, TicketID: "T-4"})

	deadline := time.Now().Add(2 * time.Second)
	for handler.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.seen) != 3 || handler.seen[0] != "T-1" || handler.seen[2] != "T-3" {
		t.Fatalf("seen = %v", handler.seen)
	}
}

func TestWorkerReportsOverflowAsFailures(t *testing.T) {
	handler := &recordingHandler{}
	w := NewNotificationWorker(handler, 1, nil)

	if err := w.enqueue(context.Background(), events.Event{TicketID: "T-1"}); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if err := w.enqueue(context.Background(), events.Event{TicketID: "T-2"}); !errors.Is(err, ErrBacklogFull) {
		t.Fatalf("second enqueue = %v, want ErrBacklogFull", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.dropped) != 1 || handler.dropped[0] != "T-2" {
		t.Fatalf("dropped = %v, want [T-2]", handler.dropped)
	}
}

func TestWorkerDrainsBacklogOnShutdown(t *testing.T) {
	handler := &recordingHandler{}
	w := NewNotificationWorker(handler, 4, nil)
	for _, id := range []string{"T-1", "T-2"} {
		_ = w.enqueue(context.Background(), events.Event{TicketID: id})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if handler.count() != 2 {
		t.Fatalf("handled = %d, want 2", handler.count())
	}
}

type countingSender struct {
	mu   sync.Mutex
	sent int
}

func (s *countingSender) Send(context.Context, string, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	return nil
}

func TestBulkResolveBeyondBacklogLeavesFailures(t *testing.T) {
	ctx := context.Background()
	q, err := queue.Open(ctx, queue.NewMemoryStore())
	if err != nil {
		t.Fatalf("queue.Open() failed: %v", err)
	}
	view := reconcile.New(q)
	dispatcher := events.NewInMemoryDispatcher(nil)
	tickets := service.NewTicketService(service.TicketDependencies{View: view, Dispatcher: dispatcher})
	bulk := service.NewBulkCoordinator(tickets, service.NewUserService(view, nil, nil), nil, nil)

	email := &countingSender{}
	orchestrator := service.NewNotificationOrchestrator(service.NotificationDependencies{Email: email, Directory: view})
	w := NewNotificationWorker(orchestrator, 2, nil)
	w.Register(dispatcher)

	actor := domain.Actor{UserID: "u-agent", Role: domain.UserRoleTechnician}
	var ids []string
	for i := 0; i < 5; i++ {
		res, err := tickets.CreateTicket(ctx, actor, service.TicketCreateInput{
			Title:          fmt.Sprintf("Ticket %d", i),
			RequesterEmail: fmt.Sprintf("req%d@example.com", i),
		})
		if err != nil {
			t.Fatalf("CreateTicket() failed: %v", err)
		}
		ids = append(ids, res.Ticket.ID)
	}

	resolved := domain.TicketStatusResolved
	res, err := bulk.UpdateTickets(ctx, actor, ids, service.TicketChange{Status: &resolved})
	if err != nil || res.Succeeded != 5 {
		t.Fatalf("UpdateTickets() = %+v, %v", res, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := w.Run(runCtx); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	failures := orchestrator.Failures()
	email.mu.Lock()
	sent := email.sent
	email.mu.Unlock()
	if sent+len(failures) != 5 {
		t.Fatalf("sent=%d failures=%d, want every resolution accounted for", sent, len(failures))
	}
	for _, f := range failures {
		if f.Intent != service.IntentResolved || f.Class != notify.ClassTransient || f.Fallback.MailtoURL == "" {
			t.Fatalf("failure = %+v", f)
		}
	}
}
