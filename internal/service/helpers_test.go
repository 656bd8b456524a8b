package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/ticket-sync/internal/clock"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/queue"
	"github.com/spec-kit/ticket-sync/internal/reconcile"
)

var (
	epoch     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	agent     = domain.Actor{UserID: "u-agent", Role: domain.UserRoleTechnician}
	adminUser = domain.Actor{UserID: "u-admin", Role: domain.UserRoleAdmin}
)

type fixture struct {
	clock      *clock.FakeClock
	queue      *queue.Queue
	view       *reconcile.Reconciler
	dispatcher events.Dispatcher
	tickets    *TicketService
	users      *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.Fake(epoch)
	q, err := queue.Open(context.Background(), queue.NewMemoryStore(), queue.WithClock(clk))
	if err != nil {
		t.Fatalf("queue.Open() failed: %v", err)
	}
	view := reconcile.New(q, reconcile.WithClock(clk))
	dispatcher := events.NewInMemoryDispatcher(nil)
	return &fixture{
		clock:      clk,
		queue:      q,
		view:       view,
		dispatcher: dispatcher,
		tickets: NewTicketService(TicketDependencies{
			View:       view,
			Dispatcher: dispatcher,
			Clock:      clk,
		}),
		users: NewUserService(view, nil, nil),
	}
}

func (f *fixture) createTicket(t *testing.T, input TicketCreateInput) *domain.Ticket {
	t.Helper()
	if input.Title == "" {
		input.Title = "Printer on fire"
	}
	res, err := f.tickets.CreateTicket(context.Background(), agent, input)
	if err != nil {
		t.Fatalf("CreateTicket() failed: %v", err)
	}
	return res.Ticket
}

func (f *fixture) update(t *testing.T, id string, change TicketChange) *TicketResult {
	t.Helper()
	res, err := f.tickets.UpdateTicket(context.Background(), agent, id, change)
	if err != nil {
		t.Fatalf("UpdateTicket() failed: %v", err)
	}
	return res
}

func ptr[T any](v T) *T { return &v }

// fakeSender records deliveries and fails for configured recipients.
type fakeSender struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
	sent  []string
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: map[string]error{}, calls: map[string]int{}}
}

func (s *fakeSender) Send(_ context.Context, recipient, subject, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[recipient]++
	if err := s.fail[recipient]; err != nil {
		return err
	}
	s.sent = append(s.sent, recipient+"|"+subject)
	return nil
}

func (s *fakeSender) failFor(recipient string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, recipient)
		return
	}
	s.fail[recipient] = err
}

func (s *fakeSender) callsTo(recipient string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[recipient]
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var errMailboxUnavailable = errors.New("550 5.1.1 mailbox unavailable")
