package events

import (
	"context"
	"errors"
	"testing"
)

func TestPublishReachesOnlyMatchingHandlers(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var changed, deleted int
	d.Subscribe(EventTicketChanged, func(context.Context, Event) error { changed++; return nil })
	d.Subscribe(EventTicketDeleted, func(context.Context, Event) error { deleted++; return nil })

	if err := d.Publish(context.Background(), Event{Type: EventTicketChanged, TicketID: "T"}); err != nil {
		t.Fatalf("Publish() = %v", err)
	}
	if changed != 1 || deleted != 0 {
		t.Fatalf("changed=%d deleted=%d", changed, deleted)
	}
}

func TestFailingHandlerDoesNotStopOthers(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var calls []string
	d.Subscribe(EventTicketChanged, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("smtp down")
	})
	d.Subscribe(EventTicketChanged, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})

	if err := d.Publish(context.Background(), Event{Type: EventTicketChanged}); err != nil {
		t.Fatalf("Publish() = %v", err)
	}
	if len(calls) != 2 || calls[1] != "second" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestPanickingHandlerIsContained(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	reached := false
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error { panic("nil template") })
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error { reached = true; return nil })

	if err := d.Publish(context.Background(), Event{Type: EventTicketCreated}); err != nil {
		t.Fatalf("Publish() = %v", err)
	}
	if !reached {
		t.Fatal("handler after the panicking one did not run")
	}
}
