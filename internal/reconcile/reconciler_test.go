package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/spec-kit/ticket-sync/internal/clock"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/queue"
	"github.com/spec-kit/ticket-sync/internal/remote"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, opts ...Option) (*Reconciler, *queue.Queue) {
	t.Helper()
	q, err := queue.Open(context.Background(), queue.NewMemoryStore(), queue.WithCollapse(false))
	if err != nil {
		t.Fatalf("queue.Open() failed: %v", err)
	}
	opts = append([]Option{WithClock(clock.Fake(epoch)), WithDeriver(func(_ domain.EntityType, d domain.Document, _ time.Time) domain.Document { return d })}, opts...)
	return New(q, opts...), q
}

func ticketUpdate(id string, patch domain.Document) domain.PendingMutation {
	return domain.PendingMutation{EntityType: domain.EntityTypeTickets, TargetID: id, Kind: domain.MutationUpdate, Payload: patch}
}

func TestOverlayWinsOverPush(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	r.ApplySnapshot(domain.EntityTypeTickets, []domain.Document{{"id": "T", "priority": "LOW", "status": "OPEN"}})

	if _, err := r.Submit(ctx, ticketUpdate("T", domain.Document{"priority": "HIGH"})); err != nil {
		t.Fatal(err)
	}
	r.ApplyPush(remote.Change{
		Type: remote.ChangeUpsert, EntityType: domain.EntityTypeTickets, ID: "T",
		Document: domain.Document{"id": "T", "priority": "LOW", "status": "IN_PROGRESS"},
	})

	doc, ok := r.Get(domain.EntityTypeTickets, "T")
	if !ok {
		t.Fatal("ticket missing from view")
	}
	if doc["priority"] != "HIGH" {
		t.Errorf("priority = %v, pending overlay should win", doc["priority"])
	}
	if doc["status"] != "IN_PROGRESS" {
		t.Errorf("status = %v, baseline should move under the overlay", doc["status"])
	}
}

func TestConfirmReplacesBaselineAndDropsOverlay(t *testing.T) {
	r, q := newTestReconciler(t)
	ctx := context.Background()
	r.ApplySnapshot(domain.EntityTypeTickets, []domain.Document{{"id": "T", "priority": "LOW"}})
	id, _ := r.Submit(ctx, ticketUpdate("T", domain.Document{"priority": "HIGH"}))

	m, _ := q.Get(id)
	if err := r.Confirm(ctx, m, domain.Document{"id": "T", "priority": "HIGH", "lastMutationId": id}); err != nil {
		t.Fatalf("Confirm() failed: %v", err)
	}
	if r.IsPending(domain.EntityTypeTickets, "T") {
		t.Fatal("overlay should be gone after confirmation")
	}
	if len(q.ListPending()) != 0 {
		t.Fatal("confirmed mutation still queued")
	}
	doc, _ := r.Get(domain.EntityTypeTickets, "T")
	if doc["priority"] != "HIGH" {
		t.Fatalf("priority = %v", doc["priority"])
	}
}

func TestConfirmRekeysTemporaryID(t *testing.T) {
	r, q := newTestReconciler(t)
	ctx := context.Background()
	tmp := domain.NewTempID()

	createID, _ := r.Submit(ctx, domain.PendingMutation{
		EntityType: domain.EntityTypeTickets, TargetID: tmp, Kind: domain.MutationCreate,
		Payload: domain.Document{"title": "printer", "priority": "LOW"},
	})
	r.Submit(ctx, ticketUpdate(tmp, domain.Document{"priority": "HIGH"}))
	r.Submit(ctx, domain.PendingMutation{
		EntityType: domain.EntityTypeUsers, TargetID: "u1", Kind: domain.MutationUpdate,
		Payload: domain.Document{"lastTicketId": tmp},
	})
	r.ApplySnapshot(domain.EntityTypeUsers, []domain.Document{{"id": "u1"}})

	create, _ := q.Get(createID)
	confirmed := domain.Document{"id": "t-9", "title": "printer", "priority": "LOW", "clientRef": tmp, "lastMutationId": createID}
	if err := r.Confirm(ctx, create, confirmed); err != nil {
		t.Fatalf("Confirm() failed: %v", err)
	}

	if _, ok := r.Get(domain.EntityTypeTickets, "t-9"); !ok {
		t.Fatal("rekeyed ticket missing")
	}
	doc, ok := r.Get(domain.EntityTypeTickets, tmp)
	if !ok || doc.ID() != "t-9" || doc["priority"] != "HIGH" {
		t.Fatalf("temporary id should resolve to the confirmed ticket with overlay, got %v", doc)
	}
	if list := r.List(domain.EntityTypeTickets); len(list) != 1 {
		t.Fatalf("view lists %d tickets, want 1", len(list))
	}
	for _, m := range q.ListPending() {
		if m.TargetID == tmp {
			t.Errorf("queued mutation still targets %s", tmp)
		}
		for _, ref := range m.Payload.StringsWithPrefix(domain.TempIDPrefix) {
			t.Errorf("queued payload still references %s", ref)
		}
	}
	user, _ := r.Get(domain.EntityTypeUsers, "u1")
	if user["lastTicketId"] != "t-9" {
		t.Errorf("user overlay reference = %v", user["lastTicketId"])
	}
}

func TestOwnCreatePushBeforeConfirmDoesNotDuplicate(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	tmp := domain.NewTempID()
	r.Submit(ctx, domain.PendingMutation{
		EntityType: domain.EntityTypeTickets, TargetID: tmp, Kind: domain.MutationCreate,
		Payload: domain.Document{"title": "x"},
	})
	r.ApplyPush(remote.Change{
		Type: remote.ChangeUpsert, EntityType: domain.EntityTypeTickets, ID: "t-1",
		Document: domain.Document{"id": "t-1", "title": "x", "clientRef": tmp},
	})
	if list := r.List(domain.EntityTypeTickets); len(list) != 1 {
		t.Fatalf("view lists %d tickets, want 1", len(list))
	}
}

func TestRejectDropsOverlay(t *testing.T) {
	r, q := newTestReconciler(t)
	ctx := context.Background()
	r.ApplySnapshot(domain.EntityTypeTickets, []domain.Document{{"id": "T", "status": "OPEN"}})
	id, _ := r.Submit(ctx, ticketUpdate("T", domain.Document{"status": "BOGUS"}))

	m, _ := q.Get(id)
	q.ClaimAll()
	if err := q.MarkFatal(ctx, id, remote.Rejectedf("invalid status")); err != nil {
		t.Fatal(err)
	}
	r.Reject(m, remote.Rejectedf("invalid status"))

	doc, _ := r.Get(domain.EntityTypeTickets, "T")
	if doc["status"] != "OPEN" {
		t.Fatalf("status = %v, rejected overlay should be gone", doc["status"])
	}
}

func TestForeignPushWhilePendingIsConflict(t *testing.T) {
	var got []Conflict
	r, _ := newTestReconciler(t, WithConflictHandler(func(c Conflict) { got = append(got, c) }))
	ctx := context.Background()
	r.ApplySnapshot(domain.EntityTypeTickets, []domain.Document{{"id": "T", "notes": ""}})
	localID, _ := r.Submit(ctx, ticketUpdate("T", domain.Document{"notes": "mine"}))

	r.ApplyPush(remote.Change{
		Type: remote.ChangeUpsert, EntityType: domain.EntityTypeTickets, ID: "T",
		Document: domain.Document{"id": "T", "notes": "theirs", "lastMutationId": "other-client"},
	})
	r.ApplyPush(remote.Change{
		Type: remote.ChangeUpsert, EntityType: domain.EntityTypeTickets, ID: "T",
		Document: domain.Document{"id": "T", "notes": "mine", "lastMutationId": localID},
	})

	if len(got) != 1 || got[0].RemoteMutationID != "other-client" || got[0].Resolution != ResolutionLastWriteWins {
		t.Fatalf("conflicts = %+v", got)
	}
	if len(r.Conflicts()) != 1 {
		t.Fatalf("recorded conflicts = %d", len(r.Conflicts()))
	}
}

func TestSubscribeSnapshotAndUnsubscribe(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	r.ApplySnapshot(domain.EntityTypeTickets, []domain.Document{{"id": "A"}})

	events := make(chan ViewEvent, 16)
	unsubscribe := r.Subscribe(domain.EntityTypeTickets, func(e ViewEvent) { events <- e })

	first := waitEvent(t, events)
	if !first.Snapshot || len(first.Changes) != 1 || first.Changes[0].ID != "A" {
		t.Fatalf("first event = %+v", first)
	}

	r.Submit(ctx, ticketUpdate("A", domain.Document{"notes": "x"}))
	change := waitEvent(t, events)
	if len(change.Changes) != 1 || !change.Changes[0].Pending || change.Changes[0].Document["notes"] != "x" {
		t.Fatalf("change event = %+v", change)
	}

	unsubscribe()
	r.Submit(ctx, ticketUpdate("A", domain.Document{"notes": "y"}))
	select {
	case e := <-events:
		t.Fatalf("event after unsubscribe: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRestoredQueueSeedsOverlay(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	q, _ := queue.Open(ctx, store)
	q.Enqueue(ctx, ticketUpdate("T", domain.Document{"priority": "HIGH"}))

	reopened, _ := queue.Open(ctx, store)
	r := New(reopened)
	r.ApplySnapshot(domain.EntityTypeTickets, []domain.Document{{"id": "T", "priority": "LOW"}})
	doc, _ := r.Get(domain.EntityTypeTickets, "T")
	if doc["priority"] != "HIGH" {
		t.Fatalf("priority = %v, restored mutation should overlay", doc["priority"])
	}
}

func waitEvent(t *testing.T, ch <-chan ViewEvent) ViewEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for view event")
	}
	return ViewEvent{}
}
