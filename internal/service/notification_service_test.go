package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/notify"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

func newOrchestrator(f *fixture, email, sms notify.Sender, admins ...string) *NotificationOrchestrator {
	deps := NotificationDependencies{
		Email:       email,
		Directory:   f.view,
		AdminEmails: admins,
		MaxAttempts: 3,
		Clock:       f.clock,
	}
	if sms != nil {
		deps.SMS = sms
	}
	return NewNotificationOrchestrator(deps)
}

func TestResolveStillSucceedsWhenRequesterMailFails(t *testing.T) {
	f := newFixture(t)
	email := newFakeSender()
	email.failFor("req@example.com", errMailboxUnavailable)
	orchestrator := newOrchestrator(f, email, nil)
	orchestrator.RegisterHandlers(f.dispatcher)

	ticket := f.createTicket(t, TicketCreateInput{RequesterEmail: "req@example.com"})
	res := f.update(t, ticket.ID, TicketChange{Status: ptr(domain.TicketStatusResolved)})

	if res.Ticket.Status != domain.TicketStatusResolved || res.PendingID == "" {
		t.Fatalf("result = %+v", res)
	}
	if !f.view.IsPending(domain.EntityTypeTickets, ticket.ID) {
		t.Fatal("resolution should still be queued for sync")
	}

	failures := orchestrator.Failures()
	if len(failures) != 1 {
		t.Fatalf("failures = %+v", failures)
	}
	got := failures[0]
	if got.Intent != IntentResolved || got.Class != notify.ClassRejected || got.Recipient != "req@example.com" {
		t.Fatalf("failure = %+v", got)
	}
	if got.Attempts != 1 {
		t.Fatalf("rejected delivery attempted %d times, want 1", got.Attempts)
	}
	if got.Fallback.To != "req@example.com" || !strings.HasPrefix(got.Fallback.MailtoURL, "mailto:req@example.com?") {
		t.Fatalf("fallback = %+v", got.Fallback)
	}
}

func TestResolveNotifiesRequesterAndAdmins(t *testing.T) {
	f := newFixture(t)
	f.view.ApplySnapshot(domain.EntityTypeUsers, []domain.Document{
		{"id": "u-1", "name": "Ada", "email": "ada@example.com", "role": "ADMIN", "active": true},
		{"id": "u-2", "name": "Old", "email": "old@example.com", "role": "ADMIN", "active": false},
		{"id": "u-3", "name": "Req", "email": "req@example.com", "role": "REQUESTER", "active": true},
	})
	email := newFakeSender()
	orchestrator := newOrchestrator(f, email, nil, "ops@example.com", "ADA@example.com")

	before := &domain.Ticket{ID: "T-1", Title: "VPN", RequesterID: "u-3", Status: domain.TicketStatusOpen}
	after := *before
	after.Status = domain.TicketStatusResolved

	if failed := orchestrator.Notify(context.Background(), before, &after); len(failed) != 0 {
		t.Fatalf("failures = %+v", failed)
	}
	for _, to := range []string{"req@example.com", "ops@example.com", "ADA@example.com"} {
		if email.callsTo(to) != 1 {
			t.Errorf("calls to %s = %d, want 1", to, email.callsTo(to))
		}
	}
	if email.callsTo("old@example.com") != 0 {
		t.Error("inactive admin was notified")
	}
	if email.sentCount() != 3 {
		t.Fatalf("sent = %d, want 3", email.sentCount())
	}
}

func TestAssignmentNotifiesTechnicianByEmailAndSMS(t *testing.T) {
	f := newFixture(t)
	f.view.ApplySnapshot(domain.EntityTypeTechnicians, []domain.Document{
		{"id": "tech-1", "name": "Dana", "email": "dana@example.com", "phone": "+15550100", "active": true},
	})
	email, sms := newFakeSender(), newFakeSender()
	orchestrator := newOrchestrator(f, email, sms)

	before := &domain.Ticket{ID: "T-1", Title: "VPN", Status: domain.TicketStatusOpen}
	after := *before
	after.AssignedTechID = ptr("tech-1")

	if failed := orchestrator.Notify(context.Background(), before, &after); len(failed) != 0 {
		t.Fatalf("failures = %+v", failed)
	}
	if email.callsTo("dana@example.com") != 1 || sms.callsTo("+15550100") != 1 {
		t.Fatalf("email calls = %d, sms calls = %d", email.callsTo("dana@example.com"), sms.callsTo("+15550100"))
	}
}

func TestAssignmentToUnknownTechnicianIsReported(t *testing.T) {
	f := newFixture(t)
	orchestrator := newOrchestrator(f, newFakeSender(), nil)

	before := &domain.Ticket{ID: "T-1", Title: "VPN", Status: domain.TicketStatusOpen}
	after := *before
	after.AssignedTechID = ptr("ghost")

	failed := orchestrator.Notify(context.Background(), before, &after)
	if len(failed) != 1 || failed[0].Class != notify.ClassConfig || failed[0].Intent != IntentAssignment {
		t.Fatalf("failures = %+v", failed)
	}
}

func TestStatusChangeNotifiesRequesterOnly(t *testing.T) {
	f := newFixture(t)
	email := newFakeSender()
	orchestrator := newOrchestrator(f, email, nil, "ops@example.com")

	before := &domain.Ticket{ID: "T-1", Title: "VPN", RequesterEmail: "req@example.com", Status: domain.TicketStatusOpen}
	after := *before
	after.Status = domain.TicketStatusInProgress

	orchestrator.Notify(context.Background(), before, &after)
	if email.callsTo("req@example.com") != 1 || email.callsTo("ops@example.com") != 0 {
		t.Fatalf("sent = %v", email.sent)
	}

	unchanged := after
	unchanged.Notes = "more detail"
	orchestrator.Notify(context.Background(), &after, &unchanged)
	if email.sentCount() != 1 {
		t.Fatalf("notes-only change sent mail: %v", email.sent)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	f := newFixture(t)
	email := newFakeSender()
	email.failFor("req@example.com", errors.New("connection reset by peer"))
	orchestrator := newOrchestrator(f, email, nil)

	before := &domain.Ticket{ID: "T-1", Title: "VPN", RequesterEmail: "req@example.com", Status: domain.TicketStatusOpen}
	after := *before
	after.Status = domain.TicketStatusInProgress

	failed := orchestrator.Notify(context.Background(), before, &after)
	if len(failed) != 1 || failed[0].Class != notify.ClassTransient || failed[0].Attempts != 3 {
		t.Fatalf("failures = %+v", failed)
	}
	if email.callsTo("req@example.com") != 3 {
		t.Fatalf("attempts = %d, want 3", email.callsTo("req@example.com"))
	}
}

func TestMissingEmailChannelIsConfigFailure(t *testing.T) {
	f := newFixture(t)
	orchestrator := newOrchestrator(f, nil, nil)

	before := &domain.Ticket{ID: "T-1", Title: "VPN", RequesterEmail: "req@example.com", Status: domain.TicketStatusOpen}
	after := *before
	after.Status = domain.TicketStatusInProgress

	failed := orchestrator.Notify(context.Background(), before, &after)
	if len(failed) != 1 || failed[0].Class != notify.ClassConfig || failed[0].Attempts != 0 {
		t.Fatalf("failures = %+v", failed)
	}
}

func TestResendAndDismiss(t *testing.T) {
	f := newFixture(t)
	email := newFakeSender()
	email.failFor("req@example.com", errMailboxUnavailable)
	email.failFor("other@example.com", errMailboxUnavailable)
	orchestrator := newOrchestrator(f, email, nil)

	for _, to := range []string{"req@example.com", "other@example.com"} {
		before := &domain.Ticket{ID: "T-" + to, Title: "VPN", RequesterEmail: to, Status: domain.TicketStatusOpen}
		after := *before
		after.Status = domain.TicketStatusInProgress
		orchestrator.Notify(context.Background(), before, &after)
	}
	failures := orchestrator.Failures()
	if len(failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(failures))
	}

	first := failures[0].ID
	if err := orchestrator.Resend(context.Background(), first); !util.IsCode(err, "UNAVAILABLE") {
		t.Fatalf("Resend() while still failing = %v", err)
	}
	if got := orchestrator.Failures()[0].Attempts; got != 2 {
		t.Fatalf("attempts after resend = %d, want 2", got)
	}

	email.failFor(failures[0].Recipient, nil)
	if err := orchestrator.Resend(context.Background(), first); err != nil {
		t.Fatalf("Resend() failed: %v", err)
	}
	if err := orchestrator.Dismiss(failures[1].ID); err != nil {
		t.Fatalf("Dismiss() failed: %v", err)
	}
	if left := orchestrator.Failures(); len(left) != 0 {
		t.Fatalf("failures left = %+v", left)
	}
	if err := orchestrator.Dismiss(first); !util.IsCode(err, "NOT_FOUND") {
		t.Fatalf("Dismiss() of unknown id = %v", err)
	}
}

func TestHistorySummarizer(t *testing.T) {
	ticket := &domain.Ticket{History: []domain.HistoryEntry{
		{Change: "Ticket created"},
		{Change: "Priority: Low → High"},
		{Change: "Status: Open → Resolved"},
	}}
	summary, err := HistorySummarizer{MaxEntries: 2}.SummarizeTicket(context.Background(), ticket)
	if err != nil {
		t.Fatalf("SummarizeTicket() failed: %v", err)
	}
	if strings.Contains(summary, "Ticket created") || !strings.Contains(summary, "Status: Open → Resolved") {
		t.Fatalf("summary = %q", summary)
	}
}
