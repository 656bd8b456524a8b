package service

import (
	"context"
	"strings"
	"testing"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

func TestBulkTicketUpdateReportsEachItem(t *testing.T) {
	f := newFixture(t)
	bulk := NewBulkCoordinator(f.tickets, f.users, nil, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.createTicket(t, TicketCreateInput{Priority: domain.TicketPriorityLow}).ID)
	}
	ids = append(ids, "missing")

	res, err := bulk.UpdateTickets(context.Background(), agent, ids, TicketChange{Priority: ptr(domain.TicketPriorityUrgent)})
	if err != nil {
		t.Fatalf("UpdateTickets() failed: %v", err)
	}
	if res.Succeeded != 3 || res.Failed != 1 || len(res.Items) != 4 {
		t.Fatalf("result = %+v", res)
	}
	if last := res.Items[3]; last.ID != "missing" || last.OK || last.Error == "" {
		t.Fatalf("missing item = %+v", last)
	}

	for _, id := range ids[:3] {
		ticket, err := f.tickets.GetTicket(context.Background(), id)
		if err != nil {
			t.Fatalf("GetTicket(%s) failed: %v", id, err)
		}
		if ticket.Priority != domain.TicketPriorityUrgent {
			t.Errorf("ticket %s priority = %s", id, ticket.Priority)
		}
		entry := ticket.History[len(ticket.History)-1]
		if !strings.HasPrefix(entry.Change, BulkPrefix) || !strings.Contains(entry.Change, "Priority: Low → Urgent") {
			t.Errorf("ticket %s history = %q", id, entry.Change)
		}
	}
}

func TestBulkTicketUpdateRejectsEmptyChange(t *testing.T) {
	f := newFixture(t)
	bulk := NewBulkCoordinator(f.tickets, f.users, nil, nil)

	if _, err := bulk.UpdateTickets(context.Background(), agent, []string{"a"}, TicketChange{}); !util.IsCode(err, "VALIDATION_FAILED") {
		t.Fatalf("empty change error = %v", err)
	}
	if _, err := bulk.UpdateTickets(context.Background(), agent, nil, TicketChange{Notes: ptr("x")}); !util.IsCode(err, "VALIDATION_FAILED") {
		t.Fatalf("no ids error = %v", err)
	}
}

func TestBulkTicketUpdateSkipsUnchangedTickets(t *testing.T) {
	f := newFixture(t)
	bulk := NewBulkCoordinator(f.tickets, f.users, nil, nil)
	low := f.createTicket(t, TicketCreateInput{Priority: domain.TicketPriorityLow})
	urgent := f.createTicket(t, TicketCreateInput{Priority: domain.TicketPriorityUrgent})

	res, err := bulk.UpdateTickets(context.Background(), agent, []string{low.ID, urgent.ID}, TicketChange{Priority: ptr(domain.TicketPriorityUrgent)})
	if err != nil {
		t.Fatalf("UpdateTickets() failed: %v", err)
	}
	if res.Succeeded != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if item := res.Items[0]; item.Skipped || item.PendingID == "" {
		t.Fatalf("changed item = %+v", item)
	}
	if item := res.Items[1]; !item.OK || !item.Skipped || item.PendingID != "" {
		t.Fatalf("unchanged item = %+v", item)
	}

	ticket, _ := f.tickets.GetTicket(context.Background(), urgent.ID)
	for _, entry := range ticket.History {
		if strings.HasPrefix(entry.Change, BulkPrefix) {
			t.Fatalf("unchanged ticket got bulk history %q", entry.Change)
		}
	}
}

func TestBulkUserUpdateSkipsActingAdmin(t *testing.T) {
	f := newFixture(t)
	f.view.ApplySnapshot(domain.EntityTypeUsers, []domain.Document{
		{"id": adminUser.UserID, "name": "Root", "email": "root@example.com", "role": "ADMIN", "active": true},
		{"id": "u-1", "name": "Ann", "email": "ann@example.com", "role": "TECHNICIAN", "active": true},
		{"id": "u-2", "name": "Bob", "email": "bob@example.com", "role": "REQUESTER", "active": true},
	})
	bulk := NewBulkCoordinator(f.tickets, f.users, nil, nil)

	res, err := bulk.UpdateUsers(context.Background(), adminUser, []string{"u-1", adminUser.UserID, "u-2"}, UserChange{Active: ptr(false)})
	if err != nil {
		t.Fatalf("UpdateUsers() failed: %v", err)
	}
	if res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if self := res.Items[1]; self.OK || self.Error != "cannot bulk-modify your own account" {
		t.Fatalf("self item = %+v", self)
	}

	users, _ := f.users.ListUsers(context.Background())
	for _, u := range users {
		want := u.ID == adminUser.UserID
		if u.Active != want {
			t.Errorf("user %s active = %v, want %v", u.ID, u.Active, want)
		}
	}
}

func TestBulkUserUpdateRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	bulk := NewBulkCoordinator(f.tickets, f.users, nil, nil)

	_, err := bulk.UpdateUsers(context.Background(), agent, []string{"u-1"}, UserChange{Active: ptr(false)})
	if !util.IsCode(err, "FORBIDDEN") {
		t.Fatalf("error = %v", err)
	}
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	_, err := f.users.CreateUser(context.Background(), agent, UserCreateInput{Name: "x", Email: "x@example.com"})
	if !util.IsCode(err, "FORBIDDEN") {
		t.Fatalf("error = %v", err)
	}

	res, err := f.users.CreateUser(context.Background(), adminUser, UserCreateInput{Name: "Eve", Email: "eve@example.com"})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	if res.User.Role != domain.UserRoleRequester || !res.User.Active || !domain.IsTempID(res.User.ID) {
		t.Fatalf("user = %+v", res.User)
	}
}
