package domain

import (
	"testing"
	"time"
)

func TestSLADueDate(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		priority TicketPriority
		want     time.Time
	}{
		{TicketPriorityUrgent, created.Add(4 * time.Hour)},
		{TicketPriorityHigh, created.Add(8 * time.Hour)},
		{TicketPriorityMedium, created.Add(24 * time.Hour)},
		{TicketPriorityLow, created.Add(72 * time.Hour)},
	}
	for _, tt := range tests {
		if got := SLADueDate(created, tt.priority); !got.Equal(tt.want) {
			t.Errorf("SLADueDate(%s) = %v, want %v", tt.priority, got, tt.want)
		}
	}
}

func TestSLABreachedUrgentResolvedLate(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := SLADueDate(created, TicketPriorityUrgent)
	if want := time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC); !due.Equal(want) {
		t.Fatalf("due = %v, want %v", due, want)
	}
	resolved := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	if !SLABreached(TicketStatusResolved, due, &resolved, resolved) {
		t.Fatal("expected breach for ticket resolved after due date")
	}
	// Evaluating much later must not change the answer.
	if !SLABreached(TicketStatusResolved, due, &resolved, resolved.Add(24*time.Hour)) {
		t.Fatal("breach changed after resolution")
	}
}

func TestSLABreachedOpenTicket(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := SLADueDate(created, TicketPriorityHigh)
	if SLABreached(TicketStatusOpen, due, nil, created.Add(7*time.Hour)) {
		t.Error("open ticket within SLA reported as breached")
	}
	if !SLABreached(TicketStatusOpen, due, nil, created.Add(9*time.Hour)) {
		t.Error("open ticket past SLA not reported as breached")
	}
}

func TestDeriveTicketKeepsFrozenValues(t *testing.T) {
	doc := Document{
		"id":           "t1",
		"status":       string(TicketStatusResolved),
		"priority":     string(TicketPriorityLow),
		"dateCreated":  "2024-01-01T00:00:00Z",
		"dateResolved": "2024-01-01T05:00:00Z",
		"slaDueAt":     "2024-01-01T04:00:00Z",
		"slaBreached":  true,
	}
	got := DeriveTicket(doc, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if got["slaBreached"] != true {
		t.Errorf("slaBreached = %v, want frozen true", got["slaBreached"])
	}
	if got["slaDueAt"] != "2024-01-01T04:00:00Z" {
		t.Errorf("slaDueAt = %v, want frozen value", got["slaDueAt"])
	}
}

func TestDeriveTicketComputesOpenTicket(t *testing.T) {
	doc := Document{
		"id":          "t1",
		"status":      string(TicketStatusOpen),
		"priority":    string(TicketPriorityUrgent),
		"dateCreated": "2024-01-01T00:00:00Z",
	}
	got := DeriveTicket(doc, time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC))
	if got["slaBreached"] != false {
		t.Errorf("slaBreached = %v, want false", got["slaBreached"])
	}
	if got["slaDueAt"] != "2024-01-01T04:00:00Z" {
		t.Errorf("slaDueAt = %v", got["slaDueAt"])
	}
	if _, ok := doc["slaDueAt"]; ok {
		t.Error("DeriveTicket mutated its input")
	}
}
