package domain

import "time"

// SLAHours maps priority to the allowed hours between creation and resolution.
var SLAHours = map[TicketPriority]int{
	TicketPriorityUrgent: 4,
	TicketPriorityHigh:   8,
	TicketPriorityMedium: 24,
	TicketPriorityLow:    72,
}

// SLADueDate returns the resolution deadline for a ticket.
func SLADueDate(created time.Time, priority TicketPriority) time.Time {
	hours, ok := SLAHours[priority]
	if !ok {
		hours = SLAHours[TicketPriorityMedium]
	}
	return created.Add(time.Duration(hours) * time.Hour)
}

// SLABreached evaluates the breach flag. A resolved ticket is judged by its
// resolution time, an open one by now.
func SLABreached(status TicketStatus, due time.Time, resolvedAt *time.Time, now time.Time) bool {
	if status == TicketStatusResolved && resolvedAt != nil {
		return resolvedAt.After(due)
	}
	return now.After(due)
}

// DeriveTicket recomputes the SLA fields of a ticket document. Values
// frozen at resolution are kept as-is.
func DeriveTicket(doc Document, now time.Time) Document {
	if doc == nil {
		return nil
	}
	ticket, err := TicketFromDocument(doc)
	if err != nil {
		return doc
	}
	_, hasBreach := doc["slaBreached"]
	if ticket.Status == TicketStatusResolved && ticket.SLADueAt != nil && hasBreach {
		return doc
	}
	due := SLADueDate(ticket.DateCreated, ticket.Priority)
	out := doc.Clone()
	out["slaDueAt"] = due.UTC().Format(time.RFC3339Nano)
	out["slaBreached"] = SLABreached(ticket.Status, due, ticket.DateResolved, now)
	return out
}
