package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-sync/internal/clock"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/notify"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/pkg/util"
)

// Intent is one reason to notify someone about a ticket change.
type Intent string

const (
	IntentAssignment Intent = "assignment-changed"
	IntentResolved   Intent = "resolved"
	IntentStatus     Intent = "status-changed"
)

// NotificationFailure describes a delivery that gave up, with a message an
// operator can send by hand instead.
type NotificationFailure struct {
	ID        string          `json:"id"`
	TicketID  string          `json:"ticket_id"`
	Intent    Intent          `json:"intent"`
	Channel   notify.Channel  `json:"channel"`
	Recipient string          `json:"recipient"`
	Reason    string          `json:"reason"`
	Class     notify.Class    `json:"class"`
	Attempts  int             `json:"attempts"`
	Fallback  notify.Fallback `json:"fallback"`
	CreatedAt time.Time       `json:"created_at"`
}

// Summarizer condenses a ticket for resolution notices.
type Summarizer interface {
	SummarizeTicket(ctx context.Context, ticket *domain.Ticket) (string, error)
}

// Directory looks up contact details, usually the materialized view.
type Directory interface {
	Get(entityType domain.EntityType, id string) (domain.Document, bool)
	List(entityType domain.EntityType) []domain.Document
}

// NotificationDependencies wires a NotificationOrchestrator. SMS and
// Summarizer are optional.
type NotificationDependencies struct {
	Email       notify.Sender
	SMS         notify.Sender
	Directory   Directory
	AdminEmails []string
	MaxAttempts int
	RetryDelay  time.Duration
	Summarizer  Summarizer
	Clock       clock.Clock
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// NotificationOrchestrator turns ticket changes into notification intents
// and delivers each one independently. Deliveries never affect the ticket
// write that caused them; failures are kept for manual remediation.
type NotificationOrchestrator struct {
	email       notify.Sender
	sms         notify.Sender
	directory   Directory
	adminEmails []string
	maxAttempts int
	retryDelay  time.Duration
	summarizer  Summarizer
	clock       clock.Clock
	logger      *zap.Logger
	metrics     *observability.Metrics

	mu       sync.Mutex
	failures []NotificationFailure
}

type delivery struct {
	ticketID  string
	intent    Intent
	channel   notify.Channel
	recipient string
	subject   string
	body      string
}

// NewNotificationOrchestrator creates the orchestrator.
func NewNotificationOrchestrator(deps NotificationDependencies) *NotificationOrchestrator {
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 1
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &NotificationOrchestrator{
		email:       deps.Email,
		sms:         deps.SMS,
		directory:   deps.Directory,
		adminEmails: deps.AdminEmails,
		maxAttempts: deps.MaxAttempts,
		retryDelay:  deps.RetryDelay,
		summarizer:  deps.Summarizer,
		clock:       deps.Clock,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
}

// RegisterHandlers subscribes the orchestrator to ticket events so it runs
// inline with the publisher.
func (o *NotificationOrchestrator) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventTicketCreated, o.HandleEvent)
	dispatcher.Subscribe(events.EventTicketChanged, o.HandleEvent)
}

// HandleEvent notifies for one ticket event. Unrelated events are ignored.
func (o *NotificationOrchestrator) HandleEvent(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketChangedPayload)
	if !ok || payload.After == nil {
		return nil
	}
	o.Notify(ctx, payload.Before, payload.After)
	return nil
}

// HandleDropped records every intent of an event that could not be queued
// for delivery as a transient failure, so an operator can resend it or
// use the fallback. Nothing is sent.
func (o *NotificationOrchestrator) HandleDropped(ctx context.Context, event events.Event, cause error) []NotificationFailure {
	payload, ok := event.Payload.(events.TicketChangedPayload)
	if !ok || payload.After == nil {
		return nil
	}
	planned, failed := o.plan(ctx, payload.Before, payload.After)
	reason := "notification not attempted"
	if cause != nil {
		reason = cause.Error()
	}
	for _, d := range planned {
		failed = append(failed, o.failure(d, 0, reason, notify.ClassTransient))
	}
	o.record(failed)
	return failed
}

// Notify delivers every intent the before/after pair calls for and returns
// the failures it recorded. before is nil for a new ticket.
func (o *NotificationOrchestrator) Notify(ctx context.Context, before, after *domain.Ticket) []NotificationFailure {
	planned, unresolved := o.plan(ctx, before, after)

	var (
		mu     sync.Mutex
		failed = unresolved
	)
	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, d := range planned {
		d := d
		g.Go(func() error {
			if f := o.deliver(ctx, d); f != nil {
				mu.Lock()
				failed = append(failed, *f)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	o.record(failed)
	if len(failed) == 0 {
		return nil
	}
	return failed
}

func (o *NotificationOrchestrator) record(failed []NotificationFailure) {
	if len(failed) == 0 {
		return
	}
	sort.Slice(failed, func(i, j int) bool {
		if failed[i].Intent != failed[j].Intent {
			return failed[i].Intent < failed[j].Intent
		}
		if failed[i].Channel != failed[j].Channel {
			return failed[i].Channel < failed[j].Channel
		}
		return failed[i].Recipient < failed[j].Recipient
	})
	o.mu.Lock()
	o.failures = append(o.failures, failed...)
	o.mu.Unlock()
}

// plan derives deliveries from the change. Intents whose recipient cannot
// be resolved come back as failures right away.
func (o *NotificationOrchestrator) plan(ctx context.Context, before, after *domain.Ticket) ([]delivery, []NotificationFailure) {
	var (
		out        []delivery
		unresolved []NotificationFailure
	)

	if after.AssignedTechID != nil && (before == nil || !before.AssigneeEquals(after.AssignedTechID)) {
		subject := fmt.Sprintf("Ticket assigned: %s", after.Title)
		body := fmt.Sprintf("You have been assigned ticket %s %q (priority %s).", after.ID, after.Title, after.Priority.Label())
		tech := o.technician(*after.AssignedTechID)
		switch {
		case tech == nil || tech.Email == "":
			unresolved = append(unresolved, o.failure(delivery{
				ticketID: after.ID, intent: IntentAssignment, channel: notify.ChannelEmail,
				recipient: *after.AssignedTechID, subject: subject, body: body,
			}, 0, "no email address on file for technician", notify.ClassConfig))
		default:
			out = append(out, delivery{after.ID, IntentAssignment, notify.ChannelEmail, tech.Email, subject, body})
		}
		if tech != nil && tech.Phone != "" && o.sms != nil {
			out = append(out, delivery{after.ID, IntentAssignment, notify.ChannelSMS, tech.Phone, subject, body})
		}
	}

	if before == nil || before.Status == after.Status {
		return out, unresolved
	}

	requester := o.requesterEmail(after)
	if after.Status == domain.TicketStatusResolved {
		subject := fmt.Sprintf("Ticket resolved: %s", after.Title)
		body := o.resolvedBody(ctx, after)
		recipients := o.admins()
		if requester != "" {
			recipients = append([]string{requester}, recipients...)
		} else {
			unresolved = append(unresolved, o.failure(delivery{
				ticketID: after.ID, intent: IntentResolved, channel: notify.ChannelEmail,
				recipient: after.RequesterID, subject: subject, body: body,
			}, 0, "no email address on file for requester", notify.ClassConfig))
		}
		for _, to := range dedupe(recipients) {
			out = append(out, delivery{after.ID, IntentResolved, notify.ChannelEmail, to, subject, body})
		}
		return out, unresolved
	}

	subject := fmt.Sprintf("Ticket status updated: %s", after.Title)
	body := fmt.Sprintf("Ticket %s %q moved from %s to %s.", after.ID, after.Title, before.Status.Label(), after.Status.Label())
	if requester == "" {
		unresolved = append(unresolved, o.failure(delivery{
			ticketID: after.ID, intent: IntentStatus, channel: notify.ChannelEmail,
			recipient: after.RequesterID, subject: subject, body: body,
		}, 0, "no email address on file for requester", notify.ClassConfig))
		return out, unresolved
	}
	out = append(out, delivery{after.ID, IntentStatus, notify.ChannelEmail, requester, subject, body})
	return out, unresolved
}

// deliver runs one delivery, retrying transient failures up to the
// attempt limit. It returns nil on success.
func (o *NotificationOrchestrator) deliver(ctx context.Context, d delivery) *NotificationFailure {
	sender := o.senderFor(d.channel)
	if sender == nil {
		f := o.failure(d, 0, notify.ErrNotConfigured.Error(), notify.ClassConfig)
		return &f
	}

	var (
		err   error
		class notify.Class
	)
	attempt := 0
	for attempt < o.maxAttempts {
		attempt++
		err = sender.Send(ctx, d.recipient, d.subject, d.body)
		if err == nil {
			o.logger.Info("notification sent",
				zap.String("ticket_id", d.ticketID),
				zap.String("intent", string(d.intent)),
				zap.String("channel", string(d.channel)),
				zap.Int("attempt", attempt),
			)
			return nil
		}
		class = notify.Classify(err)
		if !class.Retryable() || attempt == o.maxAttempts {
			break
		}
		if o.retryDelay > 0 {
			select {
			case <-o.clock.After(o.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				attempt = o.maxAttempts
			}
		}
	}

	f := o.failure(d, attempt, err.Error(), class)
	return &f
}

func (o *NotificationOrchestrator) failure(d delivery, attempts int, reason string, class notify.Class) NotificationFailure {
	o.logger.Warn("notification failed",
		zap.String("ticket_id", d.ticketID),
		zap.String("intent", string(d.intent)),
		zap.String("channel", string(d.channel)),
		zap.String("recipient", d.recipient),
		zap.String("class", string(class)),
		zap.String("reason", reason),
	)
	o.metrics.RecordNotificationFailure(string(d.intent), string(class))
	return NotificationFailure{
		ID:        uuid.NewString(),
		TicketID:  d.ticketID,
		Intent:    d.intent,
		Channel:   d.channel,
		Recipient: d.recipient,
		Reason:    reason,
		Class:     class,
		Attempts:  attempts,
		Fallback:  notify.NewFallback(d.channel, d.recipient, d.subject, d.body),
		CreatedAt: o.clock.Now().UTC(),
	}
}

// Failures lists recorded failures, oldest first.
func (o *NotificationOrchestrator) Failures() []NotificationFailure {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]NotificationFailure, len(o.failures))
	copy(out, o.failures)
	return out
}

// Resend retries a recorded failure once. On success the failure is
// removed; otherwise it is updated with the new reason.
func (o *NotificationOrchestrator) Resend(ctx context.Context, id string) error {
	o.mu.Lock()
	idx := o.indexLocked(id)
	if idx < 0 {
		o.mu.Unlock()
		return util.NewNotFound("notification failure", map[string]any{"id": id})
	}
	f := o.failures[idx]
	o.mu.Unlock()

	sender := o.senderFor(f.Channel)
	if sender == nil {
		return util.NewUnavailable("delivery channel not configured", notify.ErrNotConfigured)
	}
	err := sender.Send(ctx, f.Fallback.To, f.Fallback.Subject, f.Fallback.Body)

	o.mu.Lock()
	defer o.mu.Unlock()
	idx = o.indexLocked(id)
	if err == nil {
		if idx >= 0 {
			o.failures = append(o.failures[:idx], o.failures[idx+1:]...)
		}
		o.logger.Info("notification resent", zap.String("failure_id", id), zap.String("ticket_id", f.TicketID))
		return nil
	}
	if idx >= 0 {
		o.failures[idx].Attempts++
		o.failures[idx].Reason = err.Error()
		o.failures[idx].Class = notify.Classify(err)
	}
	return util.NewUnavailable("resend failed", err)
}

// Dismiss forgets a failure the operator handled by hand.
func (o *NotificationOrchestrator) Dismiss(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx := o.indexLocked(id)
	if idx < 0 {
		return util.NewNotFound("notification failure", map[string]any{"id": id})
	}
	o.failures = append(o.failures[:idx], o.failures[idx+1:]...)
	return nil
}

func (o *NotificationOrchestrator) indexLocked(id string) int {
	for i := range o.failures {
		if o.failures[i].ID == id {
			return i
		}
	}
	return -1
}

func (o *NotificationOrchestrator) senderFor(channel notify.Channel) notify.Sender {
	switch channel {
	case notify.ChannelSMS:
		return o.sms
	default:
		return o.email
	}
}

func (o *NotificationOrchestrator) technician(id string) *domain.Technician {
	if o.directory == nil {
		return nil
	}
	doc, ok := o.directory.Get(domain.EntityTypeTechnicians, id)
	if !ok {
		return nil
	}
	tech, err := domain.TechnicianFromDocument(doc)
	if err != nil {
		return nil
	}
	return tech
}

func (o *NotificationOrchestrator) requesterEmail(t *domain.Ticket) string {
	if t.RequesterEmail != "" {
		return t.RequesterEmail
	}
	if o.directory == nil || t.RequesterID == "" {
		return ""
	}
	if doc, ok := o.directory.Get(domain.EntityTypeUsers, t.RequesterID); ok {
		return doc.String("email")
	}
	return ""
}

// admins returns configured admin addresses plus every active admin user.
func (o *NotificationOrchestrator) admins() []string {
	out := append([]string{}, o.adminEmails...)
	if o.directory == nil {
		return out
	}
	for _, doc := range o.directory.List(domain.EntityTypeUsers) {
		user, err := domain.UserFromDocument(doc)
		if err != nil || !user.Active || user.Role != domain.UserRoleAdmin || user.Email == "" {
			continue
		}
		out = append(out, user.Email)
	}
	return out
}

func (o *NotificationOrchestrator) resolvedBody(ctx context.Context, t *domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s %q was resolved", t.ID, t.Title)
	if t.DateResolved != nil {
		fmt.Fprintf(&b, " on %s", t.DateResolved.UTC().Format(time.RFC1123))
	}
	b.WriteString(".")
	if t.SLABreached {
		b.WriteString(" The SLA target was missed.")
	}
	if o.summarizer != nil {
		summary, err := o.summarizer.SummarizeTicket(ctx, t)
		if err != nil {
			o.logger.Debug("ticket summary unavailable", zap.String("ticket_id", t.ID), zap.Error(err))
		} else if summary != "" {
			b.WriteString("\n\n")
			b.WriteString(summary)
		}
	}
	return b.String()
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
