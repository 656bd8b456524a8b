package reconcile

import (
	"sync"
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// ViewChange describes one entity in a ViewEvent. Document is nil when the
// entity left the view.
type ViewChange struct {
	ID         string          `json:"id"`
	PreviousID string          `json:"previousId,omitempty"`
	Document   domain.Document `json:"document"`
	Pending    bool            `json:"pending"`
}

// ViewEvent is delivered to view listeners. The first event of every
// subscription is a full snapshot.
type ViewEvent struct {
	EntityType domain.EntityType `json:"entityType"`
	Snapshot   bool              `json:"snapshot,omitempty"`
	Changes    []ViewChange      `json:"changes"`
}

// Deriver recomputes derived fields of a composed document.
type Deriver func(entityType domain.EntityType, doc domain.Document, now time.Time) domain.Document

// DefaultDeriver recomputes SLA fields on tickets and leaves other
// entity types untouched.
func DefaultDeriver(entityType domain.EntityType, doc domain.Document, now time.Time) domain.Document {
	if entityType == domain.EntityTypeTickets {
		return domain.DeriveTicket(doc, now)
	}
	return doc
}

// listener coalesces changed ids until its goroutine catches up, so a
// slow consumer sees the latest state rather than every intermediate one.
type listener struct {
	entityType domain.EntityType
	fn         func(ViewEvent)

	mu      sync.Mutex
	changed map[string]string // id -> previous id
	order   []string
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newListener(entityType domain.EntityType, fn func(ViewEvent)) *listener {
	return &listener{
		entityType: entityType,
		fn:         fn,
		changed:    make(map[string]string),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func (l *listener) mark(id, previousID string) {
	l.mu.Lock()
	if previousID != "" {
		// A rekey supersedes a queued change under the temporary id.
		delete(l.changed, previousID)
	}
	if existing, ok := l.changed[id]; ok {
		if previousID == "" {
			previousID = existing
		}
	} else {
		l.order = append(l.order, id)
	}
	l.changed[id] = previousID
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener) drain() []ViewChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ViewChange, 0, len(l.changed))
	for _, id := range l.order {
		prev, ok := l.changed[id]
		if !ok {
			continue
		}
		out = append(out, ViewChange{ID: id, PreviousID: prev})
		delete(l.changed, id)
	}
	l.order = nil
	return out
}

func (l *listener) stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *listener) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
