package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// DefaultApplyTimeout bounds a single apply attempt.
const DefaultApplyTimeout = 15 * time.Second

// Client is the RemoteSyncClient used by the flush engine and reconciler.
type Client struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient wraps store. A non-positive timeout selects DefaultApplyTimeout.
func NewClient(store Store, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultApplyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{store: store, timeout: timeout, logger: logger}
}

type applyResult struct {
	doc domain.Document
	err error
}

// Apply runs one attempt. It returns within the attempt timeout even if the
// store ignores cancellation; a timed out attempt is an Unknown failure.
func (c *Client) Apply(ctx context.Context, m domain.PendingMutation) (domain.Document, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan applyResult, 1)
	go func() {
		doc, err := c.store.Apply(attemptCtx, m)
		done <- applyResult{doc: doc, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return nil, c.timedOut(m, r.err)
			}
			return nil, normalize(r.err)
		}
		return r.doc, nil
	case <-attemptCtx.Done():
		return nil, c.timedOut(m, attemptCtx.Err())
	}
}

func (c *Client) timedOut(m domain.PendingMutation, err error) error {
	return Unknown(fmt.Errorf("apply %s timed out after %s: %w", m.ID, c.timeout, err))
}

// FetchAll returns the current snapshot of one entity type.
func (c *Client) FetchAll(ctx context.Context, entityType domain.EntityType) ([]domain.Document, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	docs, err := c.store.FetchAll(fetchCtx, entityType)
	if err != nil {
		return nil, normalize(err)
	}
	return docs, nil
}

// Ping checks reachability. It is the connectivity monitor's probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Subscribe delivers a full snapshot first and every push after it, in
// order, on a goroutine owned by the subscription. Pushes queue without
// bound so a slow fn never stalls the store or the flush workers.
// Unsubscribing stops delivery at once and drops anything queued.
func (c *Client) Subscribe(ctx context.Context, entityType domain.EntityType, fn func(Change)) (func(), error) {
	p := newPump(fn)

	unsubscribeStore, err := c.store.Subscribe(ctx, entityType, p.push)
	if err != nil {
		return nil, normalize(err)
	}

	snapshot, err := c.FetchAll(ctx, entityType)
	if err != nil {
		unsubscribeStore()
		return nil, err
	}
	p.prepend(Change{Type: ChangeSnapshot, EntityType: entityType, Snapshot: snapshot})
	go p.run()

	c.logger.Debug("remote subscription started",
		zap.String("entity_type", string(entityType)),
		zap.Int("snapshot", len(snapshot)),
	)

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribeStore()
			p.close()
		})
	}, nil
}

func normalize(err error) error {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return err
	}
	return &Error{Kind: KindOf(err), Err: err}
}

// pump is an unbounded FIFO drained by one goroutine.
type pump struct {
	fn     func(Change)
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Change
	closed bool
}

func newPump(fn func(Change)) *pump {
	p := &pump{fn: fn}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pump) push(change Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, change)
	p.cond.Signal()
}

func (p *pump) prepend(change Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append([]Change{change}, p.queue...)
	p.cond.Signal()
}

func (p *pump) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.queue = nil
	p.cond.Broadcast()
}

func (p *pump) run() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		change := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.fn(change)
	}
}
