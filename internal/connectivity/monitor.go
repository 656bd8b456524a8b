// Package connectivity tracks whether the remote store is reachable.
//
// The monitor goes offline as soon as a transport reports a disconnect, but
// only goes back online after a reachability probe succeeds. A link-up
// signal merely asks for an early probe.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/observability"
)

// ProbeFunc checks remote reachability.
type ProbeFunc func(ctx context.Context) error

const defaultProbeTimeout = 5 * time.Second

// Monitor is the connectivity state for one client instance.
type Monitor struct {
	probe        ProbeFunc
	probeTimeout time.Duration
	logger       *zap.Logger
	metrics      *observability.Metrics

	mu        sync.Mutex
	online    bool
	listeners []listenerEntry
	nextID    int

	probeRequests chan struct{}
}

type listenerEntry struct {
	id int
	fn func(online bool)
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithProbeTimeout bounds each reachability probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.probeTimeout = d }
}

// WithMetrics publishes connectivity state.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// NewMonitor returns a monitor in the offline state; the first successful
// probe brings it online.
func NewMonitor(probe ProbeFunc, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		probe:         probe,
		probeTimeout:  defaultProbeTimeout,
		logger:        logger,
		probeRequests: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.SetOnline(false)
	return m
}

// Subscribe registers fn for transitions and returns its deregistration.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// ReportDisconnect switches to offline immediately.
func (m *Monitor) ReportDisconnect(reason string) {
	if m.setOnline(false) {
		m.logger.Warn("remote unreachable", zap.String("reason", reason))
	}
}

// ReportLinkUp asks the scheduler for an early probe. It never changes
// state by itself.
func (m *Monitor) ReportLinkUp() {
	select {
	case m.probeRequests <- struct{}{}:
	default:
	}
}

// ProbeRequests delivers link-up hints to the scheduler.
func (m *Monitor) ProbeRequests() <-chan struct{} {
	return m.probeRequests
}

// Probe runs the reachability check and updates state. It returns the
// resulting online flag.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.probe == nil {
		return m.IsOnline()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if err := m.probe(probeCtx); err != nil {
		m.logger.Debug("reachability probe failed", zap.Error(err))
		if m.setOnline(false) {
			m.logger.Warn("remote unreachable", zap.Error(err))
		}
		return false
	}
	if m.setOnline(true) {
		m.logger.Info("remote reachable")
	}
	return true
}

// setOnline applies a state and notifies listeners when it changed. The
// return value reports whether a transition happened.
func (m *Monitor) setOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	listeners := make([]listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.metrics.SetOnline(online)
	for _, l := range listeners {
		l.fn(online)
	}
	return true
}
