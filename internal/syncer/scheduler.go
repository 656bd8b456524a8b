package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/clock"
)

// Monitor is the connectivity monitor as seen by the scheduler.
type Monitor interface {
	Connectivity
	Subscribe(fn func(online bool)) (unsubscribe func())
	Probe(ctx context.Context) bool
	ProbeRequests() <-chan struct{}
}

// Scheduler is the single background loop: it probes while offline,
// flushes due retries while online, and runs exactly one coordinated
// flush per reconnect.
type Scheduler struct {
	engine   *Engine
	monitor  Monitor
	feed     *PushFeed
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	reconnected chan struct{}
}

// NewScheduler builds a scheduler. feed may be nil.
func NewScheduler(engine *Engine, monitor Monitor, feed *PushFeed, interval time.Duration, clk clock.Clock, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{
		engine:      engine,
		monitor:     monitor,
		feed:        feed,
		interval:    interval,
		clock:       clk,
		logger:      logger,
		reconnected: make(chan struct{}, 1),
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	unsubscribe := s.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		select {
		case s.reconnected <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sync scheduler started", zap.Duration("probe_interval", s.interval))
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return nil
		case <-ticker.C():
			s.tick(ctx)
		case <-s.monitor.ProbeRequests():
			if !s.monitor.IsOnline() {
				s.monitor.Probe(ctx)
			}
		case <-s.reconnected:
			s.onReconnect(ctx)
		case <-s.engine.Kicks():
			if s.monitor.IsOnline() {
				s.engine.Flush(ctx, false)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.monitor.IsOnline() {
		s.monitor.Probe(ctx)
		return
	}
	if s.feed != nil && !s.feed.Attached() {
		_ = s.feed.Reattach(ctx)
	}
	s.engine.Flush(ctx, false)
}

func (s *Scheduler) onReconnect(ctx context.Context) {
	if !s.monitor.IsOnline() {
		return
	}
	if s.feed != nil {
		_ = s.feed.Reattach(ctx)
	}
	result := s.engine.Flush(ctx, true)
	s.logger.Info("reconnected; queue flushed",
		zap.Int("applied", result.Applied),
		zap.Int("retrying", result.Retrying),
		zap.Int("fatal", result.Fatal),
	)
}
