// Package syncer drains the mutation queue into the remote store.
//
// The Engine owns one worker per partition. A mutation's partition is
// picked by hashing its target id, so mutations for the same entity are
// always applied by the same worker, one at a time, while different
// entities proceed in parallel. The Scheduler decides when to flush.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/clock"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/remote"
)

// Queue is the part of the mutation queue the engine consumes.
type Queue interface {
	ClaimDue(now time.Time) []domain.PendingMutation
	ClaimAll() []domain.PendingMutation
	Release(id string)
	MarkRetry(ctx context.Context, id string, cause error, unknown bool) (bool, error)
	MarkFatal(ctx context.Context, id string, cause error) error
}

// Applier applies one mutation remotely, usually a *remote.Client.
type Applier interface {
	Apply(ctx context.Context, m domain.PendingMutation) (domain.Document, error)
}

// View receives the outcome of each apply, usually a *reconcile.Reconciler.
type View interface {
	Confirm(ctx context.Context, m domain.PendingMutation, doc domain.Document) error
	Reject(m domain.PendingMutation, cause error)
}

// Connectivity is the part of the monitor the engine reports to.
type Connectivity interface {
	IsOnline() bool
	ReportDisconnect(reason string)
}

// Outcome of a single apply attempt.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeRetry   Outcome = "retry"
	OutcomeFatal   Outcome = "fatal"
)

// FlushResult counts what one Flush did.
type FlushResult struct {
	Applied     int `json:"applied"`
	Retrying    int `json:"retrying"`
	Fatal       int `json:"fatal"`
	Unreachable int `json:"unreachable"`
}

func (r *FlushResult) record(o Outcome, unreachable bool) {
	switch o {
	case OutcomeApplied:
		r.Applied++
	case OutcomeRetry:
		r.Retrying++
	case OutcomeFatal:
		r.Fatal++
	}
	if unreachable {
		r.Unreachable++
	}
}

type job struct {
	ctx      context.Context
	mutation domain.PendingMutation
	done     chan<- result
}

type result struct {
	outcome     Outcome
	unreachable bool
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Queue   Queue
	Applier Applier
	View    View
	Monitor Connectivity
	Workers int
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Engine applies claimed mutations on partitioned workers.
type Engine struct {
	queue   Queue
	applier Applier
	view    View
	monitor Connectivity
	clock   clock.Clock
	logger  *zap.Logger
	metrics *observability.Metrics

	partitions []chan job
	wg         sync.WaitGroup
	flushMu    sync.Mutex
	closed     bool
	kicks      chan struct{}
}

// NewEngine starts the partition workers. Close stops them.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	e := &Engine{
		queue:      cfg.Queue,
		applier:    cfg.Applier,
		view:       cfg.View,
		monitor:    cfg.Monitor,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		partitions: make([]chan job, cfg.Workers),
		kicks:      make(chan struct{}, 1),
	}
	for i := range e.partitions {
		e.partitions[i] = make(chan job)
		e.wg.Add(1)
		go e.work(e.partitions[i])
	}
	return e
}

// Close stops the workers after their current apply finishes.
func (e *Engine) Close() {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, p := range e.partitions {
		close(p)
	}
	e.wg.Wait()
}

// Kick asks the scheduler for a flush soon. It never blocks.
func (e *Engine) Kick() {
	select {
	case e.kicks <- struct{}{}:
	default:
	}
}

// Kicks delivers flush requests to the scheduler.
func (e *Engine) Kicks() <-chan struct{} {
	return e.kicks
}

func (e *Engine) online() bool {
	return e.monitor == nil || e.monitor.IsOnline()
}

// Flush applies everything that is due, pass after pass, until nothing is
// claimable or the store becomes unreachable. With ignoreBackoff the first
// pass also takes entries still waiting out their backoff; later passes
// never do, so a failing entry is tried at most once per Flush.
func (e *Engine) Flush(ctx context.Context, ignoreBackoff bool) FlushResult {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	var total FlushResult
	first := true
	for !e.closed && e.online() {
		var batch []domain.PendingMutation
		if first && ignoreBackoff {
			batch = e.queue.ClaimAll()
		} else {
			batch = e.queue.ClaimDue(e.clock.Now())
		}
		first = false
		if len(batch) == 0 {
			break
		}

		pass := e.dispatch(ctx, batch)
		total.Applied += pass.Applied
		total.Retrying += pass.Retrying
		total.Fatal += pass.Fatal
		total.Unreachable += pass.Unreachable
		if pass.Applied == 0 || pass.Unreachable > 0 {
			break
		}
	}

	if total != (FlushResult{}) {
		e.logger.Info("flush finished",
			zap.Int("applied", total.Applied),
			zap.Int("retrying", total.Retrying),
			zap.Int("fatal", total.Fatal),
		)
	}
	return total
}

// dispatch hands the batch to the workers and waits for every result.
// Applies run to completion even if ctx is cancelled meanwhile.
func (e *Engine) dispatch(ctx context.Context, batch []domain.PendingMutation) FlushResult {
	results := make(chan result, len(batch))
	jobCtx := context.WithoutCancel(ctx)
	go func() {
		for _, m := range batch {
			e.partitions[e.partitionOf(m)] <- job{ctx: jobCtx, mutation: m, done: results}
		}
	}()

	var pass FlushResult
	for range batch {
		r := <-results
		pass.record(r.outcome, r.unreachable)
	}
	return pass
}

func (e *Engine) partitionOf(m domain.PendingMutation) int {
	return int(xxhash.Sum64String(m.TargetID) % uint64(len(e.partitions)))
}

func (e *Engine) work(jobs <-chan job) {
	defer e.wg.Done()
	for j := range jobs {
		outcome, unreachable := e.apply(j.ctx, j.mutation)
		j.done <- result{outcome: outcome, unreachable: unreachable}
	}
}

func (e *Engine) apply(ctx context.Context, m domain.PendingMutation) (Outcome, bool) {
	log := e.logger.With(
		zap.String("mutation_id", m.ID),
		zap.String("kind", string(m.Kind)),
		zap.String("entity_type", string(m.EntityType)),
		zap.String("target_id", m.TargetID),
	)

	doc, err := e.applier.Apply(ctx, m)
	if err == nil {
		if err := e.view.Confirm(ctx, m, doc); err != nil {
			// The write landed; replaying it is a no-op on the remote.
			log.Error("failed to settle confirmed mutation", zap.Error(err))
			e.queue.Release(m.ID)
			e.metrics.RecordApply(string(m.Kind), string(OutcomeRetry))
			return OutcomeRetry, false
		}
		log.Debug("mutation applied")
		e.metrics.RecordApply(string(m.Kind), string(OutcomeApplied))
		return OutcomeApplied, false
	}

	kind := remote.KindOf(err)
	switch kind {
	case remote.KindRejected:
		if markErr := e.queue.MarkFatal(ctx, m.ID, err); markErr != nil {
			log.Error("failed to record rejected mutation", zap.Error(markErr))
		}
		e.view.Reject(m, err)
		e.metrics.RecordApply(string(m.Kind), string(OutcomeFatal))
		return OutcomeFatal, false

	case remote.KindUnreachable:
		if _, markErr := e.queue.MarkRetry(ctx, m.ID, err, false); markErr != nil {
			log.Error("failed to schedule retry", zap.Error(markErr))
		}
		if e.monitor != nil {
			e.monitor.ReportDisconnect(err.Error())
		}
		e.metrics.RecordApply(string(m.Kind), string(OutcomeRetry))
		return OutcomeRetry, true

	default:
		escalated, markErr := e.queue.MarkRetry(ctx, m.ID, err, true)
		if markErr != nil {
			log.Error("failed to schedule retry", zap.Error(markErr))
		}
		if escalated {
			log.Warn("mutation escalated after repeated unknown failures", zap.Error(err))
			e.view.Reject(m, err)
			e.metrics.RecordApply(string(m.Kind), string(OutcomeFatal))
			return OutcomeFatal, false
		}
		log.Info("mutation apply failed, will retry", zap.Error(err))
		e.metrics.RecordApply(string(m.Kind), string(OutcomeRetry))
		return OutcomeRetry, false
	}
}
