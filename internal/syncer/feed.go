package syncer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/reconcile"
)

// PushFeed keeps the view's push subscriptions open across reconnects.
type PushFeed struct {
	view        *reconcile.Reconciler
	subscriber  reconcile.Subscriber
	entityTypes []domain.EntityType
	logger      *zap.Logger

	mu    sync.Mutex
	close func()
}

// NewPushFeed returns a feed that is not yet attached.
func NewPushFeed(view *reconcile.Reconciler, sub reconcile.Subscriber, logger *zap.Logger, entityTypes ...domain.EntityType) *PushFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushFeed{view: view, subscriber: sub, entityTypes: entityTypes, logger: logger}
}

// Reattach drops the current subscriptions and opens fresh ones, which
// also delivers a new snapshot of every entity type.
func (f *PushFeed) Reattach(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.close != nil {
		f.close()
		f.close = nil
	}
	closeAll, err := f.view.Attach(ctx, f.subscriber, f.entityTypes...)
	if err != nil {
		f.logger.Warn("failed to attach push subscriptions", zap.Error(err))
		return err
	}
	f.close = closeAll
	return nil
}

// Attached reports whether subscriptions are open.
func (f *PushFeed) Attached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.close != nil
}

// Close drops the subscriptions.
func (f *PushFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.close != nil {
		f.close()
		f.close = nil
	}
}
