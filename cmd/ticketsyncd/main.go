package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/ticket-sync/internal/api/http"
	"github.com/spec-kit/ticket-sync/internal/api/http/handlers"
	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/clock"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/connectivity"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/events"
	"github.com/spec-kit/ticket-sync/internal/notify"
	"github.com/spec-kit/ticket-sync/internal/observability"
	"github.com/spec-kit/ticket-sync/internal/persistence"
	"github.com/spec-kit/ticket-sync/internal/queue"
	"github.com/spec-kit/ticket-sync/internal/reconcile"
	"github.com/spec-kit/ticket-sync/internal/remote"
	"github.com/spec-kit/ticket-sync/internal/service"
	"github.com/spec-kit/ticket-sync/internal/syncer"
	"github.com/spec-kit/ticket-sync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	clk := clock.Real()

	store, closeStore, err := openRemote(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open remote store", zap.String("backend", cfg.Remote.Backend), zap.Error(err))
	}
	defer closeStore()
	client := remote.NewClient(store, cfg.Sync.ApplyTimeout(), logger)

	queueStore, err := queue.OpenSQLite(cfg.Queue.DBPath)
	if err != nil {
		logger.Fatal("failed to open queue database", zap.String("path", cfg.Queue.DBPath), zap.Error(err))
	}
	q, err := queue.Open(ctx, queueStore,
		queue.WithPolicy(retryPolicy(cfg.Sync)),
		queue.WithCollapse(cfg.Sync.CollapseUpdates),
		queue.WithClock(clk),
		queue.WithLogger(logger),
		queue.WithMetrics(metrics),
	)
	if err != nil {
		logger.Fatal("failed to load queue", zap.Error(err))
	}
	defer q.Close()

	view := reconcile.New(q,
		reconcile.WithClock(clk),
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(metrics),
	)

	monitor := connectivity.NewMonitor(client.Ping, logger,
		connectivity.WithProbeTimeout(cfg.Sync.ApplyTimeout()),
		connectivity.WithMetrics(metrics),
	)
	engine := syncer.NewEngine(syncer.EngineConfig{
		Queue:   q,
		Applier: client,
		View:    view,
		Monitor: monitor,
		Workers: cfg.Sync.Workers,
		Clock:   clk,
		Logger:  logger,
		Metrics: metrics,
	})
	defer engine.Close()
	feed := syncer.NewPushFeed(view, client, logger,
		domain.EntityTypeTickets, domain.EntityTypeUsers, domain.EntityTypeTechnicians)
	defer feed.Close()
	scheduler := syncer.NewScheduler(engine, monitor, feed, cfg.Sync.ProbeInterval(), clk, logger)

	dispatcher := events.NewInMemoryDispatcher(logger)
	tickets := service.NewTicketService(service.TicketDependencies{
		View:       view,
		Dispatcher: dispatcher,
		Kicker:     engine,
		Clock:      clk,
		Logger:     logger,
	})
	users := service.NewUserService(view, engine, logger)
	bulk := service.NewBulkCoordinator(tickets, users, logger, metrics)
	view.SetConflictHandler(service.NewConflictAuditor(tickets, logger).Handle)

	notifications := service.NewNotificationOrchestrator(notificationDependencies(cfg, view, clk, logger, metrics))
	notificationWorker := worker.NewNotificationWorker(notifications, 0, logger)
	notificationWorker.Register(dispatcher)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, 0)
	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, client.Ping, monitor.IsOnline),
		Tickets:        handlers.NewTicketsHandler(tickets, view),
		Users:          handlers.NewUsersHandler(users, view),
		Views:          handlers.NewViewsHandler(view, logger),
		Bulk:           handlers.NewBulkHandler(bulk),
		Notifications:  handlers.NewNotificationsHandler(notifications),
		Sync:           handlers.NewSyncHandler(q, view, monitor.IsOnline, engine.Kick, logger),
		AuthMiddleware: auth.NewMiddleware(tokens),
		Metrics:        metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return notificationWorker.Run(gctx) })
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("backend", cfg.Remote.Backend))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon stopped", zap.Error(err))
	}
}

func openRemote(ctx context.Context, cfg *config.Config, logger *zap.Logger) (remote.Store, func(), error) {
	switch cfg.Remote.Backend {
	case config.BackendPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
				pg.Close()
				return nil, nil, err
			}
		}
		push := persistence.NewPushChannel(ctx, cfg.Redis, logger)
		store := remote.NewPostgresStore(pg.Pool, push, logger)
		return store, func() {
			push.Close()
			pg.Close()
		}, nil
	case config.BackendMongo:
		mg, err := persistence.NewMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, nil, err
		}
		return remote.NewMongoStore(mg.Database, logger), mg.Close, nil
	default:
		logger.Warn("using in-memory remote store; data is lost on exit")
		return remote.NewMemoryStore(), func() {}, nil
	}
}

func retryPolicy(cfg config.SyncConfig) queue.RetryPolicy {
	return queue.RetryPolicy{
		Base:               cfg.BackoffBase(),
		Multiplier:         cfg.BackoffMultiplier,
		Cap:                cfg.BackoffCap(),
		Jitter:             cfg.BackoffJitter,
		MaxUnknownAttempts: cfg.MaxUnknownAttempts,
	}
}

func notificationDependencies(cfg *config.Config, view *reconcile.Reconciler, clk clock.Clock, logger *zap.Logger, metrics *observability.Metrics) service.NotificationDependencies {
	n := cfg.Notification
	deps := service.NotificationDependencies{
		Email: notify.NewSMTPSender(notify.SMTPConfig{
			Host:     n.SMTPHost,
			Port:     n.SMTPPort,
			Username: n.SMTPUser,
			Password: n.SMTPPass,
			From:     n.EmailFrom,
		}),
		Directory:   view,
		AdminEmails: n.AdminEmails,
		MaxAttempts: n.MaxAttempts,
		Summarizer:  service.HistorySummarizer{MaxEntries: 5},
		Clock:       clk,
		Logger:      logger,
		Metrics:     metrics,
	}
	// A nil *SMSSender stored in the interface would read as configured.
	if sms := notify.NewSMSSender(notify.SMSConfig{
		AccountSID: n.TwilioAccountSID,
		AuthToken:  n.TwilioAuthToken,
		From:       n.TwilioFrom,
	}); sms != nil {
		deps.SMS = sms
	} else {
		logger.Info("sms notifications disabled")
	}
	return deps
}
