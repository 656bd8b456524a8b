package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/ticket-sync/internal/api/http/handlers"
	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Users          *handlers.UsersHandler
	Views          *handlers.ViewsHandler
	Bulk           *handlers.BulkHandler
	Notifications  *handlers.NotificationsHandler
	Sync           *handlers.SyncHandler
	AuthMiddleware *auth.Middleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))

	staff := auth.RequireRole(domain.UserRoleTechnician, domain.UserRoleAdmin)
	admin := auth.RequireRole(domain.UserRoleAdmin)

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireRole())

	tickets := protected.Group("/tickets")
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", staff, cfg.Tickets.UpdateTicket)
	tickets.Delete("/:id", staff, cfg.Tickets.DeleteTicket)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Post("/:id/messages", cfg.Tickets.AddMessage)

	users := protected.Group("/users")
	users.Get("/", staff, cfg.Users.List)
	users.Post("/", admin, cfg.Users.Create)
	users.Patch("/:id", admin, cfg.Users.Update)

	views := protected.Group("/views")
	views.Get("/:entity", cfg.Views.List)
	views.Get("/:entity/stream", cfg.Views.Stream)

	bulk := protected.Group("/bulk", staff)
	bulk.Post("/tickets", cfg.Bulk.Tickets)
	bulk.Post("/users", admin, cfg.Bulk.Users)

	notifications := protected.Group("/notifications", staff)
	notifications.Get("/failures", cfg.Notifications.Failures)
	notifications.Post("/failures/:id/resend", cfg.Notifications.Resend)
	notifications.Delete("/failures/:id", cfg.Notifications.Dismiss)

	sync := protected.Group("/sync", staff)
	sync.Get("/status", cfg.Sync.Status)
	sync.Get("/pending", cfg.Sync.Pending)
	sync.Get("/fatal", cfg.Sync.Fatal)
	sync.Post("/fatal/:id/retry", admin, cfg.Sync.Retry)
	sync.Delete("/fatal/:id", admin, cfg.Sync.Discard)
	sync.Get("/conflicts", cfg.Sync.Conflicts)
}
