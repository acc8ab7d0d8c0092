package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gdsec-test/dcu-middleware/internal/api/http/handlers"
	"github.com/gdsec-test/dcu-middleware/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *handlers.MetricsHandler
	Intake         *handlers.IntakeHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Snapshot)

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle)
	v1.Post("/intake", cfg.Intake.Submit)
	v1.Get("/tickets/:id", cfg.Tickets.GetTicket)
	v1.Get("/tickets/:id/actions", cfg.Tickets.ListActions)
	v1.Post("/tickets/:id/process", cfg.Tickets.Process)
}
