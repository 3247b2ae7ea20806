package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/sorting-kiosk/internal/api/http/handlers"
	"github.com/spec-kit/sorting-kiosk/internal/auth"
	"github.com/spec-kit/sorting-kiosk/internal/domain"
	"github.com/spec-kit/sorting-kiosk/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health      *handlers.HealthHandler
	Auth        *handlers.AuthHandler
	Session     *handlers.SessionHandler
	Kiosk       *handlers.KioskHandler
	Throttle    *handlers.ThrottleHandler
	Credentials *auth.CredentialStore
	Metrics     *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))

	authGroup := app.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/password/reset", cfg.Auth.RequestPasswordReset)
	authGroup.Post("/email/confirm", cfg.Auth.ConfirmEmail)

	app.Get("/session", cfg.Session.Get)
	app.Post("/session/activity", cfg.Session.Activity)

	protected := app.Group("", auth.RequireCredential(cfg.Credentials))
	protected.Get("/notifications", cfg.Session.Notifications)
	protected.Post("/kiosk/scan", cfg.Kiosk.Scan)
	protected.Get("/kiosk/bins", cfg.Kiosk.Bins)

	admin := app.Group("/admin", auth.RequireCredential(cfg.Credentials), auth.RequireRole(domain.RoleAdmin))
	admin.Get("/throttle/:key", cfg.Throttle.Get)
	admin.Delete("/throttle/:key", cfg.Throttle.Reset)
	admin.Delete("/throttle", cfg.Throttle.Clear)
}
