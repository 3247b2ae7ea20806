package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sorting-kiosk/internal/api/http/handlers"
	"github.com/spec-kit/sorting-kiosk/internal/client"
)

// NewApp builds the agent's fiber app over an assembled client.
func NewApp(c *client.Client) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               c.Config.App.Name,
		DisableStartupMessage: true,
	})
	RegisterMiddlewares(app, c.Logger, c.Metrics, c.Config.App.RequestTimeout())

	RegisterRoutes(app, RouteConfig{
		Health:      handlers.NewHealthHandler(c.Config.App.Name, c.Config.App.Version, c),
		Auth:        handlers.NewAuthHandler(c.Auth, c.Credentials),
		Session:     handlers.NewSessionHandler(c.Guard, c.Navigator, c.Credentials, c.Notifications),
		Kiosk:       handlers.NewKioskHandler(c.Kiosk),
		Throttle:    handlers.NewThrottleHandler(c.Limiter),
		Credentials: c.Credentials,
		Metrics:     c.Metrics,
	})
	return app
}
