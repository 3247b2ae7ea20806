package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sorting-kiosk/internal/client"
)

// ReadinessChecker reports dependency state.
type ReadinessChecker interface {
	Ready(ctx context.Context) client.Readiness
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	checker     ReadinessChecker
}

// NewHealthHandler returns a new handler instance.
func NewHealthHandler(serviceName, version string, checker ReadinessChecker) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, checker: checker}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports readiness. Only an unreachable session store makes the agent
// unready; a missing credential or token is reported but expected.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	readiness := h.checker.Ready(ctx)
	if readiness.StorageReachable {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": readiness,
		})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": readiness,
		},
	})
}
