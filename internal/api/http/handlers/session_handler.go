package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sorting-kiosk/internal/api/dto"
	"github.com/spec-kit/sorting-kiosk/internal/auth"
	"github.com/spec-kit/sorting-kiosk/internal/service"
	"github.com/spec-kit/sorting-kiosk/internal/session"
)

// SessionHandler reports the session to the UI and records its activity.
type SessionHandler struct {
	guard         *session.Guard
	tracker       *session.Tracker
	creds         *auth.CredentialStore
	notifications *service.NotificationService
}

// NewSessionHandler constructs handler.
func NewSessionHandler(guard *session.Guard, tracker *session.Tracker, creds *auth.CredentialStore, notifications *service.NotificationService) *SessionHandler {
	return &SessionHandler{guard: guard, tracker: tracker, creds: creds, notifications: notifications}
}

// Get handles GET /session. A pending redirect is handed out once.
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.snapshot(c)})
}

// Activity handles POST /session/activity.
func (h *SessionHandler) Activity(c *fiber.Ctx) error {
	var req dto.ActivityRequest
	_ = c.BodyParser(&req)
	h.tracker.Visit(req.Location)
	h.guard.Activity(c.UserContext())
	return c.JSON(fiber.Map{"data": h.snapshot(c)})
}

// Notifications handles GET /notifications.
func (h *SessionHandler) Notifications(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.notifications.Recent()})
}

func (h *SessionHandler) snapshot(c *fiber.Ctx) dto.SessionResponse {
	ctx := c.UserContext()
	status := h.guard.Status()
	resp := dto.SessionResponse{
		State:           string(status.State),
		Authenticated:   h.creds.IsAuthenticated(ctx),
		IdleLeftSeconds: int64(status.IdleLeft.Seconds()),
	}
	if role, ok := h.creds.Role(ctx); ok && resp.Authenticated {
		resp.Role = string(role)
	}
	if target, ok := h.tracker.TakeRedirect(); ok {
		resp.Redirect = target
	}
	return resp
}
