package events

import (
	"time"

	"github.com/spec-kit/sorting-kiosk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventNotification    EventType = "notification"
	EventSessionActive   EventType = "session.active"
	EventSessionWarning  EventType = "session.warning"
	EventSessionExpired  EventType = "session.expired"
	EventSessionLoggedIn EventType = "session.logged_in"
	EventSessionLogout   EventType = "session.logged_out"
)

// Event represents something the page layer may react to.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NotificationPayload carries a user-facing message.
type NotificationPayload struct {
	Notification domain.Notification `json:"notification"`
}

// SessionPayload carries a session-guard transition.
type SessionPayload struct {
	State      string        `json:"state"`
	RedirectTo string        `json:"redirect_to,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	ExpiresIn  time.Duration `json:"expires_in,omitempty"`
}
