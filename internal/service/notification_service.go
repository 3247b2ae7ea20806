package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/domain"
	"github.com/spec-kit/sorting-kiosk/internal/events"
)

const defaultNotificationHistory = 50

// NotificationService records user-facing notifications and session
// transitions published on the dispatcher.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger

	mu       sync.Mutex
	capacity int
	recent   []domain.Notification
	session  *events.SessionPayload
}

// NewNotificationService creates the service keeping up to capacity recent notifications.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, capacity int) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = defaultNotificationHistory
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		capacity:   capacity,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventNotification, n.handleNotification)
	for _, typ := range []events.EventType{
		events.EventSessionActive,
		events.EventSessionWarning,
		events.EventSessionExpired,
		events.EventSessionLoggedIn,
		events.EventSessionLogout,
	} {
		n.dispatcher.Subscribe(typ, n.handleSession)
	}
}

// Recent returns the retained notifications, newest first.
func (n *NotificationService) Recent() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.Notification, len(n.recent))
	for i, note := range n.recent {
		out[len(n.recent)-1-i] = note
	}
	return out
}

// LastSession returns the most recent session transition, if any.
func (n *NotificationService) LastSession() (events.SessionPayload, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return events.SessionPayload{}, false
	}
	return *n.session, true
}

func (n *NotificationService) handleNotification(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.NotificationPayload)
	if !ok {
		return nil
	}
	note := payload.Notification
	n.logger.Info("Notification",
		zap.String("code", note.Code),
		zap.String("operation", note.Operation),
		zap.Bool("retryable", note.Retryable))

	n.mu.Lock()
	defer n.mu.Unlock()
	n.recent = append(n.recent, note)
	if over := len(n.recent) - n.capacity; over > 0 {
		n.recent = append([]domain.Notification(nil), n.recent[over:]...)
	}
	return nil
}

func (n *NotificationService) handleSession(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SessionPayload)
	if !ok {
		return nil
	}
	n.logger.Info("SessionTransition",
		zap.String("event_type", string(event.Type)),
		zap.String("state", payload.State),
		zap.String("reason", payload.Reason))

	n.mu.Lock()
	defer n.mu.Unlock()
	n.session = &payload
	if event.Type == events.EventSessionLogout {
		n.recent = nil
	}
	return nil
}
