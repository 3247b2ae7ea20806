package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/domain"
	"github.com/spec-kit/sorting-kiosk/internal/events"
)

// EventNotifier publishes notifications on the event dispatcher.
type EventNotifier struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewEventNotifier builds a notifier over dispatcher.
func NewEventNotifier(dispatcher events.Dispatcher, logger *zap.Logger) *EventNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventNotifier{dispatcher: dispatcher, logger: logger}
}

// Notify publishes note as a notification event.
func (n *EventNotifier) Notify(ctx context.Context, note domain.Notification) {
	event := events.Event{
		ID:        note.ID,
		Type:      events.EventNotification,
		Timestamp: note.CreatedAt,
		Payload:   events.NotificationPayload{Notification: note},
	}
	if err := n.dispatcher.Publish(ctx, event); err != nil {
		n.logger.Warn("notification handler failed", zap.String("code", note.Code), zap.Error(err))
	}
}
