// Package worker runs the agent's background jobs.
package worker

import (
	"time"

	"github.com/spec-kit/sorting-kiosk/internal/service"
)

// Start registers notification handlers and schedules the credential watch.
// Either argument may be nil.
func Start(notifications *service.NotificationService, watch *CredentialWatch, interval time.Duration) error {
	if notifications != nil {
		notifications.RegisterHandlers()
	}
	if watch == nil {
		return nil
	}
	return watch.Start(interval)
}
