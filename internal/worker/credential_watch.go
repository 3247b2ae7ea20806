package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/session"
)

// ReasonCredentialExpired is recorded when the credential lapses under an armed guard.
const ReasonCredentialExpired = "credential_expired"

// CredentialChecker reports whether a live credential is held.
type CredentialChecker interface {
	IsAuthenticated(ctx context.Context) bool
}

// Guard is the part of the session guard the watch drives.
type Guard interface {
	State() session.State
	Invalidate(ctx context.Context, reason string)
}

// CredentialWatch ends an armed session once its credential expires, so the
// operator is sent to login without waiting for the next failed request.
type CredentialWatch struct {
	creds  CredentialChecker
	guard  Guard
	logger *zap.Logger
	cron   *cron.Cron
}

// NewCredentialWatch builds an unscheduled watch.
func NewCredentialWatch(creds CredentialChecker, guard Guard, logger *zap.Logger) *CredentialWatch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialWatch{creds: creds, guard: guard, logger: logger}
}

// Start runs Check every interval.
func (w *CredentialWatch) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() { w.Check(context.Background()) }); err != nil {
		return fmt.Errorf("schedule credential watch: %w", err)
	}
	c.Start()
	w.cron = c
	return nil
}

// Check invalidates the session when the guard is armed but the credential
// is gone. It reports whether it did.
func (w *CredentialWatch) Check(ctx context.Context) bool {
	state := w.guard.State()
	if state != session.StateActive && state != session.StateWarning {
		return false
	}
	if w.creds.IsAuthenticated(ctx) {
		return false
	}
	w.logger.Info("credential lapsed during an active session")
	w.guard.Invalidate(ctx, ReasonCredentialExpired)
	return true
}

// Stop halts the schedule.
func (w *CredentialWatch) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.cron = nil
}
