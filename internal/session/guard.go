// Package session enforces the operator idle ceiling independently of token
// expiry.
package session

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/clock"
	"github.com/spec-kit/sorting-kiosk/internal/config"
	"github.com/spec-kit/sorting-kiosk/internal/events"
)

// State is the guard's position in its idle lifecycle.
type State string

const (
	StateDisarmed State = "DISARMED"
	StateActive   State = "ACTIVE"
	StateWarning  State = "WARNING"
	StateExpired  State = "EXPIRED"
)

// Reasons recorded on expiry.
const (
	ReasonIdle            = "idle"
	ReasonUnauthenticated = "unauthenticated"
)

// Credentials is the part of the credential store the guard depends on.
type Credentials interface {
	IsAuthenticated(ctx context.Context) bool
	ClearAll(ctx context.Context)
}

// Navigator moves the operator between screens.
type Navigator interface {
	Location() string
	Redirect(target string)
}

// ExpiryHook runs during teardown, after the credential is cleared.
type ExpiryHook func(ctx context.Context)

// Status is a snapshot for the page layer.
type Status struct {
	State    State         `json:"state"`
	IdleLeft time.Duration `json:"idle_left"`
}

// Guard arms idle and warning timers while a credential exists.
type Guard struct {
	creds      Credentials
	navigator  Navigator
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger

	idleTimeout time.Duration
	warnBefore  time.Duration
	loginPath   string

	mu         sync.Mutex
	state      State
	generation int
	deadline   time.Time
	warnTimer  clock.Timer
	idleTimer  clock.Timer
	hooks      []ExpiryHook
}

// NewGuard builds a disarmed guard. dispatcher and navigator may be nil.
func NewGuard(cfg config.SessionConfig, creds Credentials, navigator Navigator, dispatcher events.Dispatcher, clk clock.Clock, logger *zap.Logger) *Guard {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{
		creds:       creds,
		navigator:   navigator,
		dispatcher:  dispatcher,
		clock:       clk,
		logger:      logger,
		idleTimeout: cfg.IdleTimeout,
		warnBefore:  cfg.WarnBefore,
		loginPath:   cfg.LoginPath,
		state:       StateDisarmed,
	}
	if g.idleTimeout <= 0 {
		g.idleTimeout = 15 * time.Minute
	}
	if g.warnBefore <= 0 || g.warnBefore >= g.idleTimeout {
		g.warnBefore = 2 * time.Minute
		if g.warnBefore >= g.idleTimeout {
			g.warnBefore = g.idleTimeout / 2
		}
	}
	if g.loginPath == "" {
		g.loginPath = "/login"
	}
	return g
}

// OnExpire registers a hook run on every expiry or invalidation.
func (g *Guard) OnExpire(hook ExpiryHook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, hook)
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Status reports the state and the idle time left before expiry.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := Status{State: g.state}
	if g.state == StateActive || g.state == StateWarning {
		if left := g.deadline.Sub(g.clock.Now()); left > 0 {
			st.IdleLeft = left
		}
	}
	return st
}

// Start arms the timers when a credential is held and reports whether it did.
func (g *Guard) Start(ctx context.Context) bool {
	if !g.creds.IsAuthenticated(ctx) {
		g.mu.Lock()
		g.disarmLocked()
		g.mu.Unlock()
		return false
	}
	g.mu.Lock()
	g.armLocked()
	g.mu.Unlock()
	g.publish(ctx, events.EventSessionActive, events.SessionPayload{State: string(StateActive)})
	return true
}

// Activity records operator activity. Armed timers restart; a disarmed or
// expired guard re-arms only if a credential now exists.
func (g *Guard) Activity(ctx context.Context) {
	g.mu.Lock()
	state := g.state
	if state == StateActive || state == StateWarning {
		g.armLocked()
		g.mu.Unlock()
		if state == StateWarning {
			g.publish(ctx, events.EventSessionActive, events.SessionPayload{State: string(StateActive)})
		}
		return
	}
	g.mu.Unlock()
	g.Start(ctx)
}

// Invalidate tears the session down immediately, as on idle expiry.
func (g *Guard) Invalidate(ctx context.Context, reason string) {
	g.mu.Lock()
	g.stopTimersLocked()
	g.generation++
	g.mu.Unlock()
	g.expire(ctx, reason)
}

// Stop cancels all timers without tearing the session down.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disarmLocked()
}

func (g *Guard) armLocked() {
	g.stopTimersLocked()
	g.generation++
	gen := g.generation
	g.state = StateActive
	g.deadline = g.clock.Now().Add(g.idleTimeout)

	g.warnTimer = g.clock.AfterFunc(g.idleTimeout-g.warnBefore, func() { g.warn(gen) })
	g.idleTimer = g.clock.AfterFunc(g.idleTimeout, func() { g.timeout(gen) })
}

func (g *Guard) disarmLocked() {
	g.stopTimersLocked()
	g.generation++
	g.state = StateDisarmed
	g.deadline = time.Time{}
}

func (g *Guard) stopTimersLocked() {
	if g.warnTimer != nil {
		g.warnTimer.Stop()
		g.warnTimer = nil
	}
	if g.idleTimer != nil {
		g.idleTimer.Stop()
		g.idleTimer = nil
	}
}

func (g *Guard) warn(gen int) {
	g.mu.Lock()
	if gen != g.generation || g.state != StateActive {
		g.mu.Unlock()
		return
	}
	g.state = StateWarning
	g.mu.Unlock()

	g.logger.Info("session idle warning", zap.Duration("expires_in", g.warnBefore))
	g.publish(context.Background(), events.EventSessionWarning, events.SessionPayload{
		State:     string(StateWarning),
		ExpiresIn: g.warnBefore,
	})
}

func (g *Guard) timeout(gen int) {
	g.mu.Lock()
	if gen != g.generation {
		g.mu.Unlock()
		return
	}
	g.generation++
	g.warnTimer, g.idleTimer = nil, nil
	g.mu.Unlock()
	g.expire(context.Background(), ReasonIdle)
}

func (g *Guard) expire(ctx context.Context, reason string) {
	location := ""
	if g.navigator != nil {
		location = g.navigator.Location()
	}

	g.mu.Lock()
	g.state = StateExpired
	g.deadline = time.Time{}
	hooks := append([]ExpiryHook(nil), g.hooks...)
	g.mu.Unlock()

	g.creds.ClearAll(ctx)
	for _, hook := range hooks {
		hook(ctx)
	}

	target := g.loginTarget(location)
	g.logger.Info("session expired", zap.String("reason", reason), zap.String("redirect", target))
	g.publish(ctx, events.EventSessionExpired, events.SessionPayload{
		State:      string(StateExpired),
		RedirectTo: target,
		Reason:     reason,
	})
	if g.navigator != nil {
		g.navigator.Redirect(target)
	}
}

// loginTarget carries the pre-timeout location unless it is empty or already
// the login entry point.
func (g *Guard) loginTarget(location string) string {
	if location == "" || strings.HasPrefix(location, g.loginPath) {
		return g.loginPath
	}
	return g.loginPath + "?" + url.Values{"redirect": {location}}.Encode()
}

func (g *Guard) publish(ctx context.Context, typ events.EventType, payload events.SessionPayload) {
	if g.dispatcher == nil {
		return
	}
	err := g.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: g.clock.Now(),
		Payload:   payload,
	})
	if err != nil {
		g.logger.Warn("session event handler failed", zap.String("type", string(typ)), zap.Error(err))
	}
}
