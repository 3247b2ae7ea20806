package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/clock"
	"github.com/spec-kit/sorting-kiosk/internal/config"
	"github.com/spec-kit/sorting-kiosk/internal/events"
)

type fakeCreds struct {
	mu      sync.Mutex
	present bool
	cleared int
}

func (f *fakeCreds) IsAuthenticated(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present
}

func (f *fakeCreds) ClearAll(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present = false
	f.cleared++
}

func (f *fakeCreds) login() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present = true
}

type recorder struct {
	mu    sync.Mutex
	types []events.EventType
	last  events.SessionPayload
}

func (r *recorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	r.last = e.Payload.(events.SessionPayload)
	return nil
}

func (r *recorder) seen() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.EventType(nil), r.types...)
}

type fixture struct {
	guard   *Guard
	creds   *fakeCreds
	clock   *clock.Fake
	tracker *Tracker
	events  *recorder
	hooks   int
}

func newFixture(t *testing.T, loggedIn bool) *fixture {
	t.Helper()
	f := &fixture{
		creds:   &fakeCreds{present: loggedIn},
		clock:   clock.NewFake(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
		tracker: NewTracker(),
		events:  &recorder{},
	}
	dispatcher := events.NewInMemoryDispatcher()
	for _, typ := range []events.EventType{events.EventSessionActive, events.EventSessionWarning, events.EventSessionExpired} {
		dispatcher.Subscribe(typ, f.events.handle)
	}
	cfg := config.SessionConfig{IdleTimeout: 15 * time.Minute, WarnBefore: 2 * time.Minute, LoginPath: "/login"}
	f.guard = NewGuard(cfg, f.creds, f.tracker, dispatcher, f.clock, zap.NewNop())
	f.guard.OnExpire(func(context.Context) { f.hooks++ })
	return f
}

func TestGuardIsInertWithoutCredential(t *testing.T) {
	f := newFixture(t, false)

	assert.False(t, f.guard.Start(context.Background()))
	assert.Equal(t, StateDisarmed, f.guard.State())
	assert.Zero(t, f.clock.Pending())

	f.clock.Advance(time.Hour)
	assert.Equal(t, StateDisarmed, f.guard.State())
	assert.Zero(t, f.creds.cleared)
}

func TestGuardWarnsThenExpires(t *testing.T) {
	f := newFixture(t, true)
	f.tracker.Visit("/bins/7")
	ctx := context.Background()

	require.True(t, f.guard.Start(ctx))
	assert.Equal(t, StateActive, f.guard.State())

	f.clock.Advance(12*time.Minute + 59*time.Second)
	assert.Equal(t, StateActive, f.guard.State())

	f.clock.Advance(time.Second)
	assert.Equal(t, StateWarning, f.guard.State())

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, StateExpired, f.guard.State())
	assert.Equal(t, 1, f.creds.cleared)
	assert.Equal(t, 1, f.hooks)

	target, ok := f.tracker.TakeRedirect()
	require.True(t, ok)
	assert.Equal(t, "/login?redirect=%2Fbins%2F7", target)

	assert.Equal(t, []events.EventType{
		events.EventSessionActive,
		events.EventSessionWarning,
		events.EventSessionExpired,
	}, f.events.seen())
	assert.Equal(t, ReasonIdle, f.events.last.Reason)
	assert.Zero(t, f.clock.Pending())
}

func TestActivityResetsIdleTimer(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.guard.Start(ctx)

	f.clock.Advance(14 * time.Minute)
	require.Equal(t, StateWarning, f.guard.State())

	f.guard.Activity(ctx)
	assert.Equal(t, StateActive, f.guard.State())
	assert.Equal(t, 15*time.Minute, f.guard.Status().IdleLeft)

	f.clock.Advance(14 * time.Minute)
	assert.NotEqual(t, StateExpired, f.guard.State())
	assert.Zero(t, f.creds.cleared)

	f.clock.Advance(time.Minute)
	assert.Equal(t, StateExpired, f.guard.State())
}

func TestActivityArmsAfterLogin(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.guard.Activity(ctx)
	assert.Equal(t, StateDisarmed, f.guard.State())

	f.creds.login()
	f.guard.Activity(ctx)
	assert.Equal(t, StateActive, f.guard.State())
}

func TestInvalidateTearsDownImmediately(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.guard.Start(ctx)

	f.guard.Invalidate(ctx, ReasonUnauthenticated)

	assert.Equal(t, StateExpired, f.guard.State())
	assert.Equal(t, 1, f.creds.cleared)
	assert.Equal(t, 1, f.hooks)
	assert.Equal(t, ReasonUnauthenticated, f.events.last.Reason)
	assert.Zero(t, f.clock.Pending(), "no stale timers may survive invalidation")

	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.creds.cleared)
}

func TestStopCancelsTimers(t *testing.T) {
	f := newFixture(t, true)
	f.guard.Start(context.Background())

	f.guard.Stop()
	assert.Equal(t, StateDisarmed, f.guard.State())
	assert.Zero(t, f.clock.Pending())

	f.clock.Advance(time.Hour)
	assert.Zero(t, f.creds.cleared)
}

func TestRedirectFromLoginPageStaysPlain(t *testing.T) {
	f := newFixture(t, true)
	f.tracker.Visit("/login")
	f.guard.Start(context.Background())

	f.clock.Advance(15 * time.Minute)
	target, ok := f.tracker.TakeRedirect()
	require.True(t, ok)
	assert.Equal(t, "/login", target)

	_, ok = f.tracker.TakeRedirect()
	assert.False(t, ok)
}

func TestInvalidWarningFallsBack(t *testing.T) {
	g := NewGuard(config.SessionConfig{IdleTimeout: time.Minute, WarnBefore: 5 * time.Minute}, &fakeCreds{}, nil, nil, clock.NewFake(time.Now()), nil)
	assert.Equal(t, 30*time.Second, g.warnBefore)
	assert.Equal(t, "/login", g.loginPath)
}
