// Package ratelimit is an advisory, in-memory throttle consulted before
// sensitive operations leave the client. It never replaces server-side limits.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/spec-kit/sorting-kiosk/internal/clock"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

// Category names an operation class with its own budget.
type Category string

const (
	CategoryLogin             Category = "LOGIN"
	CategoryRegister          Category = "REGISTER"
	CategoryUpload            Category = "UPLOAD"
	CategoryPasswordReset     Category = "PASSWORD_RESET"
	CategoryEmailConfirmation Category = "EMAIL_CONFIRMATION"
	CategoryAPI               Category = "API"
)

// Preset is a request ceiling per window.
type Preset struct {
	Max    int
	Window time.Duration
}

// Presets holds the default budget of each category.
var Presets = map[Category]Preset{
	CategoryLogin:             {Max: 5, Window: 15 * time.Minute},
	CategoryRegister:          {Max: 3, Window: time.Hour},
	CategoryUpload:            {Max: 10, Window: time.Minute},
	CategoryPasswordReset:     {Max: 3, Window: time.Hour},
	CategoryEmailConfirmation: {Max: 3, Window: 10 * time.Minute},
	CategoryAPI:               {Max: 100, Window: time.Minute},
}

type entry struct {
	count   int
	resetAt time.Time
}

// Status is a snapshot of one key for UI countdowns.
type Status struct {
	Key       string        `json:"key"`
	Count     int           `json:"count"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

// Limiter is a per-key window counter.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	clock   clock.Clock
}

// NewLimiter creates a limiter reading time from clk.
func NewLimiter(clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{entries: make(map[string]*entry), clock: clk}
}

// Allow counts an attempt against key. A window starts on first use and
// restarts once now passes its reset instant. The count never exceeds max.
func (l *Limiter) Allow(key string, max int, window time.Duration) bool {
	if max < 1 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	e, ok := l.entries[key]
	if !ok || now.After(e.resetAt) {
		l.entries[key] = &entry{count: 1, resetAt: now.Add(window)}
		return true
	}
	if e.count >= max {
		return false
	}
	e.count++
	return true
}

// Remaining returns how many attempts are left in the current window.
func (l *Limiter) Remaining(key string, max int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || l.clock.Now().After(e.resetAt) {
		return max
	}
	if rem := max - e.count; rem > 0 {
		return rem
	}
	return 0
}

// ResetIn returns the time left until key's window resets.
func (l *Limiter) ResetIn(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return 0, false
	}
	left := e.resetAt.Sub(l.clock.Now())
	if left < 0 {
		return 0, false
	}
	return left, true
}

// Status reports key's counters against max.
func (l *Limiter) Status(key string, max int) Status {
	st := Status{Key: key, Remaining: l.Remaining(key, max)}
	st.Count = max - st.Remaining
	st.ResetIn, _ = l.ResetIn(key)
	return st
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Clear forgets every key.
func (l *Limiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
}

// Check gates one attempt in category and returns a RATE_LIMITED descriptor
// carrying the wait in seconds when the budget is spent.
func (l *Limiter) Check(category Category) error {
	preset, ok := Presets[category]
	if !ok {
		preset = Presets[CategoryAPI]
	}
	key := string(category)
	if l.Allow(key, preset.Max, preset.Window) {
		return nil
	}
	wait, _ := l.ResetIn(key)
	return apperrors.NewRateLimited(string(category), waitSeconds(wait))
}

// Do runs op only if category's budget allows. Failures of op itself do not
// consume additional budget.
func Do[T any](l *Limiter, category Category, op func() (T, error)) (T, error) {
	if err := l.Check(category); err != nil {
		var zero T
		return zero, err
	}
	return op()
}

// Run is Do for operations without a result.
func Run(l *Limiter, category Category, op func() error) error {
	_, err := Do(l, category, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func waitSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
