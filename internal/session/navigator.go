package session

import "sync"

// Tracker is the agent's Navigator. The kiosk UI reports its location with
// each activity ping and collects pending redirects when it polls the session.
type Tracker struct {
	mu       sync.Mutex
	location string
	redirect string
}

// NewTracker returns a tracker with no known location.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Visit records the UI's current location.
func (t *Tracker) Visit(location string) {
	if location == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.location = location
}

// Location returns the last visited location.
func (t *Tracker) Location() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location
}

// Redirect queues target for the UI.
func (t *Tracker) Redirect(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.redirect = target
}

// TakeRedirect returns and clears the queued redirect.
func (t *Tracker) TakeRedirect() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	target := t.redirect
	t.redirect = ""
	return target, target != ""
}
