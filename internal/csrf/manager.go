// Package csrf keeps a fresh anti-forgery token available to the transport.
package csrf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/sorting-kiosk/internal/clock"
	"github.com/spec-kit/sorting-kiosk/internal/config"
)

// HeaderName is the request header carrying the anti-forgery token.
const HeaderName = "X-CSRF-Token"

const defaultFetchTimeout = 10 * time.Second

const maxBodyBytes = 16 << 10

// Token is the cached anti-forgery value.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Snapshot reports token freshness without exposing the value.
type Snapshot struct {
	Present   bool      `json:"present"`
	Fresh     bool      `json:"fresh"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type issuanceResponse struct {
	Token     string `json:"token"`
	CSRFToken string `json:"csrfToken"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Manager fetches, caches and refreshes the anti-forgery token.
type Manager struct {
	endpoint string
	client   *http.Client
	clock    clock.Clock
	logger   *zap.Logger

	refreshMargin   time.Duration
	checkInterval   time.Duration
	defaultLifetime time.Duration

	mu    sync.RWMutex
	token *Token

	fetches singleflight.Group

	schedMu   sync.Mutex
	scheduler *cron.Cron
}

// NewManager builds a manager for the issuance endpoint. client should share
// the cookie jar used by the point channel.
func NewManager(endpoint string, client *http.Client, cfg config.CSRFConfig, clk clock.Clock, logger *zap.Logger) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		endpoint:        endpoint,
		client:          client,
		clock:           clk,
		logger:          logger,
		refreshMargin:   cfg.RefreshMargin,
		checkInterval:   cfg.CheckInterval,
		defaultLifetime: cfg.DefaultLifetime,
	}
	if m.refreshMargin <= 0 {
		m.refreshMargin = 5 * time.Minute
	}
	if m.checkInterval <= 0 {
		m.checkInterval = time.Minute
	}
	if m.defaultLifetime <= 0 {
		m.defaultLifetime = time.Hour
	}
	return m
}

// Fetch requests a new token. On any failure it returns false and keeps the
// previously cached token. Concurrent callers share one request, which is not
// cut short when the caller that started it gives up.
func (m *Manager) Fetch(ctx context.Context) (string, bool) {
	results := m.fetches.DoChan("token", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout())
		defer cancel()
		return m.fetch(fetchCtx)
	})
	select {
	case res := <-results:
		if res.Err != nil {
			m.logger.Warn("anti-forgery token fetch failed", zap.Error(res.Err))
			return "", false
		}
		return res.Val.(string), true
	case <-ctx.Done():
		return "", false
	}
}

func (m *Manager) fetchTimeout() time.Duration {
	if m.client.Timeout > 0 {
		return m.client.Timeout
	}
	return defaultFetchTimeout
}

func (m *Manager) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("issuance endpoint returned status %d", resp.StatusCode)
	}

	var body issuanceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	value := body.Token
	if value == "" {
		value = body.CSRFToken
	}
	if value == "" {
		return "", fmt.Errorf("issuance response carried no token")
	}

	lifetime := m.defaultLifetime
	if body.ExpiresIn > 0 {
		lifetime = time.Duration(body.ExpiresIn) * time.Millisecond
	}

	m.mu.Lock()
	m.token = &Token{Value: value, ExpiresAt: m.clock.Now().Add(lifetime)}
	m.mu.Unlock()

	m.logger.Debug("anti-forgery token refreshed", zap.Duration("lifetime", lifetime))
	return value, nil
}

// Token returns the cached token while valid, fetching a new one otherwise.
func (m *Manager) Token(ctx context.Context) (string, bool) {
	if value, ok := m.TokenSync(); ok {
		return value, true
	}
	return m.Fetch(ctx)
}

// TokenSync returns the cached token only if still valid. It never blocks on
// the network.
func (m *Manager) TokenSync() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil || !m.clock.Now().Before(m.token.ExpiresAt) {
		return "", false
	}
	return m.token.Value, true
}

// Initialize performs the first fetch and schedules refreshes that fire once
// the remaining lifetime drops below the refresh margin.
func (m *Manager) Initialize(ctx context.Context) error {
	if _, ok := m.Fetch(ctx); !ok {
		m.logger.Warn("initial anti-forgery token unavailable; requests proceed without it")
	}

	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	if m.scheduler != nil {
		return nil
	}
	scheduler := cron.New()
	schedule := fmt.Sprintf("@every %s", m.checkInterval)
	if _, err := scheduler.AddFunc(schedule, func() { m.RefreshIfDue(context.Background()) }); err != nil {
		return fmt.Errorf("schedule anti-forgery refresh: %w", err)
	}
	scheduler.Start()
	m.scheduler = scheduler
	return nil
}

// RefreshIfDue fetches a new token when none is cached or the cached one is
// within the refresh margin of expiry. It reports whether a fetch was issued.
func (m *Manager) RefreshIfDue(ctx context.Context) bool {
	m.mu.RLock()
	due := m.token == nil || m.token.ExpiresAt.Sub(m.clock.Now()) < m.refreshMargin
	m.mu.RUnlock()
	if !due {
		return false
	}
	m.Fetch(ctx)
	return true
}

// Clear drops the cached token.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// Stop halts scheduled refreshes.
func (m *Manager) Stop() {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	if m.scheduler == nil {
		return
	}
	<-m.scheduler.Stop().Done()
	m.scheduler = nil
}

// Snapshot reports whether a token is cached and fresh.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return Snapshot{}
	}
	return Snapshot{
		Present:   true,
		Fresh:     m.clock.Now().Before(m.token.ExpiresAt),
		ExpiresAt: m.token.ExpiresAt,
	}
}
