package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/client"
	"github.com/spec-kit/sorting-kiosk/internal/clock"
	"github.com/spec-kit/sorting-kiosk/internal/config"
	"github.com/spec-kit/sorting-kiosk/internal/csrf"
	"github.com/spec-kit/sorting-kiosk/internal/session"
)

const adminLogin = `{"data":{"login":{"accessToken":"tok-1","expiresIn":3600,
	"user":{"id":"u1","name":"Ana","email":"ana@example.com","role":"ADMIN"}}}}`

type backend struct {
	mu          sync.Mutex
	binsStatus  int
	lastHeaders nethttp.Header
}

func (b *backend) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/csrf" {
		fmt.Fprint(w, `{"token":"csrf-1","expiresIn":3600000}`)
		return
	}
	var body struct {
		OperationName string `json:"operationName"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	b.lastHeaders = r.Header.Clone()
	binsStatus := b.binsStatus
	b.mu.Unlock()

	switch body.OperationName {
	case "Login":
		fmt.Fprint(w, adminLogin)
	case "Logout":
		fmt.Fprint(w, `{"data":{"logout":true}}`)
	case "Bins":
		if binsStatus != 0 {
			w.WriteHeader(binsStatus)
			fmt.Fprint(w, `{"errors":[{"message":"nope"}]}`)
			return
		}
		fmt.Fprint(w, `{"data":{"bins":[{"id":"b1","category":"metal","fillPercent":12}]}}`)
	default:
		fmt.Fprint(w, `{"data":{}}`)
	}
}

func (b *backend) headers() nethttp.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastHeaders
}

type agent struct {
	app     *fiber.App
	client  *client.Client
	clock   *clock.Fake
	backend *backend
}

func newAgent(t *testing.T) *agent {
	t.Helper()
	be := &backend{}
	srv := httptest.NewServer(be)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		App: config.AppConfig{Name: "kiosk-agent", Version: "test"},
		API: config.APIConfig{
			PointURL:  srv.URL + "/graphql",
			UploadURL: srv.URL + "/upload",
			CSRFURL:   srv.URL + "/csrf",
			StreamURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/graphql",
		},
		Session: config.SessionConfig{
			IdleTimeout:   15 * time.Minute,
			WarnBefore:    2 * time.Minute,
			LoginPath:     "/login",
			CheckInterval: time.Hour,
		},
		CSRF:    config.CSRFConfig{CheckInterval: time.Hour, RefreshMargin: time.Minute},
		Storage: config.StorageConfig{Driver: "memory"},
	}
	clk := clock.NewFake(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	c, err := client.New(context.Background(), cfg, zap.NewNop(), client.WithClock(clk), client.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return &agent{app: NewApp(c), client: c, clock: clk, backend: be}
}

func (a *agent) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (a *agent) login(t *testing.T) map[string]any {
	t.Helper()
	status, body := a.do(t, fiber.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"pw"}`)
	require.Equal(t, fiber.StatusOK, status, body)
	return body["data"].(map[string]any)
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthAndAnonymousSession(t *testing.T) {
	a := newAgent(t)

	status, _ := a.do(t, fiber.MethodGet, "/health/ready", "")
	assert.Equal(t, fiber.StatusOK, status)

	status, body := a.do(t, fiber.MethodGet, "/session", "")
	assert.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, string(session.StateDisarmed), data["state"])
	assert.Equal(t, false, data["authenticated"])
}

func TestProtectedRoutesNeedCredential(t *testing.T) {
	a := newAgent(t)

	status, body := a.do(t, fiber.MethodGet, "/kiosk/bins", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(body))
}

func TestLoginThenBinsCarriesHeaders(t *testing.T) {
	a := newAgent(t)

	data := a.login(t)
	assert.Equal(t, "ADMIN", data["role"])
	assert.NotEmpty(t, data["expires_at"])

	status, body := a.do(t, fiber.MethodGet, "/kiosk/bins", "")
	require.Equal(t, fiber.StatusOK, status, body)
	bins := body["data"].([]any)
	require.Len(t, bins, 1)

	headers := a.backend.headers()
	assert.Equal(t, "Bearer tok-1", headers.Get("Authorization"))
	assert.Equal(t, "csrf-1", headers.Get(csrf.HeaderName))

	status, body = a.do(t, fiber.MethodGet, "/admin/throttle/login", "")
	require.Equal(t, fiber.StatusOK, status, body)
	throttle := body["data"].(map[string]any)
	assert.EqualValues(t, 4, throttle["remaining"])

	status, _ = a.do(t, fiber.MethodGet, "/admin/throttle/bogus", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestIdleExpiryRedirectsToLogin(t *testing.T) {
	a := newAgent(t)
	a.login(t)

	status, body := a.do(t, fiber.MethodPost, "/session/activity", `{"location":"/bins"}`)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, string(session.StateActive), body["data"].(map[string]any)["state"])

	a.clock.Advance(15 * time.Minute)

	_, body = a.do(t, fiber.MethodGet, "/session", "")
	data := body["data"].(map[string]any)
	assert.Equal(t, string(session.StateExpired), data["state"])
	assert.Equal(t, false, data["authenticated"])
	assert.Equal(t, "/login?redirect=%2Fbins", data["redirect"])

	_, body = a.do(t, fiber.MethodGet, "/session", "")
	assert.Nil(t, body["data"].(map[string]any)["redirect"], "redirect is handed out once")
}

func TestServerRejectionEndsSession(t *testing.T) {
	a := newAgent(t)
	a.login(t)
	a.do(t, fiber.MethodPost, "/session/activity", `{"location":"/bins"}`)

	a.backend.mu.Lock()
	a.backend.binsStatus = fiber.StatusUnauthorized
	a.backend.mu.Unlock()

	status, body := a.do(t, fiber.MethodGet, "/kiosk/bins", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(body))

	assert.Equal(t, session.StateExpired, a.client.Guard.State())
	assert.False(t, a.client.Credentials.IsAuthenticated(context.Background()))
	assert.Empty(t, a.client.Notifications.Recent(), "unauthenticated failures are not notified")

	_, body = a.do(t, fiber.MethodGet, "/session", "")
	assert.Equal(t, "/login?redirect=%2Fbins", body["data"].(map[string]any)["redirect"])
}

func TestLogoutClearsSession(t *testing.T) {
	a := newAgent(t)
	a.login(t)

	status, _ := a.do(t, fiber.MethodPost, "/auth/logout", "")
	assert.Equal(t, fiber.StatusNoContent, status)

	_, body := a.do(t, fiber.MethodGet, "/session", "")
	data := body["data"].(map[string]any)
	assert.Equal(t, string(session.StateDisarmed), data["state"])
	assert.Equal(t, false, data["authenticated"])
}
