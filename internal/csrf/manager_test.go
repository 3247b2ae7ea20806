package csrf

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/clock"
	"github.com/spec-kit/sorting-kiosk/internal/config"
)

type issuer struct {
	calls   atomic.Int32
	failing atomic.Bool
	body    func(n int32) string
}

func (i *issuer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	n := i.calls.Add(1)
	if i.failing.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, i.body(n))
}

func newManager(t *testing.T, body func(n int32) string) (*Manager, *issuer, *clock.Fake) {
	t.Helper()
	is := &issuer{body: body}
	srv := httptest.NewServer(is)
	t.Cleanup(srv.Close)

	clk := clock.NewFake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	m := NewManager(srv.URL, srv.Client(), config.CSRFConfig{}, clk, zap.NewNop())
	t.Cleanup(m.Stop)
	return m, is, clk
}

func hourToken(n int32) string {
	return fmt.Sprintf(`{"token":"tok-%d","expiresIn":3600000}`, n)
}

func TestTokenIsCachedWhileValid(t *testing.T) {
	ctx := context.Background()
	m, is, clk := newManager(t, hourToken)

	first, ok := m.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok-1", first)

	clk.Advance(30 * time.Minute)
	second, ok := m.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, is.calls.Load())
}

func TestExpiredTokenIsRefetched(t *testing.T) {
	ctx := context.Background()
	m, is, clk := newManager(t, func(n int32) string {
		return fmt.Sprintf(`{"csrfToken":"tok-%d","expiresIn":60000}`, n)
	})

	_, ok := m.Token(ctx)
	require.True(t, ok)

	clk.Advance(61 * time.Second)
	_, ok = m.TokenSync()
	assert.False(t, ok, "expired token must not be served synchronously")

	token, ok := m.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok-2", token)
	assert.EqualValues(t, 2, is.calls.Load())
}

func TestFailedFetchKeepsPreviousToken(t *testing.T) {
	ctx := context.Background()
	m, is, _ := newManager(t, hourToken)

	_, ok := m.Fetch(ctx)
	require.True(t, ok)

	is.failing.Store(true)
	_, ok = m.Fetch(ctx)
	assert.False(t, ok)

	token, ok := m.TokenSync()
	assert.True(t, ok)
	assert.Equal(t, "tok-1", token)
}

func TestMissingLifetimeUsesDefault(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t, func(int32) string { return `{"token":"plain"}` })

	_, ok := m.Fetch(ctx)
	require.True(t, ok)

	clk.Advance(59 * time.Minute)
	_, ok = m.TokenSync()
	assert.True(t, ok)

	clk.Advance(time.Minute)
	_, ok = m.TokenSync()
	assert.False(t, ok)
}

func TestResponseWithoutTokenFails(t *testing.T) {
	m, _, _ := newManager(t, func(int32) string { return `{"expiresIn":1000}` })

	_, ok := m.Fetch(context.Background())
	assert.False(t, ok)
	assert.False(t, m.Snapshot().Present)
}

func TestRefreshIfDueHonoursMargin(t *testing.T) {
	ctx := context.Background()
	m, is, clk := newManager(t, hourToken)

	assert.True(t, m.RefreshIfDue(ctx), "no token yet")
	assert.EqualValues(t, 1, is.calls.Load())

	clk.Advance(54 * time.Minute)
	assert.False(t, m.RefreshIfDue(ctx))

	clk.Advance(2 * time.Minute)
	assert.True(t, m.RefreshIfDue(ctx))
	assert.EqualValues(t, 2, is.calls.Load())

	token, ok := m.TokenSync()
	assert.True(t, ok)
	assert.Equal(t, "tok-2", token)
}

func TestClearDropsToken(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, hourToken)

	_, ok := m.Fetch(ctx)
	require.True(t, ok)
	assert.True(t, m.Snapshot().Fresh)

	m.Clear()
	_, ok = m.TokenSync()
	assert.False(t, ok)
	assert.False(t, m.Snapshot().Present)
}

func TestConcurrentFetchesShareOneRequest(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		fmt.Fprint(w, `{"token":"shared","expiresIn":3600000}`)
	}))
	t.Cleanup(srv.Close)

	m := NewManager(srv.URL, srv.Client(), config.CSRFConfig{}, clock.NewFake(time.Now()), zap.NewNop())

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = m.Fetch(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestInitializeSchedulesAndStops(t *testing.T) {
	m, is, _ := newManager(t, hourToken)

	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Initialize(context.Background()))
	assert.EqualValues(t, 2, is.calls.Load())
	m.Stop()
	m.Stop()
}

func TestAbandonedCallerDoesNotFailSharedFetch(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		started <- struct{}{}
		<-release
		fmt.Fprint(w, `{"token":"shared","expiresIn":3600000}`)
	}))
	t.Cleanup(srv.Close)

	m := NewManager(srv.URL, srv.Client(), config.CSRFConfig{}, clock.NewFake(time.Now()), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan bool, 1)
	go func() {
		_, ok := m.Fetch(ctx)
		first <- ok
	}()
	<-started

	second := make(chan string, 1)
	go func() {
		token, _ := m.Fetch(context.Background())
		second <- token
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case ok := <-first:
		assert.False(t, ok, "the cancelled caller returns immediately")
	case <-time.After(time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(release)
	select {
	case token := <-second:
		assert.Equal(t, "shared", token)
	case <-time.After(3 * time.Second):
		t.Fatal("waiting caller never got a token")
	}
	assert.EqualValues(t, 1, calls.Load())

	cached, ok := m.TokenSync()
	assert.True(t, ok)
	assert.Equal(t, "shared", cached)
}
