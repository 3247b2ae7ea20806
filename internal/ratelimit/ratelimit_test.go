package ratelimit

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sorting-kiosk/internal/clock"
	apperrors "github.com/spec-kit/sorting-kiosk/pkg/util/errorutil"
)

func newLimiter() (*Limiter, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))
	return NewLimiter(clk), clk
}

func TestAllowRejectsOverBudget(t *testing.T) {
	l, _ := newLimiter()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("k", 5, time.Minute), "call %d", i+1)
	}
	assert.False(t, l.Allow("k", 5, time.Minute))
	assert.False(t, l.Allow("k", 5, time.Minute))
	assert.Equal(t, 0, l.Remaining("k", 5))

	st := l.Status("k", 5)
	assert.Equal(t, 5, st.Count, "rejections must not inflate the count")
}

func TestWindowRestartsAfterReset(t *testing.T) {
	l, clk := newLimiter()

	for i := 0; i < 3; i++ {
		l.Allow("k", 3, time.Minute)
	}
	require.False(t, l.Allow("k", 3, time.Minute))

	clk.Advance(time.Minute)
	assert.False(t, l.Allow("k", 3, time.Minute), "window is inclusive of its reset instant")

	clk.Advance(time.Millisecond)
	assert.True(t, l.Allow("k", 3, time.Minute))
	assert.Equal(t, 2, l.Remaining("k", 3))
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newLimiter()

	assert.True(t, l.Allow("a", 1, time.Minute))
	assert.False(t, l.Allow("a", 1, time.Minute))
	assert.True(t, l.Allow("b", 1, time.Minute))
}

func TestZeroCeilingRejectsWithoutCounting(t *testing.T) {
	l, _ := newLimiter()

	assert.False(t, l.Allow("k", 0, time.Minute))
	assert.False(t, l.Allow("k", -1, time.Minute))
	_, tracked := l.ResetIn("k")
	assert.False(t, tracked, "no window is opened for a zero ceiling")
	assert.Equal(t, 0, l.Status("k", 0).Count)
}

func TestResetInAndReset(t *testing.T) {
	l, clk := newLimiter()

	_, ok := l.ResetIn("k")
	assert.False(t, ok)

	l.Allow("k", 2, 10*time.Minute)
	clk.Advance(4 * time.Minute)
	left, ok := l.ResetIn("k")
	assert.True(t, ok)
	assert.Equal(t, 6*time.Minute, left)

	l.Reset("k")
	assert.Equal(t, 2, l.Remaining("k", 2))

	l.Allow("x", 1, time.Minute)
	l.Allow("y", 1, time.Minute)
	l.Clear()
	assert.True(t, l.Allow("x", 1, time.Minute))
	assert.True(t, l.Allow("y", 1, time.Minute))
}

func TestLoginPresetRejectsSixthAttempt(t *testing.T) {
	l, clk := newLimiter()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Check(CategoryLogin))
		clk.Advance(10 * time.Second)
	}

	err := l.Check(CategoryLogin)
	require.Error(t, err)

	var desc *apperrors.Descriptor
	require.True(t, errors.As(err, &desc))
	assert.Equal(t, apperrors.CodeRateLimited, desc.Code)
	assert.False(t, desc.Retryable)
	// 15 minutes less the 50 seconds already spent.
	assert.Contains(t, desc.Message, "850 seconds")
	assert.True(t, strings.HasPrefix(desc.Message, "Too many LOGIN attempts"))
}

func TestDoSkipsOperationWhenThrottled(t *testing.T) {
	l, _ := newLimiter()

	calls := 0
	op := func() (string, error) {
		calls++
		return "done", nil
	}
	for i := 0; i < Presets[CategoryRegister].Max; i++ {
		got, err := Do(l, CategoryRegister, op)
		require.NoError(t, err)
		assert.Equal(t, "done", got)
	}

	got, err := Do(l, CategoryRegister, op)
	assert.Error(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 3, calls)
}

func TestRunPropagatesOperationError(t *testing.T) {
	l, _ := newLimiter()
	boom := errors.New("boom")

	err := Run(l, CategoryUpload, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Presets[CategoryUpload].Max-1, l.Remaining(string(CategoryUpload), Presets[CategoryUpload].Max))
}

func TestWaitSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 1, waitSeconds(0))
	assert.Equal(t, 1, waitSeconds(200*time.Millisecond))
	assert.Equal(t, 2, waitSeconds(1500*time.Millisecond))
}
