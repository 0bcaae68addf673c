package pipeline

import (
	"testing"
	"time"

	"github.com/ashureev/wardline/internal/clock"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, time.Second, p.Delay(0))
	require.Equal(t, 2*time.Second, p.Delay(1))
	require.Equal(t, 4*time.Second, p.Delay(2))
	require.Equal(t, 8*time.Second, p.Delay(3))
}

func TestRetryPolicyExcluded(t *testing.T) {
	p := DefaultRetryPolicy()
	require.True(t, p.Excluded("/auth/login"))
	require.True(t, p.Excluded("/oauth/token"))
	require.False(t, p.Excluded("/messages"))

	p.ExcludedPathPattern = ""
	require.False(t, p.Excluded("/auth/login"))
}

func TestRetryPolicyWorstCaseLatency(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, 4*30*time.Second+14*time.Second, p.WorstCaseLatency(30*time.Second))
}

func TestRetryCoordinatorWindow(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := NewRetryCoordinator(clk, 3*time.Second)

	require.True(t, c.TryBeginNotification())
	require.False(t, c.TryBeginNotification())

	clk.Advance(2999 * time.Millisecond)
	require.False(t, c.TryBeginNotification())

	clk.Advance(time.Millisecond)
	require.False(t, c.Suppressing())
	require.True(t, c.TryBeginNotification())
}

func TestRetryCoordinatorStaleTimerDoesNotClearNewWindow(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := NewRetryCoordinator(clk, 3*time.Second)

	require.True(t, c.TryBeginNotification())
	clk.Advance(time.Second)
	c.Clear()

	clk.Advance(time.Second)
	require.True(t, c.TryBeginNotification())

	// The first window's timer would have fired here.
	clk.Advance(1500 * time.Millisecond)
	require.True(t, c.Suppressing())

	clk.Advance(1500 * time.Millisecond)
	require.False(t, c.Suppressing())
}
