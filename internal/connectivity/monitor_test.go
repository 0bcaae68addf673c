package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/wardline/internal/clock"
	"github.com/ashureev/wardline/internal/notify"
	"github.com/ashureev/wardline/internal/testutil"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestMonitor(t *testing.T, probe ProberFunc) (*Monitor, *clock.FakeClock, *notify.Recorder) {
	t.Helper()
	clk := clock.NewFake(start)
	rec := &notify.Recorder{}
	m := NewMonitor(Config{Prober: probe, Clock: clk, Notifier: rec})
	t.Cleanup(m.Close)
	return m, clk, rec
}

func TestFlappingSignalsYieldOneProbe(t *testing.T) {
	m, clk, rec := newTestMonitor(t, func(context.Context) error { return nil })
	events, cancel := m.Subscribe()
	defer cancel()

	// Three offline->online flips inside 500ms.
	for i := 0; i < 3; i++ {
		m.Signal(false)
		clk.Advance(80 * time.Millisecond)
		m.Signal(true)
		clk.Advance(80 * time.Millisecond)
	}

	clk.Advance(999*time.Millisecond - 80*time.Millisecond)
	require.Zero(t, m.Probes(), "window has not settled yet")

	clk.Advance(time.Millisecond)
	require.EqualValues(t, 1, m.Probes())

	ev := testutil.RequireReceive(t, events, time.Second, "settled event")
	require.Equal(t, StatusConnected, ev.Status)
	testutil.RequireNoReceive(t, events, 50*time.Millisecond, "only one event per window")
	require.Equal(t, 1, rec.Count(notify.TopicConnectivity))

	clk.Advance(10 * time.Second)
	require.EqualValues(t, 1, m.Probes())
}

func TestEventReflectsProbeNotRawSignal(t *testing.T) {
	probeErr := errors.New("connection refused")
	m, clk, rec := newTestMonitor(t, func(context.Context) error { return probeErr })
	events, cancel := m.Subscribe()
	defer cancel()

	m.Signal(true)
	clk.Advance(DefaultDebounce)

	ev := testutil.RequireReceive(t, events, time.Second)
	require.Equal(t, StatusDisconnected, ev.Status)
	require.ErrorIs(t, ev.Err, probeErr)

	state := m.State()
	require.False(t, state.IsOnline)
	require.Equal(t, start.Add(DefaultDebounce), state.LastTransitionAt)
	require.False(t, m.Online())

	all := rec.All()
	require.Len(t, all, 1)
	require.Equal(t, notify.LevelError, all[0].Level)
}

func TestSeparateWindowsEmitSeparately(t *testing.T) {
	var healthy atomic.Bool
	m, clk, _ := newTestMonitor(t, func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	})
	events, cancel := m.Subscribe()
	defer cancel()

	m.Signal(false)
	clk.Advance(DefaultDebounce)
	require.Equal(t, StatusDisconnected, testutil.RequireReceive(t, events, time.Second).Status)

	healthy.Store(true)
	clk.Advance(5 * time.Second)
	m.Signal(true)
	clk.Advance(DefaultDebounce)
	require.Equal(t, StatusConnected, testutil.RequireReceive(t, events, time.Second).Status)

	require.EqualValues(t, 2, m.Probes())
	require.True(t, m.State().IsOnline)
	require.Equal(t, start.Add(7*time.Second), m.State().LastTransitionAt)
}

func TestUnchangedStatusKeepsTransitionTime(t *testing.T) {
	m, clk, _ := newTestMonitor(t, func(context.Context) error { return nil })
	initial := m.State().LastTransitionAt

	m.Signal(true)
	clk.Advance(DefaultDebounce)
	require.Equal(t, initial, m.State().LastTransitionAt)
}

func TestCloseCancelsPendingProbe(t *testing.T) {
	m, clk, _ := newTestMonitor(t, func(context.Context) error { return nil })
	m.Signal(false)
	m.Close()
	clk.Advance(DefaultDebounce)
	require.Zero(t, m.Probes())

	m.Signal(true)
	clk.Advance(DefaultDebounce)
	require.Zero(t, m.Probes())
}

func TestStartConsumesSignalSource(t *testing.T) {
	m, clk, _ := newTestMonitor(t, func(context.Context) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := make(chan bool)
	m.Start(ctx, source)
	source <- false

	clk.WaitForTimers(1)
	clk.Advance(DefaultDebounce)
	require.EqualValues(t, 1, m.Probes())
}

func TestSupersededProbeResultIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	m, clk, rec := newTestMonitor(t, func(context.Context) error {
		if calls.Add(1) == 1 {
			// Slow probe that ignores cancellation, as a stuck dial would.
			close(started)
			<-release
			return errors.New("dial tcp: i/o timeout")
		}
		return nil
	})
	events, cancel := m.Subscribe()
	defer cancel()

	m.Signal(false)
	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		clk.Advance(time.Second)
	}()
	testutil.RequireClosed(t, started, time.Second, "first probe started")

	m.Signal(true)
	clk.Advance(time.Second)
	ev := testutil.RequireReceive(t, events, time.Second, "newer window settled")
	require.Equal(t, StatusConnected, ev.Status)

	close(release)
	testutil.RequireClosed(t, slowDone, time.Second, "slow probe returned")
	testutil.RequireNoReceive(t, events, 50*time.Millisecond, "stale result must not be published")

	require.True(t, m.State().IsOnline)
	require.EqualValues(t, 2, m.Probes())
	require.Equal(t, 1, rec.Count(notify.TopicConnectivity))
}

func TestSignalCancelsInFlightProbe(t *testing.T) {
	started := make(chan struct{})
	var calls atomic.Int32
	m, clk, _ := newTestMonitor(t, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	events, cancel := m.Subscribe()
	defer cancel()

	m.Signal(false)
	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		clk.Advance(time.Second)
	}()
	testutil.RequireClosed(t, started, time.Second, "first probe started")

	m.Signal(true)
	testutil.RequireClosed(t, slowDone, time.Second, "in-flight probe aborted by the new signal")
	testutil.RequireNoReceive(t, events, 50*time.Millisecond)

	clk.Advance(time.Second)
	ev := testutil.RequireReceive(t, events, time.Second)
	require.Equal(t, StatusConnected, ev.Status)
}
