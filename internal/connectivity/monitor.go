// Package connectivity turns raw, flapping online/offline signals into
// settled reachability events confirmed by a health probe.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/wardline/internal/clock"
	"github.com/ashureev/wardline/internal/domain"
	"github.com/ashureev/wardline/internal/notify"
)

// Defaults for Config.
const (
	DefaultDebounce     = time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Status is the settled reachability of the backend.
type Status int

// Statuses reported by the monitor.
const (
	StatusConnected Status = iota
	StatusDisconnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Event is emitted once per settled debounce window.
type Event struct {
	Status Status
	At     time.Time
	// Err is the probe failure for StatusDisconnected.
	Err error
}

// Config holds Monitor dependencies.
type Config struct {
	Prober       Prober
	Debounce     time.Duration
	ProbeTimeout time.Duration
	Notifier     notify.Notifier
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Monitor debounces raw signals and probes the backend once per quiet
// period. One Monitor is expected per process.
type Monitor struct {
	prober       Prober
	debounce     time.Duration
	probeTimeout time.Duration
	notifier     notify.Notifier
	clock        clock.Clock
	logger       *slog.Logger

	mu      sync.Mutex
	gen     uint64
	timer   *clock.Timer
	cancel  context.CancelFunc
	state   domain.ConnectivityState
	subs    map[int]chan Event
	nextSub int
	closed  bool

	probes atomic.Int64
}

// NewMonitor creates a Monitor that assumes the backend is reachable
// until a probe says otherwise.
func NewMonitor(cfg Config) *Monitor {
	m := &Monitor{
		prober:       cfg.Prober,
		debounce:     cfg.Debounce,
		probeTimeout: cfg.ProbeTimeout,
		notifier:     cfg.Notifier,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		subs:         make(map[int]chan Event),
	}
	if m.debounce <= 0 {
		m.debounce = DefaultDebounce
	}
	if m.probeTimeout <= 0 {
		m.probeTimeout = DefaultProbeTimeout
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.notifier == nil {
		m.notifier = notify.LogNotifier{Logger: m.logger}
	}
	if m.prober == nil {
		m.prober = ProberFunc(func(context.Context) error { return nil })
	}
	m.state = domain.ConnectivityState{IsOnline: true, LastTransitionAt: m.clock.Now()}
	return m
}

// Signal records a raw online/offline signal and restarts the debounce
// window. The value itself only matters for logging: the probe decides
// the settled status.
func (m *Monitor) Signal(online bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.stopLocked()
	m.mu.Unlock()

	m.logger.Debug("Raw connectivity signal", "online", online)
	timer := m.clock.AfterFunc(m.debounce, func() { m.settle(gen) })

	m.mu.Lock()
	if m.gen == gen && !m.closed {
		m.timer = timer
	}
	m.mu.Unlock()
}

// Start feeds signals from source into the monitor until ctx is done or
// source is closed.
func (m *Monitor) Start(ctx context.Context, source <-chan bool) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case online, ok := <-source:
				if !ok {
					return
				}
				m.Signal(online)
			}
		}
	}()
}

func (m *Monitor) settle(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	m.cancel = cancel
	m.mu.Unlock()

	m.probes.Add(1)
	err := m.prober.Probe(ctx)
	cancel()

	status := StatusConnected
	if err != nil {
		status = StatusDisconnected
	}
	m.publish(gen, Event{Status: status, At: m.clock.Now(), Err: err})
}

// publish drops ev when a newer window started while its probe ran.
func (m *Monitor) publish(gen uint64, ev Event) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		m.logger.Debug("Discarding superseded probe result", "status", ev.Status.String())
		return
	}
	m.cancel = nil
	online := ev.Status == StatusConnected
	if online != m.state.IsOnline {
		m.state = domain.ConnectivityState{IsOnline: online, LastTransitionAt: ev.At}
	}
	subs := make([]chan Event, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("Connectivity subscriber is full, dropping event", "status", ev.Status.String())
		}
	}

	n := notify.Notification{Topic: notify.TopicConnectivity, At: ev.At}
	if online {
		n.Level, n.Message = notify.LevelSuccess, "Connected to the server."
		m.logger.Info("Connectivity settled", "status", ev.Status.String())
	} else {
		n.Level, n.Message = notify.LevelError, "Server unreachable. You are offline."
		m.logger.Warn("Connectivity settled", "status", ev.Status.String(), "error", ev.Err)
	}
	m.notifier.Notify(n)
}

// Subscribe returns a channel of settled events and a function that
// removes the subscription.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, 16)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// State returns the last settled connectivity state.
func (m *Monitor) State() domain.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online is shorthand for State().IsOnline, for callers that want to
// skip a call that is bound to fail.
func (m *Monitor) Online() bool { return m.State().IsOnline }

// Probes returns how many probes have run.
func (m *Monitor) Probes() int64 { return m.probes.Load() }

// Close stops any pending probe and further events.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopLocked()
}

// stopLocked stops the pending debounce timer and aborts an in-flight
// probe. m.mu must be held.
func (m *Monitor) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
