package pipeline

import (
	"sync"
	"time"

	"github.com/ashureev/wardline/internal/clock"
)

// DefaultNotificationWindow is how long the "retrying" notification
// stays suppressed after one has been shown.
const DefaultNotificationWindow = 3 * time.Second

// RetryCoordinator bounds "retrying" notifications to one per window,
// however many requests are retrying at once. Each pipeline owns one.
type RetryCoordinator struct {
	clock  clock.Clock
	window time.Duration

	mu     sync.Mutex
	active bool
	gen    uint64
	timer  *clock.Timer
}

// NewRetryCoordinator creates a coordinator. A nil clock means the real clock.
func NewRetryCoordinator(clk clock.Clock, window time.Duration) *RetryCoordinator {
	if clk == nil {
		clk = clock.Real()
	}
	if window <= 0 {
		window = DefaultNotificationWindow
	}
	return &RetryCoordinator{clock: clk, window: window}
}

// TryBeginNotification reports whether the caller should show the
// notification. The first caller in a window wins and arms the timer that
// reopens the window.
func (c *RetryCoordinator) TryBeginNotification() bool {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return false
	}
	c.active = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	timer := c.clock.AfterFunc(c.window, func() { c.expire(gen) })

	c.mu.Lock()
	if c.gen == gen && c.active {
		c.timer = timer
	}
	c.mu.Unlock()
	return true
}

// expire clears the flag only if no newer window has started since.
func (c *RetryCoordinator) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.active = false
	c.timer = nil
}

// Clear reopens the window immediately.
func (c *RetryCoordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.active = false
	c.gen++
}

// Suppressing reports whether a notification was shown within the
// current window.
func (c *RetryCoordinator) Suppressing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
