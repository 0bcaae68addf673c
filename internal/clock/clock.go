// Package clock lets timer-driven code (backoff waits, debounce windows,
// notification suppression) run against a fake time source in tests.
package clock

import "time"

// Clock is the subset of the time package used by the pipeline, the
// connectivity monitor and the chat channel.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) *Timer
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop cancels the pending call. It reports false if the call already
// ran or was stopped before.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers ticks on C until stopped.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }
