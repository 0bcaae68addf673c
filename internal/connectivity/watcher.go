package connectivity

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/ashureev/wardline/internal/clock"
)

// DefaultWatchInterval is how often InterfaceWatcher polls.
const DefaultWatchInterval = 2 * time.Second

// InterfaceWatcher reports whether the host has a usable network
// interface. It is the raw, unconfirmed signal fed to a Monitor.
type InterfaceWatcher struct {
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	check    func() (bool, error)
}

// NewInterfaceWatcher polls the host interfaces every interval.
func NewInterfaceWatcher(clk clock.Clock, interval time.Duration, logger *slog.Logger) *InterfaceWatcher {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InterfaceWatcher{interval: interval, clock: clk, logger: logger, check: hasUsableInterface}
}

// Watch emits the new value every time interface availability flips.
// The channel is closed when ctx is done.
func (w *InterfaceWatcher) Watch(ctx context.Context) <-chan bool {
	out := make(chan bool, 1)
	last, err := w.check()
	if err != nil {
		w.logger.Warn("Failed to list network interfaces", "error", err)
	}
	ticker := w.clock.NewTicker(w.interval)

	go func() {
		defer close(out)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				up, err := w.check()
				if err != nil {
					w.logger.Warn("Failed to list network interfaces", "error", err)
					continue
				}
				if up == last {
					continue
				}
				last = up
				select {
				case out <- up:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func hasUsableInterface() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if len(addrs) > 0 {
			return true, nil
		}
	}
	return false, nil
}
