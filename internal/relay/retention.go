package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/wardline/internal/clock"
	"github.com/ashureev/wardline/internal/store"
)

// StartRetentionWorker runs a background goroutine that periodically
// deletes messages older than retention.
func StartRetentionWorker(ctx context.Context, repo store.Repository, clk clock.Clock, retention, interval time.Duration) {
	if clk == nil {
		clk = clock.Real()
	}
	ticker := clk.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweepExpiredMessages(ctx, repo, clk.Now().Add(-retention))
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredMessages(ctx context.Context, repo store.Repository, cutoff time.Time) {
	deleted, err := repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during sweep", "error", err)
			return
		}
		slog.Error("Retention worker failed to delete expired messages", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker deleted expired messages", "count", deleted, "cutoff", cutoff)
	}
}
