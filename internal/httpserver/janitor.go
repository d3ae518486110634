package httpserver

import (
	"context"
	"log/slog"
	"time"

	"burnbin/internal/metrics"
	"burnbin/internal/storage"
)

// StartJanitor launches a background janitor that purges pastes which can
// no longer be served: past their expiry or out of views.
func StartJanitor(ctx context.Context, store storage.Store, interval time.Duration, now func() time.Time, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cleanOnce(ctx, store, now(), logger)
			}
		}
	}()
}

func cleanOnce(ctx context.Context, store storage.Store, now time.Time, logger *slog.Logger) int {
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	removed, err := store.DeleteExpired(c, now)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("purge").Inc()
		if logger != nil {
			logger.Error("janitor error", "error", err)
		}
		return 0
	}
	if removed > 0 {
		metrics.JanitorRemoved.Add(float64(removed))
		if logger != nil {
			logger.Info("janitor removed dead pastes", "count", removed)
		}
	}
	return removed
}
