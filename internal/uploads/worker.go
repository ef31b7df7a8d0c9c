package uploads

import (
	"context"
	"time"
)

// DefaultCleanupInterval is how often finished tasks and orphans are swept.
const DefaultCleanupInterval = 10 * time.Minute

// StartCleanupWorker periodically removes terminal tasks that finished more than
// retention ago and purges durable entries that lost their payload. It blocks until
// ctx is done; run it in its own goroutine.
func StartCleanupWorker(ctx context.Context, m *Manager, interval, retention time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("upload cleanup worker started", "interval", interval, "retention", retention)

	// First pass right away, then on every tick
	runCleanup(ctx, m, retention)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("upload cleanup worker shutting down")
			return
		case <-ticker.C:
			runCleanup(ctx, m, retention)
		}
	}
}

// runCleanup performs one cleanup pass.
func runCleanup(ctx context.Context, m *Manager, retention time.Duration) (cleared, purged int) {
	start := time.Now()
	cleared = m.ClearCompletedBefore(m.now().Add(-retention))
	purged = m.SweepOrphans(ctx)
	duration := time.Since(start)

	if cleared > 0 || purged > 0 {
		m.logger.Info("upload cleanup completed", "cleared_uploads", cleared, "purged_orphans", purged, "duration", duration)
	} else {
		m.logger.Debug("upload cleanup completed", "cleared_uploads", cleared, "purged_orphans", purged, "duration", duration)
	}
	return cleared, purged
}
