package revocation

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper calls store.Sweep every interval until ctx is cancelled. onSweep,
// when non-nil, receives the number of entries removed by each pass.
func RunSweeper(ctx context.Context, store Store, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Sweep(ctx, now)
			if err != nil {
				slog.Warn("revocation sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Debug("revocation sweep", "removed", removed)
			}
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}
