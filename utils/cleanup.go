package utils

import (
	"context"
	"time"
)

// StartCleaner launches a background goroutine that calls sweep every interval until ctx is done.
// It is best-effort and logs failures.
func StartCleaner(ctx context.Context, name string, interval time.Duration, sweep func() (int, error)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			removed, err := sweep()
			if err != nil {
				Sugar.Warnf("%s cleaner failed: %v", name, err)
				continue
			}
			if removed > 0 {
				Sugar.Infof("%s cleaner removed %d entries", name, removed)
			}
		}
	}()
}
