package broadcast

import (
	"context"
	"time"
)

// Trim caps the journal at roughly maxLen entries and returns how many
// were removed.
func (r *RedisNotifier) Trim(ctx context.Context, maxLen int64) (int64, error) {
	return r.client.XTrimMaxLen(ctx, r.stream, maxLen).Result()
}

// StartTrimRoutine trims the journal every interval until ctx is done.
func (r *RedisNotifier) StartTrimRoutine(ctx context.Context, interval time.Duration, maxLen int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Starting journal trim routine", "interval", interval, "maxLen", maxLen)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := r.Trim(ctx, maxLen)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Error("Journal trim failed", "error", err)
				continue
			}
			if removed > 0 {
				r.logger.Debug("Trimmed outcome journal", "removed", removed)
			}
		}
	}
}
