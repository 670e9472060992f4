package retry

import (
	"context"
	"time"
)

// Wait blocks for d or until ctx is done, whichever comes first.
// The timer is stopped when ctx wins so nothing outlives the caller.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
