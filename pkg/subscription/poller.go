package subscription

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// ResyncAll refreshes every tracked subscription, running at most
// Config.PollConcurrency fetches at a time. Per-id failures are surfaced on
// the records, so ResyncAll only fails when ctx is done.
func (s *Store) ResyncAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PollConcurrency)

	for _, id := range s.Tracked() {
		g.Go(func() error {
			_, err := s.Resync(gctx, id)
			switch {
			case err == nil, errors.Is(err, ErrNotTracked), errors.Is(err, ErrStoreClosed):
				return nil
			case IsCancelled(err):
				return gctx.Err()
			default:
				s.log.DebugContext(gctx, "poll resync failed", logger.SubscriptionID(id), logger.Error(err))
				return nil
			}
		})
	}

	return g.Wait()
}

func (s *Store) poll(ctx context.Context, every time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ResyncAll(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("poll failed", logger.Error(err))
			}
		}
	}
}
