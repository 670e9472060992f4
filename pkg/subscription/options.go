package subscription

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/lock"
)

// Metrics receives store events. pkg/metrics provides a Prometheus
// implementation.
type Metrics interface {
	Tracked(n int)
	SyncRetry()
	StaleDiscard(source string)
	Operation(op, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) Tracked(int) {}
func (noopMetrics) SyncRetry() {}
func (noopMetrics) StaleDiscard(string) {}
func (noopMetrics) Operation(string, string) {}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLocker sets the locker used for renew/cancel/checkout exclusion.
// Use lock.RedisLocker to extend exclusion across processes.
func WithLocker(l lock.Locker) Option {
	return func(s *Store) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(s *Store) {
		s.cfg = cfg
	}
}

// WithClock sets the time source for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPollInterval enables periodic resync of every tracked subscription.
// Zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		s.cfg.PollInterval = d
	}
}
