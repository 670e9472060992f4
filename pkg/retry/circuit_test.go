package retry_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingsync/pkg/retry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	t.Parallel()

	t.Run("closed to open", func(t *testing.T) {
		t.Parallel()

		cb := retry.NewCircuitBreaker(2, 1, time.Minute)
		assert.Equal(t, retry.CircuitClosed, cb.State())
		assert.True(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, retry.CircuitClosed, cb.State())

		cb.RecordFailure()
		assert.Equal(t, retry.CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("open to half-open to closed", func(t *testing.T) {
		t.Parallel()

		clock := &fakeClock{now: time.Unix(0, 0)}
		cb := retry.NewCircuitBreaker(1, 2, time.Second, retry.WithCircuitClock(clock.Now))

		cb.RecordFailure()
		assert.False(t, cb.Allow())

		clock.Advance(2 * time.Second)
		assert.Equal(t, retry.CircuitHalfOpen, cb.State())
		assert.True(t, cb.Allow())

		cb.RecordSuccess()
		assert.Equal(t, retry.CircuitHalfOpen, cb.State())
		cb.RecordSuccess()
		assert.Equal(t, retry.CircuitClosed, cb.State())
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		t.Parallel()

		clock := &fakeClock{now: time.Unix(0, 0)}
		cb := retry.NewCircuitBreaker(1, 1, time.Second, retry.WithCircuitClock(clock.Now))

		cb.RecordFailure()
		clock.Advance(2 * time.Second)
		assert.True(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, retry.CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("success resets failure count while closed", func(t *testing.T) {
		t.Parallel()

		cb := retry.NewCircuitBreaker(2, 1, time.Minute)
		cb.RecordFailure()
		cb.RecordSuccess()
		cb.RecordFailure()
		assert.Equal(t, retry.CircuitClosed, cb.State())
	})
}

func TestCircuitBreaker_ResetAndStats(t *testing.T) {
	t.Parallel()

	cb := retry.NewCircuitBreaker(1, 1, time.Minute)
	cb.RecordFailure()

	stats := cb.Stats()
	assert.Equal(t, "open", stats.State)
	assert.Equal(t, 1, stats.Failures)
	assert.False(t, stats.LastFailureTime.IsZero())

	cb.Reset()
	assert.Equal(t, retry.CircuitClosed, cb.State())
	assert.Equal(t, retry.CircuitStats{State: "closed"}, cb.Stats())
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	t.Parallel()

	cb := retry.NewCircuitBreaker(1000, 1, time.Minute)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				cb.Allow()
				cb.RecordFailure()
				cb.RecordSuccess()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, retry.CircuitClosed, cb.State())
}

func TestIsCircuitOpen(t *testing.T) {
	t.Parallel()

	assert.True(t, retry.IsCircuitOpen(retry.ErrCircuitOpen))
	assert.False(t, retry.IsCircuitOpen(assert.AnError))
}
