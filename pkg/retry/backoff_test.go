package retry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/retry"
)

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		backoff  retry.ExponentialBackoff
		attempts []int
		want     []time.Duration
	}{
		{
			name:     "default values",
			backoff:  retry.ExponentialBackoff{},
			attempts: []int{1, 2, 3, 4, 5},
			want: []time.Duration{
				500 * time.Millisecond,
				time.Second,
				2 * time.Second,
				4 * time.Second,
				4 * time.Second, // capped
			},
		},
		{
			name: "custom values with max cap",
			backoff: retry.ExponentialBackoff{
				InitialInterval: 100 * time.Millisecond,
				MaxInterval:     time.Second,
				Multiplier:      3,
			},
			attempts: []int{1, 2, 3, 4},
			want: []time.Duration{
				100 * time.Millisecond,
				300 * time.Millisecond,
				900 * time.Millisecond,
				time.Second,
			},
		},
		{
			name:     "zero attempt returns zero",
			backoff:  retry.ExponentialBackoff{},
			attempts: []int{0, -1},
			want:     []time.Duration{0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, len(tt.attempts), len(tt.want), "test setup error")

			for i, attempt := range tt.attempts {
				assert.Equal(t, tt.want[i], tt.backoff.NextInterval(attempt), "attempt %d", attempt)
			}
		})
	}
}

func TestExponentialBackoffJitter(t *testing.T) {
	t.Parallel()

	b := retry.ExponentialBackoff{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		JitterFactor:    0.5,
	}

	for range 100 {
		got := b.NextInterval(1)
		assert.GreaterOrEqual(t, got, 500*time.Millisecond)
		assert.LessOrEqual(t, got, 1500*time.Millisecond)
	}
}

func TestFixedBackoff(t *testing.T) {
	t.Parallel()

	b := retry.FixedBackoff{Interval: 250 * time.Millisecond}
	assert.Equal(t, time.Duration(0), b.NextInterval(0))
	assert.Equal(t, 250*time.Millisecond, b.NextInterval(1))
	assert.Equal(t, 250*time.Millisecond, b.NextInterval(10))
}

func TestDefaultStrategy(t *testing.T) {
	t.Parallel()

	s := retry.DefaultStrategy()
	assert.Equal(t, 500*time.Millisecond, s.NextInterval(1))
	assert.Equal(t, time.Second, s.NextInterval(2))
	assert.Equal(t, 2*time.Second, s.NextInterval(3))
}
