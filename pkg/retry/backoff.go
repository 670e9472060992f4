package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Default exponential backoff parameters used by the subscription sync loop.
const (
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 4 * time.Second
	DefaultMultiplier      = 2.0
)

// Strategy calculates the delay before a retry.
// Implementations must be safe for concurrent use.
type Strategy interface {
	// NextInterval returns the delay before the given retry. Attempt starts at 1.
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff grows the delay geometrically up to MaxInterval.
// Zero fields fall back to the package defaults; zero jitter is deterministic.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

// NextInterval returns min(InitialInterval * Multiplier^(attempt-1) * (1 ± JitterFactor), MaxInterval).
func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial <= 0 {
		initial = DefaultInitialInterval
	}

	maxInterval := e.MaxInterval
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}

	multiplier := e.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}

	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}

	return time.Duration(interval)
}

// FixedBackoff waits the same interval before every retry.
type FixedBackoff struct {
	Interval time.Duration
}

// NextInterval always returns Interval for positive attempts.
func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}

// DefaultStrategy returns 500ms doubling up to 4s without jitter.
func DefaultStrategy() Strategy {
	return ExponentialBackoff{
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
	}
}
