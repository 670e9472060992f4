package subscription

import (
	"time"

	"github.com/dmitrymomot/billingsync/pkg/retry"
)

// Config holds the store's tunables.
type Config struct {
	GatewayTimeout  time.Duration `env:"BILLING_GATEWAY_TIMEOUT" envDefault:"10s"`
	MaxRetries      int           `env:"BILLING_SYNC_MAX_RETRIES" envDefault:"3"`
	BackoffBase     time.Duration `env:"BILLING_SYNC_BACKOFF_BASE" envDefault:"500ms"`
	BackoffMax      time.Duration `env:"BILLING_SYNC_BACKOFF_MAX" envDefault:"4s"`
	BackoffFactor   float64       `env:"BILLING_SYNC_BACKOFF_FACTOR" envDefault:"2"`
	LockTTL         time.Duration `env:"BILLING_LOCK_TTL" envDefault:"30s"`
	PollInterval    time.Duration `env:"BILLING_POLL_INTERVAL" envDefault:"0s"`
	PollConcurrency int           `env:"BILLING_POLL_CONCURRENCY" envDefault:"8"`
}

// DefaultConfig returns the values used when no WithConfig option is given.
func DefaultConfig() Config {
	return Config{
		GatewayTimeout:  10 * time.Second,
		MaxRetries:      3,
		BackoffBase:     retry.DefaultInitialInterval,
		BackoffMax:      retry.DefaultMaxInterval,
		BackoffFactor:   retry.DefaultMultiplier,
		LockTTL:         30 * time.Second,
		PollConcurrency: 8,
	}
}

// normalize replaces zero and negative values with defaults.
// MaxRetries of zero is kept: it disables retries.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = def.GatewayTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = def.BackoffMax
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.LockTTL < c.GatewayTimeout {
		c.LockTTL = 3 * c.GatewayTimeout
	}
	if c.PollInterval < 0 {
		c.PollInterval = 0
	}
	if c.PollConcurrency <= 0 {
		c.PollConcurrency = def.PollConcurrency
	}
	return c
}

func (c Config) backoff() retry.Strategy {
	return retry.ExponentialBackoff{
		InitialInterval: c.BackoffBase,
		MaxInterval:     c.BackoffMax,
		Multiplier:      c.BackoffFactor,
	}
}
