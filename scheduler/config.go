package scheduler

import (
	"math"
	"math/rand"
	"time"
)

// Config controls concurrency, retries and pacing.
type Config struct {
	// Concurrency is the maximum number of items executing at once.
	Concurrency int
	// MaxAttempts is the maximum number of attempts per item, the initial
	// attempt included. A value of 0 or 1 means no retries.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the backoff grows after each retry.
	BackoffMultiplier float64
	// Jitter adds up to ±Jitter of randomness to each backoff (0.1 = 10%).
	Jitter float64
	// AttemptTimeout bounds a single responder call. Zero disables the
	// per-attempt deadline.
	AttemptTimeout time.Duration
	// RequestsPerSecond paces attempt starts with a token bucket. Zero disables pacing.
	RequestsPerSecond float64
	// Burst is the token bucket size; defaults to Concurrency.
	Burst int
}

// DefaultConfig returns the scheduler defaults: three attempts with a one
// second initial backoff doubling per retry.
func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		AttemptTimeout:    60 * time.Second,
	}
}

// Backoff computes the delay after the given failed attempt (1-based):
// initial * multiplier^(attempt-1), capped at MaxBackoff, then jittered.
func (c Config) Backoff(attempt int, rnd func() float64) time.Duration {
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}

	backoff := float64(c.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if c.MaxBackoff > 0 && backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}

	if c.Jitter > 0 {
		if rnd == nil {
			rnd = rand.Float64 //nolint:gosec // jitter doesn't need crypto rand
		}
		backoff += backoff * c.Jitter * (rnd()*2 - 1)
	}

	if backoff < 0 {
		return 0
	}

	return time.Duration(backoff)
}
