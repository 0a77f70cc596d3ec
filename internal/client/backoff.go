package client

import (
	"math/rand"
	"time"
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
		Jitter:       true,
	}
}

// NextDelay returns the reconnect delay for attempt N (1-based). Growth is
// geometric from InitialDelay, capped at MaxDelay; a multiplier below 1 is
// treated as flat. With Jitter the delay is scaled into [0.5x, 1.5x), or to a
// flat 0.5x when no rng is supplied.
func (c BackoffConfig) NextDelay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return c.InitialDelay
	}
	if c.InitialDelay <= 0 {
		return 0
	}
	mult := c.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}

	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if c.MaxDelay > 0 && delay >= float64(c.MaxDelay) {
			delay = float64(c.MaxDelay)
			break
		}
	}

	if c.Jitter {
		scale := 0.5
		if rng != nil {
			scale += rng.Float64()
		}
		delay *= scale
	}
	return time.Duration(delay)
}
