// Package ratelimit tracks per-conversation message volume for the anti-spam
// pipeline stage.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Config bounds message volume per conversation within a rolling window.
type Config struct {
	Threshold int
	Window    time.Duration
}

// WithDefaults fills unset fields with safe values.
func (c Config) WithDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 10
	}
	if c.Window <= 0 {
		c.Window = 30 * time.Second
	}
	return c
}

// Decision is the outcome of recording one message against a conversation.
// FirstViolation is true only for the first over-threshold message in a
// window, so a flood triggers exactly one warning.
type Decision struct {
	Allowed        bool
	FirstViolation bool
}

type windowState struct {
	start  time.Time
	count  int
	warned bool
}

// Limiter counts messages per conversation in fixed rolling windows.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string]windowState
}

func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg.WithDefaults(),
		windows: make(map[string]windowState),
	}
}

// Record counts one message from remoteID at the given instant and reports
// whether it is allowed through.
func (l *Limiter) Record(remoteID string, at time.Time) Decision {
	key := strings.TrimSpace(remoteID)
	if key == "" {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.windows[key]
	if !ok || at.Sub(state.start) >= l.cfg.Window {
		state = windowState{start: at}
	}
	state.count++

	allowed := state.count <= l.cfg.Threshold
	first := false
	if !allowed && !state.warned {
		state.warned = true
		first = true
	}
	l.windows[key] = state
	return Decision{Allowed: allowed, FirstViolation: first}
}
