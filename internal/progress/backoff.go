package progress

import (
	"math/rand/v2"
	"time"

	"github.com/slok/ocrtrack/internal/model"
)

// DefaultReconnectDelay is the wait before reconnecting a dropped channel.
const DefaultReconnectDelay = 3 * time.Second

// ReconnectPolicy returns the wait before a reconnection attempt.
// attempt starts at 0 and is reset after every successful connection.
type ReconnectPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same interval before every attempt.
type FixedBackoff struct {
	Interval time.Duration
}

func (f FixedBackoff) Delay(int) time.Duration {
	if f.Interval <= 0 {
		return DefaultReconnectDelay
	}
	return f.Interval
}

// ExponentialBackoff doubles the wait on every attempt up to Max, with a random
// jitter of +-Jitter (0..1) of the delay.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// Rand returns a number in [0, 1), defaults to math/rand.
	Rand func() float64
}

func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	base := e.Base
	if base <= 0 {
		base = DefaultReconnectDelay
	}
	maxDelay := e.Max
	if maxDelay <= 0 {
		maxDelay = 10 * base
	}

	delay := maxDelay
	if attempt < 32 {
		if d := base * time.Duration(1<<uint(attempt)); d > 0 && d < maxDelay {
			delay = d
		}
	}

	if e.Jitter <= 0 {
		return delay
	}

	rnd := e.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	jitter := min(e.Jitter, 1)
	factor := 1 - jitter + 2*jitter*rnd()
	return time.Duration(float64(delay) * factor)
}

// NewReconnectPolicy returns the policy for a reconnection configuration.
func NewReconnectPolicy(cfg model.ReconnectConfig) ReconnectPolicy {
	if cfg.Strategy == model.ReconnectStrategyExponential {
		return ExponentialBackoff{Base: cfg.Delay, Max: cfg.MaxDelay, Jitter: cfg.Jitter}
	}
	return FixedBackoff{Interval: cfg.Delay}
}
