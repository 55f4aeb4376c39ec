package client

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultJitter      = 0.2
	DefaultMaxAttempts = 8
	DefaultLongDelay   = 2 * time.Minute
)

// Backoff computes reconnect delays: min(Max, Base*2^(attempt-1)) spread
// uniformly by ±Jitter.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      float64
	MaxAttempts int
	LongDelay   time.Duration
	// Rand returns a value in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:        DefaultBaseDelay,
		Max:         DefaultMaxDelay,
		Jitter:      DefaultJitter,
		MaxAttempts: DefaultMaxAttempts,
		LongDelay:   DefaultLongDelay,
	}
}

// Nominal is the un-jittered delay for attempt (1-based).
func (b Backoff) Nominal(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return min(d, b.Max)
}

// Delay is Nominal with jitter applied, never negative.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Nominal(attempt)
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	spread := float64(d) * b.Jitter
	out := time.Duration(float64(d) + (2*r()-1)*spread)
	return max(out, 0)
}
