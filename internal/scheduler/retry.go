package scheduler

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy governs transient-error retries (spec §4.7.5: default 3
// retries, exponential backoff). MaxAttempts counts retries after the first
// call, so a node is invoked at most 1+MaxAttempts times. Grounded on the teacher's
// executor.RetryPolicy/calculateRetryDelay.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy is the spec's default: up to 3 retries, 1s initial
// delay doubling up to a 30s cap, with jitter to avoid thundering herds
// across concurrently retrying nodes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// delay computes the backoff before retry attempt number n (1-indexed).
func (p RetryPolicy) delay(n int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d += d * 0.1 * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
