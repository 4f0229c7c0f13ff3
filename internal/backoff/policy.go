// Package backoff provides exponential backoff utilities for retrying
// transient provider failures.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor is the exponential factor applied per attempt.
	Factor float64

	// Jitter is the randomization factor (0.0 to 1.0) added on top of
	// the base delay. Zero yields deterministic delays.
	Jitter float64
}

// Delay calculates the backoff duration for a given attempt number.
// Attempt numbers start at 1. The formula is
// min(Max, Initial*Factor^(attempt-1) + jitter).
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand calculates the backoff duration using a provided random
// value in [0.0, 1.0). Tests use it for deterministic results.
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * randomValue
	total := math.Min(float64(p.Max), base+jitter)
	return time.Duration(total)
}

// Pipeline returns the retry policy for the message-processing pipeline:
// 2s, 4s, 8s, capped at 10s, no jitter. Deterministic so operators can
// predict retry timing from logs.
func Pipeline() Policy {
	return Policy{
		Initial: 2 * time.Second,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0,
	}
}
