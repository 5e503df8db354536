package health

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff returns the delay before the given attempt (1-based):
// base * 2^(attempt-1), capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := NewExponential(base, max)
	d := base
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop || d > max {
		return max
	}
	return d
}

// NewExponential builds a deterministic doubling backoff that never stops
// on its own. Callers bound the number of attempts.
func NewExponential(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
