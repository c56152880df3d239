package utils

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewExponentialBackoff creates the retry schedule used by source
// supervisors: base*2^attempt with jitter, capped at max. MaxElapsedTime
// is zero because supervisors retry until explicitly stopped.
func NewExponentialBackoff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.25
	return b
}
