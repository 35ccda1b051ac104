package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoffWithMaxElapsed builds a capped exponential policy that
// gives up after maxElapsed. Used for broker connects where the caller wants
// a bounded startup rather than an open-ended retry loop.
func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}
