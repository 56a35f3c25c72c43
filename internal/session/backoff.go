package session

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffDelay returns base * 2^attempt, the wait after the zero-indexed
// attempt-th failure.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	return cappedBackoff(base, 0, attempt)
}

// cappedBackoff is BackoffDelay limited to max. A max of zero means no limit.
func cappedBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 0 {
		return 0
	}
	if max <= 0 {
		max = time.Duration(math.MaxInt64)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempt && delay < max; i++ {
		delay = b.NextBackOff()
	}
	if delay > max {
		return max
	}
	return delay
}
