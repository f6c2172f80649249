package taskqueue

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const maxAttempts = 5

// newRetryBackOff builds the exponential-backoff schedule spec §4.6
// requires: base 500ms, factor 2, jitter ±20%, capped at 30s.
func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 30 * time.Second
	return b
}

// nextRetryDelay returns the delay before attempt number attemptsSoFar+1,
// replaying a fresh backoff schedule forward rather than persisting backoff
// state on the task, since attempts is already the durable counter.
func nextRetryDelay(attemptsSoFar int) time.Duration {
	b := newRetryBackOff()
	var delay time.Duration
	for i := 0; i <= attemptsSoFar; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
