package rpc

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// newBackoff builds an exponential backoff starting at delay, randomised by jitter, that
// stops after the given number of retries.
func newBackoff(retries int, delay, jitter time.Duration) retry.Backoff {
	var backoff retry.Backoff
	if delay > 0 {
		backoff = retry.NewExponential(delay)
	} else {
		backoff = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
	if jitter > 0 && delay > 0 {
		backoff = retry.WithJitter(jitter, backoff)
	}
	return retry.WithMaxRetries(uint64(max(retries, 0)), backoff)
}
