package relay

import (
	"fmt"
	"time"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"lukechampine.com/frand"
)

const (
	backoffInitial  = 500 * time.Millisecond
	backoffCeiling  = 30 * time.Second
	backoffAttempts = 6
)

// nextBackoff doubles the delay up to the ceiling and adds up to 25% jitter
// so a fleet of clients doesn't reconnect in lockstep.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffCeiling {
		d = backoffCeiling
	}
	return d + time.Duration(frand.Intn(int(d/4)+1))
}

// ConnectWithBackoff dials the relay, retrying with exponential backoff on
// failure. It gives up after a bounded number of attempts; longer-period
// retries against a down relay are the pool's job, not the session's.
func ConnectWithBackoff(c context.T, url string, opts ...Option) (r *T,
	err error) {

	delay := backoffInitial
	for i := 0; i < backoffAttempts; i++ {
		if r, err = Connect(c, url, opts...); err == nil {
			return
		}
		log.D.F("{%s} connect attempt %d failed: %v; retrying in %v",
			url, i+1, err, delay)
		select {
		case <-time.After(delay):
		case <-c.Done():
			return nil, c.Err()
		}
		delay = nextBackoff(delay)
	}
	return nil, fmt.Errorf("giving up on %s after %d attempts: %w",
		url, backoffAttempts, err)
}
