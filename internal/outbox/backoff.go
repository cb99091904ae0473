package outbox

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// backoffDelay returns the wait before the next attempt after attempt failures:
// base, 2*base, 4*base, ... capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max < base {
		max = base
	}
	if attempt < 1 {
		attempt = 1
	}

	b := retry.WithCappedDuration(max, retry.NewExponential(base))
	delay := base
	for i := 0; i < attempt; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		delay = next
	}
	return delay
}
