// Package ratelimit implements the distributed fixed-window token bucket
// described in the delivery pipeline's rate limiting contract: a shared
// counter keyed by (namespace, window) incremented atomically across
// replicas via a single Redis round trip.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caseyvance/webhookrelay/internal/tracing"
)

// ErrRateLimited is returned when acquire could not get a token before timeout.
var ErrRateLimited = errors.New("ratelimit: rate limited")

// acquireScript atomically increments the counter for the current window and
// sets its expiry on first increment, returning the post-increment value.
// Using PEXPIRE only on the first write (when the key was just created) keeps
// the TTL from being pushed out by every subsequent increment in the window.
var acquireScript = redis.NewScript(`
local v = redis.call("INCR", KEYS[1])
if v == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return v
`)

// Limiter is C2, a distributed token bucket refilled R tokens/second.
type Limiter struct {
	client    *redis.Client
	namespace string
	rate      int
}

// New returns a Limiter with capacity/refill rate tokens per second, keyed
// under namespace (typically the downstream identity).
func New(client *redis.Client, namespace string, ratePerSecond int) *Limiter {
	return &Limiter{client: client, namespace: namespace, rate: ratePerSecond}
}

// Acquire attempts to consume one token. It computes the current 1-second
// window, atomically increments the window's counter, and succeeds
// immediately if the post-increment value is within the rate. Otherwise it
// sleeps until the next window boundary and retries, failing with
// ErrRateLimited if timeout would be exceeded first.
func (l *Limiter) Acquire(ctx context.Context, now time.Time, timeout time.Duration) error {
	ctx, span := tracing.StartSpan(ctx, "ratelimit.Acquire")
	defer span.End()

	deadline := now.Add(timeout)
	cur := now

	for {
		window := cur.Unix()
		key := fmt.Sprintf("ratelimit:{%s}:%d", l.namespace, window)

		v, err := acquireScript.Run(ctx, l.client, []string{key}, int64(2*time.Second/time.Millisecond)).Int64()
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return fmt.Errorf("ratelimit incr: %w", err)
		}

		if v <= int64(l.rate) {
			return nil
		}

		nextWindow := time.Unix(window+1, 0)
		if nextWindow.After(deadline) {
			return ErrRateLimited
		}

		wait := nextWindow.Sub(cur)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		cur = nextWindow
	}
}
