// Package retry implements an exponential-backoff-with-jitter policy
// (§5 "Cancellation and timeouts", §7 "Transient network"); its only user
// is internal/gatewayclient's payment RPCs. It is generalized from the fixed-threshold
// consecutive-failure counting torua's health monitor uses.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes a bounded exponential backoff schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default is a sane policy for inter-process RPCs: up to 4 attempts,
// starting at 50ms and capping at 2s.
var Default = Policy{MaxAttempts: 4, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}

// Delay returns the backoff delay before attempt n (0-indexed), with up to
// 20% jitter applied so concurrent retriers don't synchronize.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}

// Do invokes fn up to p.MaxAttempts times, sleeping between attempts per
// Delay, until fn returns nil or the context is cancelled. The last error
// is returned if every attempt fails.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
