package pubsub

import (
	"context"
	"math"
	"time"
)

// Backoff computes bounded exponential reconnect delays.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// Delay returns the wait before the given zero-based attempt: Base*Factor^attempt, capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	base, maxDelay, factor := b.Base, b.Max, b.Factor
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if maxDelay < base {
		maxDelay = base
	}
	if factor < 1 {
		factor = 1
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(base) * math.Pow(factor, float64(attempt))
	if math.IsInf(delay, 0) || delay >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}

// sleepContext waits for d or until ctx is done. It reports whether the full delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
