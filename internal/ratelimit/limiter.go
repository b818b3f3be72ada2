// Package ratelimit wraps golang.org/x/time/rate for the pipeline's
// two outbound pacing needs: the WS client's subscribe/unsubscribe/ping
// frames, and the alert engine's per-destination fan-out spacing.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces a stream of outbound operations to at most one per
// interval (or a configured rate), blocking the caller until a slot is
// available or the context is cancelled.
type Limiter struct {
	l *rate.Limiter
}

// NewPerInterval builds a limiter that permits eventsPerSecond
// operations per second with the given burst (raised to one if lower).
// The Alert Engine uses a rate of 1/spacing with a burst of one for its
// 100ms fan-out spacer.
func NewPerInterval(eventsPerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(eventsPerSecond), burst)}
}

// Wait blocks until the limiter permits the next operation or ctx is
// cancelled.
func (r *Limiter) Wait(ctx context.Context) error {
	return r.l.Wait(ctx)
}

// Allow reports whether an operation may proceed immediately, without
// blocking — used where the caller prefers to skip rather than wait.
func (r *Limiter) Allow() bool {
	return r.l.Allow()
}
