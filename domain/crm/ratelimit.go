package crm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces provider calls at least delay apart. It does not look
// at the outcome of previous calls.
type RateLimiter struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// NewRateLimiter creates a limiter with a fixed inter-call delay. A
// non-positive delay disables limiting.
func NewRateLimiter(delay time.Duration) *RateLimiter {
	if delay <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		delay:   delay,
	}
}

// Wait blocks until the next call may proceed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Delay returns the configured inter-call delay.
func (r *RateLimiter) Delay() time.Duration {
	return r.delay
}
