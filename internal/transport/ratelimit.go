package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// requestLimiter is the C3 layer 6 global token bucket (spec.md §4.3,
// default 64 req/s with a 1s window, i.e. burst == rate).
type requestLimiter struct {
	limiter *rate.Limiter
}

func newRequestLimiter(perSec int) *requestLimiter {
	return &requestLimiter{limiter: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (r *requestLimiter) wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
