package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryBudget is the token bucket of spec.md §4.3: each successful call
// adds RetryBudgetRatio tokens (capped at max); each retry consumes one.
// When exhausted, retryable failures surface immediately instead of
// retrying further. Unlike golang.org/x/time/rate.Limiter this bucket
// refills on application events (a successful call), not on a timer, so
// it is a small hand-rolled counter rather than a reuse of that type.
type retryBudget struct {
	mu     sync.Mutex
	tokens float64
	max    float64
	ratio  float64
}

func newRetryBudget(max int, ratio float64) *retryBudget {
	return &retryBudget{tokens: float64(max), max: float64(max), ratio: ratio}
}

// take consumes one token for a retry attempt. Returns false when the
// budget is exhausted, meaning the caller must stop retrying.
func (b *retryBudget) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// onSuccess refills the budget by ratio tokens, capped at max (spec.md
// §4.3 "each successful call adds tokens").
func (b *retryBudget) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens += b.ratio
	if b.tokens > b.max {
		b.tokens = b.max
	}
}

// newBackoff builds the exponential-backoff schedule of spec.md §4.3:
// base 250ms, capped at 8s, ±25% jitter.
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 8 * time.Second
	b.RandomizationFactor = 0.25
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // the retry budget bounds attempts, not elapsed time
	return b
}

// retryable reports whether err (as classified into transport.Error by
// the caller) should consume a retry-budget token and be retried:
// network errors and 5xx, plus 429 per the conservative default chosen
// in DESIGN.md. 4xx (other than 429), decode errors and cancellation
// are not retryable.
func retryable(err error) bool {
	te, ok := err.(*Error)
	if !ok {
		return false
	}
	switch te.Kind {
	case KindNetwork:
		return !errors.Is(te.Err, context.Canceled)
	case KindServer:
		return te.Code == "429" || te.Code == "" || isServerFault(te.Code)
	default:
		return false
	}
}

func isServerFault(statusCode string) bool {
	return len(statusCode) == 3 && statusCode[0] == '5'
}
