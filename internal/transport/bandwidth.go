package transport

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// bandwidthLimiter shapes the byte stream of an io.Reader to a
// configured kB/s ceiling (spec.md §4.3 layers 9/10). It wraps
// *rate.Limiter, spending tokens one-per-byte rather than one-per-call:
// a burst of kbPerSec*1024 tokens admits up to a second's worth of
// bytes in one go before the limiter starts spacing reads out.
type bandwidthLimiter struct {
	r       io.Reader
	ctx     context.Context
	limiter *rate.Limiter
}

// newBandwidthLimiter returns r unchanged if kbPerSec <= 0 (spec.md §6
// "default None, unlimited").
func newBandwidthLimiter(ctx context.Context, r io.Reader, kbPerSec int) io.Reader {
	if kbPerSec <= 0 {
		return r
	}
	bytesPerSec := kbPerSec * 1024
	burst := bytesPerSec
	if burst < maxReadChunk {
		burst = maxReadChunk
	}
	return &bandwidthLimiter{
		r:       r,
		ctx:     ctx,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
	}
}

// maxReadChunk is the burst floor and also caps the size of each Read,
// so a single read never exceeds the limiter's burst and trips WaitN's
// "exceeds limiter's burst" error.
const maxReadChunk = 64 * 1024

func (b *bandwidthLimiter) Read(p []byte) (int, error) {
	if len(p) > maxReadChunk {
		p = p[:maxReadChunk]
	}
	n, err := b.r.Read(p)
	if n > 0 {
		if werr := b.limiter.WaitN(b.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
