package socket

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Frame is a partially-decoded wire event: the normalized name plus
// its raw JSON payload, handed to DecodeFunc for whatever AES-GCM/RSA
// decryption the event needs.
type Frame struct {
	Name string
	Data []byte
}

// DecodeFunc turns a Frame into a concrete Event. Supplied by the
// owning client, which holds the master keys; the socket package
// itself never sees key material. Returning (nil, nil) drops the frame
// without logging.
type DecodeFunc func(Frame) (Event, error)

// dispatcher decouples the WebSocket read loop from decryption and
// listener fan-out. Several frames can be decrypting concurrently, but
// listeners always observe them in wire order: out-of-order completions
// are held in a small reorder buffer keyed by sequence number until the
// next expected seq lands, mirroring the ordered-delivery guarantee
// filen-sdk-rs's socket task gives its subscribers.
type dispatcher struct {
	decode    DecodeFunc
	listeners *registry
	logger    *logrus.Logger
	workers   int

	in chan raw

	mu      sync.Mutex
	pending map[uint64]Event
	nextSeq uint64
}

func newDispatcher(workers int, decode DecodeFunc, listeners *registry, logger *logrus.Logger) *dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &dispatcher{
		decode:    decode,
		listeners: listeners,
		logger:    logger,
		workers:   workers,
		in:        make(chan raw, 256),
		pending:   make(map[uint64]Event),
	}
}

// run drains d.in until ctx is canceled or the channel is closed. Safe
// to call once per dispatcher lifetime; the caller owns closing d.in.
func (d *dispatcher) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			return d.worker(ctx)
		})
	}
	return g.Wait()
}

func (d *dispatcher) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-d.in:
			if !ok {
				return nil
			}
			if !d.listeners.interested(EventType(r.name)) {
				d.complete(r.seq, nil)
				continue
			}
			ev, err := d.decode(Frame{Name: r.name, Data: r.data})
			if err != nil {
				d.logger.WithError(err).WithField("event", r.name).Warn("socket: dropping undecodable event")
				d.complete(r.seq, nil)
				continue
			}
			d.complete(r.seq, ev)
		}
	}
}

// complete records a finished decode and flushes any run of
// consecutive sequence numbers now available, in order. A nil event
// (decode failure) still occupies its slot so the sequence doesn't
// stall waiting for it forever.
func (d *dispatcher) complete(seq uint64, ev Event) {
	d.mu.Lock()
	d.pending[seq] = ev
	var ready []Event
	for {
		e, ok := d.pending[d.nextSeq]
		if !ok {
			break
		}
		delete(d.pending, d.nextSeq)
		d.nextSeq++
		if e != nil {
			ready = append(ready, e)
		}
	}
	d.mu.Unlock()

	for _, e := range ready {
		d.listeners.dispatch(e)
	}
}

// submit enqueues a raw frame for decode-and-dispatch. seq must be
// assigned by the caller in strictly increasing wire-arrival order.
func (d *dispatcher) submit(r raw) {
	d.in <- r
}

func (d *dispatcher) close() {
	close(d.in)
}
