package flux

import (
	"context"
	"errors"
	"sync/atomic"

	"cryptoSpotBot/internal/domain"
)

var (
	// ErrQueueFull is reported when the consumer cannot keep up with the
	// polling rate and the tick buffer overflows.
	ErrQueueFull = errors.New("tick queue full")
	// ErrQueueClosed is reported when publishing after shutdown.
	ErrQueueClosed = errors.New("tick queue closed")
)

// tickQueue is a bounded, non-blocking buffer between the poller and the
// dispatcher. The poller must never block on a slow consumer; overflowing
// instead surfaces the backlog as an error.
type tickQueue struct {
	ch     chan []domain.Tick
	closed atomic.Bool
}

func newTickQueue(capacity int) *tickQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &tickQueue{ch: make(chan []domain.Tick, capacity)}
}

// tryPublish enqueues a tick batch without blocking.
func (q *tickQueue) tryPublish(batch []domain.Tick) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- batch:
		return nil
	default:
		return ErrQueueFull
	}
}

// close stops the queue from accepting new batches. Only the publisher may
// call it, after it has stopped publishing.
func (q *tickQueue) close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

// run consumes batches until the context is done or the queue is closed,
// invoking the handler synchronously so batch order is preserved.
func (q *tickQueue) run(ctx context.Context, handler func([]domain.Tick)) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-q.ch:
			if !ok {
				return
			}
			handler(batch)
		}
	}
}
