package evp

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO hand-off between publishers and a single consumer.
// It lives in memory only: whatever is still queued when the process stops is
// lost.
type Queue struct {
	items     chan *Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Queue{
		items: make(chan *Envelope, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue appends the envelope, blocking while the queue is full. It returns
// ErrQueueClosed once the queue has been closed, or the context error if ctx
// is cancelled while waiting for capacity.
func (q *Queue) Enqueue(ctx context.Context, env *Envelope) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	return q.send(ctx, env)
}

// send blocks until env is accepted. When a Close races with the send the
// queue is reported closed, since Close discards whatever is still queued.
func (q *Queue) send(ctx context.Context, env *Envelope) error {
	select {
	case q.items <- env:
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
		return nil
	}
}

// Dequeue blocks until an envelope is available. The boolean is false when the
// queue was closed or ctx cancelled; that is a terminal signal, not an error.
func (q *Queue) Dequeue(ctx context.Context) (*Envelope, bool) {
	select {
	case <-q.done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	default:
	}
	select {
	case env := <-q.items:
		return env, true
	case <-q.done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Close shuts the queue down. Blocked producers and the consumer are released
// and the remaining items are discarded.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}
