// Package queue implements the unbounded FIFO queues used as the bot's inbox
// and outbox. Push never blocks the producer; Pop blocks the consumer until
// an item is available, the queue is closed, or the context is done.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close, and by Pop once a closed queue
// has been drained.
var ErrClosed = errors.New("queue: closed")

// Queue is an unbounded, ordered, concurrency-safe queue.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// ready holds at most one wake-up token. Consumers recheck items after
	// every wake-up, so a stale token only costs one extra loop.
	ready chan struct{}
	done  chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends v to the tail of the queue.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Pop removes and returns the head of the queue, blocking until one is
// available. Items pushed before Close are still returned; after that Pop
// returns ErrClosed. A done context returns ctx.Err().
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok, err := q.tryPop(); ok || err != nil {
			return v, err
		}
		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop removes and returns the head of the queue without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	v, ok, _ := q.tryPop()
	return v, ok
}

func (q *Queue[T]) tryPop() (T, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		if q.closed {
			return zero, false, ErrClosed
		}
		return zero, false, nil
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	} else {
		// Wake another consumer for the remaining items.
		q.signal()
	}
	return v, true, nil
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting new items and wakes every blocked consumer.
// Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
