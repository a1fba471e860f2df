// SPDX-License-Identifier: GPL-3.0-or-later

// Package mpscq implements an unbounded, ordered, multi-producer,
// single-consumer queue with explicit producer and consumer lifetimes.
//
// Producers hold reference-counted [*Producer] handles. The consumer
// owns the [*Queue] and polls it using [*Queue.Ready] and [*Queue.Pop].
//
// Once the consumer calls [*Queue.Close], every further push fails
// with [ErrClosed]. Once every producer reference has been released,
// the consumer observes the closure using [*Queue.ProducersGone].
package mpscq

import (
	"errors"
	"sync"
)

// ErrClosed is returned when pushing to a closed queue or when
// using an already released [*Producer].
var ErrClosed = errors.New("mpscq: queue closed")

// Queue is an unbounded FIFO queue.
//
// Construct using [New].
type Queue[T any] struct {
	// closed indicates the consumer closed the queue.
	closed bool

	// items contains the queued items.
	items []T

	// mu provides mutual exclusion.
	mu sync.Mutex

	// producers is the number of live producer references.
	producers int

	// ready is signalled when items are available or producers are gone.
	ready chan struct{}

	// seenProducer records whether we ever had a producer, such that a
	// fresh queue is not considered abandoned.
	seenProducer bool
}

// New creates a new [*Queue] without producers.
func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// NewProducer returns a new producer reference.
//
// This method fails with [ErrClosed] if the consumer closed the queue.
func (q *Queue[T]) NewProducer() (*Producer[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	q.producers++
	q.seenProducer = true
	return &Producer[T]{q: q}, nil
}

// signalLocked wakes up the consumer, if needed.
//
// The caller must hold the mu lock.
func (q *Queue[T]) signalLocked() {
	select {
	case q.ready <- struct{}{}:
	default:
		// a wakeup is already pending
	}
}

// Ready returns a channel that receives a value when there may be
// items to pop or when all the producers have been released.
//
// After a wakeup, the consumer should call [*Queue.Pop] until it
// returns false and then check [*Queue.ProducersGone].
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Pop removes and returns the first item without blocking. The boolean
// is false when the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) <= 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 || (q.seenProducer && q.producers <= 0) {
		q.signalLocked()
	}
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ProducersGone returns true when the queue had producers, all of them
// have been released, and there are no items left to pop.
func (q *Queue[T]) ProducersGone() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seenProducer && q.producers <= 0 && len(q.items) <= 0
}

// Close closes the consumer side. Pending items are discarded and every
// subsequent push fails with [ErrClosed]. This method is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}

// push appends an item to the queue.
func (q *Queue[T]) push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.signalLocked()
	return nil
}

// release drops a producer reference.
func (q *Queue[T]) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.producers--
	if q.producers <= 0 {
		q.signalLocked()
	}
}

// Producer is a reference to the producer side of a [*Queue].
//
// A [*Producer] is safe for concurrent use by multiple goroutines.
//
// Construct using [*Queue.NewProducer] or [*Producer.Clone].
type Producer[T any] struct {
	// once ensures we release the reference just once.
	once sync.Once

	// q is the underlying queue.
	q *Queue[T]

	// released is set once the reference has been released.
	released bool

	// mu protects released.
	mu sync.RWMutex
}

// Push appends an item to the queue without blocking.
//
// This method fails with [ErrClosed] if the consumer closed the
// queue or if this producer reference has been released.
func (p *Producer[T]) Push(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.released {
		return ErrClosed
	}
	return p.q.push(item)
}

// Clone returns a new, independent producer reference.
func (p *Producer[T]) Clone() (*Producer[T], error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.released {
		return nil, ErrClosed
	}
	return p.q.NewProducer()
}

// Close releases this producer reference. This method is idempotent.
func (p *Producer[T]) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.released = true
		p.mu.Unlock()
		p.q.release()
	})
	return nil
}
