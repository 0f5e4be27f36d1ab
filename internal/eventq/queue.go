// Package eventq provides the non-blocking queues that connect the client's
// concurrent activities: an unbounded FIFO with a channel face and a
// multi-subscriber broadcaster built on top of it.
package eventq

import "sync"

// Queue is an unbounded FIFO. Push never blocks; values come out of C in
// push order. Memory grows with a slow consumer, callers monitor Len.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	notify chan struct{}
	stop   chan struct{}
	once   sync.Once
	out    chan T
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		out:    make(chan T),
	}
	go q.pump()
	return q
}

// Push appends v. It reports false once the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// C is closed after Close once every queued value has been received,
// or right away after Stop.
func (q *Queue[T]) C() <-chan T { return q.out }

// Len is the number of values not yet handed to the consumer.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting values; queued values are still delivered.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Stop closes the queue and drops whatever is still queued.
func (q *Queue[T]) Stop() {
	q.Close()
	q.once.Do(func() { close(q.stop) })
}

func (q *Queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) pump() {
	defer close(q.out)
	var zero T
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.mu.Unlock()
			select {
			case <-q.notify:
			case <-q.stop:
				return
			}
			q.mu.Lock()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		v := q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- v:
		case <-q.stop:
			return
		}
	}
}
