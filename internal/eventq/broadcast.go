package eventq

import "sync"

// Broadcaster fans every published value out to all subscribers. Each
// subscriber owns its queue, so a stalled subscriber only grows its own backlog.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	next   uint64
	closed bool
}

type Subscription[T any] struct {
	id uint64
	q  *Queue[T]
	b  *Broadcaster[T]
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uint64]*Subscription[T])}
}

// Subscribe registers a new subscriber. It only sees values published after
// the call. Subscribing to a closed broadcaster yields a closed channel.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription[T]{id: b.next, q: NewQueue[T](), b: b}
	b.next++
	if b.closed {
		s.q.Close()
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish never blocks.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		s.q.Push(v)
	}
}

// Close ends every subscription after its backlog is delivered.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.q.Close()
		delete(b.subs, id)
	}
}

// Backlog sums the undelivered values across subscribers.
func (b *Broadcaster[T]) Backlog() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		n += s.q.Len()
	}
	return n
}

func (b *Broadcaster[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *Subscription[T]) C() <-chan T { return s.q.C() }

// Close detaches the subscriber and drops its backlog.
func (s *Subscription[T]) Close() {
	s.b.mu.Lock()
	delete(s.b.subs, s.id)
	s.b.mu.Unlock()
	s.q.Stop()
}
