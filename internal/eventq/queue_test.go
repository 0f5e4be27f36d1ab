package eventq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestQueuePreservesOrderWithoutBlocking(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 1000; i++ {
		require.True(t, q.Push(i))
	}
	for i := 0; i < 1000; i++ {
		assert.Equal(t, i, recv(t, q.C()))
	}
}

func TestQueueCloseDrainsBacklog(t *testing.T) {
	q := NewQueue[string]()
	q.Push("a")
	q.Push("b")
	q.Close()
	assert.False(t, q.Push("c"))

	assert.Equal(t, "a", recv(t, q.C()))
	assert.Equal(t, "b", recv(t, q.C()))
	select {
	case _, ok := <-q.C():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("queue not closed")
	}
}

func TestQueueStopDropsBacklog(t *testing.T) {
	q := NewQueue[int]()
	q.Push(1)
	q.Push(2)
	q.Stop()
	q.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-q.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("queue not closed after Stop")
		}
	}
}

func TestBroadcasterSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroadcaster[int]()
	slow := b.Subscribe()
	fast := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	for i := 0; i < 100; i++ {
		b.Publish(i)
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, recv(t, fast.C()))
	}
	// slow has not read anything yet and still holds its whole backlog
	assert.Eventually(t, func() bool { return b.Backlog() >= 99 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, recv(t, slow.C()))

	slow.Close()
	assert.Equal(t, 1, b.Subscribers())
	b.Publish(100)
	assert.Equal(t, 100, recv(t, fast.C()))
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster[string]()
	s := b.Subscribe()
	b.Publish("last")
	b.Close()
	b.Close()

	assert.Equal(t, "last", recv(t, s.C()))
	_, ok := <-s.C()
	assert.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)
}
