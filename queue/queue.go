// Package queue provides SafeQueue, the mutex-guarded FIFO used to hand items
// between two goroutines.
//
// There is no "pop one": a consumer always takes everything with DrainAll, so one
// lock acquisition serves a whole batch and a coalesced wake-up never strands items.
package queue

import (
	"sync"

	eq "github.com/eapache/queue"
)

// SafeQueue is a FIFO safe for concurrent Push and DrainAll.
type SafeQueue[T any] struct {
	mu    sync.Mutex
	items *eq.Queue // Ring buffer of T, replaced wholesale by DrainAll
}

func New[T any]() *SafeQueue[T] {
	return &SafeQueue[T]{items: eq.New()}
}

// Push appends item to the back of the queue.
func (q *SafeQueue[T]) Push(item T) {
	q.mu.Lock()
	q.items.Add(item)
	q.mu.Unlock()
}

// DrainAll removes and returns every queued item in insertion order.
// The lock is held only to swap the ring buffer for an empty one; copying out of
// the old buffer happens after it is released, since nothing else can reach it.
func (q *SafeQueue[T]) DrainAll() []T {
	q.mu.Lock()
	if q.items.Length() == 0 {
		q.mu.Unlock()
		return nil
	}
	old := q.items
	q.items = eq.New()
	q.mu.Unlock()

	out := make([]T, old.Length())
	for i := range out {
		out[i] = old.Get(i).(T)
	}
	return out
}

// Len returns the number of queued items.
func (q *SafeQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
