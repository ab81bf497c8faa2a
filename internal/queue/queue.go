// Package queue provides the bounded ingest queue used by the peer pipeline.
// Under burst conditions the queue favors freshness over completeness: when
// full, pushing drops the oldest entry instead of the new one.
package queue

import (
	"sync"
)

// Bounded is a generic thread-safe FIFO queue with a fixed capacity and
// drop-oldest backpressure.
type Bounded[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	dropped  uint64
}

// NewBounded creates an empty queue with the given capacity. A capacity
// below 1 is treated as 1.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends an item, evicting the oldest entry when the queue is full.
// It reports whether an entry was dropped.
func (q *Bounded[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := false
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, item)
	return dropped
}

// Pop removes and returns the oldest item.
func (q *Bounded[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Drain returns all queued items in order and clears the queue.
func (q *Bounded[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, q.capacity)
	return result
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the total number of entries evicted since creation.
func (q *Bounded[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
