package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO. A bounded queue keeps the newest
// items: pushing onto a full queue evicts the oldest.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int // 0 means unbounded
	dropped int
}

// New creates an unbounded queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// NewBounded creates a queue holding at most limit items.
func NewBounded[T any](limit int) *Queue[T] {
	if limit < 0 {
		limit = 0
	}
	return &Queue[T]{items: make([]T, 0, limit), limit: limit}
}

// Push appends items, evicting the oldest ones past the limit.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	if q.limit > 0 && len(q.items) > q.limit {
		over := len(q.items) - q.limit
		q.dropped += over
		clear(q.items[:over])
		q.items = append(q.items[:0], q.items[over:]...)
	}
}

// Pop removes and returns the first item. ok is false on an empty queue.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items were evicted since the last Drain.
func (q *Queue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain returns all items in order, empties the queue and resets the
// eviction count.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, q.limit)
	q.dropped = 0
	return result
}
