// Package queue provides a mutex-guarded FIFO with an optional capacity,
// shared by the command intake of the world loop and the storage writers.
package queue

import (
	"errors"
	"sync"
)

// ErrFull is returned when a bounded queue cannot take more items.
var ErrFull = errors.New("queue full")

// Queue is a thread-safe FIFO. A zero limit means unbounded.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	limit int
}

// New creates an empty queue holding at most limit items.
func New[T any](limit int) *Queue[T] {
	if limit < 0 {
		limit = 0
	}
	return &Queue[T]{limit: limit}
}

// Push appends item, or returns ErrFull when the queue is at capacity.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		return ErrFull
	}
	q.items = append(q.items, item)
	return nil
}

// Requeue puts items back at the head, ahead of anything pushed since they
// were drained. Capacity is not enforced so a failed batch is never lost.
func (q *Queue[T]) Requeue(items []T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append(make([]T, 0, len(items)+len(q.items)), items...), q.items...)
}

// Drain removes and returns every queued item in FIFO order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured limit, 0 when unbounded.
func (q *Queue[T]) Cap() int {
	return q.limit
}
