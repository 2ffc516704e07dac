package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int](0)
	for i := range 5 {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, q.Drain())
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Drain())
}

func TestQueue_BoundedRejectsWhenFull(t *testing.T) {
	q := New[string](2)
	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Push("b"))
	assert.ErrorIs(t, q.Push("c"), ErrFull)
	assert.Equal(t, 2, q.Cap())

	q.Drain()
	assert.NoError(t, q.Push("c"))
}

func TestQueue_RequeueGoesFirst(t *testing.T) {
	q := New[int](2)
	require.NoError(t, q.Push(1))
	batch := q.Drain()
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Push(3))

	q.Requeue(batch)
	assert.Equal(t, []int{1, 2, 3}, q.Drain())
}

func TestQueue_ConcurrentPushDrain(t *testing.T) {
	q := New[int](0)
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = q.Push(id)
		}(i)
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			total += len(q.Drain())
			assert.Equal(t, 100, total)
			return
		default:
			total += len(q.Drain())
		}
	}
}
