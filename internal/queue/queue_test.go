package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ExecutesInEnqueueOrder(t *testing.T) {
	q := New(16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go q.Run(ctx)

	var (
		mu     sync.Mutex
		order  []int
		done   sync.WaitGroup
	)

	done.Add(5)

	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue(func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			done.Done()
		})
	}

	waitWithTimeout(t, &done, time.Second)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_ProducerDoesNotBlockOnLaterCompletion(t *testing.T) {
	q := New(16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go q.Run(ctx)

	block := make(chan struct{})
	var second bool

	q.Enqueue(func(context.Context) { <-block })
	q.Enqueue(func(context.Context) { second = true })

	// Enqueue must return immediately regardless of the first thunk being stuck.
	enqueued := make(chan struct{})
	go func() {
		q.Enqueue(func(context.Context) {})
		close(enqueued)
	}()

	select {
	case <-enqueued:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on an in-flight or queued thunk")
	}

	close(block)
	_ = second
}

func TestQueue_StopDrainsBufferedThenExits(t *testing.T) {
	q := New(16, nil)
	ctx := context.Background()

	var count int
	var mu sync.Mutex

	for i := 0; i < 3; i++ {
		q.Enqueue(func(context.Context) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	q.Stop()

	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, count)
}

func TestQueue_ContextCancelStopsRun(t *testing.T) {
	q := New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d):
		require.Fail(t, "timed out waiting for wait group")
	}
}
