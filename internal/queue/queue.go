// Package queue implements a strict FIFO over thunks, guaranteeing at most
// one thunk in progress at a time, in enqueue order, without blocking the
// producer on a later thunk's completion.
package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Queue is a single-worker FIFO task queue.
type Queue struct {
	tasks  chan func(context.Context)
	logger *slog.Logger

	wg       sync.WaitGroup
	draining chan struct{}
	once     sync.Once
}

// New creates a Queue with the given buffer capacity (how many thunks may
// be enqueued without blocking the producer).
func New(capacity int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		tasks:    make(chan func(context.Context), capacity),
		logger:   logger,
		draining: make(chan struct{}),
	}
}

// Run starts the single consumer goroutine. It returns once ctx is
// cancelled and the in-flight thunk (if any) has completed, or once Stop is
// called and the queue has drained — whichever the caller selects for.
func (q *Queue) Run(ctx context.Context) {
	q.wg.Add(1)
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case <-q.draining:
			// Drain whatever is already buffered, then exit without
			// accepting more.
			for {
				select {
				case t := <-q.tasks:
					t(ctx)
				default:
					return
				}
			}

		case t := <-q.tasks:
			t(ctx)
		}
	}
}

// Enqueue appends a thunk to the FIFO. Never blocks on the completion of
// thunks ahead of it in the queue — only on buffer capacity, which callers
// should size generously (local-event volume is bursty, not unbounded).
func (q *Queue) Enqueue(thunk func(context.Context)) {
	q.tasks <- thunk
}

// Stop signals the consumer to drain remaining buffered thunks and then
// stop; it does not wait for Run to return (call Wait for that).
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.draining) })
}

// Wait blocks until Run has returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}
