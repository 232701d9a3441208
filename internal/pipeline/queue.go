// Package pipeline implements the in-process fetch/enrich engine: a bounded
// queue, an atomic slot counter, and the worker pool that drives one
// discovery run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned by Push after Close, and by Pop once the queue
// is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded multi-producer/multi-consumer FIFO. Push blocks while
// the queue is full, Pop blocks while it is empty. Close is one-way and
// idempotent: producers still waiting to push are rejected, consumers drain
// whatever is buffered and then receive ErrQueueClosed.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues v, blocking until a slot frees up. It fails once the queue
// is closed or the context ends. A Push racing Close can still win the send
// when buffer space frees before the done signal is observed; the item is
// then drained normally, since Pop serves buffered items past Close. Callers
// that need a hard cutoff must order Close after their producers exit, as
// the pipeline does.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return fmt.Errorf("queue push canceled: %w", ctx.Err())
	}
}

// Pop dequeues the next item. After Close it keeps returning buffered items
// until the queue is empty, then ErrQueueClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	// Buffered items win over the closed signal so nothing queued is lost.
	select {
	case v := <-q.ch:
		return v, nil
	default:
	}
	select {
	case v := <-q.ch:
		return v, nil
	case <-q.done:
		select {
		case v := <-q.ch:
			return v, nil
		default:
			return zero, ErrQueueClosed
		}
	case <-ctx.Done():
		return zero, fmt.Errorf("queue pop canceled: %w", ctx.Err())
	}
}

// Close marks the queue closed. Safe to call multiple times.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}
