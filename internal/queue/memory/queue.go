// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = portal.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
// The item channel is never closed; shutdown is signaled through done so a
// racing Enqueue cannot send on a closed channel.
type Queue struct {
	ch        chan portal.QueueItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan portal.QueueItem, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item portal.QueueItem) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. Items queued
// before Close are still handed out.
func (q *Queue) Dequeue(ctx context.Context) (portal.QueueItem, error) {
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}
	select {
	case <-ctx.Done():
		return portal.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		return portal.QueueItem{}, ErrClosed
	}
}

// Close stops the queue. It is safe to call more than once and concurrently
// with Enqueue.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
