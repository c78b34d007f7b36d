// Package memory provides the in-process crawl job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/racing-crawler/internal/dispatcher"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch        chan dispatcher.Job
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue holding up to capacity pending jobs.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan dispatcher.Job, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue adds job, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, job dispatcher.Job) error {
	select {
	case <-q.done:
		return dispatcher.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return dispatcher.ErrQueueClosed
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (dispatcher.Job, error) {
	select {
	case <-ctx.Done():
		return dispatcher.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return dispatcher.Job{}, dispatcher.ErrQueueClosed
	case job := <-q.ch:
		return job, nil
	}
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Pending jobs are dropped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
