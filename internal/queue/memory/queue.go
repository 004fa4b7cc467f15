// Package memory provides the in-process clone job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// ErrClosed is returned by Dequeue and Enqueue after Close.
var ErrClosed = cloner.ErrQueueClosed

// Queue is a bounded in-memory queue of clone jobs with context-aware operations.
type Queue struct {
	ch chan cloner.QueueItem

	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding at most depth waiting jobs.
func NewQueue(depth int) *Queue {
	if depth < 0 {
		depth = 0
	}
	return &Queue{ch: make(chan cloner.QueueItem, depth)}
}

// Enqueue pushes a job into the queue or returns if the context ends first.
func (q *Queue) Enqueue(ctx context.Context, item cloner.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (cloner.QueueItem, error) {
	select {
	case <-ctx.Done():
		return cloner.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return cloner.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports how many jobs are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting jobs. Waiting jobs remain dequeueable until drained.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
