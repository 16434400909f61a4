// Package memory provides a channel-backed task queue for single-process
// deployments and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// ErrClosed is returned once a closed queue has been drained.
var ErrClosed = errors.New("queue closed")

// Queue is an in-memory pipeline.Queue backed by a buffered channel.
type Queue struct {
	tasks chan pipeline.Task

	mu     sync.Mutex
	closed bool
}

// New creates a queue with the given buffer depth.
func New(depth int) *Queue {
	if depth <= 0 {
		depth = 1024
	}
	return &Queue{tasks: make(chan pipeline.Task, depth)}
}

// Enqueue adds a task, blocking while the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, task pipeline.Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a task is available, the context is cancelled, or the
// queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.Task, error) {
	select {
	case task, ok := <-q.tasks:
		if !ok {
			return pipeline.Task{}, ErrClosed
		}
		return task, nil
	case <-ctx.Done():
		return pipeline.Task{}, ctx.Err()
	}
}

// Close stops accepting new tasks. Buffered tasks remain dequeueable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
}

// Len reports the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}
