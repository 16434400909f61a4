package pipeline

import (
	"context"
	"sync"
)

// BatchTracker counts outstanding tasks per batch so a submitter can block
// until every descriptor of a batch has reached a terminal outcome. Workers
// must add successors before marking their own task done, otherwise the
// count can touch zero while work remains.
type BatchTracker struct {
	mu      sync.Mutex
	pending map[string]int
	done    map[string]chan struct{}
}

// NewBatchTracker constructs a BatchTracker.
func NewBatchTracker() *BatchTracker {
	return &BatchTracker{
		pending: make(map[string]int),
		done:    make(map[string]chan struct{}),
	}
}

// Add registers n outstanding tasks for the batch.
func (t *BatchTracker) Add(batchID string, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[batchID] += n
	if _, ok := t.done[batchID]; !ok {
		t.done[batchID] = make(chan struct{})
	}
}

// Done marks one task of the batch as terminally finished.
func (t *BatchTracker) Done(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	count, ok := t.pending[batchID]
	if !ok {
		return
	}
	count--
	if count > 0 {
		t.pending[batchID] = count
		return
	}
	delete(t.pending, batchID)
	if ch, ok := t.done[batchID]; ok {
		close(ch)
		delete(t.done, batchID)
	}
}

// Wait blocks until the batch's outstanding count reaches zero or the
// context finishes. A batch that was never registered returns immediately.
func (t *BatchTracker) Wait(ctx context.Context, batchID string) error {
	t.mu.Lock()
	ch, ok := t.done[batchID]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
