package scheduler

import "sync"

// completionQueue is the only channel from workers back to the orchestrator.
type completionQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	items     []outcome
	cancelled bool
}

func newCompletionQueue() *completionQueue {
	q := &completionQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *completionQueue) post(o outcome) {
	q.mu.Lock()
	q.items = append(q.items, o)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *completionQueue) cancel() {
	q.mu.Lock()
	q.cancelled = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// wait blocks until at least one outcome is posted, or until cancellation
// when ignoreCancel is false, and drains everything posted so far.
func (q *completionQueue) wait(ignoreCancel bool) ([]outcome, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && (ignoreCancel || !q.cancelled) {
		q.cond.Wait()
	}
	batch := q.items
	q.items = nil
	return batch, q.cancelled
}
