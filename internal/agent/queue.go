package agent

import (
	"sync"

	"github.com/joescharf/scoutsync/internal/models"
)

// ActivityQueue is a bounded FIFO of observations waiting to be pushed. When
// full, the oldest observations are dropped.
type ActivityQueue struct {
	mu    sync.Mutex
	items []models.Observation
	max   int
}

// NewActivityQueue returns a queue holding at most max observations.
func NewActivityQueue(max int) *ActivityQueue {
	if max <= 0 {
		max = DefaultActivityMaxQueue
	}
	return &ActivityQueue{max: max}
}

// Push appends observations and returns how many old ones were dropped.
func (q *ActivityQueue) Push(obs ...models.Observation) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, obs...)
	return q.clampLocked()
}

// Take removes and returns up to n observations from the front.
func (q *ActivityQueue) Take(n int) []models.Observation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]models.Observation, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return batch
}

// Requeue puts a batch that failed to send back at the front. The queue is
// clamped again afterwards, dropping the oldest entries first.
func (q *ActivityQueue) Requeue(batch []models.Observation) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append([]models.Observation(nil), batch...), q.items...)
	return q.clampLocked()
}

// Len returns the number of queued observations.
func (q *ActivityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset empties the queue.
func (q *ActivityQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *ActivityQueue) clampLocked() int {
	over := len(q.items) - q.max
	if over <= 0 {
		return 0
	}
	q.items = append(q.items[:0], q.items[over:]...)
	return over
}
