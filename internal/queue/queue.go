// Package queue implements the in-memory FIFO of pending job ids.
//
// The queue is the only handoff point between HTTP handlers and the worker.
// It supports targeted removal (cancellation of a not-yet-claimed job) and
// positional queries, which is why it is a mutex-guarded slice rather than a
// channel: a channel delivers elements eagerly and cannot un-deliver or
// enumerate them. Durability lives in the job store, not here.
package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Jdubz/imagineer/internal/domain"
)

type entry struct {
	jobID uuid.UUID
	seq   uint64
}

// Queue is a thread-safe FIFO of pending job identifiers.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	nextSeq uint64
	closed  bool

	// wakeup carries at most one pending nudge for the blocked consumer;
	// Dequeue re-checks the slice before blocking so a single token is
	// enough for any number of enqueues.
	wakeup chan struct{}
	done   chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		wakeup: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends the job id to the tail and returns its monotonic sequence
// number. It fails only after Close.
func (q *Queue) Enqueue(jobID uuid.UUID) (uint64, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, domain.ErrShuttingDown
	}
	q.nextSeq++
	seq := q.nextSeq
	q.entries = append(q.entries, entry{jobID: jobID, seq: seq})
	q.mu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
	return seq, nil
}

// Dequeue removes and returns the head, blocking until an item is available,
// the context is cancelled, or the queue is closed. After Close it always
// returns ErrShuttingDown, even with entries still pending. Only the worker
// calls this.
func (q *Queue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return uuid.Nil, domain.ErrShuttingDown
		}
		if len(q.entries) > 0 {
			head := q.entries[0]
			q.entries = q.entries[1:]
			q.mu.Unlock()
			return head.jobID, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case <-q.done:
		case <-q.wakeup:
		}
	}
}

// Remove takes the job out of the queue if it is still pending. It reports
// false when the job is not present, i.e. it was never enqueued or the
// worker has already claimed it.
func (q *Queue) Remove(jobID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.jobID == jobID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Position returns the 0-based count of jobs strictly ahead of the given job.
// The second return is false when the job is not queued.
func (q *Queue) Position(jobID uuid.UUID) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.jobID == jobID {
			return i, true
		}
	}
	return 0, false
}

// JobIDs returns a snapshot of the pending job ids in queue order.
func (q *Queue) JobIDs() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]uuid.UUID, len(q.entries))
	for i, e := range q.entries {
		ids[i] = e.jobID
	}
	return ids
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close rejects further enqueues and releases a blocked Dequeue. Pending
// entries are left in place; the job store re-enqueues them on the next
// startup.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}
