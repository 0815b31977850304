package scheduler

import (
	"container/heap"
	"time"

	"github.com/omnishot/batchd/internal/domain"
)

// queueEntry is a heap node for one queued job. seq breaks ties between
// entries sharing a submission timestamp so ordering stays stable.
type queueEntry struct {
	job         *domain.Job
	priority    domain.Priority
	submittedAt time.Time
	seq         uint64
	index       int
}

// jobQueue is a stable priority queue: high priority first, then earlier
// submission time. It is not safe for concurrent use; the scheduler mutex
// guards every call.
type jobQueue struct {
	entries   entryHeap
	byID      map[string]*queueEntry
	seq       uint64
	highWater int
}

func newJobQueue() *jobQueue {
	return &jobQueue{byID: make(map[string]*queueEntry)}
}

// Enqueue inserts a queued job. A job already present is left untouched.
func (q *jobQueue) Enqueue(job *domain.Job) {
	if _, ok := q.byID[job.ID]; ok {
		return
	}
	q.seq++
	entry := &queueEntry{
		job:         job,
		priority:    job.Priority,
		submittedAt: job.CreatedAt,
		seq:         q.seq,
	}
	heap.Push(&q.entries, entry)
	q.byID[job.ID] = entry
	if q.entries.Len() > q.highWater {
		q.highWater = q.entries.Len()
	}
}

// PeekNext returns the job next in admission order without removing it.
func (q *jobQueue) PeekNext() *domain.Job {
	if q.entries.Len() == 0 {
		return nil
	}
	return q.entries[0].job
}

// Remove deletes the entry for jobID, reporting whether it was present.
// Removal is explicit: the scheduler removes an entry only once it has
// committed to admitting the job, and cancellation removes still-queued jobs.
func (q *jobQueue) Remove(jobID string) bool {
	entry, ok := q.byID[jobID]
	if !ok {
		return false
	}
	heap.Remove(&q.entries, entry.index)
	delete(q.byID, jobID)
	return true
}

// PositionOf returns the 1-based admission position of jobID, or 0 when the
// job is not queued.
func (q *jobQueue) PositionOf(jobID string) int {
	entry, ok := q.byID[jobID]
	if !ok {
		return 0
	}
	pos := 1
	for _, other := range q.entries {
		if other != entry && other.before(entry) {
			pos++
		}
	}
	return pos
}

// Len reports the number of queued jobs.
func (q *jobQueue) Len() int {
	return q.entries.Len()
}

// HighWater reports the maximum depth the queue has reached.
func (q *jobQueue) HighWater() int {
	return q.highWater
}

func (e *queueEntry) before(other *queueEntry) bool {
	if e.priority.Rank() != other.priority.Rank() {
		return e.priority.Rank() < other.priority.Rank()
	}
	if !e.submittedAt.Equal(other.submittedAt) {
		return e.submittedAt.Before(other.submittedAt)
	}
	return e.seq < other.seq
}

type entryHeap []*queueEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any)        { e := x.(*queueEntry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
