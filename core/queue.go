package core

import "sync"

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// JobQueue is the scheduler's shared overflow queue: an unbounded
// multi-producer multi-consumer FIFO. Ordering across producers is not
// guaranteed to mean anything to consumers.
type JobQueue struct {
	mu   sync.Mutex
	jobs []*Job
}

func NewJobQueue() *JobQueue {
	return &JobQueue{
		jobs: make([]*Job, 0, defaultQueueCap),
	}
}

func (q *JobQueue) Push(j *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, j)
}

func (q *JobQueue) Pop() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}

	j := q.jobs[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	q.maybeCompactLocked()

	return j, true
}

// PopUpTo removes at most limit jobs from the front. Workers take overflow
// work in these bounded batches.
func (q *JobQueue) PopUpTo(limit int) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.jobs)
	if n == 0 || limit <= 0 {
		return nil
	}

	if n <= limit {
		batch := q.jobs
		q.jobs = make([]*Job, 0, defaultQueueCap)
		return batch
	}

	batch := make([]*Job, limit)
	copy(batch, q.jobs[:limit])

	// Zero out the elements in the underlying array to prevent memory leak
	for i := range limit {
		q.jobs[i] = nil
	}

	q.jobs = q.jobs[limit:]
	q.maybeCompactLocked()

	return batch
}

// Drain removes and returns every queued job.
func (q *JobQueue) Drain() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	batch := q.jobs
	q.jobs = make([]*Job, 0, defaultQueueCap)
	return batch
}

func (q *JobQueue) maybeCompactLocked() {
	n := len(q.jobs)
	c := cap(q.jobs)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.jobs = make([]*Job, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]*Job, n, newCap)
	copy(newSlice, q.jobs)
	q.jobs = newSlice
}

func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
