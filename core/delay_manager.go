package core

import (
	"container/heap"
	"sync"
	"time"
)

// delayEntry is a job parked in WaitingForActivation until due.
type delayEntry struct {
	due  time.Time
	job  *Job
	slot int
}

// delayQueue is a min-heap on due time.
type delayQueue []*delayEntry

func (q delayQueue) Len() int           { return len(q) }
func (q delayQueue) Less(i, j int) bool { return q[i].due.Before(q[j].due) }
func (q delayQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].slot = i
	q[j].slot = j
}

func (q *delayQueue) Push(x any) {
	e := x.(*delayEntry)
	e.slot = len(*q)
	*q = append(*q, e)
}

func (q *delayQueue) Pop() any {
	old := *q
	e := old[len(old)-1]
	old[len(old)-1] = nil
	e.slot = -1
	*q = old[:len(old)-1]
	return e
}

// DelayManager activates jobs once their delay has elapsed by handing them
// to the activate callback on its own goroutine.
type DelayManager struct {
	mu       sync.Mutex
	queue    delayQueue
	byJob    map[*Job]*delayEntry
	stopped  bool
	kick     chan struct{}
	quit     chan struct{}
	exited   chan struct{}
	activate func(*Job)
}

func NewDelayManager(activate func(*Job)) *DelayManager {
	dm := &DelayManager{
		byJob:    make(map[*Job]*delayEntry),
		kick:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
		activate: activate,
	}
	go dm.run()
	return dm
}

// Add schedules j for activation after delay. It returns false once the
// manager has stopped or when j is already scheduled.
func (dm *DelayManager) Add(j *Job, delay time.Duration) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.stopped {
		return false
	}
	if _, dup := dm.byJob[j]; dup {
		return false
	}

	e := &delayEntry{due: time.Now().Add(delay), job: j}
	heap.Push(&dm.queue, e)
	dm.byJob[j] = e

	// Only a new earliest deadline changes how long the loop should sleep.
	if e.slot == 0 {
		select {
		case dm.kick <- struct{}{}:
		default:
		}
	}
	return true
}

// Remove drops j before it becomes due. It reports whether j was pending.
func (dm *DelayManager) Remove(j *Job) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	e, ok := dm.byJob[j]
	if !ok {
		return false
	}
	heap.Remove(&dm.queue, e.slot)
	delete(dm.byJob, j)
	return true
}

func (dm *DelayManager) run() {
	defer close(dm.exited)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		for _, j := range dm.takeDue(time.Now()) {
			dm.activate(j)
		}

		if wait, ok := dm.untilNext(); ok {
			timer.Reset(wait)
		} else {
			timer.Stop()
		}

		select {
		case <-dm.quit:
			return
		case <-timer.C:
		case <-dm.kick:
		}
	}
}

// takeDue pops every entry due at or before now. Activation happens outside
// the lock so the callback may call back into the manager.
func (dm *DelayManager) takeDue(now time.Time) []*Job {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var due []*Job
	for len(dm.queue) > 0 && !dm.queue[0].due.After(now) {
		e := heap.Pop(&dm.queue).(*delayEntry)
		delete(dm.byJob, e.job)
		due = append(due, e.job)
	}
	return due
}

func (dm *DelayManager) untilNext() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if len(dm.queue) == 0 {
		return 0, false
	}
	return max(time.Until(dm.queue[0].due), 0), true
}

// Stop ends the timer loop and returns the jobs that never became due.
// Later calls return nil.
func (dm *DelayManager) Stop() []*Job {
	dm.mu.Lock()
	if dm.stopped {
		dm.mu.Unlock()
		return nil
	}
	dm.stopped = true
	pending := make([]*Job, 0, len(dm.queue))
	for _, e := range dm.queue {
		pending = append(pending, e.job)
	}
	dm.queue = nil
	clear(dm.byJob)
	dm.mu.Unlock()

	close(dm.quit)
	<-dm.exited
	return pending
}

// JobCount returns the number of jobs still waiting for their delay.
func (dm *DelayManager) JobCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.queue)
}
