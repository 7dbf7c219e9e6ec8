package core

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// UnobservedFault describes a Faulted job whose error nobody read. It is
// raised when the job is disposed, or when a job that was never disposed is
// garbage collected. Job is nil in the second case.
type UnobservedFault struct {
	Job   *Job
	JobID uint64
	Name  string
	Err   error

	observed atomic.Bool
}

// SetObserved marks the fault as handled. The scheduler skips its own
// warning for faults a listener has observed.
func (f *UnobservedFault) SetObserved() { f.observed.Store(true) }

// Observed reports whether a listener called SetObserved.
func (f *UnobservedFault) Observed() bool { return f.observed.Load() }

// faultWatch is shared by a job and its collection cleanup. It must not
// point back at the job.
type faultWatch struct {
	observed atomic.Bool
	reported atomic.Bool
}

// collectedFault is what the cleanup needs to report a job that is already
// gone.
type collectedFault struct {
	id    uint64
	name  string
	err   error
	sched *Scheduler
	watch *faultWatch
}

func (j *Job) markObserved() { j.watch.observed.Store(true) }

// watchFault arranges for a Faulted job to be reported if it becomes
// unreachable before its error is read.
func (j *Job) watchFault(s *Scheduler) {
	runtime.AddCleanup(j, reportCollectedFault, collectedFault{
		id:    j.id,
		name:  j.Name(),
		err:   j.err,
		sched: s,
		watch: j.watch,
	})
}

func reportCollectedFault(c collectedFault) {
	if c.watch.observed.Load() || !c.watch.reported.CompareAndSwap(false, true) {
		return
	}
	reportUnobservedFault(&UnobservedFault{JobID: c.id, Name: c.name, Err: c.err}, c.sched)
}

var unobservedListeners struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(*UnobservedFault)
}

// OnUnobservedFault registers a process-wide listener and returns a function
// that removes it. Listeners may run on the runtime's cleanup goroutine.
func OnUnobservedFault(fn func(*UnobservedFault)) (remove func()) {
	l := &unobservedListeners
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(*UnobservedFault))
	}
	l.next++
	id := l.next
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func reportUnobservedFault(f *UnobservedFault, s *Scheduler) {
	l := &unobservedListeners
	l.mu.RLock()
	fns := make([]func(*UnobservedFault), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(f)
	}
	if s != nil {
		s.onUnobservedFault(f)
	}
}
