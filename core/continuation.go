package core

import "sync"

// continuation is a job waiting in WaitingForActivation for its antecedent.
type continuation struct {
	job       *Job
	options   ContinuationOptions
	scheduler *Scheduler
}

// continuationList accepts registrations until it is drained once.
type continuationList struct {
	mu    sync.Mutex
	fired bool
	items []*continuation
}

// add registers c. It returns false when the list was already drained, in
// which case the caller fires c itself.
func (l *continuationList) add(c *continuation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fired {
		return false
	}
	l.items = append(l.items, c)
	return true
}

// drain returns the registrations in order and closes the list.
func (l *continuationList) drain() []*continuation {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fired = true
	items := l.items
	l.items = nil
	return items
}

// fire activates c after antecedent became terminal. w is the worker that
// completed the antecedent, or nil.
func (c *continuation) fire(antecedent *Job, w *Worker) {
	j := c.job
	if !c.options.Allows(antecedent.Status()) {
		if j.claim(StatusWaitingForActivation) {
			j.invoker.release()
			j.finish(StatusCanceled, nil, c.scheduler, w)
		}
		return
	}
	if !j.status.CompareAndSwap(int32(StatusWaitingForActivation), int32(StatusWaitingToRun)) {
		return
	}

	s := c.scheduler
	if s == nil {
		s = antecedent.scheduler.Load()
	}
	if s == nil {
		// Nothing to queue on: run where the antecedent finished.
		j.execute(nil, nil)
		return
	}
	j.scheduler.Store(s)
	if w != nil && w.sched != s {
		w = nil
	}
	if c.options.Has(ExecuteSynchronously) {
		s.runJob(j, w)
		return
	}
	_ = s.queueJob(j, w)
}
