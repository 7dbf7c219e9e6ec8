package core

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

type workerState int32

const (
	workerIdle workerState = iota
	workerRunning
	workerStopped
)

// Worker is one goroutine of a scheduler's pool. It owns the bottom of its
// deque; every other goroutine may only steal from the top.
type Worker struct {
	id    int
	sched *Scheduler
	deque *Deque[Job]

	// current is the job whose body is executing on this worker.
	current atomic.Pointer[Job]

	// ownerMu serializes bottom-side deque operations, which matters only
	// when a body hands its context to another goroutine that submits work.
	ownerMu sync.Mutex

	mu     sync.Mutex
	state  workerState
	stopCh chan struct{}
	doneCh chan struct{}

	executed atomic.Uint64
	stolen   atomic.Uint64
	idle     atomic.Uint64
}

func newWorker(id int, s *Scheduler, dequeCapacity int) *Worker {
	return &Worker{
		id:    id,
		sched: s,
		deque: NewDeque[Job](dequeCapacity),
	}
}

// ID returns the worker's index in its scheduler.
func (w *Worker) ID() int { return w.id }

// Pulse starts the worker on first use and wakes the pool afterwards.
func (w *Worker) Pulse() {
	w.mu.Lock()
	if w.state == workerIdle {
		w.state = workerRunning
		w.stopCh = make(chan struct{})
		w.doneCh = make(chan struct{})
		go w.loop(w.stopCh, w.doneCh)
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.sched.wake()
}

// Stop asks the worker to exit after its current job. It does not wait.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case workerIdle:
		w.state = workerStopped
	case workerRunning:
		w.state = workerStopped
		close(w.stopCh)
	}
}

// Dispose stops the worker and waits for its goroutine to exit.
func (w *Worker) Dispose() {
	w.Stop()
	w.mu.Lock()
	done := w.doneCh
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() WorkerStats {
	w.mu.Lock()
	running := w.state == workerRunning
	w.mu.Unlock()
	return WorkerStats{
		ID:       w.id,
		Running:  running,
		Deque:    w.deque.Len(),
		Executed: w.executed.Load(),
		Stolen:   w.stolen.Load(),
		Idle:     w.idle.Load(),
	}
}

func (w *Worker) push(j *Job) {
	w.ownerMu.Lock()
	w.deque.PushBottom(j)
	w.ownerMu.Unlock()
}

func (w *Worker) popBottom() (*Job, bool) {
	w.ownerMu.Lock()
	j, r := w.deque.PopBottom()
	w.ownerMu.Unlock()
	return j, r == PopSucceed
}

func (w *Worker) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	s := w.sched
	if nice := s.cfg.WorkerPriority; nice != 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := setThreadPriority(nice); err != nil {
			s.logger.Warn("worker thread priority not applied",
				F("scheduler", s.id), F("worker", w.id), F("priority", nice), F("error", err))
		}
	}
	s.logger.Debug("worker started", F("scheduler", s.id), F("worker", w.id))
	defer s.logger.Debug("worker stopped", F("scheduler", s.id), F("worker", w.id))

	emptyRounds := 0
	attempt := 0
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		w.drainOverflow()

		if j, ok := w.popBottom(); ok {
			s.runJob(j, w)
			emptyRounds, attempt = 0, 0
			continue
		}

		j, contended := w.stealRound()
		if j != nil {
			s.runJob(j, w)
			emptyRounds, attempt = 0, 0
			continue
		}
		if contended {
			continue
		}

		emptyRounds++
		if emptyRounds < s.cfg.StealRounds {
			runtime.Gosched()
			continue
		}

		w.idle.Add(1)
		timer := time.NewTimer(s.cfg.IdleBackoff.delay(attempt))
		attempt++
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-s.signal:
			emptyRounds, attempt = 0, 0
		case <-timer.C:
		}
		timer.Stop()
	}
}

// drainOverflow moves everything in the shared queue onto this worker's deque.
func (w *Worker) drainOverflow() {
	s := w.sched
	batch := s.overflow.PopUpTo(w.overflowBatch())
	if len(batch) == 0 {
		return
	}
	s.metrics.RecordQueueDepth(s.id, len(batch))
	for _, j := range batch {
		w.push(j)
	}
	if len(batch) > 1 || s.overflow.Len() > 0 {
		// Peers can now steal the batch or take the remainder.
		s.wake()
	}
}

// overflowBatch bounds one overflow take to half the deque's ring so a
// single worker neither hoards the shared queue nor forces its ring to grow.
func (w *Worker) overflowBatch() int {
	return max(w.deque.Capacity()/2, 1)
}

// stealRound takes one job from the first peer with work, visiting peers in
// order starting after this worker. contended reports a lost race, meaning
// work exists even though none was taken.
func (w *Worker) stealRound() (j *Job, contended bool) {
	workers := w.sched.workers
	n := len(workers)
	for i := 1; i < n; i++ {
		victim := workers[(w.id+i)%n]
		j, r := victim.deque.PopTop()
		switch r {
		case PopSucceed:
			w.stolen.Add(1)
			w.sched.metrics.RecordSteal(w.sched.id, w.id)
			return j, false
		case PopAbort:
			contended = true
		}
	}
	return nil, contended
}
