package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// maxRelationHops bounds the parent-chain walk used to decide whether a
// LongRunning job is related to the job being waited on.
const maxRelationHops = 64

// Scheduler owns a fixed pool of workers, each with a work-stealing deque,
// plus a shared overflow queue for jobs submitted from outside the pool.
type Scheduler struct {
	cfg    SchedulerConfig
	id     string
	logger Logger

	metrics            Metrics
	panicHandler       PanicHandler
	rejectedJobHandler RejectedJobHandler

	workers      []*Worker
	overflow     *JobQueue
	signal       chan struct{}
	delayManager *DelayManager
	history      *jobHistory
	faultLimiter *rate.Limiter

	active atomic.Int32

	lifecycleMu sync.Mutex
	started     atomic.Bool
	closed      atomic.Bool

	completed atomic.Uint64
	faulted   atomic.Uint64
	canceled  atomic.Uint64
	rejected  atomic.Uint64
}

// NewScheduler creates a scheduler. Workers start on Start or on the first
// submission. A nil cfg uses DefaultSchedulerConfig.
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	var c SchedulerConfig
	if cfg != nil {
		c = *cfg
	}
	c.applyDefaults()

	s := &Scheduler{
		cfg:                c,
		id:                 c.ID,
		logger:             c.Logger,
		metrics:            c.Metrics,
		panicHandler:       c.PanicHandler,
		rejectedJobHandler: c.RejectedJobHandler,
		overflow:           NewJobQueue(),
		signal:             make(chan struct{}, c.Workers*2),
		history:            newJobHistory(c.HistoryCapacity),
		faultLimiter:       rate.NewLimiter(rate.Every(time.Second), 5),
	}
	s.workers = make([]*Worker, c.Workers)
	for i := range s.workers {
		s.workers[i] = newWorker(i, s, c.InitialDequeCapacity)
	}
	s.delayManager = NewDelayManager(s.activateDelayed)
	return s
}

// Start pulses every worker. It is idempotent and a no-op after Shutdown.
func (s *Scheduler) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.closed.Load() || s.started.Load() {
		return
	}
	for _, w := range s.workers {
		w.Pulse()
	}
	s.started.Store(true)
	s.logger.Info("scheduler started", F("scheduler", s.id), F("workers", len(s.workers)))
}

// Submit creates a job for fn and queues it.
func (s *Scheduler) Submit(ctx context.Context, fn JobFunc, opts CreationOptions) *Job {
	j := NewJob(ctx, fn, opts)
	_ = j.Start(s)
	return j
}

// SubmitWithState creates a job for fn with state and queues it.
func (s *Scheduler) SubmitWithState(ctx context.Context, fn StateFunc, state any, opts CreationOptions) *Job {
	j := NewJobWithState(ctx, fn, state, opts)
	_ = j.Start(s)
	return j
}

// SubmitAfter creates a job that stays WaitingForActivation until delay has
// elapsed, then is queued on the overflow queue.
func (s *Scheduler) SubmitAfter(ctx context.Context, delay time.Duration, fn JobFunc, opts CreationOptions) *Job {
	j := newJob(ctx, invoker{kind: invokeAction, action: fn}, opts, ContinuationNone, StatusWaitingForActivation)
	if j.IsCompleted() {
		return j
	}
	j.scheduler.Store(s)

	if delay <= 0 {
		if j.status.CompareAndSwap(int32(StatusWaitingForActivation), int32(StatusWaitingToRun)) {
			_ = s.queueJob(j, frameFromContext(ctx).liveWorker(s))
		}
		return j
	}
	if s.closed.Load() || !s.delayManager.Add(j, delay) {
		s.reject(j, "closed")
		return j
	}
	// A job canceled while waiting leaves the delay queue right away.
	context.AfterFunc(j.ctx, func() { s.delayManager.Remove(j) })
	return j
}

func (s *Scheduler) activateDelayed(j *Job) {
	if j.status.CompareAndSwap(int32(StatusWaitingForActivation), int32(StatusWaitingToRun)) {
		_ = s.queueJob(j, nil)
	}
}

// queueJob places a WaitingToRun job. w is the calling worker when the
// caller runs inside a job body on this scheduler's pool, else nil.
func (s *Scheduler) queueJob(j *Job, w *Worker) error {
	if s.closed.Load() {
		s.reject(j, "closed")
		return ErrSchedulerClosed
	}
	if !s.started.Load() {
		s.Start()
	}

	if w != nil && w.sched == s && !j.options.Has(PreferFairness) {
		w.push(j)
	} else {
		s.overflow.Push(j)
	}
	s.wake()

	// Shutdown may have swept the queues between the check and the push.
	if s.closed.Load() {
		s.cancelQueued()
	}
	return nil
}

func (s *Scheduler) reject(j *Job, reason string) {
	if !j.claimPending() {
		return
	}
	s.rejected.Add(1)
	s.metrics.RecordJobRejected(s.id, reason)
	s.rejectedJobHandler.HandleRejectedJob(s.id, j, reason)

	j.markObserved()
	j.invoker.release()
	j.finish(StatusFaulted, aggregate(ErrSchedulerClosed), s, nil)
}

func (s *Scheduler) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, enough workers are already being woken
	}
}

// runJob executes j on the calling goroutine. w is the worker the goroutine
// belongs to, or nil for a participating goroutine.
func (s *Scheduler) runJob(j *Job, w *Worker) bool {
	s.active.Add(1)
	var prev *Job
	if w != nil {
		prev = w.current.Swap(j)
	}

	ran := j.execute(s, w)

	if w != nil {
		w.current.Store(prev)
		if ran {
			w.executed.Add(1)
		}
	}
	s.active.Add(-1)

	if ran {
		s.wake()
	}
	return ran
}

// eligible reports whether a goroutine waiting for target may run j inline.
func eligible(j, target *Job) bool {
	if !j.options.Has(LongRunning) {
		return true
	}
	return target != nil && j.isRelated(target, maxRelationHops)
}

// helpOnce runs at most one eligible job: from w's own deque first, then the
// overflow queue, then one steal sweep over every worker.
func (s *Scheduler) helpOnce(w *Worker, target *Job) bool {
	if w != nil {
		if j, ok := w.popBottom(); ok {
			if eligible(j, target) {
				s.runJob(j, w)
				return true
			}
			s.overflow.Push(j)
		}
	}

	if j, ok := s.overflow.Pop(); ok {
		if eligible(j, target) {
			s.runJob(j, w)
			return true
		}
		s.overflow.Push(j)
	}

	n := len(s.workers)
	start := 0
	if w != nil {
		start = w.id + 1
	}
	for i := 0; i < n; i++ {
		victim := s.workers[(start+i)%n]
		if victim == w {
			continue
		}
		j, r := victim.deque.PopTop()
		if r != PopSucceed {
			continue
		}
		if eligible(j, target) {
			if w != nil {
				w.stolen.Add(1)
				s.metrics.RecordSteal(s.id, w.id)
			}
			s.runJob(j, w)
			return true
		}
		s.overflow.Push(j)
	}
	return false
}

// participateUntil executes eligible jobs on the calling goroutine until
// done is closed, ctx ends, or timeout elapses (negative means no timeout).
// It reports whether done was closed.
func (s *Scheduler) participateUntil(ctx context.Context, w *Worker, target *Job, done <-chan struct{}, timeout time.Duration) (bool, error) {
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	attempt := 0
	woken := false
	for {
		select {
		case <-done:
			return true, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		select {
		case <-deadline:
			return isClosed(done), nil
		default:
		}

		if s.helpOnce(w, target) {
			attempt, woken = 0, false
			continue
		}

		// A wake-up this goroutine could not use belongs to a worker. Pass it
		// on and sit out the signal channel for one park.
		signal := s.signal
		if woken {
			s.wake()
			signal = nil
			woken = false
		}

		park := time.NewTimer(s.cfg.IdleBackoff.delay(attempt))
		attempt++
		select {
		case <-done:
			park.Stop()
			return true, nil
		case <-ctx.Done():
			park.Stop()
			return false, ctx.Err()
		case <-deadline:
			park.Stop()
			return isClosed(done), nil
		case <-signal:
			attempt, woken = 0, true
		case <-park.C:
		}
		park.Stop()
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// WaitFor blocks until j is terminal, running eligible work from this
// scheduler meanwhile. The result is the job's outcome as in Job.Wait.
func (s *Scheduler) WaitFor(ctx context.Context, j *Job) error {
	_, err := s.WaitForTimeout(ctx, j, -1)
	return err
}

// WaitForTimeout is WaitFor bounded by timeout. The bool reports whether the
// job completed.
func (s *Scheduler) WaitForTimeout(ctx context.Context, j *Job, timeout time.Duration) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !j.IsCompleted() {
		completed, err := s.participateUntil(ctx, frameFromContext(ctx).liveWorker(s), j, j.done, timeout)
		if err != nil || !completed {
			return false, err
		}
	}
	return true, j.result()
}

// WaitAll waits for every job and returns an *AggregateError holding each
// failure (faults and cancellations), or nil when all ran to completion.
func (s *Scheduler) WaitAll(ctx context.Context, jobs ...*Job) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for _, j := range jobs {
		if j == nil {
			continue
		}
		if err := s.WaitFor(ctx, j); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return aggregate(errs...)
}

// WaitAny waits until one of jobs is terminal and returns its index.
func (s *Scheduler) WaitAny(ctx context.Context, jobs ...*Job) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(jobs) == 0 {
		return -1, nil
	}
	for i, j := range jobs {
		if j.IsCompleted() {
			return i, nil
		}
	}

	anyDone := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)
	var once sync.Once
	for _, j := range jobs {
		go func(j *Job) {
			select {
			case <-j.done:
				once.Do(func() { close(anyDone) })
			case <-stop:
			}
		}(j)
	}

	if _, err := s.participateUntil(ctx, frameFromContext(ctx).liveWorker(s), nil, anyDone, -1); err != nil {
		return -1, err
	}
	for i, j := range jobs {
		if j.IsCompleted() {
			return i, nil
		}
	}
	return -1, nil
}

// Shutdown stops the workers, waits for them to finish their current jobs
// and cancels every job still queued or waiting for its delay. Later
// submissions are rejected. It must not be called from a job body.
func (s *Scheduler) Shutdown() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("scheduler shutting down", F("scheduler", s.id))

	for _, w := range s.workers {
		w.Stop()
	}
	for _, w := range s.workers {
		w.Dispose()
	}

	for _, j := range s.delayManager.Stop() {
		s.cancelPending(j)
	}
	s.cancelQueued()

	s.logger.Info("scheduler stopped", F("scheduler", s.id),
		F("completed", s.completed.Load()), F("faulted", s.faulted.Load()), F("canceled", s.canceled.Load()))
}

// ShutdownGraceful waits until nothing is queued, running or delayed, then
// shuts down. On timeout it shuts down anyway and returns an error.
func (s *Scheduler) ShutdownGraceful(timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for !s.quiescent() {
		select {
		case <-deadline.C:
			queued, active := s.QueuedJobCount(), s.ActiveJobCount()
			s.Shutdown()
			return fmt.Errorf("workstealer: graceful shutdown timed out after %v (%d queued, %d active)", timeout, queued, active)
		case <-ticker.C:
		}
	}
	s.Shutdown()
	return nil
}

func (s *Scheduler) quiescent() bool {
	return s.QueuedJobCount() == 0 && s.ActiveJobCount() == 0 && s.DelayedJobCount() == 0
}

// cancelQueued cancels every job left in the overflow queue or a deque.
func (s *Scheduler) cancelQueued() {
	for _, j := range s.overflow.Drain() {
		s.cancelPending(j)
	}
	for _, w := range s.workers {
		for {
			j, r := w.deque.PopTop()
			if r == PopEmpty {
				break
			}
			if r == PopSucceed {
				s.cancelPending(j)
			}
		}
	}
}

func (s *Scheduler) cancelPending(j *Job) {
	if j.claimPending() {
		j.invoker.release()
		j.finish(StatusCanceled, nil, s, nil)
	}
}

func (s *Scheduler) recordExecution(j *Job, w *Worker, startedAt time.Time, err error) {
	finishedAt := time.Now()
	workerID := -1
	if w != nil {
		workerID = w.id
	}
	var pe *PanicError
	s.history.record(JobExecutionRecord{
		JobID:       j.id,
		Name:        jobDisplayName(j),
		SchedulerID: s.id,
		WorkerID:    workerID,
		Options:     j.options,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Duration:    finishedAt.Sub(startedAt),
		Panicked:    errors.As(err, &pe),
		Failed:      err != nil,
	})
	s.metrics.RecordJobDuration(s.id, finishedAt.Sub(startedAt))
}

func (s *Scheduler) onJobCompleted(j *Job, status Status) {
	switch status {
	case StatusRanToCompletion:
		s.completed.Add(1)
	case StatusFaulted:
		s.faulted.Add(1)
	case StatusCanceled:
		s.canceled.Add(1)
	}
	s.metrics.RecordJobCompleted(s.id, status)
}

func (s *Scheduler) reportPanic(ctx context.Context, j *Job, w *Worker, r any, stack []byte) {
	workerID := -1
	if w != nil {
		workerID = w.id
	}
	s.metrics.RecordJobPanic(s.id, r)
	s.panicHandler.HandlePanic(ctx, s.id, workerID, r, stack)
}

func (s *Scheduler) onUnobservedFault(f *UnobservedFault) {
	s.metrics.RecordUnobservedFault(s.id)
	if f.Observed() || !s.faultLimiter.Allow() {
		return
	}
	s.logger.Warn("job faulted and its error was never observed",
		F("scheduler", s.id), F("job", f.JobID), F("name", f.Name), F("error", f.Err))
}

// ID returns the scheduler's identifier.
func (s *Scheduler) ID() string { return s.id }

// WorkerCount returns the number of workers.
func (s *Scheduler) WorkerCount() int { return len(s.workers) }

// Worker returns the worker at index i.
func (s *Scheduler) Worker(i int) *Worker { return s.workers[i] }

// QueuedJobCount returns the jobs waiting in the overflow queue and deques.
// Jobs canceled while queued are counted until a worker discards them.
func (s *Scheduler) QueuedJobCount() int {
	n := s.overflow.Len()
	for _, w := range s.workers {
		n += w.deque.Len()
	}
	return n
}

// ActiveJobCount returns the number of job bodies executing right now.
func (s *Scheduler) ActiveJobCount() int { return int(s.active.Load()) }

// DelayedJobCount returns the jobs waiting for SubmitAfter delays.
func (s *Scheduler) DelayedJobCount() int { return s.delayManager.JobCount() }

// IsRunning reports whether the workers were started and not shut down.
func (s *Scheduler) IsRunning() bool { return s.started.Load() && !s.closed.Load() }

// IsClosed reports whether Shutdown has been called.
func (s *Scheduler) IsClosed() bool { return s.closed.Load() }

// RecentJobs returns up to limit execution records, newest first.
func (s *Scheduler) RecentJobs(limit int) []JobExecutionRecord {
	return s.history.recent(limit, nil)
}

// RecentFailures is RecentJobs restricted to bodies that returned an error
// or panicked.
func (s *Scheduler) RecentFailures(limit int) []JobExecutionRecord {
	return s.history.recent(limit, func(r *JobExecutionRecord) bool { return r.Failed })
}

// Stats returns a snapshot of the scheduler.
func (s *Scheduler) Stats() SchedulerStats {
	st := SchedulerStats{
		ID:        s.id,
		Workers:   len(s.workers),
		Queued:    s.QueuedJobCount(),
		Active:    s.ActiveJobCount(),
		Delayed:   s.DelayedJobCount(),
		Running:   s.IsRunning(),
		Completed: s.completed.Load(),
		Faulted:   s.faulted.Load(),
		Canceled:  s.canceled.Load(),
		Rejected:  s.rejected.Load(),
	}
	if last, ok := s.history.last(); ok {
		st.LastJobName = last.Name
		st.LastJobAt = last.FinishedAt
	}
	st.WorkerDetail = make([]WorkerStats, len(s.workers))
	for i, w := range s.workers {
		st.WorkerDetail[i] = w.Stats()
	}
	return st
}
