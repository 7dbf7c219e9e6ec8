package core

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var jobIDSeq atomic.Uint64

// Job is a deferred unit of work with its own lifecycle.
//
// A job moves forward through Status values only. Once it is terminal
// (RanToCompletion, Canceled, Faulted) it never changes again, its Done
// channel is closed and its continuations have been fired exactly once.
type Job struct {
	id          uint64
	options     CreationOptions
	contOptions ContinuationOptions
	createdAt   time.Time

	status    atomic.Int32
	scheduler atomic.Pointer[Scheduler]

	// ctx is the job's cancellation token. It keeps the values of the
	// creation context but is linked to its cancellation only through
	// stopParentWatch, so finished jobs leave nothing registered upstream.
	ctx             context.Context
	source          context.Context
	cancel          context.CancelCauseFunc
	stopTokenWatch  func() bool
	stopParentWatch func() bool

	invoker invoker

	// parent is not owned; the parent only keeps a count of this child.
	parent   *Job
	children atomic.Int32

	mu        sync.Mutex
	name      string
	childErrs []error

	conts continuationList

	// err is written once, before the terminal status is published.
	err   error
	watch *faultWatch
	done  chan struct{}
}

// NewJob creates a job in the Created state. It does not run until Start,
// RunSynchronously, or Scheduler.Submit.
//
// ctx is the job's cancellation source. When ctx is the context handed to a
// running job body and opts has AttachedToParent, the new job becomes an
// attached child of that job.
func NewJob(ctx context.Context, fn JobFunc, opts CreationOptions) *Job {
	return newJob(ctx, invoker{kind: invokeAction, action: fn}, opts, ContinuationNone, StatusCreated)
}

// NewJobWithState creates a job whose body receives state.
func NewJobWithState(ctx context.Context, fn StateFunc, state any, opts CreationOptions) *Job {
	return newJob(ctx, invoker{kind: invokeWithState, withState: fn, state: state}, opts, ContinuationNone, StatusCreated)
}

func newJob(ctx context.Context, iv invoker, opts CreationOptions, contOpts ContinuationOptions, initial Status) *Job {
	if ctx == nil {
		ctx = context.Background()
	}
	j := &Job{
		id:          jobIDSeq.Add(1),
		options:     opts,
		contOptions: contOpts,
		createdAt:   time.Now(),
		invoker:     iv,
		watch:       &faultWatch{},
		done:        make(chan struct{}),
	}
	j.status.Store(int32(initial))
	j.children.Store(1)

	if opts.Has(AttachedToParent) {
		if p := CurrentJob(ctx); p != nil && p.Status() == StatusRunning && p.attachChild() {
			j.parent = p
		}
	}

	j.source = ctx
	j.ctx, j.cancel = context.WithCancelCause(context.WithoutCancel(ctx))
	j.stopTokenWatch = context.AfterFunc(j.ctx, j.onTokenCanceled)
	if ctx.Err() != nil {
		// The link below fires on its own goroutine; a token that is already
		// canceled must be visible before the job can be claimed.
		j.cancel(context.Cause(ctx))
	} else if ctx.Done() != nil {
		parent := ctx
		j.stopParentWatch = context.AfterFunc(parent, func() {
			j.cancel(context.Cause(parent))
		})
	}

	if iv.isNil() && j.claim(initial) {
		j.markObserved()
		j.finish(StatusFaulted, aggregate(ErrNilJobFunc), nil, nil)
	}
	return j
}

// ID returns the job's process-wide monotonic identifier.
func (j *Job) ID() uint64 { return j.id }

// Name returns the display name, empty unless SetName was called.
func (j *Job) Name() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.name
}

// SetName sets a display name used by history records and logs.
func (j *Job) SetName(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.name = name
}

// Options returns the creation options.
func (j *Job) Options() CreationOptions { return j.options }

// Parent returns the job this one is attached to, or nil.
func (j *Job) Parent() *Job { return j.parent }

// Scheduler returns the scheduler the job was started on, or nil.
func (j *Job) Scheduler() *Scheduler { return j.scheduler.Load() }

// Status returns the current status.
func (j *Job) Status() Status { return Status(j.status.Load()) }

// IsCompleted reports whether the job is terminal.
func (j *Job) IsCompleted() bool { return j.Status().IsTerminal() }

// IsFaulted reports whether the job ended Faulted.
func (j *Job) IsFaulted() bool { return j.Status() == StatusFaulted }

// IsCanceled reports whether the job ended Canceled.
func (j *Job) IsCanceled() bool { return j.Status() == StatusCanceled }

// Done is closed when the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err returns the captured *AggregateError of a Faulted job and marks it
// observed. It returns nil for any other status.
func (j *Job) Err() error {
	if j.Status() != StatusFaulted {
		return nil
	}
	j.markObserved()
	return j.err
}

// Cancel requests cancellation. A job that has not started running ends
// Canceled right away; a running job is never preempted and only observes
// the request through its context.
func (j *Job) Cancel() {
	j.cancel(ErrJobCanceled)
}

// Start queues a Created job on s.
func (j *Job) Start(s *Scheduler) error {
	if s == nil {
		return ErrNilScheduler
	}
	if !j.status.CompareAndSwap(int32(StatusCreated), int32(StatusWaitingToRun)) {
		return ErrJobAlreadyStarted
	}
	j.scheduler.Store(s)
	return s.queueJob(j, frameFromContext(j.ctx).liveWorker(s))
}

// RunSynchronously runs a Created job on the calling goroutine. ctx
// identifies the caller; pass the body context when calling from a job.
func (j *Job) RunSynchronously(ctx context.Context, s *Scheduler) error {
	if s == nil {
		return ErrNilScheduler
	}
	if !j.status.CompareAndSwap(int32(StatusCreated), int32(StatusWaitingToRun)) {
		return ErrJobAlreadyStarted
	}
	j.scheduler.Store(s)
	if s.IsClosed() {
		s.reject(j, "closed")
		return ErrSchedulerClosed
	}
	s.runJob(j, frameFromContext(ctx).liveWorker(s))
	return nil
}

// Wait blocks until the job is terminal. While blocked the caller executes
// eligible work from the job's scheduler. It returns nil for
// RanToCompletion, a *CanceledError for Canceled, and the *AggregateError for
// Faulted. A done ctx aborts the wait with ctx.Err().
func (j *Job) Wait(ctx context.Context) error {
	_, err := j.WaitTimeout(ctx, -1)
	return err
}

// WaitTimeout is Wait bounded by timeout (negative means no bound). The bool
// reports whether the job completed before the timeout.
func (j *Job) WaitTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !j.IsCompleted() {
		completed, err := waitForJob(ctx, j, timeout)
		if err != nil {
			return false, err
		}
		if !completed {
			return false, nil
		}
	}
	return true, j.result()
}

func waitForJob(ctx context.Context, j *Job, timeout time.Duration) (bool, error) {
	if s := j.scheduler.Load(); s != nil {
		return s.participateUntil(ctx, frameFromContext(ctx).liveWorker(s), j, j.done, timeout)
	}

	// Not scheduled yet: park until it completes (it may be started later).
	var timeoutCh <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-j.done:
		return true, nil
	case <-timeoutCh:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (j *Job) result() error {
	switch j.Status() {
	case StatusCanceled:
		return &CanceledError{JobID: j.id}
	case StatusFaulted:
		j.markObserved()
		return j.err
	default:
		return nil
	}
}

// Dispose releases the job. A Faulted job whose error was never read is
// reported as an unobserved fault at this point; a job that is never disposed
// is reported when it is garbage collected instead. Disposing a job that is
// not terminal does nothing.
func (j *Job) Dispose() {
	if !j.IsCompleted() || j.Status() != StatusFaulted {
		return
	}
	if j.watch.observed.Load() || !j.watch.reported.CompareAndSwap(false, true) {
		return
	}
	reportUnobservedFault(&UnobservedFault{Job: j, JobID: j.id, Name: j.Name(), Err: j.err}, j.scheduler.Load())
}

// ContinueWith registers fn to run once this job is terminal and opts'
// filter admits its final status. A nil s uses this job's scheduler. ctx is
// the continuation's cancellation source and parent lookup.
func (j *Job) ContinueWith(ctx context.Context, fn ContinuationFunc, opts ContinuationOptions, s *Scheduler) *Job {
	return j.continueWith(ctx, invoker{kind: invokeWithAntecedent, cont: fn, antecedent: j}, opts, s)
}

// ContinueWithState is ContinueWith with a state value passed to fn.
func (j *Job) ContinueWithState(ctx context.Context, fn ContinuationStateFunc, state any, opts ContinuationOptions, s *Scheduler) *Job {
	return j.continueWith(ctx, invoker{kind: invokeWithAntecedentAndState, contState: fn, antecedent: j, state: state}, opts, s)
}

func (j *Job) continueWith(ctx context.Context, iv invoker, opts ContinuationOptions, s *Scheduler) *Job {
	if !opts.valid() {
		cj := newJob(ctx, invoker{kind: invokeAction, action: func(context.Context) error { return nil }}, CreationNone, opts, StatusWaitingForActivation)
		if cj.claim(StatusWaitingForActivation) {
			cj.markObserved()
			cj.finish(StatusFaulted, aggregate(ErrInvalidContinuationOptions), nil, nil)
		}
		return cj
	}
	if s == nil {
		s = j.scheduler.Load()
	}

	cj := newJob(ctx, iv, opts.CreationOptions(), opts, StatusWaitingForActivation)
	if s != nil {
		cj.scheduler.Store(s)
	}
	c := &continuation{job: cj, options: opts, scheduler: s}
	if !j.conts.add(c) {
		var w *Worker
		if s != nil {
			w = frameFromContext(ctx).liveWorker(s)
		}
		c.fire(j, w)
	}
	return cj
}

// claim moves the job from the given pre-run status to Running, giving the
// caller exclusive right to finish it.
func (j *Job) claim(from Status) bool {
	return j.status.CompareAndSwap(int32(from), int32(StatusRunning))
}

// claimPending claims a job that has not started running yet.
func (j *Job) claimPending() bool {
	for {
		st := j.Status()
		switch st {
		case StatusCreated, StatusWaitingForActivation, StatusWaitingToRun:
		default:
			return false
		}
		if j.claim(st) {
			return true
		}
	}
}

// onTokenCanceled ends a job that has not started running yet.
func (j *Job) onTokenCanceled() {
	if j.claimPending() {
		j.invoker.release()
		j.finish(StatusCanceled, nil, nil, nil)
	}
}

// execute runs a WaitingToRun job. It returns false when the job was
// already claimed by someone else (run, canceled, or rejected).
func (j *Job) execute(s *Scheduler, w *Worker) bool {
	if !j.claim(StatusWaitingToRun) {
		return false
	}

	if j.canceled() {
		j.invoker.release()
		j.finish(StatusCanceled, nil, s, w)
		return true
	}

	startedAt := time.Now()
	err := j.runBody(withFrame(j.ctx, &frame{scheduler: s, worker: w, job: j}), s, w)
	j.invoker.release()
	if s != nil {
		s.recordExecution(j, w, startedAt, err)
	}

	switch {
	case err == nil:
		j.finishBody(s, w)
	case j.isOwnCancellation(err):
		j.finish(StatusCanceled, nil, s, w)
	default:
		j.finish(StatusFaulted, aggregate(err), s, w)
	}
	return true
}

func (j *Job) runBody(ctx context.Context, s *Scheduler, w *Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			if s != nil {
				s.reportPanic(ctx, j, w, r, stack)
			}
			err = &PanicError{Value: r, Stack: stack}
		}
	}()
	return j.invoker.invoke(ctx)
}

// canceled reports whether cancellation was requested on the token or on
// the creation context. The creation context is checked directly because its
// link to the token runs asynchronously.
func (j *Job) canceled() bool {
	if j.ctx.Err() != nil {
		return true
	}
	if j.source.Err() != nil {
		j.cancel(context.Cause(j.source))
		return true
	}
	return false
}

// attachChild counts one more attached child. It fails once the job has
// settled its children, so a late attach cannot reopen the barrier.
func (j *Job) attachChild() bool {
	for {
		n := j.children.Load()
		if n <= 0 {
			return false
		}
		if j.children.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (j *Job) isOwnCancellation(err error) bool {
	if !j.canceled() {
		return false
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrJobCanceled)
}

// finishBody handles a body that returned normally: the job waits for its
// attached children before it completes.
func (j *Job) finishBody(s *Scheduler, w *Worker) {
	if j.children.Load() > 1 {
		j.status.Store(int32(StatusWaitingForChildrenToComplete))
	}
	if j.children.Add(-1) == 0 {
		j.finishChildren(s, w)
	}
}

func (j *Job) finishChildren(s *Scheduler, w *Worker) {
	j.mu.Lock()
	errs := j.childErrs
	j.childErrs = nil
	j.mu.Unlock()

	if len(errs) > 0 {
		j.finish(StatusFaulted, aggregate(errs...), s, w)
		return
	}
	j.finish(StatusRanToCompletion, nil, s, w)
}

func (j *Job) onChildCompleted(child *Job, w *Worker) {
	if child.Status() == StatusFaulted {
		child.markObserved()
		j.mu.Lock()
		j.childErrs = append(j.childErrs, child.err)
		j.mu.Unlock()
	}
	if j.children.Add(-1) == 0 {
		j.finishChildren(j.scheduler.Load(), w)
	}
}

// finish publishes the terminal status. The caller must hold the exclusive
// right to finish (a successful claim, or the last child decrement).
func (j *Job) finish(final Status, err error, s *Scheduler, w *Worker) {
	j.err = err
	j.status.Store(int32(final))

	j.stopTokenWatch()
	if j.stopParentWatch != nil {
		j.stopParentWatch()
	}

	// Counters are updated before waiters are released.
	if s == nil {
		s = j.scheduler.Load()
	}
	if s != nil {
		s.onJobCompleted(j, final)
	}
	if final == StatusFaulted && !j.watch.observed.Load() {
		j.watchFault(s)
	}
	close(j.done)

	for _, c := range j.conts.drain() {
		c.fire(j, w)
	}
	if p := j.parent; p != nil {
		p.onChildCompleted(j, w)
	}
}

// aggregate wraps errs, returning an untyped nil when there is nothing to
// report so the result can be compared to nil.
func aggregate(errs ...error) error {
	if agg := NewAggregateError(errs...); agg != nil {
		return agg
	}
	return nil
}

// isRelated reports whether other is j, an ancestor of j, or a descendant of
// j, following at most maxHops parent links in each direction.
func (j *Job) isRelated(other *Job, maxHops int) bool {
	if j == other {
		return true
	}
	p := j.parent
	for i := 0; p != nil && i < maxHops; i++ {
		if p == other {
			return true
		}
		p = p.parent
	}
	p = other.parent
	for i := 0; p != nil && i < maxHops; i++ {
		if p == j {
			return true
		}
		p = p.parent
	}
	return false
}
