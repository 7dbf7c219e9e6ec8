package core

import "context"

// frame identifies the job running on a goroutine and, when that goroutine
// is a pool worker, the worker itself. It travels in the context handed to
// job bodies instead of living in goroutine-local state.
type frame struct {
	scheduler *Scheduler
	worker    *Worker // nil for goroutines participating from outside the pool
	job       *Job
}

type frameKeyType struct{}

var frameKey frameKeyType

func withFrame(ctx context.Context, f *frame) context.Context {
	return context.WithValue(ctx, frameKey, f)
}

func frameFromContext(ctx context.Context) *frame {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(frameKey).(*frame)
	return f
}

// liveWorker returns the worker of f when f's job is still that worker's
// current job, i.e. the caller is inside the body the frame was built for.
func (f *frame) liveWorker(s *Scheduler) *Worker {
	if f == nil || f.worker == nil || f.scheduler != s {
		return nil
	}
	if f.worker.current.Load() != f.job {
		return nil
	}
	return f.worker
}

// CurrentJob returns the job whose body received ctx, or nil.
func CurrentJob(ctx context.Context) *Job {
	if f := frameFromContext(ctx); f != nil {
		return f.job
	}
	return nil
}

// CurrentScheduler returns the scheduler executing the job whose body
// received ctx, or nil.
func CurrentScheduler(ctx context.Context) *Scheduler {
	if f := frameFromContext(ctx); f != nil {
		return f.scheduler
	}
	return nil
}

// CurrentWorkerID returns the pool worker index running the body that
// received ctx, or -1 when it runs on a participating goroutine.
func CurrentWorkerID(ctx context.Context) int {
	if f := frameFromContext(ctx); f != nil && f.worker != nil {
		return f.worker.id
	}
	return -1
}
