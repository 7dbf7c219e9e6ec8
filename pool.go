package workstealer

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-work-stealer/core"
)

// =============================================================================
// Default Scheduler Helper (Singleton)
// =============================================================================

var (
	defaultScheduler *core.Scheduler
	defaultMu        sync.Mutex
)

// InitDefaultScheduler initializes the process-wide scheduler with the given
// number of workers (0 means GOMAXPROCS) and starts it.
func InitDefaultScheduler(workers int) {
	InitDefaultSchedulerWithConfig(&core.SchedulerConfig{ID: "default", Workers: workers})
}

// InitDefaultSchedulerWithConfig initializes the process-wide scheduler from
// cfg. It is a no-op when a default scheduler already exists.
func InitDefaultSchedulerWithConfig(cfg *core.SchedulerConfig) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultScheduler != nil {
		return // Already initialized
	}

	defaultScheduler = core.NewScheduler(cfg)
	defaultScheduler.Start()
}

// DefaultScheduler returns the process-wide scheduler.
// It panics if InitDefaultScheduler has not been called.
func DefaultScheduler() *core.Scheduler {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultScheduler == nil {
		panic("default scheduler not initialized. Call InitDefaultScheduler() first.")
	}
	return defaultScheduler
}

// ShutdownDefaultScheduler stops the process-wide scheduler, canceling
// anything still queued.
func ShutdownDefaultScheduler() {
	defaultMu.Lock()
	s := defaultScheduler
	defaultScheduler = nil
	defaultMu.Unlock()

	if s != nil {
		s.Shutdown()
	}
}

// ShutdownDefaultSchedulerGraceful drains the process-wide scheduler for up
// to timeout before stopping it.
func ShutdownDefaultSchedulerGraceful(timeout time.Duration) error {
	defaultMu.Lock()
	s := defaultScheduler
	defaultScheduler = nil
	defaultMu.Unlock()

	if s == nil {
		return nil
	}
	return s.ShutdownGraceful(timeout)
}

// Submit queues fn on the default scheduler.
func Submit(ctx context.Context, fn JobFunc) *Job {
	return DefaultScheduler().Submit(ctx, fn, core.CreationNone)
}

// SubmitAfter queues fn on the default scheduler once delay has elapsed.
func SubmitAfter(ctx context.Context, delay time.Duration, fn JobFunc) *Job {
	return DefaultScheduler().SubmitAfter(ctx, delay, fn, core.CreationNone)
}

// WaitAll waits for every job on the default scheduler, running queued work
// meanwhile.
func WaitAll(ctx context.Context, jobs ...*Job) error {
	return DefaultScheduler().WaitAll(ctx, jobs...)
}

// For runs body for every index in [from, to) on the default scheduler.
func For(ctx context.Context, from, to int, body ForBody) (LoopResult, error) {
	return core.For(ctx, DefaultScheduler(), from, to, LoopOptions{}, body)
}

// Invoke runs every fn in parallel on the default scheduler.
func Invoke(ctx context.Context, fns ...JobFunc) error {
	return core.Invoke(ctx, DefaultScheduler(), fns...)
}
