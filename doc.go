// Package workstealer provides an in-process work-stealing job scheduler for Go.
//
// Jobs run on a fixed pool of worker goroutines. Each worker owns a lock-free
// deque: it pushes and pops its own work at the bottom while idle peers steal
// from the top. A goroutine that waits on a job runs other queued jobs while
// it waits instead of blocking, so nested waits do not exhaust the pool.
//
// # Quick Start
//
// Initialize the default scheduler at application startup:
//
//	workstealer.InitDefaultScheduler(0) // GOMAXPROCS workers
//	defer workstealer.ShutdownDefaultScheduler()
//
// Submit a job and wait for it:
//
//	job := workstealer.Submit(ctx, func(ctx context.Context) error {
//		// Your code here
//		return nil
//	})
//	err := job.Wait(ctx)
//
// # Key Concepts
//
// Job: a unit of work with a status (Created, WaitingToRun, Running,
// WaitingForChildrenToComplete, RanToCompletion, Canceled, Faulted). Its
// error is an *AggregateError when faulted.
//
// Continuation: a job started when its antecedent finishes, filtered by
// ContinuationOptions such as OnlyOnFaulted or NotOnCanceled.
//
// Attached children: a job created with AttachedToParent inside another
// job's body delays the parent's completion and faults it on failure.
//
// For: a parallel loop over an integer range. The range is split into one
// chunk per worker and idle chunks steal single indices from the backs of
// others.
//
// # Cancellation
//
// Every job carries a context. Canceling a job before it runs prevents it
// from running; canceling a running job only signals its context, and the
// body decides when to stop.
//
// # Example
//
//	import (
//		"context"
//		workstealer "github.com/Swind/go-work-stealer"
//	)
//
//	func main() {
//		workstealer.InitDefaultScheduler(4)
//		defer workstealer.ShutdownDefaultScheduler()
//
//		sum := make([]int, 1000)
//		_, err := workstealer.For(context.Background(), 0, len(sum), func(i int, _ *workstealer.LoopState) error {
//			sum[i] = i * i
//			return nil
//		})
//		if err != nil {
//			panic(err)
//		}
//	}
//
// For more control (custom logger, metrics, panic handling) build a
// Scheduler from the core package directly:
//
//	s := core.NewScheduler(&core.SchedulerConfig{Workers: 8})
//	defer s.Shutdown()
package workstealer
