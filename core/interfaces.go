package core

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PanicHandler: Interface for handling job panics
// =============================================================================

// PanicHandler is called when a job body panics.
// The panic is still captured in the job, which ends Faulted with a *PanicError.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a job panics.
	//
	// Parameters:
	// - ctx: The context handed to the panicked job body
	// - schedulerID: The ID of the scheduler running the job
	// - workerID: The ID of the worker (-1 for goroutines participating in a wait)
	// - panicInfo: The panic value recovered from the job
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, schedulerID string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics at error level.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, schedulerID string, workerID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("job panicked",
		F("scheduler", schedulerID),
		F("worker", workerID),
		F("panic", fmt.Sprint(panicInfo)),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast; they are called on worker goroutines.
type Metrics interface {
	// RecordJobDuration records how long a job body ran.
	RecordJobDuration(schedulerID string, duration time.Duration)

	// RecordJobCompleted records a job reaching a terminal status.
	RecordJobCompleted(schedulerID string, status Status)

	// RecordJobPanic records that a job body panicked.
	RecordJobPanic(schedulerID string, panicInfo any)

	// RecordSteal records a job taken from another worker's deque.
	RecordSteal(schedulerID string, workerID int)

	// RecordQueueDepth records the overflow queue depth seen by a worker.
	RecordQueueDepth(schedulerID string, depth int)

	// RecordJobRejected records that a job was rejected (e.g., after shutdown).
	RecordJobRejected(schedulerID string, reason string)

	// RecordUnobservedFault records a faulted job disposed without its error being read.
	RecordUnobservedFault(schedulerID string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordJobDuration(schedulerID string, duration time.Duration) {}
func (m *NilMetrics) RecordJobCompleted(schedulerID string, status Status)         {}
func (m *NilMetrics) RecordJobPanic(schedulerID string, panicInfo any)             {}
func (m *NilMetrics) RecordSteal(schedulerID string, workerID int)                 {}
func (m *NilMetrics) RecordQueueDepth(schedulerID string, depth int)               {}
func (m *NilMetrics) RecordJobRejected(schedulerID string, reason string)          {}
func (m *NilMetrics) RecordUnobservedFault(schedulerID string)                     {}

// =============================================================================
// RejectedJobHandler: Interface for handling rejected jobs
// =============================================================================

// RejectedJobHandler is called when a job cannot be queued because the
// scheduler is closed. The job itself ends Faulted with ErrSchedulerClosed.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedJobHandler interface {
	HandleRejectedJob(schedulerID string, job *Job, reason string)
}

// DefaultRejectedJobHandler logs rejected jobs at warn level.
type DefaultRejectedJobHandler struct {
	Logger Logger
}

// HandleRejectedJob logs the rejected job.
func (h *DefaultRejectedJobHandler) HandleRejectedJob(schedulerID string, job *Job, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("job rejected",
		F("scheduler", schedulerID),
		F("job", job.ID()),
		F("reason", reason),
	)
}

// =============================================================================
// IdleBackoff: how long an idle worker sleeps between steal sweeps
// =============================================================================

// IdleBackoff bounds the exponential sleep of an idle worker or a parked
// waiter. The delay starts at Min, is multiplied by Ratio after each idle
// period and is capped at Max. It resets once work is found.
type IdleBackoff struct {
	Min   time.Duration
	Max   time.Duration
	Ratio float64
}

// DefaultIdleBackoff returns the default idle backoff.
func DefaultIdleBackoff() IdleBackoff {
	return IdleBackoff{
		Min:   50 * time.Microsecond,
		Max:   10 * time.Millisecond,
		Ratio: 2.0,
	}
}

// delay returns the sleep for the given idle period (0-indexed).
func (b IdleBackoff) delay(attempt int) time.Duration {
	if b.Min <= 0 {
		return 0
	}

	delay := float64(b.Min)
	for i := 0; i < attempt; i++ {
		delay *= b.Ratio
		if delay >= float64(b.Max) {
			break
		}
	}

	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

const (
	defaultStealRounds          = 2
	defaultInitialDequeCapacity = 32
	defaultJobHistoryCapacity   = 100
)

// SchedulerConfig holds configuration options for Scheduler.
// Zero fields are replaced by defaults in NewScheduler.
type SchedulerConfig struct {
	// ID names the scheduler in logs and metrics. Defaults to "scheduler-<uuid>".
	ID string

	// Workers is the number of worker goroutines. Defaults to GOMAXPROCS.
	Workers int

	// StealRounds is the number of empty steal sweeps before a worker sleeps.
	StealRounds int

	// IdleBackoff bounds the idle sleep of workers and parked waiters.
	IdleBackoff IdleBackoff

	// WorkerPriority is the nice value applied to each worker's OS thread.
	// Zero leaves the threads alone.
	WorkerPriority int

	// InitialDequeCapacity is the starting capacity of every worker deque.
	InitialDequeCapacity int

	// HistoryCapacity is the number of execution records kept for RecentJobs.
	HistoryCapacity int

	// Logger receives lifecycle and fault messages. Defaults to DefaultLogger.
	Logger Logger

	// PanicHandler is called when a job panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedJobHandler is called when a job is rejected. Defaults to DefaultRejectedJobHandler.
	RejectedJobHandler RejectedJobHandler
}

// DefaultSchedulerConfig returns a config with defaults filled in.
func DefaultSchedulerConfig() *SchedulerConfig {
	cfg := &SchedulerConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *SchedulerConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "scheduler-" + uuid.NewString()
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.StealRounds <= 0 {
		c.StealRounds = defaultStealRounds
	}
	if c.IdleBackoff.Min <= 0 {
		// A zero Min would make idle workers spin.
		if c.IdleBackoff.Max <= 0 {
			c.IdleBackoff = DefaultIdleBackoff()
		} else {
			c.IdleBackoff.Min = DefaultIdleBackoff().Min
		}
	}
	if c.IdleBackoff.Ratio < 1 {
		c.IdleBackoff.Ratio = 1
	}
	if c.IdleBackoff.Max < c.IdleBackoff.Min {
		c.IdleBackoff.Max = c.IdleBackoff.Min
	}
	if c.InitialDequeCapacity <= 0 {
		c.InitialDequeCapacity = defaultInitialDequeCapacity
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = defaultJobHistoryCapacity
	}
	if c.Logger == nil {
		c.Logger = NewDefaultLogger()
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &DefaultPanicHandler{Logger: c.Logger}
	}
	if c.Metrics == nil {
		c.Metrics = &NilMetrics{}
	}
	if c.RejectedJobHandler == nil {
		c.RejectedJobHandler = &DefaultRejectedJobHandler{Logger: c.Logger}
	}
}
