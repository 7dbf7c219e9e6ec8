package core

import "time"

// JobExecutionRecord captures a completed job body execution.
type JobExecutionRecord struct {
	JobID       uint64
	Name        string
	SchedulerID string
	WorkerID    int // -1 when run by a participating goroutine
	Options     CreationOptions
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	Panicked    bool
	Failed      bool
}

// WorkerStats represents runtime counters of one worker.
type WorkerStats struct {
	ID       int
	Running  bool
	Deque    int
	Executed uint64
	Stolen   uint64
	Idle     uint64
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	ID           string
	Workers      int
	Queued       int
	Active       int
	Delayed      int
	Running      bool
	Completed    uint64
	Faulted      uint64
	Canceled     uint64
	Rejected     uint64
	LastJobName  string
	LastJobAt    time.Time
	WorkerDetail []WorkerStats
}
