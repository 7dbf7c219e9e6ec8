package workstealer

import "github.com/Swind/go-work-stealer/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the workstealer package for most use cases.

// Job is the unit of work
type Job = core.Job

// JobFunc is the body of a job
type JobFunc = core.JobFunc

// Status is a job's lifecycle state
type Status = core.Status

// Scheduler runs jobs on a work-stealing pool
type Scheduler = core.Scheduler

// SchedulerConfig configures a Scheduler
type SchedulerConfig = core.SchedulerConfig

// CreationOptions and ContinuationOptions are job flags
type (
	CreationOptions     = core.CreationOptions
	ContinuationOptions = core.ContinuationOptions
)

// Parallel loop types
type (
	LoopState   = core.LoopState
	LoopResult  = core.LoopResult
	LoopOptions = core.LoopOptions
	ForBody     = core.ForBody
)

// Error types
type (
	AggregateError = core.AggregateError
	PanicError     = core.PanicError
	CanceledError  = core.CanceledError
)

// Status constants
const (
	StatusCreated                      = core.StatusCreated
	StatusWaitingForActivation         = core.StatusWaitingForActivation
	StatusWaitingToRun                 = core.StatusWaitingToRun
	StatusRunning                      = core.StatusRunning
	StatusWaitingForChildrenToComplete = core.StatusWaitingForChildrenToComplete
	StatusRanToCompletion              = core.StatusRanToCompletion
	StatusCanceled                     = core.StatusCanceled
	StatusFaulted                      = core.StatusFaulted
)

// Creation flags
const (
	CreationNone     = core.CreationNone
	LongRunning      = core.LongRunning
	PreferFairness   = core.PreferFairness
	AttachedToParent = core.AttachedToParent
)

// Continuation flags
const (
	ContinuationNone             = core.ContinuationNone
	NotOnRanToCompletion         = core.NotOnRanToCompletion
	NotOnFaulted                 = core.NotOnFaulted
	NotOnCanceled                = core.NotOnCanceled
	OnlyOnRanToCompletion        = core.OnlyOnRanToCompletion
	OnlyOnFaulted                = core.OnlyOnFaulted
	OnlyOnCanceled               = core.OnlyOnCanceled
	ExecuteSynchronously         = core.ExecuteSynchronously
	ContinuationLongRunning      = core.ContinuationLongRunning
	ContinuationPreferFairness   = core.ContinuationPreferFairness
	ContinuationAttachedToParent = core.ContinuationAttachedToParent
)

// Sentinel errors
var (
	ErrSchedulerClosed = core.ErrSchedulerClosed
	ErrJobCanceled     = core.ErrJobCanceled
	ErrInvalidRange    = core.ErrInvalidRange
)

// NewJob creates a job that runs fn once started
var NewJob = core.NewJob

// NewScheduler creates a scheduler with its own worker pool
var NewScheduler = core.NewScheduler

// CurrentJob returns the job whose body received ctx, or nil
var CurrentJob = core.CurrentJob

// OnUnobservedFault registers a process-wide listener for faulted jobs
// disposed without their error being read
var OnUnobservedFault = core.OnUnobservedFault
