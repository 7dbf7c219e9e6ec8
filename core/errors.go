package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Scheduler errors.
	ErrSchedulerClosed = errors.New("workstealer: scheduler closed")
	ErrNilScheduler    = errors.New("workstealer: nil scheduler")

	// Job errors.
	ErrJobAlreadyStarted          = errors.New("workstealer: job already started")
	ErrJobCanceled                = errors.New("workstealer: job canceled")
	ErrInvalidContinuationOptions = errors.New("workstealer: invalid continuation options")
	ErrNilJobFunc                 = errors.New("workstealer: nil job function")

	// Loop errors.
	ErrLoopBreakAfterStop = errors.New("workstealer: Break called after Stop")
	ErrLoopStopAfterBreak = errors.New("workstealer: Stop called after Break")
	ErrInvalidRange       = errors.New("workstealer: invalid loop range")
)

// AggregateError collects every failure of a job, a wait over several jobs, or
// a parallel loop.
type AggregateError struct {
	Errors []error
}

// NewAggregateError returns nil when errs holds no non-nil error.
func NewAggregateError(errs ...error) *AggregateError {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &AggregateError{Errors: kept}
}

func (e *AggregateError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "workstealer: one or more errors occurred"
	case 1:
		return "workstealer: one or more errors occurred: " + e.Errors[0].Error()
	}
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("workstealer: %d errors occurred: [%s]", len(e.Errors), strings.Join(parts, "; "))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

// Flatten returns the leaf errors, expanding nested aggregates.
func (e *AggregateError) Flatten() []error {
	var out []error
	for _, err := range e.Errors {
		var inner *AggregateError
		if errors.As(err, &inner) && inner != nil {
			out = append(out, inner.Flatten()...)
			continue
		}
		out = append(out, err)
	}
	return out
}

// PanicError is a recovered panic from a job body or loop iteration.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workstealer: panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// CanceledError is returned by Wait for a job that ended Canceled.
type CanceledError struct {
	JobID uint64
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("workstealer: job %d canceled", e.JobID)
}

func (e *CanceledError) Is(target error) bool { return target == ErrJobCanceled }
