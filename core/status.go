package core

// Status is a job's position in its lifecycle. Transitions only move forward.
type Status int32

const (
	StatusCreated Status = iota
	StatusWaitingForActivation
	StatusWaitingToRun
	StatusRunning
	StatusWaitingForChildrenToComplete
	StatusRanToCompletion
	StatusCanceled
	StatusFaulted
)

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	return s == StatusRanToCompletion || s == StatusCanceled || s == StatusFaulted
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "Created"
	case StatusWaitingForActivation:
		return "WaitingForActivation"
	case StatusWaitingToRun:
		return "WaitingToRun"
	case StatusRunning:
		return "Running"
	case StatusWaitingForChildrenToComplete:
		return "WaitingForChildrenToComplete"
	case StatusRanToCompletion:
		return "RanToCompletion"
	case StatusCanceled:
		return "Canceled"
	case StatusFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}
