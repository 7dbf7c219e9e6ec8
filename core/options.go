package core

// CreationOptions are hints attached to a job when it is created.
type CreationOptions uint32

const (
	CreationNone CreationOptions = 0

	// LongRunning marks a job that may occupy a worker for a long time.
	// Goroutines blocked in Wait will not pick it up while participating
	// unless it is related to the job being waited on.
	LongRunning CreationOptions = 1 << iota

	// PreferFairness sends the job to the shared overflow queue even when it
	// is submitted from a worker.
	PreferFairness

	// AttachedToParent makes the job a child of the job whose body created it.
	// The parent does not complete before its attached children.
	AttachedToParent
)

// Has reports whether all bits of flag are set.
func (o CreationOptions) Has(flag CreationOptions) bool { return o&flag == flag }

// ContinuationOptions combine creation hints with a filter over the
// antecedent's final status.
type ContinuationOptions uint32

const (
	ContinuationNone ContinuationOptions = 0

	ContinuationLongRunning      = ContinuationOptions(LongRunning)
	ContinuationPreferFairness   = ContinuationOptions(PreferFairness)
	ContinuationAttachedToParent = ContinuationOptions(AttachedToParent)

	NotOnRanToCompletion ContinuationOptions = 1 << (iota + 8)
	NotOnFaulted
	NotOnCanceled

	// ExecuteSynchronously runs the continuation on the goroutine that
	// completed the antecedent instead of queueing it.
	ExecuteSynchronously

	OnlyOnRanToCompletion = NotOnFaulted | NotOnCanceled
	OnlyOnFaulted         = NotOnRanToCompletion | NotOnCanceled
	OnlyOnCanceled        = NotOnRanToCompletion | NotOnFaulted
)

const continuationFilterMask = NotOnRanToCompletion | NotOnFaulted | NotOnCanceled

// Has reports whether all bits of flag are set.
func (o ContinuationOptions) Has(flag ContinuationOptions) bool { return o&flag == flag }

// CreationOptions extracts the creation bits.
func (o ContinuationOptions) CreationOptions() CreationOptions {
	return CreationOptions(o) & (LongRunning | PreferFairness | AttachedToParent)
}

// valid rejects a filter that excludes every terminal status.
func (o ContinuationOptions) valid() bool {
	return o&continuationFilterMask != continuationFilterMask
}

// Allows reports whether a continuation with these options runs after an
// antecedent that finished with status.
func (o ContinuationOptions) Allows(status Status) bool {
	switch status {
	case StatusRanToCompletion:
		return !o.Has(NotOnRanToCompletion)
	case StatusFaulted:
		return !o.Has(NotOnFaulted)
	case StatusCanceled:
		return !o.Has(NotOnCanceled)
	default:
		return false
	}
}
