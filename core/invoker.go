package core

import "context"

// JobFunc is the body of a job.
type JobFunc func(ctx context.Context) error

// StateFunc is a job body that receives a caller-provided state value.
type StateFunc func(ctx context.Context, state any) error

// ContinuationFunc is the body of a continuation; antecedent is terminal.
type ContinuationFunc func(ctx context.Context, antecedent *Job) error

// ContinuationStateFunc is a continuation body with a state value.
type ContinuationStateFunc func(ctx context.Context, antecedent *Job, state any) error

type invokeKind uint8

const (
	invokeAction invokeKind = iota
	invokeWithState
	invokeWithAntecedent
	invokeWithAntecedentAndState
)

// invoker describes the call shape of a job body.
type invoker struct {
	kind       invokeKind
	action     JobFunc
	withState  StateFunc
	cont       ContinuationFunc
	contState  ContinuationStateFunc
	state      any
	antecedent *Job
}

func (iv *invoker) isNil() bool {
	switch iv.kind {
	case invokeAction:
		return iv.action == nil
	case invokeWithState:
		return iv.withState == nil
	case invokeWithAntecedent:
		return iv.cont == nil
	case invokeWithAntecedentAndState:
		return iv.contState == nil
	}
	return true
}

func (iv *invoker) invoke(ctx context.Context) error {
	switch iv.kind {
	case invokeAction:
		return iv.action(ctx)
	case invokeWithState:
		return iv.withState(ctx, iv.state)
	case invokeWithAntecedent:
		return iv.cont(ctx, iv.antecedent)
	case invokeWithAntecedentAndState:
		return iv.contState(ctx, iv.antecedent, iv.state)
	}
	return ErrNilJobFunc
}

// release drops references once the body has run so that long-lived job
// handles do not pin closures and antecedent chains.
func (iv *invoker) release() {
	iv.action = nil
	iv.withState = nil
	iv.cont = nil
	iv.contState = nil
	iv.state = nil
	iv.antecedent = nil
}
