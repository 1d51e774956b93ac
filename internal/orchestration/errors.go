package orchestration

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a run does not finish before its deadline.
	ErrTimeout = errors.New("orchestration timed out")

	// ErrReduction is matched by every *ReductionError.
	ErrReduction = errors.New("orchestration output could not be reduced")

	// ErrNoAgents is returned when a turn policy has no participants.
	ErrNoAgents = errors.New("orchestration has no agents")
)

// InvocationError reports an agent (or manager) failure. It aborts the run.
type InvocationError struct {
	Agent string
	Round int
	Err   error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("agent %s failed in round %d: %v", e.Agent, e.Round, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// ReductionError reports that the run produced output that could not be
// coerced into a reply.
type ReductionError struct {
	Raw string
	Err error
}

func (e *ReductionError) Error() string {
	return fmt.Sprintf("%v: %v", ErrReduction, e.Err)
}

func (e *ReductionError) Unwrap() error {
	return e.Err
}

func (e *ReductionError) Is(target error) bool {
	return target == ErrReduction
}
