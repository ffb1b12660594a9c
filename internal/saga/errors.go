package saga

import (
	"errors"
	"fmt"
)

var ErrUnknownAction = errors.New("no handler registered for compensation action")

// StepError wraps the failure of a forward step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// CompensationFailedError means a completed step could not be undone and the
// remote entities are left inconsistent until the run is repaired.
type CompensationFailedError struct {
	SagaID string
	Step   string
	Cause  error
	Errs   []error
}

func (e *CompensationFailedError) Error() string {
	return fmt.Sprintf("compensation of step %s failed after %v: %v", e.Step, e.Cause, errors.Join(e.Errs...))
}

func (e *CompensationFailedError) Unwrap() []error {
	return append([]error{e.Cause}, e.Errs...)
}
