// Package saga runs ordered remote calls with compensating undo.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"koi-auction/internal/observability"
	"koi-auction/pkg/logger"
	"koi-auction/pkg/utils"
)

type Runner struct {
	store LogStore
	log   logger.Logger
	now   func() time.Time

	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

func NewRunner(store LogStore, log logger.Logger) *Runner {
	return &Runner{
		store:    store,
		log:      log,
		now:      time.Now,
		handlers: make(map[string]ActionHandler),
	}
}

// Handle registers the handler that executes compensation actions of kind.
func (r *Runner) Handle(kind string, handler ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

// Run executes def's steps in order. When a step fails, every completed step is
// compensated once, newest first, on a context that ignores the caller's
// cancellation. The returned error is a *StepError, or a *CompensationFailedError
// when an undo failed too.
func (r *Runner) Run(ctx context.Context, def Definition) (*Run, error) {
	now := r.now()
	run := &Run{
		ID:        utils.GenerateID("saga"),
		Name:      def.Name,
		State:     StateRunning,
		Metadata:  def.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		r.log.Error("Failed to save saga run", "saga", def.Name, "error", err)
	}

	var completed []Step
	var stepErr *StepError
	for _, step := range def.Steps {
		if def.OnStep != nil {
			def.OnStep(step.Name)
		}
		r.record(ctx, run, EventStepStarted, step.Name, "")

		if err := step.Forward(ctx); err != nil {
			stepErr = &StepError{Step: step.Name, Err: err}
			r.record(ctx, run, EventStepFailed, step.Name, err.Error())
			break
		}
		r.record(ctx, run, EventStepSucceeded, step.Name, "")
		completed = append(completed, step)
	}

	if stepErr == nil {
		r.finish(ctx, run, StateSucceeded)
		return run, nil
	}

	run.FailedStep = stepErr.Step
	run.Error = stepErr.Err.Error()

	var undo []Step
	for _, step := range completed {
		if step.compensable() {
			undo = append(undo, step)
		}
	}
	if len(undo) == 0 {
		r.finish(ctx, run, StateFailedNoCompensation)
		return run, stepErr
	}

	// The caller may already be gone; the undo must still reach the remote API.
	undoCtx := context.WithoutCancel(ctx)
	var errs []error
	for i := len(undo) - 1; i >= 0; i-- {
		step := undo[i]
		r.record(undoCtx, run, EventCompensationStarted, step.Name, "")

		if err := r.compensate(undoCtx, step); err != nil {
			observability.RecordCompensation("failed")
			r.log.Error("Compensation failed", "saga_id", run.ID, "saga", run.Name, "step", step.Name, "error", err)
			r.record(undoCtx, run, EventCompensationFailed, step.Name, err.Error())
			run.Pending = append(run.Pending, PendingCompensation{
				Step:   step.Name,
				Action: step.Compensation,
				Error:  err.Error(),
			})
			errs = append(errs, err)
			continue
		}
		observability.RecordCompensation("succeeded")
		r.record(undoCtx, run, EventCompensationSucceeded, step.Name, "")
	}

	if len(errs) > 0 {
		r.finish(undoCtx, run, StateCompensationFailed)
		return run, &CompensationFailedError{
			SagaID: run.ID,
			Step:   run.Pending[0].Step,
			Cause:  stepErr,
			Errs:   errs,
		}
	}

	r.finish(undoCtx, run, StateFailedCompensated)
	return run, stepErr
}

func (r *Runner) compensate(ctx context.Context, step Step) error {
	if step.Compensation != nil {
		return r.execute(ctx, step.Compensation)
	}
	return step.Compensate(ctx)
}

func (r *Runner) execute(ctx context.Context, action *Action) error {
	r.mu.RLock()
	handler, ok := r.handlers[action.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action.Kind)
	}
	return handler(ctx, action.Payload)
}

// Replay retries the pending compensations of a run left in compensation_failed.
// The run moves to repaired once nothing is pending.
func (r *Runner) Replay(ctx context.Context, run *Run) error {
	if run.State != StateCompensationFailed {
		return fmt.Errorf("saga run %s is %s, not %s", run.ID, run.State, StateCompensationFailed)
	}

	run.Attempts++
	var remaining []PendingCompensation
	var errs []error
	for _, p := range run.Pending {
		r.record(ctx, run, EventRepairAttempted, p.Step, "")
		if p.Action == nil {
			err := fmt.Errorf("step %s has no replayable compensation", p.Step)
			remaining = append(remaining, p)
			errs = append(errs, err)
			continue
		}
		if err := r.execute(ctx, p.Action); err != nil {
			p.Error = err.Error()
			remaining = append(remaining, p)
			errs = append(errs, err)
			r.record(ctx, run, EventCompensationFailed, p.Step, err.Error())
			continue
		}
		observability.RecordCompensation("repaired")
		r.record(ctx, run, EventCompensationSucceeded, p.Step, "")
	}
	run.Pending = remaining

	if len(remaining) == 0 {
		r.record(ctx, run, EventRepaired, "", "")
		r.finish(ctx, run, StateRepaired)
		return nil
	}
	r.finish(ctx, run, StateCompensationFailed)
	return errors.Join(errs...)
}

// Abandon gives up on repairing run.
func (r *Runner) Abandon(ctx context.Context, run *Run, reason string) error {
	r.record(ctx, run, EventAbandoned, "", reason)
	run.State = StateAbandoned
	run.UpdatedAt = r.now()
	return r.store.UpdateRun(ctx, run)
}

func (r *Runner) record(ctx context.Context, run *Run, kind EventKind, step, message string) {
	event := Event{At: r.now(), Kind: kind, Step: step, Message: message}
	run.Events = append(run.Events, event)
	if err := r.store.AppendEvent(ctx, run.ID, event); err != nil {
		r.log.Warn("Failed to append saga event", "saga_id", run.ID, "kind", kind, "error", err)
	}
}

func (r *Runner) finish(ctx context.Context, run *Run, state State) {
	run.State = state
	run.UpdatedAt = r.now()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.log.Error("Failed to update saga run", "saga_id", run.ID, "state", state, "error", err)
	}
}
