package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type State string

const (
	StateRunning              State = "running"
	StateSucceeded            State = "succeeded"
	StateFailedCompensated    State = "failed_compensated"
	StateFailedNoCompensation State = "failed_no_compensation"
	StateCompensationFailed   State = "compensation_failed"
	StateRepaired             State = "repaired"
	StateAbandoned            State = "abandoned"
)

func (s State) Valid() bool {
	switch s {
	case StateRunning, StateSucceeded, StateFailedCompensated, StateFailedNoCompensation,
		StateCompensationFailed, StateRepaired, StateAbandoned:
		return true
	default:
		return false
	}
}

// Action is a serializable compensation that can be replayed after a restart.
type Action struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func NewAction(kind string, payload interface{}) (*Action, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s action: %w", kind, err)
	}
	return &Action{Kind: kind, Payload: data}, nil
}

type ActionHandler func(ctx context.Context, payload json.RawMessage) error

// Step is one remote call in a saga. Compensation wins over Compensate when both
// are set; a step with neither has nothing to undo.
type Step struct {
	Name         string
	Forward      func(ctx context.Context) error
	Compensate   func(ctx context.Context) error
	Compensation *Action
}

func (s Step) compensable() bool {
	return s.Compensation != nil || s.Compensate != nil
}

type Definition struct {
	Name     string
	Metadata map[string]string
	Steps    []Step
	// OnStep is called before each forward step runs.
	OnStep func(step string)
}

type EventKind string

const (
	EventStepStarted           EventKind = "step_started"
	EventStepSucceeded         EventKind = "step_succeeded"
	EventStepFailed            EventKind = "step_failed"
	EventCompensationStarted   EventKind = "compensation_started"
	EventCompensationSucceeded EventKind = "compensation_succeeded"
	EventCompensationFailed    EventKind = "compensation_failed"
	EventRepairAttempted       EventKind = "repair_attempted"
	EventRepaired              EventKind = "repaired"
	EventAbandoned             EventKind = "abandoned"
)

type Event struct {
	At      time.Time `json:"at"`
	Kind    EventKind `json:"kind"`
	Step    string    `json:"step,omitempty"`
	Message string    `json:"message,omitempty"`
}

// PendingCompensation is an undo that failed and still has to be repaired.
type PendingCompensation struct {
	Step   string  `json:"step"`
	Action *Action `json:"action,omitempty"`
	Error  string  `json:"error"`
}

type Run struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	State      State                 `json:"state"`
	Metadata   map[string]string     `json:"metadata,omitempty"`
	FailedStep string                `json:"failed_step,omitempty"`
	Error      string                `json:"error,omitempty"`
	Pending    []PendingCompensation `json:"pending,omitempty"`
	Attempts   int                   `json:"attempts"`
	Events     []Event               `json:"events,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	c.Pending = append([]PendingCompensation(nil), r.Pending...)
	c.Events = append([]Event(nil), r.Events...)
	return &c
}

// LogStore persists saga runs and their audit trail.
type LogStore interface {
	SaveRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	AppendEvent(ctx context.Context, runID string, event Event) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns the newest runs first. An empty state lists every run.
	ListRuns(ctx context.Context, state State, limit int) ([]*Run, error)
}
