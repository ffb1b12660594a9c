package services

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseDispatching       Phase = "dispatching"
	PhaseOptimisticApplied Phase = "optimistic_applied"
	PhaseStep              Phase = "step"
	PhaseSettled           Phase = "settled"
	PhaseInvalidated       Phase = "invalidated"
)

type Outcome string

const (
	OutcomeSuccess                Outcome = "success"
	OutcomeFailedWithCompensation Outcome = "failed_with_compensation"
	OutcomeFailedNoCompensation   Outcome = "failed_no_compensation"
	OutcomeCompensationFailed     Outcome = "compensation_failed"
	OutcomeRejected               Outcome = "rejected"
)

// MutationStatus is the observable state of one mutation invocation.
type MutationStatus struct {
	MutationID string    `json:"mutation_id"`
	Flow       string    `json:"flow"`
	Phase      Phase     `json:"phase"`
	Step       string    `json:"step,omitempty"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	SagaID     string    `json:"saga_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type PhaseListener func(status MutationStatus)

// PhaseRegistry keeps the latest status of recent mutations. Entries that have
// been idle for longer than retention are dropped on the next write.
type PhaseRegistry struct {
	mu        sync.RWMutex
	statuses  map[string]MutationStatus
	listeners []PhaseListener
	retention time.Duration
	now       func() time.Time
}

func NewPhaseRegistry(retention time.Duration) *PhaseRegistry {
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &PhaseRegistry{
		statuses:  make(map[string]MutationStatus),
		retention: retention,
		now:       time.Now,
	}
}

func (r *PhaseRegistry) OnChange(listener PhaseListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

func (r *PhaseRegistry) Record(status MutationStatus) {
	status.UpdatedAt = r.now()

	r.mu.Lock()
	r.statuses[status.MutationID] = status
	r.pruneLocked(status.UpdatedAt)
	listeners := append([]PhaseListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l(status)
	}
}

func (r *PhaseRegistry) Get(mutationID string) (MutationStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[mutationID]
	return s, ok
}

func (r *PhaseRegistry) pruneLocked(now time.Time) {
	for id, s := range r.statuses {
		if s.Phase == PhaseIdle && now.Sub(s.UpdatedAt) > r.retention {
			delete(r.statuses, id)
		}
	}
}
