package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"koi-auction/internal/domain"
	"koi-auction/internal/lock"
	"koi-auction/internal/observability"
	"koi-auction/internal/querycache"
	"koi-auction/internal/saga"
	"koi-auction/pkg/logger"
	"koi-auction/pkg/utils"
)

const MetadataInvalidate = "invalidate"

// LockFunc takes further entity locks for the mutation being prepared. They are
// released with the mutation's own.
type LockFunc func(ctx context.Context, keys ...string) error

// Mutation describes one user-triggered change: what to lock, how to patch the
// cache optimistically, which remote steps to run and what to invalidate after.
type Mutation struct {
	Name     string
	Actor    string
	LockKeys []string
	// Prepare runs once LockKeys are held. It reads current state, checks
	// preconditions and fills in patches and steps. An error rejects the
	// mutation before anything is dispatched.
	Prepare        func(ctx context.Context, m *Mutation, lockMore LockFunc) error
	Patches        []querycache.Patch
	Steps          []saga.Step
	Invalidate     []domain.QueryKey
	Metadata       map[string]string
	SuccessMessage string
	ErrorFallback  string
}

type Result struct {
	MutationID string  `json:"mutation_id"`
	SagaID     string  `json:"saga_id,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Message    string  `json:"message"`
}

type MutationRunner struct {
	cache    *querycache.Client
	locker   lock.Locker
	sagas    *saga.Runner
	notifier domain.Notifier
	alerts   domain.AlertPublisher
	phases   *PhaseRegistry
	log      logger.Logger
}

func NewMutationRunner(
	cache *querycache.Client,
	locker lock.Locker,
	sagas *saga.Runner,
	notifier domain.Notifier,
	alerts domain.AlertPublisher,
	phases *PhaseRegistry,
	log logger.Logger,
) *MutationRunner {
	return &MutationRunner{
		cache:    cache,
		locker:   locker,
		sagas:    sagas,
		notifier: notifier,
		alerts:   alerts,
		phases:   phases,
		log:      log,
	}
}

func (r *MutationRunner) Phases() *PhaseRegistry {
	return r.phases
}

// Execute runs m to completion. The returned error is the remote failure (a
// *saga.StepError or *saga.CompensationFailedError) or domain.ErrLocked; the
// Result is filled in either way.
func (r *MutationRunner) Execute(ctx context.Context, m Mutation) (*Result, error) {
	start := time.Now()
	res := &Result{MutationID: utils.GenerateID("mut")}
	log := r.log.With("mutation_id", res.MutationID, "flow", m.Name)
	status := MutationStatus{MutationID: res.MutationID, Flow: m.Name}

	locks := &heldLocks{locker: r.locker, owner: res.MutationID, log: log}
	if err := locks.acquire(ctx, m.LockKeys...); err != nil {
		return r.rejected(ctx, log, m, res, status, start, err)
	}
	if m.Prepare != nil {
		if err := m.Prepare(ctx, &m, locks.acquire); err != nil {
			locks.release(context.WithoutCancel(ctx))
			return r.rejected(ctx, log, m, res, status, start, err)
		}
	}

	// Settlement work must finish even if the caller hangs up.
	settleCtx := context.WithoutCancel(ctx)
	var failure error
	defer func() {
		if _, err := r.cache.Invalidate(settleCtx, m.Invalidate...); err != nil {
			log.Error("Failed to invalidate queries", "error", err)
		}
		r.record(status, PhaseInvalidated, res.Outcome, failure)

		locks.release(settleCtx)
		r.record(status, PhaseIdle, res.Outcome, failure)
		observability.RecordMutation(m.Name, string(res.Outcome), time.Since(start))
	}()

	r.record(status, PhaseDispatching, "", nil)
	snapshots := r.applyPatches(ctx, log, m.Patches)
	r.record(status, PhaseOptimisticApplied, "", nil)

	metadata := map[string]string{
		"mutation_id":      res.MutationID,
		"actor":            m.Actor,
		MetadataInvalidate: domain.JoinQueryKeys(m.Invalidate),
	}
	for k, v := range m.Metadata {
		metadata[k] = v
	}

	run, runErr := r.sagas.Run(ctx, saga.Definition{
		Name:     m.Name,
		Metadata: metadata,
		Steps:    m.Steps,
		OnStep: func(step string) {
			s := status
			s.Step = step
			r.record(s, PhaseStep, "", nil)
		},
	})
	res.SagaID = run.ID
	status.SagaID = run.ID
	failure = runErr

	if runErr == nil {
		res.Outcome = OutcomeSuccess
		res.Message = m.SuccessMessage
		log.Info("Mutation succeeded", "saga_id", run.ID)
		r.toast(settleCtx, m.Actor, domain.ToastSuccess, "Success", m.SuccessMessage, res.MutationID)
		r.record(status, PhaseSettled, res.Outcome, nil)
		return res, nil
	}

	r.rollback(settleCtx, log, snapshots)

	cause := runErr
	var compErr *saga.CompensationFailedError
	if errors.As(runErr, &compErr) {
		cause = compErr.Cause
	}
	res.Outcome = outcomeFor(run.State)
	res.Message = domain.ErrorMessage(cause, m.ErrorFallback)
	log.Warn("Mutation failed", "saga_id", run.ID, "outcome", res.Outcome, "error", runErr)

	r.toast(settleCtx, m.Actor, domain.ToastError, "Error", res.Message, res.MutationID)
	if compErr != nil {
		r.toast(settleCtx, m.Actor, domain.ToastWarning, "Rollback incomplete",
			"Some changes could not be undone and will be repaired automatically", res.MutationID)
		r.raiseAlert(settleCtx, log, run, compErr)
	}
	r.record(status, PhaseSettled, res.Outcome, runErr)
	return res, runErr
}

func (r *MutationRunner) rejected(ctx context.Context, log logger.Logger, m Mutation, res *Result,
	status MutationStatus, start time.Time, err error) (*Result, error) {
	log.Warn("Mutation rejected", "error", err)
	res.Outcome = OutcomeRejected
	res.Message = domain.ErrorMessage(err, m.ErrorFallback)
	r.toast(ctx, m.Actor, domain.ToastError, "Error", res.Message, res.MutationID)
	r.record(status, PhaseIdle, res.Outcome, err)
	observability.RecordMutation(m.Name, string(res.Outcome), time.Since(start))
	return res, err
}

// Reject reports a mutation refused before anything was dispatched.
func (r *MutationRunner) Reject(ctx context.Context, flow, actor string, err error, fallback string) *Result {
	res := &Result{
		MutationID: utils.GenerateID("mut"),
		Outcome:    OutcomeRejected,
		Message:    domain.ErrorMessage(err, fallback),
	}
	r.toast(ctx, actor, domain.ToastError, "Error", res.Message, res.MutationID)
	r.record(MutationStatus{MutationID: res.MutationID, Flow: flow}, PhaseIdle, res.Outcome, err)
	observability.RecordMutation(flow, string(res.Outcome), 0)
	return res
}

func (r *MutationRunner) applyPatches(ctx context.Context, log logger.Logger, patches []querycache.Patch) []querycache.Snapshot {
	keys := make([]domain.QueryKey, 0, len(patches))
	for _, p := range patches {
		keys = append(keys, p.Key)
	}
	if err := r.cache.CancelFetches(ctx, keys...); err != nil {
		log.Warn("Failed to cancel in-flight reads", "error", err)
	}

	var snapshots []querycache.Snapshot
	for _, p := range patches {
		snap, err := r.cache.Snapshot(ctx, p.Key)
		if err != nil {
			log.Warn("Failed to snapshot query", "key", p.Key.String(), "error", err)
			continue
		}
		if !snap.Present {
			continue
		}
		applied, err := r.cache.ApplyPatch(ctx, p)
		if err != nil {
			log.Warn("Failed to apply optimistic patch", "key", p.Key.String(), "error", err)
			continue
		}
		if applied {
			snapshots = append(snapshots, snap)
		}
	}
	return snapshots
}

func (r *MutationRunner) rollback(ctx context.Context, log logger.Logger, snapshots []querycache.Snapshot) {
	for i := len(snapshots) - 1; i >= 0; i-- {
		if err := r.cache.Restore(ctx, snapshots[i]); err != nil {
			log.Error("Failed to restore query snapshot", "key", snapshots[i].Key.String(), "error", err)
		}
	}
}

func (r *MutationRunner) raiseAlert(ctx context.Context, log logger.Logger, run *saga.Run, compErr *saga.CompensationFailedError) {
	if r.alerts == nil {
		return
	}
	alert := domain.CompensationAlert{
		SagaID:    run.ID,
		Saga:      run.Name,
		Step:      compErr.Step,
		Cause:     compErr.Cause.Error(),
		Error:     errors.Join(compErr.Errs...).Error(),
		Metadata:  run.Metadata,
		Timestamp: time.Now(),
	}
	if err := r.alerts.PublishCompensationFailed(ctx, alert); err != nil {
		log.Error("Failed to publish compensation alert", "saga_id", run.ID, "error", err)
	}
}

func (r *MutationRunner) toast(ctx context.Context, userID string, level domain.ToastLevel, title, message, mutationID string) {
	if r.notifier == nil || message == "" {
		return
	}
	toast := domain.Toast{
		Level:      level,
		Title:      title,
		Message:    message,
		MutationID: mutationID,
		At:         time.Now(),
	}
	if err := r.notifier.Notify(ctx, userID, toast); err != nil {
		r.log.Warn("Failed to send toast", "user_id", userID, "error", err)
	}
}

func (r *MutationRunner) record(status MutationStatus, phase Phase, outcome Outcome, err error) {
	if r.phases == nil {
		return
	}
	status.Phase = phase
	status.Outcome = outcome
	if err != nil {
		status.Error = err.Error()
	}
	r.phases.Record(status)
}

func outcomeFor(state saga.State) Outcome {
	switch state {
	case saga.StateSucceeded:
		return OutcomeSuccess
	case saga.StateFailedCompensated:
		return OutcomeFailedWithCompensation
	case saga.StateCompensationFailed:
		return OutcomeCompensationFailed
	default:
		return OutcomeFailedNoCompensation
	}
}

// heldLocks are the leases of one mutation. Leases that expire are renewed at a
// third of their TTL until release.
type heldLocks struct {
	locker lock.Locker
	owner  string
	log    logger.Logger

	mu     sync.Mutex
	leases []*lock.Lease
	stop   chan struct{}
	done   chan struct{}
}

func (h *heldLocks) acquire(ctx context.Context, keys ...string) error {
	lease, err := h.locker.Acquire(ctx, h.owner, keys...)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.leases = append(h.leases, lease)
	if lease.TTL > 0 && h.stop == nil {
		h.stop = make(chan struct{})
		h.done = make(chan struct{})
		go h.keepAlive(lease.TTL, h.stop, h.done)
	}
	return nil
}

func (h *heldLocks) keepAlive(ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		h.mu.Lock()
		leases := append([]*lock.Lease(nil), h.leases...)
		h.mu.Unlock()

		for _, lease := range leases {
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			err := h.locker.Extend(ctx, lease)
			cancel()
			if err != nil {
				h.log.Warn("Failed to extend entity lock", "keys", lease.Keys, "error", err)
			}
		}
	}
}

func (h *heldLocks) release(ctx context.Context) {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	leases := h.leases
	h.leases = nil
	h.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	for _, lease := range leases {
		if err := h.locker.Release(ctx, lease); err != nil {
			h.log.Error("Failed to release lock", "keys", lease.Keys, "error", err)
		}
	}
}
