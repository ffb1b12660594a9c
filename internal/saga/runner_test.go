package saga

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

func newTestRunner() (*Runner, *MemoryStore) {
	store := NewMemoryStore()
	return NewRunner(store, logger.NewNop()), store
}

func ok(calls *[]string, name string) func(context.Context) error {
	return func(context.Context) error {
		*calls = append(*calls, name)
		return nil
	}
}

func fail(calls *[]string, name string, err error) func(context.Context) error {
	return func(context.Context) error {
		*calls = append(*calls, name)
		return err
	}
}

func TestRunner_Success(t *testing.T) {
	runner, store := newTestRunner()
	var calls, phases []string

	run, err := runner.Run(context.Background(), Definition{
		Name:   "cancel_auction",
		OnStep: func(step string) { phases = append(phases, step) },
		Steps: []Step{
			{Name: "koi", Forward: ok(&calls, "koi"), Compensate: ok(&calls, "undo koi")},
			{Name: "auction", Forward: ok(&calls, "auction")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, run.State)
	assert.Equal(t, []string{"koi", "auction"}, calls)
	assert.Equal(t, []string{"koi", "auction"}, phases)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, stored.State)
	assert.Len(t, stored.Events, 4)
}

func TestRunner_SecondStepFailsCompensatesFirst(t *testing.T) {
	runner, _ := newTestRunner()
	var calls []string
	remoteErr := &domain.APIError{StatusCode: 500, Message: "Network error"}

	run, err := runner.Run(context.Background(), Definition{
		Name: "cancel_auction",
		Steps: []Step{
			{Name: "koi", Forward: ok(&calls, "koi"), Compensate: ok(&calls, "undo koi")},
			{Name: "auction", Forward: fail(&calls, "auction", remoteErr), Compensate: ok(&calls, "undo auction")},
		},
	})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "auction", stepErr.Step)
	assert.ErrorIs(t, err, remoteErr)
	assert.Equal(t, "Network error", domain.ErrorMessage(err, "fallback"))
	assert.Equal(t, []string{"koi", "auction", "undo koi"}, calls)
	assert.Equal(t, StateFailedCompensated, run.State)
	assert.Equal(t, "auction", run.FailedStep)
}

func TestRunner_FirstStepFailsNoCompensation(t *testing.T) {
	runner, _ := newTestRunner()
	var calls []string
	koiErr := errors.New("koi not found")

	run, err := runner.Run(context.Background(), Definition{
		Name: "cancel_auction",
		Steps: []Step{
			{Name: "koi", Forward: fail(&calls, "koi", koiErr), Compensate: ok(&calls, "undo koi")},
			{Name: "auction", Forward: ok(&calls, "auction")},
		},
	})

	assert.ErrorIs(t, err, koiErr)
	assert.Equal(t, []string{"koi"}, calls)
	assert.Equal(t, StateFailedNoCompensation, run.State)
}

func TestRunner_CompensatesInReverseEvenWhenCallerCancelled(t *testing.T) {
	runner, _ := newTestRunner()
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string

	undo := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			calls = append(calls, name)
			return nil
		}
	}

	_, err := runner.Run(ctx, Definition{
		Name: "three",
		Steps: []Step{
			{Name: "a", Forward: ok(&calls, "a"), Compensate: undo("undo a")},
			{Name: "b", Forward: ok(&calls, "b"), Compensate: undo("undo b")},
			{Name: "c", Forward: func(context.Context) error {
				cancel()
				return context.Canceled
			}},
		},
	})

	require.Error(t, err)
	assert.Equal(t, []string{"a", "b", "undo b", "undo a"}, calls)
}

func TestRunner_CompensationFailure(t *testing.T) {
	runner, store := newTestRunner()
	ctx := context.Background()
	undoErr := errors.New("koi service unavailable")

	var replayed []string
	healthy := false
	runner.Handle("koi_status", func(ctx context.Context, payload json.RawMessage) error {
		if !healthy {
			return undoErr
		}
		var p map[string]string
		require.NoError(t, json.Unmarshal(payload, &p))
		replayed = append(replayed, p["status"])
		return nil
	})

	action, err := NewAction("koi_status", map[string]string{"koi_id": "K1", "status": "IN_AUCTION"})
	require.NoError(t, err)

	run, err := runner.Run(ctx, Definition{
		Name: "cancel_auction",
		Steps: []Step{
			{Name: "koi", Forward: func(context.Context) error { return nil }, Compensation: action},
			{Name: "auction", Forward: func(context.Context) error { return errors.New("Network error") }},
		},
	})

	var compErr *CompensationFailedError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, "koi", compErr.Step)
	assert.Equal(t, run.ID, compErr.SagaID)
	assert.ErrorIs(t, err, undoErr)
	assert.Equal(t, StateCompensationFailed, run.State)
	require.Len(t, run.Pending, 1)

	failed, err := store.ListRuns(ctx, StateCompensationFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	require.Error(t, runner.Replay(ctx, failed[0]))
	assert.Equal(t, 1, failed[0].Attempts)

	healthy = true
	require.NoError(t, runner.Replay(ctx, failed[0]))
	assert.Equal(t, []string{"IN_AUCTION"}, replayed)

	stored, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRepaired, stored.State)
	assert.Empty(t, stored.Pending)
	assert.Equal(t, 2, stored.Attempts)
}

func TestRunner_UnknownActionIsCompensationFailure(t *testing.T) {
	runner, _ := newTestRunner()
	action, err := NewAction("missing", nil)
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), Definition{
		Name: "x",
		Steps: []Step{
			{Name: "first", Forward: func(context.Context) error { return nil }, Compensation: action},
			{Name: "second", Forward: func(context.Context) error { return errors.New("boom") }},
		},
	})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestRunner_Abandon(t *testing.T) {
	runner, store := newTestRunner()
	ctx := context.Background()
	run := &Run{ID: "saga_1", State: StateCompensationFailed}
	require.NoError(t, store.SaveRun(ctx, run))

	require.NoError(t, runner.Abandon(ctx, run, "max attempts reached"))
	stored, err := store.GetRun(ctx, "saga_1")
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, stored.State)
	require.Len(t, stored.Events, 1)
	assert.Equal(t, EventAbandoned, stored.Events[0].Kind)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := NewMemoryStore().GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
