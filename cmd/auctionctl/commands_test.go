package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koi-auction/internal/saga"
	"koi-auction/internal/services"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"cancel", "delete", "publish", "verify-winner", "koi-status", "sagas", "repair"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestCancelRequiresAuctionID(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"cancel"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestSagasRejectsUnknownState(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"sagas", "--state", "sideways"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown saga state")
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	res := &services.Result{MutationID: "mut-1", SagaID: "saga-1", Outcome: services.OutcomeFailedWithCompensation, Message: "Network error"}
	cause := errors.New("step auction failed")

	err := printResult(&buf, false, res, cause)
	assert.Equal(t, cause, err)
	assert.Equal(t, "mut-1\tfailed_with_compensation\tNetwork error\nsaga saga-1\n", buf.String())

	buf.Reset()
	require.NoError(t, printResult(&buf, true, &services.Result{MutationID: "mut-2", Outcome: services.OutcomeSuccess}, nil))
	assert.Contains(t, buf.String(), `"mutation_id":"mut-2"`)
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	runs := []*saga.Run{{
		ID: "saga-1", Name: "cancel_auction", State: saga.StateCompensationFailed,
		FailedStep: "auction", Attempts: 2, UpdatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, printRuns(&buf, false, runs))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "compensation_failed")
	assert.Contains(t, lines[1], "2026-05-01T10:00:00Z")

	buf.Reset()
	require.NoError(t, printRuns(&buf, true, nil))
	assert.Equal(t, "[]\n", buf.String())
}
