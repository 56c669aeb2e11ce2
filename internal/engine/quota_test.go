package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(10)

	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Check("flow-1"), "step %d should be allowed", i+1)
	}

	assert.Equal(t, 10, q.Current())
	assert.Equal(t, 10, q.MaxSteps())
}

func TestQuotaEnforcer_ExceedsLimit(t *testing.T) {
	q := NewQuotaEnforcer(5)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Check("flow-1"))
	}

	err := q.Check("flow-1")
	require.Error(t, err)

	var stepsErr *StepsExceededError
	require.ErrorAs(t, err, &stepsErr)
	assert.Equal(t, "flow-1", stepsErr.Flow)
	assert.Equal(t, 6, stepsErr.Steps)
	assert.Equal(t, 5, stepsErr.Limit)
}

func TestQuotaEnforcer_ZeroLimit(t *testing.T) {
	q := NewQuotaEnforcer(0)
	assert.True(t, IsStepsExceededError(q.Check("flow-1")))
}

func TestStepsExceededError_Error(t *testing.T) {
	err := &StepsExceededError{Flow: "flow-abc", Steps: 1001, Limit: 1000}

	msg := err.Error()
	assert.Contains(t, msg, "flow-abc")
	assert.Contains(t, msg, "1001")
	assert.Contains(t, msg, "1000")
}

func TestIsStepsExceededError(t *testing.T) {
	stepsErr := &StepsExceededError{Flow: "flow-1", Steps: 10, Limit: 5}

	assert.True(t, IsStepsExceededError(stepsErr))
	assert.False(t, IsStepsExceededError(nil))
	assert.False(t, IsStepsExceededError(assert.AnError))
}

func TestNewQuotaError(t *testing.T) {
	cause := &StepsExceededError{Flow: "flow-1", Steps: 101, Limit: 100}
	err := NewQuotaError("flow-1", "Again", cause)

	assert.Equal(t, ErrCodeQuotaExceeded, err.Code)
	assert.Equal(t, "Again", err.Rule)
	assert.Equal(t, "101", err.Details["steps"])
	assert.Equal(t, "100", err.Details["max_steps"])
	assert.True(t, IsQuotaError(err))
	assert.ErrorIs(t, err, cause)
}

func TestQuotaTable_PerFlow(t *testing.T) {
	qt := newQuotaTable(2)

	require.NoError(t, qt.check("flow-1"))
	require.NoError(t, qt.check("flow-1"))
	require.Error(t, qt.check("flow-1"))

	require.NoError(t, qt.check("flow-2"), "flows have independent quotas")

	qt.clear("flow-1")
	assert.NoError(t, qt.check("flow-1"), "clearing resets the flow")
}

func TestEngine_DefaultMaxSteps(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	assert.Equal(t, DefaultMaxSteps, eng.maxSteps)

	eng = newTestEngine(t, nil, nil, WithMaxSteps(7))
	assert.Equal(t, 7, eng.maxSteps)
}
