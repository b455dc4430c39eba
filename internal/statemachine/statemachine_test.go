package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition_HappyPathIsAllowed(t *testing.T) {
	assert.True(t, ValidateTransition("", StateCreated))
	assert.True(t, ValidateTransition(StateCreated, StateValidating))
	assert.True(t, ValidateTransition(StateValidating, StateFetching))
	assert.True(t, ValidateTransition(StateFetching, StateFiltering))
	assert.True(t, ValidateTransition(StateFiltering, StateEnriching))
	assert.True(t, ValidateTransition(StateEnriching, StateGenerating))
	assert.True(t, ValidateTransition(StateGenerating, StatePersisting))
	assert.True(t, ValidateTransition(StatePersisting, StateCompleted))
}

func TestValidateTransition_AnyNonTerminalCanFail(t *testing.T) {
	assert.True(t, ValidateTransition(StateFetching, StateFailed))
	assert.True(t, ValidateTransition(StateFiltering, StateRateLimited))
	assert.True(t, ValidateTransition(StateEnriching, StateTimedOut))
}

func TestValidateTransition_TerminalStateRejectsAnything(t *testing.T) {
	assert.False(t, ValidateTransition(StateCompleted, StateValidating))
	assert.False(t, ValidateTransition(StateFailed, StateFetching))
}

func TestValidateTransition_SkippingStagesIsRejected(t *testing.T) {
	assert.False(t, ValidateTransition(StateCreated, StateFiltering))
	assert.False(t, ValidateTransition(StateValidating, StateCompleted))
}

func TestMachine_TransitionToRecordsDuration(t *testing.T) {
	m := New("search-1")
	_, ok := m.TransitionTo(StateCreated, "", nil)
	require.True(t, ok)
	assert.Nil(t, m.Transitions()[0].DurationSincePreviousMS)

	transition, ok := m.TransitionTo(StateValidating, "validate", nil)
	require.True(t, ok)
	require.NotNil(t, transition.DurationSincePreviousMS)
	assert.Equal(t, StateCreated, transition.FromState)
	assert.Equal(t, StateValidating, transition.ToState)
}

func TestMachine_RejectsInvalidTransition(t *testing.T) {
	m := New("search-1")
	m.TransitionTo(StateCreated, "", nil)
	_, ok := m.TransitionTo(StateCompleted, "", nil)
	assert.False(t, ok)
	assert.Equal(t, StateCreated, m.CurrentState())
}

func TestMachine_IsTerminalAfterCompletion(t *testing.T) {
	m := New("search-1")
	m.TransitionTo(StateCreated, "", nil)
	m.TransitionTo(StateValidating, "", nil)
	m.TransitionTo(StateFetching, "", nil)
	m.TransitionTo(StateFiltering, "", nil)
	m.TransitionTo(StateEnriching, "", nil)
	m.TransitionTo(StateGenerating, "", nil)
	m.TransitionTo(StatePersisting, "", nil)
	_, ok := m.TransitionTo(StateCompleted, "", nil)
	require.True(t, ok)
	assert.True(t, m.IsTerminal())
}

func TestEstimateProgress_MapsKnownStates(t *testing.T) {
	assert.Equal(t, 0, EstimateProgress(StateCreated))
	assert.Equal(t, 30, EstimateProgress(StateFetching))
	assert.Equal(t, 100, EstimateProgress(StateCompleted))
	assert.Equal(t, -1, EstimateProgress(StateFailed))
	assert.Equal(t, 0, EstimateProgress(State("unknown")))
}
