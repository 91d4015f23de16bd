package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunState_Ordering(t *testing.T) {
	assert.Less(t, int(RunStateSpawned), int(RunStateStarting))
	assert.Less(t, int(RunStateStarting), int(RunStateRunning))
	assert.Less(t, int(RunStateRunning), int(RunStateCompleted))
}

func TestRunState_IsTerminal(t *testing.T) {
	nonTerminal := []RunState{RunStateSpawned, RunStateStarting, RunStateRunning}
	terminal := []RunState{RunStateCompleted, RunStateError, RunStateCancelled}

	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
}

func TestParseRunState_RoundTripsKnownValues(t *testing.T) {
	for _, s := range []RunState{
		RunStateSpawned, RunStateStarting, RunStateRunning,
		RunStateCompleted, RunStateError, RunStateCancelled,
	} {
		assert.Equal(t, s, ParseRunState(s.String()))
	}
}

func TestParseRunState_UnknownMapsToError(t *testing.T) {
	assert.Equal(t, RunStateError, ParseRunState("NOT_A_STATE"))
}
