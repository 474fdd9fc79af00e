package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// State Machine Tests
// =============================================================================

func TestStateMachine_HappyPath(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("db")))

	require.NoError(t, topo.Transition("db", StateScheduled))
	require.NoError(t, topo.Transition("db", StateRunning))
	require.NoError(t, topo.Transition("db", StateStopped))
	assert.Equal(t, StateStopped, topo.State("db"))
}

func TestStateMachine_FailureFromScheduled(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("db")))
	require.NoError(t, topo.Transition("db", StateScheduled))

	// A start command can be rejected before the service ever runs.
	require.NoError(t, topo.Transition("db", StateFailed))
	assert.Equal(t, StateFailed, topo.State("db"))
}

func TestStateMachine_RestartAfterStop(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("db")))
	require.NoError(t, topo.Transition("db", StateScheduled))
	require.NoError(t, topo.Transition("db", StateRunning))
	require.NoError(t, topo.Transition("db", StateStopped))

	require.NoError(t, topo.Transition("db", StateScheduled))
	assert.Equal(t, StateScheduled, topo.State("db"))
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	topo := New()
	require.NoError(t, topo.Register(pulled("db")))

	// Registered cannot jump straight to Running.
	err := topo.Transition("db", StateRunning)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Running cannot go back to Registered.
	require.NoError(t, topo.Transition("db", StateScheduled))
	require.NoError(t, topo.Transition("db", StateRunning))
	err = topo.Transition("db", StateRegistered)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStateMachine_UnknownService(t *testing.T) {
	topo := New()
	err := topo.Transition("ghost", StateScheduled)
	assert.ErrorIs(t, err, ErrUnknownService)

	assert.Equal(t, StateUnregistered, topo.State("ghost"))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, StateUnregistered.CanTransition(StateRegistered))
	assert.True(t, StateScheduled.CanTransition(StateRunning))
	assert.False(t, StateStopped.CanTransition(StateRunning))
	assert.False(t, StateFailed.CanTransition(StateRunning))
	assert.True(t, StateFailed.CanTransition(StateScheduled))
}
