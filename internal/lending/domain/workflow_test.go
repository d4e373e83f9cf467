package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextState_Table(t *testing.T) {
	legal := map[State]map[Action]State{
		StateCreated:  {ActionOpen: StatePending},
		StatePending:  {ActionApprove: StateApproved, ActionDeny: StateDenied},
		StateApproved: {ActionDisburse: StateActive, ActionClose: StateClosed},
		StateActive: {
			ActionApplyInterest: StateActive,
			ActionMarkLate:      StateActive,
			ActionAcceptPayment: StateActive,
			ActionDisburse:      StateActive,
			ActionWriteOff:      StateWrittenOff,
			ActionClose:         StateClosed,
		},
	}
	states := []State{StateCreated, StatePending, StateApproved, StateActive, StateClosed, StateDenied, StateWrittenOff}

	for _, s := range states {
		for _, a := range Actions() {
			next, err := NextState(s, a)
			want, ok := legal[s][a]
			if ok {
				require.NoError(t, err, "%s/%s", s, a)
				assert.Equal(t, want, next, "%s/%s", s, a)
				continue
			}
			var illegal *IllegalTransitionError
			require.ErrorAs(t, err, &illegal, "%s/%s", s, a)
			assert.Equal(t, s, illegal.State)
			assert.Equal(t, a, illegal.Action)
		}
	}
}

func TestNextLegalActions(t *testing.T) {
	assert.Equal(t, []Action{ActionOpen}, NextLegalActions(StateCreated))
	assert.Equal(t, []Action{ActionDeny, ActionApprove}, NextLegalActions(StatePending))
	assert.ElementsMatch(t, []Action{
		ActionAcceptPayment, ActionDisburse, ActionWriteOff, ActionClose, ActionApplyInterest, ActionMarkLate,
	}, NextLegalActions(StateActive))

	for _, s := range []State{StateClosed, StateDenied, StateWrittenOff} {
		assert.Empty(t, NextLegalActions(s))
		assert.True(t, s.IsTerminal())
	}
	assert.False(t, StateActive.IsTerminal())
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" accept_payment ")
	require.NoError(t, err)
	assert.Equal(t, ActionAcceptPayment, a)

	_, err = ParseAction("REFINANCE")
	var invalid *InvalidCommandError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "action", invalid.Field)
}
