package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallStateStringAndUnknown(t *testing.T) {
	assert.Equal(t, "Initial", StateInitial.String())
	assert.Equal(t, "Early", StateEarly.String())
	assert.Equal(t, "WaitingACK", StateWaitingACK.String())
	assert.Equal(t, "Confirmed", StateConfirmed.String())
	assert.Equal(t, "Terminating", StateTerminating.String())
	assert.Equal(t, "Terminated", StateTerminated.String())
	assert.Equal(t, "Unknown(77)", CallState(77).String())
}

func TestCallStateIsTerminal(t *testing.T) {
	assert.False(t, StateInitial.IsTerminal())
	assert.False(t, StateConfirmed.IsTerminal())
	assert.True(t, StateTerminated.IsTerminal())
}

func TestCallStateCanTransitionToFollowsRFC3261Lifecycle(t *testing.T) {
	assert.True(t, StateInitial.CanTransitionTo(StateEarly))
	assert.True(t, StateInitial.CanTransitionTo(StateTerminated))
	assert.False(t, StateInitial.CanTransitionTo(StateConfirmed), "cannot skip straight to Confirmed")

	assert.True(t, StateEarly.CanTransitionTo(StateWaitingACK))
	assert.True(t, StateWaitingACK.CanTransitionTo(StateConfirmed))
	assert.True(t, StateConfirmed.CanTransitionTo(StateTerminating))
	assert.True(t, StateTerminating.CanTransitionTo(StateTerminated))

	assert.False(t, StateTerminated.CanTransitionTo(StateInitial), "terminal state has no outgoing transitions")
	assert.False(t, StateTerminated.CanTransitionTo(StateTerminated))
}

func TestTerminateReasonString(t *testing.T) {
	cases := map[TerminateReason]string{
		ReasonLocalBYE:       "LocalBYE",
		ReasonRemoteBYE:      "RemoteBYE",
		ReasonCancel:         "Cancel",
		ReasonTimeout:        "Timeout",
		ReasonSessionExpired: "SessionExpired",
		ReasonError:          "Error",
	}
	for reason, want := range cases {
		assert.Equal(t, want, reason.String())
	}
	assert.Equal(t, "Unknown(9)", TerminateReason(9).String())
}
