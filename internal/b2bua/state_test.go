package b2bua

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLegStateString(t *testing.T) {
	assert.Equal(t, "Created", LegStateCreated.String())
	assert.Equal(t, "Ringing", LegStateRinging.String())
	assert.Equal(t, "EarlyMedia", LegStateEarlyMedia.String())
	assert.Equal(t, "Answered", LegStateAnswered.String())
	assert.Equal(t, "Failed", LegStateFailed.String())
	assert.Equal(t, "Destroyed", LegStateDestroyed.String())
	assert.Equal(t, "Unknown(99)", LegState(99).String())
}

func TestLegStateIsTerminal(t *testing.T) {
	assert.False(t, LegStateCreated.IsTerminal())
	assert.False(t, LegStateRinging.IsTerminal())
	assert.False(t, LegStateEarlyMedia.IsTerminal())
	assert.False(t, LegStateAnswered.IsTerminal())
	assert.True(t, LegStateFailed.IsTerminal())
	assert.True(t, LegStateDestroyed.IsTerminal())
}

func TestLegDirectionString(t *testing.T) {
	assert.Equal(t, "Inbound", LegDirectionInbound.String())
	assert.Equal(t, "Outbound", LegDirectionOutbound.String())
	assert.Equal(t, "Unknown(5)", LegDirection(5).String())
}

func TestBridgeStateString(t *testing.T) {
	assert.Equal(t, "Created", BridgeStateCreated.String())
	assert.Equal(t, "Partial", BridgeStatePartial.String())
	assert.Equal(t, "Active", BridgeStateActive.String())
	assert.Equal(t, "Held", BridgeStateHeld.String())
	assert.Equal(t, "Terminating", BridgeStateTerminating.String())
	assert.Equal(t, "Terminated", BridgeStateTerminated.String())
	assert.Equal(t, "Unknown(42)", BridgeState(42).String())
}

func TestBridgeStateIsTerminal(t *testing.T) {
	assert.False(t, BridgeStateCreated.IsTerminal())
	assert.False(t, BridgeStateActive.IsTerminal())
	assert.False(t, BridgeStateHeld.IsTerminal())
	assert.False(t, BridgeStateTerminating.IsTerminal())
	assert.True(t, BridgeStateTerminated.IsTerminal())
}

func TestTerminationCauseString(t *testing.T) {
	cases := map[TerminationCause]string{
		TerminationCauseNone:       "None",
		TerminationCauseNormal:     "Normal",
		TerminationCauseCancel:     "Cancel",
		TerminationCauseRejected:   "Rejected",
		TerminationCauseTimeout:    "Timeout",
		TerminationCauseError:      "Error",
		TerminationCauseBridgePeer: "BridgePeer",
		TerminationCauseTransfer:   "Transfer",
		TerminationCauseRemoteBYE:  "RemoteBYE",
	}
	for cause, want := range cases {
		assert.Equal(t, want, cause.String())
	}
	assert.Equal(t, "Unknown(123)", TerminationCause(123).String())
}
