package sip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDialog() *Dialog {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dialog{
		CallID:        "call-1",
		State:         StateInitial,
		ctx:           ctx,
		cancel:        cancel,
		rseq:          1000,
		prackReceived: make(chan struct{}, 1),
	}
}

func TestDialogDirectionString(t *testing.T) {
	assert.Equal(t, "inbound", DirectionInbound.String())
	assert.Equal(t, "outbound", DirectionOutbound.String())
}

func TestSessionTimerRefresherString(t *testing.T) {
	assert.Equal(t, "", RefresherUnset.String())
	assert.Equal(t, "uac", RefresherUAC.String())
	assert.Equal(t, "uas", RefresherUAS.String())
}

func TestNextRSeqIncrementsAndTracksPending(t *testing.T) {
	d := newTestDialog()

	rseq, ok := d.NextRSeq()
	require.True(t, ok)
	assert.Equal(t, uint32(1001), rseq)
	assert.Equal(t, uint32(1001), d.pendingRSeq)

	rseq2, ok := d.NextRSeq()
	require.True(t, ok)
	assert.Equal(t, uint32(1002), rseq2)
}

func TestNextRSeqDisables100relOnOverflow(t *testing.T) {
	d := newTestDialog()
	d.rseq = 1<<31 - 1
	d.Require100rel = true

	rseq, ok := d.NextRSeq()
	assert.False(t, ok)
	assert.Zero(t, rseq)
	assert.False(t, d.Require100rel, "100rel must be disabled for the rest of the dialog once RSeq would overflow")
}

func TestOnPrackMatchesPendingRSeqAndReleasesWaiter(t *testing.T) {
	d := newTestDialog()
	_, ok := d.NextRSeq()
	require.True(t, ok)

	assert.False(t, d.OnPrack(9999), "mismatched RAck must not match")

	matched := d.OnPrack(d.pendingRSeq)
	assert.True(t, matched)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.WaitForPrack(ctx))
}

func TestWaitForPrackTimesOutWithoutPrack(t *testing.T) {
	d := newTestDialog()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.Error(t, d.WaitForPrack(ctx))
}

func TestNegotiateSessionTimerAndDeadline(t *testing.T) {
	d := newTestDialog()
	assert.True(t, d.SessionTimerDeadline().IsZero(), "no session timer negotiated yet")

	d.NegotiateSessionTimer(1800, 90, RefresherUAC)
	deadline := d.SessionTimerDeadline()
	assert.WithinDuration(t, time.Now().Add(1800*time.Second), deadline, 2*time.Second)

	before := deadline
	d.RefreshSessionTimer()
	assert.True(t, d.SessionTimerDeadline().After(before) || d.SessionTimerDeadline().Equal(before))
}

func TestDialogTransitionToValidAndInvalid(t *testing.T) {
	d := newTestDialog()

	require.NoError(t, d.TransitionTo(StateEarly))
	assert.Equal(t, StateEarly, d.GetState())

	err := d.TransitionTo(StateConfirmed)
	assert.Error(t, err, "Early cannot jump straight to Confirmed")
	assert.Equal(t, StateEarly, d.GetState(), "a rejected transition must not change state")
}

func TestDialogTransitionToTerminalCancelsContext(t *testing.T) {
	d := newTestDialog()
	require.NoError(t, d.TransitionTo(StateTerminated))
	assert.True(t, d.IsTerminated())

	select {
	case <-d.Context().Done():
	default:
		t.Fatal("expected dialog context to be canceled after reaching Terminated")
	}
}

func TestDialogSetters(t *testing.T) {
	d := newTestDialog()
	d.SetRemoteEndpoint("198.51.100.1", 5060)
	assert.Equal(t, "198.51.100.1", d.RemoteAddr)
	assert.Equal(t, 5060, d.RemotePort)

	d.SetMediaEndpoint("198.51.100.2", 20000, "PCMU")
	assert.Equal(t, "198.51.100.2", d.RemoteAddr)
	assert.Equal(t, 20000, d.RemotePort)
	assert.Equal(t, "PCMU", d.Codec)
}
