package b2bua

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutboundLegDefaults(t *testing.T) {
	l := NewOutboundLeg("rtp-key-1")
	defer l.Destroy()

	assert.NotEmpty(t, l.ID())
	assert.Equal(t, LegDirectionOutbound, l.Direction())
	assert.Equal(t, LegStateCreated, l.State())
	assert.Equal(t, TerminationCauseNone, l.TerminationCause())

	host, port, ok := l.RemoteRTPAddr()
	assert.False(t, ok)
	assert.Empty(t, host)
	assert.Zero(t, port)
}

func TestLegTransitionToFiresStateChangeOnce(t *testing.T) {
	l := NewOutboundLeg("rtp-key-2")
	defer l.Destroy()

	var transitions [][2]LegState
	l.OnStateChange(func(old, new LegState) {
		transitions = append(transitions, [2]LegState{old, new})
	})

	l.TransitionTo(LegStateRinging)
	l.TransitionTo(LegStateRinging) // no-op transition, same state twice
	l.TransitionTo(LegStateAnswered)

	require.Len(t, transitions, 2)
	assert.Equal(t, LegStateCreated, transitions[0][0])
	assert.Equal(t, LegStateRinging, transitions[0][1])
	assert.Equal(t, LegStateRinging, transitions[1][0])
	assert.Equal(t, LegStateAnswered, transitions[1][1])
}

func TestLegTransitionToTerminalFiresOnTerminated(t *testing.T) {
	l := NewOutboundLeg("rtp-key-3")

	var gotCause TerminationCause
	called := false
	l.OnTerminated(func(cause TerminationCause) {
		called = true
		gotCause = cause
	})

	l.setTerminationCause(TerminationCauseRejected)
	l.TransitionTo(LegStateFailed)

	assert.True(t, called)
	assert.Equal(t, TerminationCauseRejected, gotCause)

	select {
	case <-l.ctx.Done():
	default:
		t.Fatal("expected leg's internal context to be canceled after reaching a terminal state")
	}
}

func TestLegInfoDurationsTrackTimestamps(t *testing.T) {
	l := NewOutboundLeg("rtp-key-4")
	defer l.Destroy()

	l.TransitionTo(LegStateRinging)
	time.Sleep(2 * time.Millisecond)
	l.TransitionTo(LegStateAnswered)
	time.Sleep(2 * time.Millisecond)
	l.TransitionTo(LegStateDestroyed)

	info := l.Info()
	assert.Greater(t, info.RingDuration(), time.Duration(0))
	assert.Greater(t, info.TalkDuration(), time.Duration(0))
	assert.GreaterOrEqual(t, info.Duration(), info.RingDuration()+info.TalkDuration())
}

func TestLegWaitForStateReturnsOnMatch(t *testing.T) {
	l := NewOutboundLeg("rtp-key-5")
	defer l.Destroy()

	go func() {
		time.Sleep(5 * time.Millisecond)
		l.TransitionTo(LegStateAnswered)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitForState(ctx, LegStateAnswered))
}

func TestLegWaitForStateErrorsOnWrongTerminal(t *testing.T) {
	l := NewOutboundLeg("rtp-key-6")

	go func() {
		time.Sleep(5 * time.Millisecond)
		l.TransitionTo(LegStateFailed)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := l.WaitForState(ctx, LegStateAnswered)
	assert.Error(t, err)
}

func TestLegHangupWithoutTeardownJustDestroys(t *testing.T) {
	l := NewOutboundLeg("rtp-key-7")
	require.NoError(t, l.Hangup(context.Background()))
	assert.Equal(t, LegStateDestroyed, l.State())
}

func TestLegHangupOnAnsweredCallsTeardownAndSetsCause(t *testing.T) {
	l := NewOutboundLeg("rtp-key-8")
	l.TransitionTo(LegStateAnswered)

	teardownCalled := false
	l2 := NewOutboundLeg("rtp-key-9", WithTeardownHandler(func(ctx context.Context) error {
		teardownCalled = true
		return nil
	}))
	l2.TransitionTo(LegStateAnswered)

	require.NoError(t, l2.Hangup(context.Background()))
	assert.True(t, teardownCalled)
	assert.Equal(t, LegStateDestroyed, l2.State())
	assert.Equal(t, TerminationCauseNormal, l2.TerminationCause())

	l.Destroy()
}

func TestLegDestroyIsIdempotent(t *testing.T) {
	l := NewOutboundLeg("rtp-key-10")
	l.Destroy()
	assert.Equal(t, LegStateDestroyed, l.State())
	assert.NotPanics(t, func() { l.Destroy() })
}
