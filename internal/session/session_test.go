package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sipcore "github.com/sebacius/switchboard/internal/sip"
)

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-1"}})

	assert.Equal(t, 20*time.Millisecond, s.cfg.KeepaliveInterval)
	assert.Equal(t, 20*time.Millisecond, s.cfg.PlaybackTick)
	assert.Equal(t, 10*time.Second, s.cfg.RingMaxDuration)
	assert.Equal(t, 10*time.Second, s.cfg.IVRTimeout)
	assert.Equal(t, 2, s.cfg.IVRMaxRetries)
	assert.Equal(t, 5*time.Second, s.cfg.RTCPInterval)
	assert.Equal(t, "call-1", s.txKey)
	assert.Equal(t, SessInitial, s.sess.Current())
	assert.Equal(t, IvrIdle, s.ivr.Current())
}

func TestNewClampsOversizedRingDuration(t *testing.T) {
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-2"}, RingMaxDuration: time.Minute})
	assert.Equal(t, 10*time.Second, s.cfg.RingMaxDuration)
}

func TestNewKeepsExplicitConfigWithinBounds(t *testing.T) {
	s := New(Config{
		Dialog:          &sipcore.Dialog{CallID: "call-3"},
		RingMaxDuration: 3 * time.Second,
		IVRMaxRetries:   5,
		RTCPInterval:    2 * time.Second,
	})
	assert.Equal(t, 3*time.Second, s.cfg.RingMaxDuration)
	assert.Equal(t, 5, s.cfg.IVRMaxRetries)
	assert.Equal(t, 2*time.Second, s.cfg.RTCPInterval)
}

func TestSessFSMFollowsLifecycle(t *testing.T) {
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-4"}})

	require.NoError(t, s.sess.Event(context.Background(), "ring"))
	assert.Equal(t, SessRinging, s.sess.Current())

	require.NoError(t, s.sess.Event(context.Background(), "answer"))
	assert.Equal(t, SessEstablished, s.sess.Current())

	require.NoError(t, s.sess.Event(context.Background(), "transfer"))
	assert.Equal(t, SessTransferring, s.sess.Current())

	require.NoError(t, s.sess.Event(context.Background(), "bridge"))
	assert.Equal(t, SessBridged, s.sess.Current())

	require.NoError(t, s.sess.Event(context.Background(), "terminate"))
	assert.Equal(t, SessTerminating, s.sess.Current())

	require.NoError(t, s.sess.Event(context.Background(), "terminated"))
	assert.Equal(t, SessTerminated, s.sess.Current())
}

func TestSessFSMRejectsInvalidJump(t *testing.T) {
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-5"}})
	assert.Error(t, s.sess.Event(context.Background(), "bridge"), "cannot bridge before transferring")
}

func TestIvrFSMFollowsVoicebotPath(t *testing.T) {
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-6"}})

	require.NoError(t, s.ivr.Event(context.Background(), "intro"))
	assert.Equal(t, IvrPlayingIntro, s.ivr.Current())

	require.NoError(t, s.ivr.Event(context.Background(), "voicebot"))
	assert.Equal(t, IvrVoicebot, s.ivr.Current())

	require.NoError(t, s.ivr.Event(context.Background(), "bridged"))
	assert.Equal(t, IvrB2buaMode, s.ivr.Current())

	require.NoError(t, s.ivr.Event(context.Background(), "unbridged"))
	assert.Equal(t, IvrIdle, s.ivr.Current())
}

func TestPostDeliversControlEvent(t *testing.T) {
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-7"}})
	s.Post(evAppHangup, "reason")

	select {
	case ev := <-s.control:
		assert.Equal(t, evAppHangup, ev.kind)
		assert.Equal(t, "reason", ev.data)
	default:
		t.Fatal("expected control event to be queued")
	}
}

func TestPostDoesNotBlockAfterDone(t *testing.T) {
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-8"}})
	close(s.done)

	done := make(chan struct{})
	go func() {
		s.Post(evAppHangup, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post must not block once the session is done")
	}
}

func TestDeliverAudioTagsALegVsBLeg(t *testing.T) {
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-9"}})

	s.DeliverAudio("call-9", 0, []byte{1})
	ev := <-s.media
	assert.False(t, ev.fromB)

	s.DeliverAudio("call-9-b", 0, []byte{2})
	ev = <-s.media
	assert.True(t, ev.fromB)
}

func TestDeliverAudioDropsWhenMediaChannelFull(t *testing.T) {
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-10"}})
	for i := 0; i < cap(s.media); i++ {
		s.DeliverAudio("call-10", 0, []byte{byte(i)})
	}
	assert.NotPanics(t, func() { s.DeliverAudio("call-10", 0, []byte{0xFF}) })
	assert.Len(t, s.media, cap(s.media))
}

func TestDeliverDTMFQueuesDigit(t *testing.T) {
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-11"}})
	s.DeliverDTMF("call-11", '5')
	ev := <-s.media
	assert.Equal(t, "dtmf", ev.kind)
	assert.Equal(t, '5', ev.digit)
}
