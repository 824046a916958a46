package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sipcore "github.com/sebacius/switchboard/internal/sip"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	s := &Session{}

	_, ok := r.Get("call-1")
	assert.False(t, ok)

	r.Add("call-1", s)
	got, ok := r.Get("call-1")
	require.True(t, ok)
	assert.Same(t, s, got)

	r.Remove("call-1")
	_, ok = r.Get("call-1")
	assert.False(t, ok)
}

func TestRegistryDeliverAudioAndDTMFRouteToSession(t *testing.T) {
	r := NewRegistry()
	s := New(Config{Dialog: &sipcore.Dialog{CallID: "call-2"}})
	r.Add("call-2", s)

	r.DeliverAudio("call-2", 0, []byte{1, 2, 3})
	r.DeliverDTMF("call-2", '5')

	select {
	case ev := <-s.media:
		assert.Equal(t, "audio", ev.kind)
	default:
		t.Fatal("expected audio event to be queued on the session's media channel")
	}

	select {
	case ev := <-s.media:
		assert.Equal(t, "dtmf", ev.kind)
		assert.Equal(t, '5', ev.digit)
	default:
		t.Fatal("expected dtmf event to be queued on the session's media channel")
	}
}

func TestRegistryDeliverToUnknownKeyIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() {
		r.DeliverAudio("no-such-call", 0, []byte{1})
		r.DeliverDTMF("no-such-call", '1')
	})
}
