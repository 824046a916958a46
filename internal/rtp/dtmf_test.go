package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTMFEventEncodeDecodeRoundTrip(t *testing.T) {
	ev := DTMFEvent{Event: DTMF5, EndOfEvent: true, Volume: 10, Duration: 1600}
	decoded, err := DecodeDTMFEvent(ev.Encode())
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}

func TestDecodeDTMFEventTooShort(t *testing.T) {
	_, err := DecodeDTMFEvent([]byte{1, 2})
	assert.Error(t, err)
}

func TestRuneEventRoundTrip(t *testing.T) {
	for _, r := range []rune{'0', '5', '9', '*', '#', 'A', 'b'} {
		ev, ok := RuneToEvent(r)
		require.True(t, ok, "rune %q", r)
		back, ok := EventToRune(ev)
		require.True(t, ok)
		if r == 'b' {
			assert.Equal(t, 'B', back)
			continue
		}
		assert.Equal(t, r, back)
	}
}

func TestDTMFDetectorEmitsOnceAtEndBit(t *testing.T) {
	var d DTMFDetector

	// Three mid-event packets carrying the same event, none with the end bit.
	for i := 0; i < 3; i++ {
		ev := DTMFEvent{Event: DTMF1, Duration: uint16(160 * (i + 1))}
		r, ok := d.Feed(ev.Encode())
		assert.False(t, ok)
		assert.Equal(t, rune(0), r)
	}

	// End-of-event packet reports the digit exactly once.
	ev := DTMFEvent{Event: DTMF1, EndOfEvent: true, Duration: 640}
	r, ok := d.Feed(ev.Encode())
	require.True(t, ok)
	assert.Equal(t, '1', r)

	// Retransmitted end packets for the same event must not re-fire.
	r, ok = d.Feed(ev.Encode())
	assert.False(t, ok)
	assert.Equal(t, rune(0), r)
}

func TestDTMFDetectorHandlesTwoSeparateDigits(t *testing.T) {
	var d DTMFDetector

	first := DTMFEvent{Event: DTMF7, EndOfEvent: true, Duration: 160}
	r, ok := d.Feed(first.Encode())
	require.True(t, ok)
	assert.Equal(t, '7', r)

	second := DTMFEvent{Event: DTMFPound, EndOfEvent: true, Duration: 160}
	r, ok = d.Feed(second.Encode())
	require.True(t, ok)
	assert.Equal(t, '#', r)
}
