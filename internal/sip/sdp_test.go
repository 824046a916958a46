package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAudioOfferRoundTripsThroughParse(t *testing.T) {
	body := BuildAudioOffer(12345, "203.0.113.10", 20000)

	host, port, ok := ParseAudioConnection(body)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.10", host)
	assert.Equal(t, 20000, port)
}

func TestParseAudioConnectionMediaLevelOverridesSession(t *testing.T) {
	body := []byte("v=0\r\n" +
		"o=- 1 1 IN IP4 198.51.100.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 198.51.100.1\r\n" +
		"t=0 0\r\n" +
		"m=audio 30000 RTP/AVP 0\r\n" +
		"c=IN IP4 198.51.100.2\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n")

	host, port, ok := ParseAudioConnection(body)
	require.True(t, ok)
	assert.Equal(t, "198.51.100.2", host, "media-level c= line must win over the session-level one")
	assert.Equal(t, 30000, port)
}

func TestParseAudioConnectionMalformedBody(t *testing.T) {
	_, _, ok := ParseAudioConnection([]byte("not sdp at all"))
	assert.False(t, ok)
}

func TestParseAudioConnectionNoAudioMedia(t *testing.T) {
	body := []byte("v=0\r\n" +
		"o=- 1 1 IN IP4 198.51.100.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 198.51.100.1\r\n" +
		"t=0 0\r\n" +
		"m=video 40000 RTP/AVP 96\r\n")

	_, _, ok := ParseAudioConnection(body)
	assert.False(t, ok, "no audio m= section means no usable RTP endpoint")
}
