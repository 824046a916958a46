package sip

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// ParseAudioConnection extracts the peer's audio RTP host/port from an
// SDP offer/answer body, grounded on
// arzzra-soft_phone/pkg/media_with_sdp/sdp_builder.go's ParseSDP: the
// session-level connection line is the default, overridden by a
// media-level one when the audio m= section carries its own c= line.
func ParseAudioConnection(body []byte) (host string, port int, ok bool) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return "", 0, false
	}

	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		host = desc.ConnectionInformation.Address.Address
	}

	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media != "audio" {
			continue
		}
		port = media.MediaName.Port.Value
		if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
			host = media.ConnectionInformation.Address.Address
		}
		break
	}

	return host, port, host != "" && port != 0
}

// BuildAudioOffer renders the single-codec (PCMU) SDP body every side
// of this B2BUA offers or answers, per spec.md §4.1's literal format.
// Built by hand rather than through sdp.SessionDescription's builder
// because the wire format is fixed and never negotiated beyond PCMU;
// ParseAudioConnection above is what needs full SDP grammar, since it
// must read whatever the peer actually sent.
func BuildAudioOffer(originID int64, host string, port int) []byte {
	return []byte(fmt.Sprintf(
		"v=0\r\no=- %d 1 IN IP4 %s\r\ns=-\r\nc=IN IP4 %s\r\nt=0 0\r\nm=audio %d RTP/AVP 0\r\na=rtpmap:0 PCMU/8000\r\na=sendrecv\r\n",
		originID, host, host, port,
	))
}
