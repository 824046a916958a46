// Package rtp implements the shared RTP/RTCP media path: the transmitter
// table, the jitter/reorder buffer, DTMF detection, and RTCP receiver
// reports. Grounded on internal/rtpmanager/media/*.go (rtp_writer.go,
// dtmf.go, codec.go), generalized to the static payload-type table and
// sequence-based jitter model spec.md §4.6 specifies.
package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// Codec describes a negotiated RTP payload.
type Codec struct {
	Name        string
	PayloadType uint8
	SampleRate  uint32
	SampleDur   time.Duration
}

// SamplesPerFrame returns samples per SampleDur at SampleRate.
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.SampleDur) / int(time.Second)
}

// TimestampIncrement returns the RTP timestamp step for one frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}

// Well-known codecs. Only PCMU is ever sent (spec.md §6); PCMU/PCMA/static
// others are accepted on receive.
var (
	CodecPCMU            = Codec{"PCMU", 0, 8000, 20 * time.Millisecond}
	CodecPCMA            = Codec{"PCMA", 8, 8000, 20 * time.Millisecond}
	CodecTelephoneEvent  = Codec{"telephone-event", 101, 8000, 20 * time.Millisecond}
)

// staticPayloadTypes is the RFC 3551 static PT table for the codecs spec.md
// §6 says must be honored on receive even when no rtpmap line names them.
var staticPayloadTypes = map[uint8]string{
	0: "PCMU",
	3: "GSM",
	4: "G723",
	8: "PCMA",
	9: "G722",
	18: "G729",
}

// StaticCodecName resolves a static payload type to its codec name, the
// fallback spec.md §3's SDP model uses when an rtpmap line is absent.
func StaticCodecName(pt uint8) (string, bool) {
	name, ok := staticPayloadTypes[pt]
	return name, ok
}

// IsDecodable reports whether frames with this payload type can be turned
// into canonical µ-law by this media path (only PCMU/PCMA are, per spec.md
// §6 — other static types are recognized but not decoded).
func IsDecodable(pt uint8) bool {
	return pt == CodecPCMU.PayloadType || pt == CodecPCMA.PayloadType
}

// GenerateSSRC returns a cryptographically random 32-bit SSRC (RFC 3550).
func GenerateSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}

// GenerateSequenceStart returns a random initial RTP sequence number.
func GenerateSequenceStart() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

// GenerateTimestampStart returns a random initial RTP timestamp.
func GenerateTimestampStart() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// SilenceFrame returns one 20ms µ-law silence frame (0xFF, per spec.md
// §4.5's keepalive description), 160 bytes at 8kHz.
func SilenceFrame() []byte {
	f := make([]byte, CodecPCMU.SamplesPerFrame())
	for i := range f {
		f[i] = 0xFF
	}
	return f
}

// ErrUnsupportedPayload is returned when a received RTP payload type cannot
// be decoded to canonical µ-law.
var ErrUnsupportedPayload = fmt.Errorf("rtp: unsupported payload type for decode")
