package rtp

import (
	"encoding/binary"
	"fmt"
)

// DTMFEvent is an RFC 4733/2833 telephone-event payload:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|     event     |E|R| volume    |          duration             |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type DTMFEvent struct {
	Event      uint8
	EndOfEvent bool
	Volume     uint8
	Duration   uint16
}

const (
	DTMF0     uint8 = 0
	DTMF1     uint8 = 1
	DTMF2     uint8 = 2
	DTMF3     uint8 = 3
	DTMF4     uint8 = 4
	DTMF5     uint8 = 5
	DTMF6     uint8 = 6
	DTMF7     uint8 = 7
	DTMF8     uint8 = 8
	DTMF9     uint8 = 9
	DTMFStar  uint8 = 10
	DTMFPound uint8 = 11
	DTMFA     uint8 = 12
	DTMFB     uint8 = 13
	DTMFC     uint8 = 14
	DTMFD     uint8 = 15
)

const (
	DefaultDTMFVolume   uint8  = 10
	DefaultDTMFDuration uint16 = 1600
	DTMFPayloadType     uint8  = 101
)

// RuneToEvent converts a DTMF character to its RFC 4733 event code.
func RuneToEvent(r rune) (uint8, bool) {
	switch r {
	case '0':
		return DTMF0, true
	case '1':
		return DTMF1, true
	case '2':
		return DTMF2, true
	case '3':
		return DTMF3, true
	case '4':
		return DTMF4, true
	case '5':
		return DTMF5, true
	case '6':
		return DTMF6, true
	case '7':
		return DTMF7, true
	case '8':
		return DTMF8, true
	case '9':
		return DTMF9, true
	case '*':
		return DTMFStar, true
	case '#':
		return DTMFPound, true
	case 'A', 'a':
		return DTMFA, true
	case 'B', 'b':
		return DTMFB, true
	case 'C', 'c':
		return DTMFC, true
	case 'D', 'd':
		return DTMFD, true
	}
	return 0, false
}

// EventToRune converts an RFC 4733 event code back to its digit character.
// Only 0-9, *, # are meaningful to the IVR (spec.md §6); A-D decode but the
// session coordinator ignores them.
func EventToRune(event uint8) (rune, bool) {
	switch event {
	case DTMF0:
		return '0', true
	case DTMF1:
		return '1', true
	case DTMF2:
		return '2', true
	case DTMF3:
		return '3', true
	case DTMF4:
		return '4', true
	case DTMF5:
		return '5', true
	case DTMF6:
		return '6', true
	case DTMF7:
		return '7', true
	case DTMF8:
		return '8', true
	case DTMF9:
		return '9', true
	case DTMFStar:
		return '*', true
	case DTMFPound:
		return '#', true
	case DTMFA:
		return 'A', true
	case DTMFB:
		return 'B', true
	case DTMFC:
		return 'C', true
	case DTMFD:
		return 'D', true
	}
	return 0, false
}

// Encode serializes the event to its 4-byte wire format.
func (e DTMFEvent) Encode() []byte {
	b := make([]byte, 4)
	b[0] = e.Event
	b[1] = e.Volume & 0x3F
	if e.EndOfEvent {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], e.Duration)
	return b
}

// DecodeDTMFEvent parses a 4-byte telephone-event payload.
func DecodeDTMFEvent(payload []byte) (DTMFEvent, error) {
	if len(payload) < 4 {
		return DTMFEvent{}, fmt.Errorf("dtmf payload too short: %d bytes", len(payload))
	}
	return DTMFEvent{
		Event:      payload[0],
		EndOfEvent: payload[1]&0x80 != 0,
		Volume:     payload[1] & 0x3F,
		Duration:   binary.BigEndian.Uint16(payload[2:]),
	}, nil
}

// DTMFDetector debounces a stream of telephone-event packets into single
// digit emissions: a digit is reported once, the first time its end bit is
// seen for a given event number, per spec.md §4.6's "debounce by event
// number + end bit".
type DTMFDetector struct {
	lastEvent    uint8
	lastEnded    bool
	haveEvent    bool
}

// Feed processes one telephone-event RTP payload and returns the decoded
// rune and true exactly once per completed digit.
func (d *DTMFDetector) Feed(payload []byte) (rune, bool) {
	ev, err := DecodeDTMFEvent(payload)
	if err != nil {
		return 0, false
	}
	if d.haveEvent && d.lastEvent == ev.Event {
		if !ev.EndOfEvent && d.lastEnded {
			// A non-end packet after the end bit starts a new press of
			// the same digit.
			d.lastEnded = false
			return 0, false
		}
		if ev.EndOfEvent && !d.lastEnded {
			d.lastEnded = true
			r, ok := EventToRune(ev.Event)
			return r, ok
		}
		return 0, false
	}
	d.haveEvent = true
	d.lastEvent = ev.Event
	d.lastEnded = ev.EndOfEvent
	if ev.EndOfEvent {
		r, ok := EventToRune(ev.Event)
		return r, ok
	}
	return 0, false
}
