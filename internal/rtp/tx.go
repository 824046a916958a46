package rtp

import (
	"fmt"
	"net"
	"sync"

	pionrtp "github.com/pion/rtp"

	"github.com/sebacius/switchboard/internal/metrics"
)

// record is one transmitter's mutable sequencing state, grounded on
// internal/rtpmanager/media/rtp_writer.go's RTPStreamWriter fields but
// stripped of its own clock-pacing ticker: pacing is the session
// coordinator's 20ms playback tick (spec.md §4.5), not the transmitter's
// job, since one shared socket serves every call's transmitter record.
type record struct {
	mu   sync.Mutex
	dst  net.Addr
	pt   uint8
	ssrc uint32
	seq  uint16
	ts   uint32
	samplesPerFrame uint32
}

// Table is the RTP transmit table of spec.md §4.7: one shared UDP socket,
// many per-key (CallId or "<call_id>-b") sender records.
type Table struct {
	conn net.PacketConn

	mu      sync.RWMutex
	records map[string]*record
}

// NewTable wraps an already-bound RTP socket.
func NewTable(conn net.PacketConn) *Table {
	return &Table{
		conn:    conn,
		records: make(map[string]*record),
	}
}

// Start allocates or replaces the sender record for key.
func (t *Table) Start(key string, dst net.Addr, pt uint8, ssrc uint32, seq0 uint16, ts0 uint32, samplesPerFrame int) {
	r := &record{dst: dst, pt: pt, ssrc: ssrc, seq: seq0, ts: ts0, samplesPerFrame: uint32(samplesPerFrame)}
	t.mu.Lock()
	t.records[key] = r
	t.mu.Unlock()
}

// Stop drops the sender record for key.
func (t *Table) Stop(key string) {
	t.mu.Lock()
	delete(t.records, key)
	t.mu.Unlock()
}

// Has reports whether a transmitter is currently registered for key.
func (t *Table) Has(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.records[key]
	return ok
}

func (t *Table) get(key string) (*record, bool) {
	t.mu.RLock()
	r, ok := t.records[key]
	t.mu.RUnlock()
	return r, ok
}

// SendPayload builds and sends an RTP packet for key using its current
// seq/ts/ssrc, then advances seq by 1 and ts by samplesPerFrame.
func (t *Table) SendPayload(key string, payload []byte) error {
	return t.sendPayload(key, payload, false)
}

// SendMarked is SendPayload with the RTP marker bit set, used for the first
// packet of a talkspurt or a DTMF event start.
func (t *Table) SendMarked(key string, payload []byte) error {
	return t.sendPayload(key, payload, true)
}

func (t *Table) sendPayload(key string, payload []byte, marker bool) error {
	r, ok := t.get(key)
	if !ok {
		return fmt.Errorf("rtp: no transmitter for key %q", key)
	}

	r.mu.Lock()
	pkt := &pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    r.pt,
			SequenceNumber: r.seq,
			Timestamp:      r.ts,
			SSRC:           r.ssrc,
		},
		Payload: payload,
	}
	dst := r.dst
	data, err := pkt.Marshal()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.seq++
	r.ts += r.samplesPerFrame
	r.mu.Unlock()

	if dst == nil {
		return fmt.Errorf("rtp: no destination set for key %q", key)
	}

	_, err = t.conn.WriteTo(data, dst)
	if err == nil {
		metrics.RTP.PacketsOut.WithLabelValues(legLabel(key)).Inc()
	}
	return err
}

// SendEvent sends a raw telephone-event (RFC 4733) RTP packet on the
// DTMF payload type, with an explicit timestamp held constant across the
// retransmits of one event per RFC 4733 §2.5.1.4 and an explicit marker
// bit on the first packet of the event.
func (t *Table) SendEvent(key string, ev DTMFEvent, marker bool) error {
	r, ok := t.get(key)
	if !ok {
		return fmt.Errorf("rtp: no transmitter for key %q", key)
	}

	r.mu.Lock()
	pkt := &pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    DTMFPayloadType,
			SequenceNumber: r.seq,
			Timestamp:      r.ts,
			SSRC:           r.ssrc,
		},
		Payload: ev.Encode(),
	}
	dst := r.dst
	r.seq++
	data, err := pkt.Marshal()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if dst == nil {
		return fmt.Errorf("rtp: no destination set for key %q", key)
	}
	_, err = t.conn.WriteTo(data, dst)
	if err == nil {
		metrics.RTP.PacketsOut.WithLabelValues(legLabel(key)).Inc()
	}
	return err
}

// AdjustTimestamp advances ts by samples without sending anything — used to
// keep the RTP clock aligned after a pause (spec.md §4.5/§9 "RTP clock
// alignment after silence").
func (t *Table) AdjustTimestamp(key string, samples uint32) {
	r, ok := t.get(key)
	if !ok {
		return
	}
	r.mu.Lock()
	r.ts += samples
	r.mu.Unlock()
}

// SetDestination updates the destination address for key, used when a
// re-INVITE changes the peer's advertised RTP endpoint.
func (t *Table) SetDestination(key string, dst net.Addr) {
	r, ok := t.get(key)
	if !ok {
		return
	}
	r.mu.Lock()
	r.dst = dst
	r.mu.Unlock()
}
