package rtp

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	pionrtcp "github.com/pion/rtcp"
	pionrtp "github.com/pion/rtp"

	"github.com/zaf/g711"

	"github.com/sebacius/switchboard/internal/metrics"
)

// Sink receives decoded media events from the demuxer, implemented by the
// session coordinator (spec.md §4.6 "Deliver the µ-law frame to the session
// via the media channel").
type Sink interface {
	DeliverAudio(callID string, pt uint8, frame []byte)
	DeliverDTMF(callID string, digit rune)
}

type callState struct {
	jitter    *Buffer
	dtmf      DTMFDetector
	stats     *ReceptionStats
	lastPeer  net.Addr
}

// Demux is the single shared-socket RTP/RTCP receive path of spec.md §4.6:
// one socket services all calls; packets are classified, demuxed to a
// CallId by source address, pushed through a per-call jitter buffer, and
// decoded to canonical µ-law before being handed to the Sink. Grounded on
// internal/rtpmanager/bridge/bridge.go's relay goroutine shape, generalized
// from a blind byte copy into this parse-decode-deliver pipeline.
type Demux struct {
	log        *slog.Logger
	conn       net.PacketConn
	rtcpConn   net.PacketConn
	sink       Sink
	maxReorder int

	mu         sync.RWMutex
	peerToCall map[string]string
	callToPeer map[string]string
	calls      map[string]*callState
}

// NewDemux wires a bound RTP socket (and its RTP_PORT+1 RTCP companion) to
// sink, with jitter buffers sized by maxReorder.
func NewDemux(log *slog.Logger, conn, rtcpConn net.PacketConn, sink Sink, maxReorder int) *Demux {
	return &Demux{
		log:        log,
		conn:       conn,
		rtcpConn:   rtcpConn,
		sink:       sink,
		maxReorder: maxReorder,
		peerToCall: make(map[string]string),
		callToPeer: make(map[string]string),
		calls:      make(map[string]*callState),
	}
}

// Register maps peer's RTP source address to callID for inbound demux, and
// allocates that call's jitter buffer and DTMF detector. Called when the
// A-leg is answered and when a B-leg is bridged; a later call for the
// same callID swaps in the new peer.
func (d *Demux) Register(callID string, peer net.Addr) {
	key := peer.String()
	d.mu.Lock()
	if oldPeer, ok := d.callToPeer[callID]; ok {
		delete(d.peerToCall, oldPeer)
	}
	d.peerToCall[key] = callID
	d.callToPeer[callID] = key
	if _, ok := d.calls[callID]; !ok {
		d.calls[callID] = &callState{
			jitter: NewBuffer(d.maxReorder),
			stats:  NewReceptionStats(8000),
		}
	}
	d.calls[callID].lastPeer = peer
	d.mu.Unlock()
}

// Unregister removes callID from both demux maps, called on call end.
func (d *Demux) Unregister(callID string) {
	d.mu.Lock()
	if peer, ok := d.callToPeer[callID]; ok {
		delete(d.peerToCall, peer)
		delete(d.callToPeer, callID)
	}
	delete(d.calls, callID)
	d.mu.Unlock()
}

// Stats returns the reception statistics tracker for callID, for the RTCP
// RR emitter to read from.
func (d *Demux) Stats(callID string) (*ReceptionStats, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cs, ok := d.calls[callID]
	if !ok {
		return nil, false
	}
	return cs.stats, true
}

// ServeRTP reads datagrams off the RTP socket until the socket is closed,
// classifying each by RFC 5761's version/PT heuristic is unnecessary here
// since RTP and RTCP are split by port (spec.md §4.1); every datagram on
// this socket is RTP.
func (d *Demux) ServeRTP() error {
	buf := make([]byte, 1500)
	for {
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		d.handleRTP(buf[:n], addr)
	}
}

// ServeRTCP reads SR/RR datagrams off the RTCP socket (RTP port + 1).
func (d *Demux) ServeRTCP() error {
	buf := make([]byte, 1500)
	for {
		n, addr, err := d.rtcpConn.ReadFrom(buf)
		if err != nil {
			return err
		}
		d.handleRTCP(buf[:n], addr)
	}
}

func (d *Demux) handleRTP(data []byte, addr net.Addr) {
	d.mu.RLock()
	callID, ok := d.peerToCall[addr.String()]
	d.mu.RUnlock()
	if !ok {
		d.log.Debug("rtp: unknown source, dropping", "peer", addr.String())
		return
	}

	var pkt pionrtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		d.log.Debug("rtp: parse error, dropping", "error", err, "len", len(data))
		return
	}

	d.mu.RLock()
	cs, ok := d.calls[callID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	cs.stats.OnPacket(pkt.SequenceNumber, pkt.Timestamp, time.Now())

	leg := legLabel(callID)
	metrics.RTP.PacketsIn.WithLabelValues(leg).Inc()
	metrics.RTP.BytesIn.WithLabelValues(leg).Add(float64(len(pkt.Payload)))

	if pkt.PayloadType == DTMFPayloadType {
		if r, ok := cs.dtmf.Feed(pkt.Payload); ok {
			d.sink.DeliverDTMF(callID, r)
		}
		return
	}

	if !IsDecodable(pkt.PayloadType) {
		d.log.Debug("rtp: unsupported payload type, dropping", "pt", pkt.PayloadType, "call_id", callID)
		return
	}

	emitted, dropped := cs.jitter.Push(pkt.SequenceNumber, pkt.Payload)
	if dropped != "" {
		d.log.Debug("rtp: jitter buffer drop", "reason", string(dropped), "call_id", callID)
		metrics.RTP.JitterDropped.WithLabelValues(string(dropped)).Inc()
	}
	if len(emitted) > 1 {
		metrics.RTP.JitterReorder.WithLabelValues(leg).Add(float64(len(emitted) - 1))
	}
	for _, frame := range emitted {
		ulaw := toCanonicalUlaw(pkt.PayloadType, frame.Payload)
		d.sink.DeliverAudio(callID, CodecPCMU.PayloadType, ulaw)
	}
}

// legLabel reports "b" for a bridged B-leg alias key ("<call-id>-b")
// and "a" otherwise, for the per-leg RTP metrics.
func legLabel(callID string) string {
	if strings.HasSuffix(callID, "-b") {
		return "b"
	}
	return "a"
}

// toCanonicalUlaw converts a decodable payload to the canonical µ-law
// representation spec.md §3 standardizes on, translating A-law frames to
// µ-law via the shared g711 table round-trip and passing µ-law through.
func toCanonicalUlaw(pt uint8, payload []byte) []byte {
	if pt == CodecPCMA.PayloadType {
		pcm := g711.DecodeAlaw(payload)
		return g711.EncodeUlaw(pcm)
	}
	return payload
}

func (d *Demux) handleRTCP(data []byte, addr net.Addr) {
	packets, err := pionrtcp.Unmarshal(data)
	if err != nil {
		d.log.Debug("rtcp: parse error, dropping", "error", err)
		return
	}

	d.mu.RLock()
	callID, ok := d.peerToCall[addr.String()]
	d.mu.RUnlock()
	if !ok {
		return
	}

	d.mu.RLock()
	cs, ok := d.calls[callID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	now := time.Now()
	for _, p := range packets {
		switch sr := p.(type) {
		case *pionrtcp.SenderReport:
			cs.stats.OnSenderReport(sr, now)
		case *pionrtcp.ReceiverReport:
			// Peer's view of our outbound stream; logged only, spec.md
			// does not ask the B2BUA side to act on it.
			d.log.Debug("rtcp: receiver report from peer", "call_id", callID, "reports", len(sr.Reports))
		}
	}
}

// SendReceiverReport marshals and sends one RR packet to callID's
// registered peer on the RTCP socket (RTP port + 1), per spec.md §4.6's
// rtcp_interval emission.
func (d *Demux) SendReceiverReport(callID string, ourSSRC uint32) error {
	d.mu.RLock()
	cs, ok := d.calls[callID]
	var peerRTP *net.UDPAddr
	if ok {
		peerRTP, _ = cs.lastPeer.(*net.UDPAddr)
	}
	d.mu.RUnlock()
	if !ok || peerRTP == nil {
		return fmt.Errorf("rtp: no peer registered for call %q", callID)
	}
	dst := &net.UDPAddr{IP: peerRTP.IP, Port: peerRTP.Port + 1}

	report := cs.stats.Report(ourSSRC, time.Now())
	pkt := BuildReceiverReport(ourSSRC, report)
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = d.rtcpConn.WriteTo(data, dst)
	return err
}
