package rtp

import (
	"time"

	pionrtcp "github.com/pion/rtcp"
)

// ReceptionStats accumulates the running state needed to produce one
// RFC 3550 RTCP reception report block per interval for a single inbound
// RTP source. Grounded on other_examples' emiago-diago RTP session
// (readReceptionReport/parseReceptionReport) for which fields map onto
// pion/rtcp's ReceptionReport, adapted from diago's read+write combined
// session into a receive-only tracker (spec.md §4.6 only requires emitting
// RR, never SR, since this engine never acts as the RTCP sender side for
// the A-leg media it originates — it emits PCMU itself but spec.md's RTCP
// section only asks for receiver-side statistics).
type ReceptionStats struct {
	clockRate uint32

	haveBase bool
	baseSeq  uint16
	maxSeq   uint16
	cycles   uint32

	received      uint32
	expectedPrior uint32
	receivedPrior uint32

	haveTransit bool
	transit     int64
	jitter      float64

	lastSR     uint32
	lastSRRecv time.Time
}

// NewReceptionStats creates a tracker for a source clocked at clockRate
// (8000 for PCMU/PCMA).
func NewReceptionStats(clockRate uint32) *ReceptionStats {
	return &ReceptionStats{clockRate: clockRate}
}

// OnPacket folds one received RTP packet into the running statistics.
func (s *ReceptionStats) OnPacket(seq uint16, rtpTimestamp uint32, arrival time.Time) {
	if !s.haveBase {
		s.haveBase = true
		s.baseSeq = seq
		s.maxSeq = seq
	} else if isSeqNewer(seq, s.maxSeq) {
		if seq < s.maxSeq {
			s.cycles += 1 << 16
		}
		s.maxSeq = seq
	}
	s.received++

	arrivalTS := int64(arrival.UnixNano()) * int64(s.clockRate) / int64(time.Second)
	transit := arrivalTS - int64(rtpTimestamp)
	if s.haveTransit {
		d := transit - s.transit
		if d < 0 {
			d = -d
		}
		s.jitter += (float64(d) - s.jitter) / 16.0
	}
	s.transit = transit
	s.haveTransit = true
}

// OnSenderReport records the NTP timestamp from a received RTCP SR, used
// to compute LSR/DLSR in the next reception report.
func (s *ReceptionStats) OnSenderReport(sr *pionrtcp.SenderReport, recvTime time.Time) {
	s.lastSR = uint32(sr.NTPTime >> 16)
	s.lastSRRecv = recvTime
}

// Report computes the reception report block since the previous call,
// per RFC 3550 §6.4.1.
func (s *ReceptionStats) Report(ssrc uint32, now time.Time) pionrtcp.ReceptionReport {
	extendedMax := s.cycles + uint32(s.maxSeq)
	expected := extendedMax - uint32(s.baseSeq) + 1

	var cumulativeLost uint32
	if expected >= s.received {
		cumulativeLost = clamp24(expected - s.received)
	}

	expectedInterval := expected - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = s.received

	lostInterval := int32(expectedInterval) - int32(receivedInterval)
	var fraction uint8
	if expectedInterval != 0 && lostInterval > 0 {
		fraction = uint8((lostInterval << 8) / int32(expectedInterval))
	}

	var lsr, dlsr uint32
	if s.lastSR != 0 {
		lsr = s.lastSR
		dlsr = uint32(now.Sub(s.lastSRRecv).Seconds() * 65536)
	}

	return pionrtcp.ReceptionReport{
		SSRC:               ssrc,
		FractionLost:       fraction,
		TotalLost:          cumulativeLost,
		LastSequenceNumber: extendedMax,
		Jitter:             uint32(s.jitter),
		LastSenderReport:   lsr,
		Delay:              dlsr,
	}
}

func clamp24(v uint32) uint32 {
	const max24 = 1<<24 - 1
	if v > max24 {
		return max24
	}
	return v
}

// BuildReceiverReport wraps one or more reception report blocks in an
// RTCP RR packet addressed from our SSRC.
func BuildReceiverReport(ourSSRC uint32, reports ...pionrtcp.ReceptionReport) *pionrtcp.ReceiverReport {
	return &pionrtcp.ReceiverReport{
		SSRC:    ourSSRC,
		Reports: reports,
	}
}
