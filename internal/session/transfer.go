package session

import (
	"context"
	"net"
	"time"

	"github.com/sebacius/switchboard/internal/b2bua"
	"github.com/sebacius/switchboard/internal/rtp"
)

// startTransfer implements spec.md §4.4's transfer flow: originate a
// B-leg to target, play a "connecting" prompt every 5s while it rings,
// and bridge media once it answers.
func (s *Session) startTransfer(ctx context.Context, target string) {
	if s.cfg.BLegOriginator == nil {
		s.log.Warn("transfer requested but no b2bua originator configured")
		return
	}
	if err := s.sess.Event(ctx, "transfer"); err != nil {
		s.log.Debug("transfer event rejected", "error", err)
		return
	}

	s.bLegTxKey = s.cfg.Dialog.CallID + "-b"

	res, err := s.cfg.BLegOriginator.Originate(ctx, b2bua.OriginateRequest{
		TargetURI:    target,
		CallerID:     s.cfg.CallerNumber,
		LocalRTPKey:  s.bLegTxKey,
		LocalRTPHost: s.cfg.RTPHost,
		LocalRTPPort: s.cfg.RTPPort,
	})
	if err != nil {
		s.log.Warn("b-leg originate failed", "error", err)
		_ = s.sess.Event(ctx, "unbridge")
		return
	}

	s.bLeg = res.Leg
	s.bLeg.OnStateChange(func(old, new b2bua.LegState) {
		s.Post(evBLegStateChange, new)
	})
	s.bLeg.OnTerminated(func(cause b2bua.TerminationCause) {
		s.Post(evBLegBye, cause)
	})

	s.armTransferTick()
}

func (s *Session) armTransferTick() {
	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if s.ivr.Current() != IvrB2buaMode {
					s.Post(evTransferTick, nil)
				} else {
					return
				}
			case <-s.done:
				return
			}
		}
	}()
}

// onBLegStateChange reacts to a B-leg transition posted from the
// originator's callback, bridging media once the leg answers.
func (s *Session) onBLegStateChange(ctx context.Context, data interface{}) {
	state, _ := data.(b2bua.LegState)
	if state != b2bua.LegStateAnswered {
		return
	}
	if err := s.ivr.Event(ctx, "bridged"); err != nil {
		s.log.Debug("bridged event rejected", "error", err)
		return
	}
	if err := s.sess.Event(ctx, "bridge"); err != nil {
		s.log.Debug("bridge event rejected", "error", err)
	}
	s.cancelPlayback() // stop the repeating "connecting" prompt, bridged audio takes over
	if s.recorder != nil {
		s.recorder.EnableBLeg()
	}

	host, port, ok := s.bLeg.RemoteRTPAddr()
	if ok {
		dst := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
		if s.cfg.RTPTable != nil {
			s.cfg.RTPTable.Start(s.bLegTxKey, dst, 0, rtp.GenerateSSRC(), rtp.GenerateSequenceStart(), rtp.GenerateTimestampStart(), 160)
		}
		if s.cfg.Demux != nil {
			s.cfg.Demux.Register(s.bLegTxKey, dst)
		}
		if s.cfg.Registry != nil {
			s.cfg.Registry.Add(s.bLegTxKey, s)
		}
	}
	s.log.Info("b-leg bridged", "remote_host", host, "remote_port", port)
}

// onBLegBye tears the bridge down and keeps the A-leg call up, moving
// its IVR state to voicebot mode; the IVR state held before the
// transfer is not restored.
func (s *Session) onBLegBye(ctx context.Context) {
	if s.bLegTxKey != "" {
		if s.cfg.RTPTable != nil {
			s.cfg.RTPTable.Stop(s.bLegTxKey)
		}
		if s.cfg.Demux != nil {
			s.cfg.Demux.Unregister(s.bLegTxKey)
		}
		if s.cfg.Registry != nil {
			s.cfg.Registry.Remove(s.bLegTxKey)
		}
	}
	s.bLeg = nil
	s.bLegTxKey = ""

	if err := s.ivr.Event(ctx, "unbridged"); err != nil {
		s.log.Debug("unbridged event rejected", "error", err)
	}
	if err := s.sess.Event(ctx, "unbridge"); err != nil {
		s.log.Debug("unbridge event rejected", "error", err)
	}
	_ = s.ivr.Event(ctx, "voicebot")
}
