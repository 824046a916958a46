package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebacius/switchboard/internal/calllog"
	"github.com/sebacius/switchboard/internal/metrics"
	"github.com/sebacius/switchboard/internal/recording"
	"github.com/sebacius/switchboard/internal/routing"
	"github.com/sebacius/switchboard/internal/rtp"
	sipcore "github.com/sebacius/switchboard/internal/sip"
)

// Run is the actor's main loop: a biased select over the control
// channel first, a 20ms playback tick second, then the media channel,
// per spec.md §4.5. It returns once the call has fully terminated.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	s.handleIncomingInvite(ctx)
	if s.endReason != "" {
		s.flushAndTerminate(s.endReason)
		return
	}

	ticker := time.NewTicker(s.cfg.PlaybackTick)
	defer ticker.Stop()

	for {
		// Biased: drain any pending control event before considering
		// the tick or media channel.
		select {
		case ev, ok := <-s.control:
			if !ok {
				s.flushAndTerminate(EndError)
				return
			}
			if s.handleControl(ctx, ev) {
				s.flushAndTerminate(s.endReason)
				return
			}
			continue
		default:
		}

		select {
		case ev, ok := <-s.control:
			if !ok {
				s.flushAndTerminate(EndError)
				return
			}
			if s.handleControl(ctx, ev) {
				s.flushAndTerminate(s.endReason)
				return
			}
		case <-ticker.C:
			s.onPlaybackTick()
		case mev := <-s.media:
			s.handleMedia(ctx, mev)
		case <-ctx.Done():
			s.flushAndTerminate(EndTimeout)
			return
		}
	}
}

// resolveDecision applies the routing lookup chain of spec.md §4.5
// step 2: a per-number override, then a per-category routing rule,
// falling back to the anonymous/default system settings.
func (s *Session) resolveDecision(ctx context.Context) routing.RouteDecision {
	decision := routing.RouteDecision{ActionCode: routing.ActionVoicebot}
	port := s.cfg.RoutingPort
	if port == nil {
		return decision
	}

	if rd, ok, err := port.FindRegisteredNumber(ctx, s.cfg.CallerNumber); err == nil && ok && rd != nil {
		return *rd
	}

	category := routing.CategoryUnknown
	if spam, err := port.IsSpam(ctx, s.cfg.CallerNumber); err == nil && spam {
		category = routing.CategorySpam
	} else if reg, err := port.IsRegistered(ctx, s.cfg.CallerNumber); err == nil && reg {
		category = routing.CategoryRegistered
	}
	if rd, ok, err := port.FindRoutingRule(ctx, category); err == nil && ok && rd != nil {
		return *rd
	}

	anon := s.cfg.CallerNumber == "" || s.cfg.CallerNumber == "anonymous"
	if settings, _, err := port.GetSystemSettingsExtra(ctx); err == nil {
		decision.ActionCode = routing.Resolve(settings, anon)
	}
	return decision
}

// handleIncomingInvite implements spec.md §4.5's "Incoming INVITE
// processing": routing lookup, ActionCode dispatch, ringing/answer.
func (s *Session) handleIncomingInvite(ctx context.Context) {
	_ = s.sess.Event(ctx, "ring")

	decision := s.resolveDecision(ctx)

	switch decision.ActionCode {
	case routing.ActionBusy:
		s.rejectCall(486, "Busy Here")
		s.endReason = EndError
		return
	case routing.ActionNoResponse:
		// spec.md §4.5 step 3: NR skips all responses, silent drop.
		s.endReason = EndTimeout
		return
	}

	if err := s.cfg.SipMgr.SendTrying(s.cfg.Dialog); err != nil {
		s.log.Debug("trying failed", "error", err)
	}

	ringCtx, cancel := context.WithTimeout(ctx, s.cfg.RingMaxDuration)
	defer cancel()
	if err := s.cfg.SipMgr.SendProgress(ringCtx, s.cfg.Dialog, []byte(buildSDPOfferPCMU(s.cfg.RTPHost, s.cfg.RTPPort))); err != nil {
		s.log.Debug("ringing failed", "error", err)
	}

	select {
	case <-ringCtx.Done():
	case ev := <-s.control:
		if ev.kind == "cancel" {
			s.rejectCall(487, "Request Terminated")
			s.endReason = EndCancel
			return
		}
	}

	if err := s.cfg.SipMgr.SendOK(s.cfg.Dialog, []byte(buildSDPOfferPCMU(s.cfg.RTPHost, s.cfg.RTPPort))); err != nil {
		s.log.Error("send ok failed", "error", err)
		s.endReason = EndError
		return
	}

	s.onAnswered(ctx, decision)
}

func (s *Session) rejectCall(code int, reason string) {
	resp := sip.NewResponseFromRequest(s.cfg.Dialog.InviteRequest, code, reason, nil)
	if err := s.cfg.Dialog.Transaction.Respond(resp); err != nil {
		s.log.Debug("reject response failed", "error", err)
	}
	_ = s.cfg.Dialog.TransitionTo(sipcore.StateTerminated)
}

// onAnswered implements spec.md §4.5's "Established phase".
func (s *Session) onAnswered(ctx context.Context, decision routing.RouteDecision) {
	_ = s.sess.Event(ctx, "answer")
	metrics.Calls.RouteCalls.WithLabelValues(string(decision.ActionCode)).Inc()

	s.txSSRC = rtp.GenerateSSRC()
	var peerAddr net.Addr
	if s.cfg.Dialog.RemoteAddr != "" {
		peerAddr = &net.UDPAddr{IP: net.ParseIP(s.cfg.Dialog.RemoteAddr), Port: s.cfg.Dialog.RemotePort}
	}
	if s.cfg.RTPTable != nil {
		s.cfg.RTPTable.Start(s.txKey, peerAddr, 0, s.txSSRC, rtp.GenerateSequenceStart(), rtp.GenerateTimestampStart(), 160)
	}
	if s.cfg.Demux != nil && peerAddr != nil {
		s.cfg.Demux.Register(s.txKey, peerAddr)
	}
	if s.cfg.Registry != nil {
		s.cfg.Registry.Add(s.txKey, s)
	}
	if s.cfg.RecordingDir != "" {
		s.recorder = recording.New(s.cfg.Dialog.CallID, s.cfg.RecordingDir)
	}
	if s.cfg.Dialog.SessionExpires > 0 {
		s.armSessionTimer(ctx)
	}
	s.armRTCPReports()

	switch decision.ActionCode {
	case routing.ActionAnnouncement:
		_ = s.ivr.Event(ctx, "announcement")
		if s.cfg.RoutingPort != nil {
			if url, ok, err := s.cfg.RoutingPort.FindAnnouncementAudioFileURL(ctx, decision.AnnouncementID); err == nil && ok {
				s.enqueuePlayback(url)
			}
		}
	case routing.ActionVoicemail:
		_ = s.ivr.Event(ctx, "voicemail")
		s.enqueuePlayback("voicemail_prompt.wav")
	case routing.ActionIVR:
		_ = s.ivr.Event(ctx, "intro")
		if s.cfg.RoutingPort != nil {
			if menu, ok, err := s.cfg.RoutingPort.FindIVRMenu(ctx, decision.IVRFlowID); err == nil && ok {
				s.ivrMenu = menu
				s.enqueuePlayback(fmt.Sprintf("ivr/%s/intro.wav", menu.NodeID))
			}
		}
		_ = s.ivr.Event(ctx, "menu_wait")
		s.armIVRTimeout()
	default: // voicebot / voicebot-direct
		_ = s.ivr.Event(ctx, "voicebot")
	}
}

func (s *Session) armSessionTimer(ctx context.Context) {
	go func() {
		deadline := s.cfg.Dialog.SessionTimerDeadline()
		if deadline.IsZero() {
			return
		}
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		select {
		case <-t.C:
			s.Post(evAppHangup, nil)
		case <-s.done:
		}
	}()
}

// armRTCPReports periodically sends a receiver report for the A-leg's
// inbound stream, per spec.md §4.6's "rtcp_interval emission".
func (s *Session) armRTCPReports() {
	if s.cfg.Demux == nil {
		return
	}
	go func() {
		t := time.NewTicker(s.cfg.RTCPInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := s.cfg.Demux.SendReceiverReport(s.txKey, s.txSSRC); err != nil {
					s.log.Debug("rtcp receiver report failed", "error", err)
				}
			case <-s.done:
				return
			}
		}
	}()
}

func (s *Session) armIVRTimeout() {
	go func() {
		t := time.NewTimer(s.cfg.IVRTimeout)
		defer t.Stop()
		select {
		case <-t.C:
			s.Post(evIVRTimeout, nil)
		case <-s.done:
		}
	}()
}

// handleControl dispatches one control-channel event; returns true if
// the session should terminate.
func (s *Session) handleControl(ctx context.Context, ev controlEvent) bool {
	switch ev.kind {
	case "bye", evDialogBye:
		s.endReason = EndBye
		return true
	case "cancel":
		s.endReason = EndCancel
		return true
	case evAppHangup:
		s.endReason = EndAppHangup
		return true
	case evIVRTimeout:
		s.onIVRTimeout(ctx)
	case evAppTransfer:
		target, _ := ev.data.(string)
		s.startTransfer(ctx, target)
	case evTransferTick:
		s.enqueuePlayback("connecting.wav")
	case evBLegStateChange:
		s.onBLegStateChange(ctx, ev.data)
	case evBLegBye:
		s.onBLegBye(ctx)
	case evVoicebotReply:
		if path, ok := ev.data.(string); ok && path != "" {
			s.enqueuePlayback(path)
		}
	}
	return false
}

func (s *Session) onIVRTimeout(ctx context.Context) {
	if s.ivr.Current() != IvrMenuWaiting || s.ivrMenu == nil || s.cfg.RoutingPort == nil {
		return
	}
	s.ivrRetries++
	if s.ivrRetries > s.cfg.IVRMaxRetries {
		dest, ok, err := s.cfg.RoutingPort.FindIVRTimeoutDestination(ctx, s.ivrMenu.NodeID)
		if err == nil && ok {
			s.dispatchIVRDestination(ctx, dest)
		}
		return
	}
	s.enqueuePlayback("please_choose_again.wav")
	s.armIVRTimeout()
}

// dispatchIVRDestination routes a DTMF/timeout/invalid-input
// resolution to the action it names, per spec.md §4.5's "destinations
// support action codes equivalent to the incoming classification".
func (s *Session) dispatchIVRDestination(ctx context.Context, dest *routing.IVRDestination) {
	switch dest.ActionCode {
	case routing.ActionVoicebot, routing.ActionVoicebotDirect:
		_ = s.ivr.Event(ctx, "voicebot")
	case routing.ActionAnnouncement:
		_ = s.ivr.Event(ctx, "announcement")
		if s.cfg.RoutingPort != nil {
			if url, ok, err := s.cfg.RoutingPort.FindAnnouncementAudioFileURL(ctx, dest.AnnouncementID); err == nil && ok {
				s.enqueuePlayback(url)
			}
		}
	case routing.ActionIVR:
		if s.cfg.RoutingPort != nil {
			if menu, ok, err := s.cfg.RoutingPort.FindIVRMenu(ctx, dest.IVRFlowID); err == nil && ok {
				s.ivrMenu = menu
				s.ivrRetries = 0
				s.enqueuePlayback(fmt.Sprintf("ivr/%s/intro.wav", menu.NodeID))
				s.armIVRTimeout()
			}
		}
	case routing.ActionTransfer:
		s.startTransfer(ctx, dest.TransferTargetURI)
	default:
		s.Post(evAppHangup, nil)
	}
}

func (s *Session) flushAndTerminate(reason EndReason) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.mu.Unlock()

	_ = s.sess.Event(context.Background(), "terminate")
	metrics.Calls.Ended.WithLabelValues(string(reason)).Inc()

	if s.playCancel != nil {
		s.playCancel()
	}
	if s.bLeg != nil {
		_ = s.bLeg.Hangup(context.Background())
	}

	var recordingPath string
	var durationSec int64
	if s.recorder != nil {
		durationSec = int64(s.recorder.Duration().Seconds())
		if p, err := s.recorder.StopAndMerge(); err == nil {
			recordingPath = p
		} else {
			s.log.Warn("recording merge failed", "error", err)
		}
	}

	if s.cfg.RTPTable != nil {
		s.cfg.RTPTable.Stop(s.txKey)
		if s.bLegTxKey != "" {
			s.cfg.RTPTable.Stop(s.bLegTxKey)
		}
	}
	if s.cfg.Demux != nil {
		s.cfg.Demux.Unregister(s.txKey)
		if s.bLegTxKey != "" {
			s.cfg.Demux.Unregister(s.bLegTxKey)
		}
	}
	if s.cfg.Registry != nil {
		s.cfg.Registry.Remove(s.txKey)
		if s.bLegTxKey != "" {
			s.cfg.Registry.Remove(s.bLegTxKey)
		}
	}

	if s.cfg.CallLogPort != nil {
		status := calllog.StatusCompleted
		endReason := calllog.EndReasonCallerHangup
		switch reason {
		case EndCancel:
			status = calllog.StatusMissed
			endReason = calllog.EndReasonNoAnswer
		case EndError, EndTimeout:
			status = calllog.StatusError
			endReason = calllog.EndReasonSystemError
		case EndAppHangup:
			endReason = calllog.EndReasonCalleeHangup
		}
		entry := calllog.EndedCallLog{
			ID:           s.cfg.Dialog.CallID,
			SipCallID:    s.cfg.Dialog.CallID,
			CallerNumber: s.cfg.CallerNumber,
			StartedAt:    s.cfg.Dialog.CreatedAt,
			EndedAt:      time.Now(),
			DurationSec:  durationSec,
			EndReason:    endReason,
			Status:       status,
		}
		if recordingPath != "" {
			entry.Recording = &calllog.Recording{FilePath: recordingPath, DurationMS: durationSec * 1000}
		}
		if err := s.cfg.CallLogPort.PersistCallEnded(context.Background(), entry); err != nil {
			s.log.Warn("persist call log failed", "error", err)
		}
	}

	_ = s.sess.Event(context.Background(), "terminated")
}
