package session

import (
	"context"
	"math"
	"time"

	"github.com/zaf/g711"

	"github.com/sebacius/switchboard/internal/ai"
	"github.com/sebacius/switchboard/internal/recording"
	"github.com/sebacius/switchboard/internal/rtp"
	sipcore "github.com/sebacius/switchboard/internal/sip"
)

// buildSDPOfferPCMU produces the PCMU-only SDP body this session sends
// in its 183/200 answers, via the same builder internal/b2bua's
// Originator uses, since both sides of the B2BUA advertise identical
// single-codec media (spec.md §4.1).
func buildSDPOfferPCMU(host string, port int) string {
	return string(sipcore.BuildAudioOffer(time.Now().UnixNano()/1000, host, port))
}

// enqueuePlayback appends a WAV path to the playback queue, per spec.md
// §4.5 "Current playback is a queue of WAV paths."
func (s *Session) enqueuePlayback(path string) {
	s.mu.Lock()
	s.playQueue = append(s.playQueue, path)
	s.playing = true
	s.mu.Unlock()
}

// cancelPlayback empties the queue and marks the current playback
// interrupted, per spec.md §4.5's "explicit cancel sets interrupted=true".
func (s *Session) cancelPlayback() {
	s.mu.Lock()
	s.playQueue = nil
	s.currentFrames = nil
	s.frameIdx = 0
	wasPlaying := s.playing
	s.playing = false
	s.mu.Unlock()
	if wasPlaying {
		s.finishPlayback(true)
	}
}

// nextPlaybackFrameLocked pops the next 20ms µ-law frame off the current
// file, loading the next queued path when the current one is exhausted.
// Caller must hold s.mu.
func (s *Session) nextPlaybackFrameLocked() ([]byte, bool) {
	for {
		if s.frameIdx < len(s.currentFrames) {
			f := s.currentFrames[s.frameIdx]
			s.frameIdx++
			return f, true
		}
		if len(s.playQueue) == 0 {
			s.currentFrames = nil
			s.frameIdx = 0
			return nil, false
		}
		path := s.playQueue[0]
		s.playQueue = s.playQueue[1:]
		frames, err := recording.LoadPlaybackFrames(path)
		if err != nil {
			s.log.Warn("playback load failed", "path", path, "error", err)
			continue
		}
		s.currentFrames = frames
		s.frameIdx = 0
	}
}

// onPlaybackTick is the 20ms heart of spec.md §4.5: on each tick it sends
// either the next playback frame, a keepalive silence frame (when idle and
// not bridged), or nothing at all (bridged — media flows from handleMedia's
// A<->B forwarding instead).
func (s *Session) onPlaybackTick() {
	s.mu.Lock()
	frame, ok := s.nextPlaybackFrameLocked()
	wasPlaying := s.playing
	if !ok {
		s.playing = false
	}
	s.mu.Unlock()

	bridged := s.ivr.Current() == IvrB2buaMode

	if !ok {
		if wasPlaying {
			s.finishPlayback(false)
		}
		if bridged {
			return
		}
		frame = rtp.SilenceFrame()
	}

	s.alignClockIfNeeded()

	if s.cfg.RTPTable != nil {
		if err := s.cfg.RTPTable.SendPayload(s.txKey, frame); err != nil {
			s.log.Debug("rtp send failed", "error", err)
		}
	}
	if s.recorder != nil {
		s.recorder.CaptureTx(frame)
	}
}

// alignClockIfNeeded advances the transmitter's RTP timestamp by the
// elapsed sample count when the gap since the last send exceeds one frame
// period, per spec.md §9 "RTP clock alignment after silence".
func (s *Session) alignClockIfNeeded() {
	now := time.Now()
	if !s.lastTxSend.IsZero() {
		elapsed := now.Sub(s.lastTxSend)
		if gap := elapsed - s.cfg.PlaybackTick; gap > 0 && s.cfg.RTPTable != nil {
			samples := uint32(gap.Seconds() * float64(rtp.CodecPCMU.SampleRate))
			if samples > 0 {
				s.cfg.RTPTable.AdjustTimestamp(s.txKey, samples)
			}
		}
	}
	s.lastTxSend = now
}

// finishPlayback implements spec.md §4.5's "On queue exhaustion call
// finish_playback(interrupted=false)".
func (s *Session) finishPlayback(interrupted bool) {
	if interrupted {
		s.log.Debug("playback interrupted")
	}
}

// handleMedia dispatches one media-channel event: inbound RTP audio
// (from the A-leg peer or, once bridged, the B-leg peer) or a detected
// DTMF digit.
func (s *Session) handleMedia(ctx context.Context, mev mediaEvent) {
	switch mev.kind {
	case "audio":
		s.onMediaAudio(ctx, mev)
	case "dtmf":
		s.onMediaDTMF(ctx, mev)
	}
}

func (s *Session) onMediaAudio(ctx context.Context, mev mediaEvent) {
	bridged := s.ivr.Current() == IvrB2buaMode

	if mev.fromB {
		// spec.md §4.5 "Inbound B-leg RTP frames -> forwarded to the
		// A-side transmitter and recorded on the b-leg-rx stream."
		if bridged && s.cfg.RTPTable != nil {
			_ = s.cfg.RTPTable.SendPayload(s.txKey, mev.frame)
		}
		if s.recorder != nil {
			s.recorder.CaptureBLegRx(mev.frame)
		}
		return
	}

	if s.recorder != nil {
		s.recorder.CaptureRx(mev.frame)
	}

	if bridged {
		// spec.md §4.5 "Inbound A-leg RTP frames -> forwarded to the
		// B-side transmitter and recorded on the b-leg-tx stream."
		if s.bLegTxKey != "" && s.cfg.RTPTable != nil {
			_ = s.cfg.RTPTable.SendPayload(s.bLegTxKey, mev.frame)
		}
		if s.recorder != nil {
			s.recorder.CaptureBLegTx(mev.frame)
		}
		return
	}

	if s.ivr.Current() == IvrVoicebot {
		s.processVAD(mev.frame)
	}
}

func (s *Session) onMediaDTMF(ctx context.Context, mev mediaEvent) {
	// spec.md §4.5 "DTMF digits from RTP are consumed only in
	// IvrMenuWaiting."
	if s.ivr.Current() != IvrMenuWaiting || s.ivrMenu == nil || s.cfg.RoutingPort == nil {
		return
	}

	dest, ok, err := s.cfg.RoutingPort.FindIVRDTMFDestination(ctx, s.ivrMenu.NodeID, mev.digit)
	if err != nil || !ok {
		if inv, ok2, err2 := s.cfg.RoutingPort.FindIVRInvalidDestination(ctx, s.ivrMenu.NodeID); err2 == nil && ok2 {
			s.dispatchIVRDestination(ctx, inv)
			return
		}
		s.enqueuePlayback("invalid_selection.wav")
		return
	}

	s.ivrRetries = 0
	s.dispatchIVRDestination(ctx, dest)
}

// processVAD runs the energy-based voice activity detector of spec.md
// §4.5's "Capture and VAD" over one inbound 20ms µ-law frame.
func (s *Session) processVAD(frame []byte) {
	pcmBytes := g711.DecodeUlaw(frame)
	samples := bytesToInt16LE(pcmBytes)

	const frameMS = 20
	above := rms(samples) > s.cfg.VAD.RMSThreshold

	if !s.vad.speaking {
		if above {
			s.vad.aboveMS += frameMS
		} else {
			s.vad.aboveMS = 0
		}
		if s.vad.aboveMS >= s.cfg.VAD.StartSilenceMS {
			s.vad.speaking = true
			s.vad.aboveMS = 0
			s.vad.silenceMS = 0
			s.vad.speechMS = 0
			s.vad.buf = nil
			s.vad.ulawBuf = nil
		}
		return
	}

	s.vad.buf = append(s.vad.buf, samples...)
	s.vad.ulawBuf = append(s.vad.ulawBuf, frame...)
	s.vad.speechMS += frameMS

	if above {
		s.vad.silenceMS = 0
	} else {
		s.vad.silenceMS += frameMS
	}

	if s.vad.silenceMS >= s.cfg.VAD.EndSilenceMS || s.vad.speechMS >= s.cfg.VAD.MaxSpeechMS {
		s.emitAudioBuffered()
	}
}

// emitAudioBuffered implements spec.md §4.5's "emits the accumulated
// buffer to the AI port via AudioBuffered when speech ends... resets on
// every emission."
func (s *Session) emitAudioBuffered() {
	pcm := s.vad.buf
	speechMS := s.vad.speechMS
	s.vad = vadState{}

	if speechMS < s.cfg.VAD.MinSpeechMS || s.cfg.AI == nil || len(pcm) == 0 {
		return
	}

	pcmCopy := make([]int16, len(pcm))
	copy(pcmCopy, pcm)
	go s.runVoicebotPipeline(pcmCopy)
}

// runVoicebotPipeline drives the ASR -> intent -> (weather|LLM) -> TTS
// chain against the AI port, posting the synthesized reply's WAV path
// back to the actor for playback. Runs off-actor since the AI port's
// HTTP round trips must not block the control/media select loop.
func (s *Session) runVoicebotPipeline(pcm []int16) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	text, err := s.cfg.AI.Transcribe(ctx, pcm)
	if err != nil || text == "" {
		return
	}

	intent, slots, err := s.cfg.AI.Classify(ctx, text)
	if err != nil {
		return
	}

	var reply string
	if intent == "weather" {
		reply, err = s.cfg.AI.Weather(ctx, ai.WeatherQuery{Location: slots["location"], Date: slots["date"]})
	} else {
		reply, err = s.cfg.AI.Generate(ctx, []ai.ChatMessage{{Role: ai.RoleUser, Content: text}})
	}
	if err != nil || reply == "" {
		return
	}

	path, err := s.cfg.AI.Synthesize(ctx, reply)
	if err != nil || path == "" {
		return
	}

	s.Post(evVoicebotReply, path)
}

func bytesToInt16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}
