// Package session implements the per-call actor of spec.md §4.5: one
// goroutine per active CallId, spawned from an incoming INVITE, owning
// a control channel (SIP/app/B2BUA events) and a media channel (RTP
// frames, DTMF). Grounded on
// internal/signaling/dialplan/session.go's CallSession shape
// (PlayAudio/Dial/Hangup), reworked from a single synchronous request
// object into the full actor spec.md §4.5 describes, with the two
// orthogonal state machines (SessState/IvrState) modeled as
// github.com/looplab/fsm.FSM instances the way
// arzzra-soft_phone/pkg/dialog/dialog.go's initFSM builds its dialog
// FSM.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/sebacius/switchboard/internal/ai"
	"github.com/sebacius/switchboard/internal/b2bua"
	"github.com/sebacius/switchboard/internal/calllog"
	"github.com/sebacius/switchboard/internal/recording"
	"github.com/sebacius/switchboard/internal/routing"
	"github.com/sebacius/switchboard/internal/rtp"
	sipcore "github.com/sebacius/switchboard/internal/sip"
)

// SessState is the call's top-level lifecycle state.
const (
	SessInitial     = "initial"
	SessRinging     = "ringing"
	SessEstablished = "established"
	SessTransferring = "transferring"
	SessBridged     = "bridged"
	SessTerminating = "terminating"
	SessTerminated  = "terminated"
)

// IvrState is the call's voice-flow state, orthogonal to SessState.
const (
	IvrIdle         = "idle"
	IvrPlayingIntro = "playing_intro"
	IvrMenuWaiting  = "menu_waiting"
	IvrVoicebot     = "voicebot"
	IvrAnnouncement = "announcement"
	IvrVoicemail    = "voicemail"
	IvrB2buaMode    = "b2bua_mode"
)

// EndReason mirrors spec.md §4.5's termination vocabulary.
type EndReason string

const (
	EndBye       EndReason = "Bye"
	EndCancel    EndReason = "Cancel"
	EndAppHangup EndReason = "AppHangup"
	EndTimeout   EndReason = "Timeout"
	EndError     EndReason = "Error"
)

// Config bundles a session's external collaborators, set once at
// construction. All fields besides Dialog are optional fakes/no-ops in
// tests.
type Config struct {
	Dialog   *sipcore.Dialog
	SipMgr   *sipcore.Manager
	RTPTable *rtp.Table
	Demux    *rtp.Demux

	// Registry is the process-wide call-id->session lookup the
	// shared Demux's Sink uses to route inbound RTP/DTMF; see
	// onAnswered and onBLegStateChange for the Register/Unregister
	// calls that keep it in sync with RTPTable's transmitter keys.
	Registry *Registry

	// RTPHost/RTPPort are this process's single shared RTP socket
	// address, advertised in every SDP answer/offer this session
	// sends (spec.md §4.7: one socket, many per-call records).
	RTPHost string
	RTPPort int

	CallerNumber string
	RecordingDir string

	RoutingPort    routing.Port
	CallLogPort    calllog.Port
	AI             ai.Services
	BLegOriginator *b2bua.Originator

	KeepaliveInterval time.Duration
	PlaybackTick      time.Duration
	RingMaxDuration   time.Duration
	IVRTimeout        time.Duration
	IVRMaxRetries     int
	RTCPInterval      time.Duration

	VAD VADConfig

	Log *slog.Logger
}

// VADConfig is the energy-based speech detector's tunables, spec.md
// §4.5's "Capture and VAD" section.
type VADConfig struct {
	RMSThreshold   float64
	StartSilenceMS int
	EndSilenceMS   int
	MinSpeechMS    int
	MaxSpeechMS    int
}

// controlEvent is anything delivered on the reliable control channel:
// SIP signaling, app commands, B2BUA callbacks, timer ticks.
type controlEvent struct {
	kind string
	data interface{}
}

// mediaEvent is anything delivered on the drop-on-full media channel.
type mediaEvent struct {
	kind  string
	frame []byte
	digit rune
	fromB bool
}

const (
	evPlaybackTick   = "playback_tick"
	evIVRTimeout     = "ivr_timeout"
	evTransferTick   = "transfer_tick"
	evBLegStateChange = "bleg_state_change"
	evBLegBye        = "bleg_bye"
	evAppHangup      = "app_hangup"
	evAppTransfer    = "app_transfer"
	evDialogBye      = "dialog_bye"
	evVoicebotReply  = "voicebot_reply"
)

// Session is one actor bound to a single inbound call.
type Session struct {
	cfg Config
	log *slog.Logger

	sess *fsm.FSM
	ivr  *fsm.FSM

	control chan controlEvent
	media   chan mediaEvent

	mu sync.Mutex

	recorder *recording.Recorder

	playQueue     []string
	playing       bool
	currentFrames [][]byte
	frameIdx      int
	playCancel    context.CancelFunc
	lastTxSend    time.Time
	txSSRC        uint32
	txKey         string
	bLegTxKey     string

	vad vadState

	ivrRetries int
	ivrMenu    *routing.IVRMenu

	bLeg b2bua.Leg

	terminated bool
	endReason  EndReason

	done chan struct{}
}

type vadState struct {
	speaking  bool
	aboveMS   int // consecutive above-threshold ms while waiting to confirm speech onset
	silenceMS int // consecutive below-threshold ms while speaking
	speechMS  int
	buf       []int16
	ulawBuf   []byte
}

// New constructs a Session bound to an already-confirmed inbound
// dialog. The caller invokes Run in its own goroutine.
func New(cfg Config) *Session {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 20 * time.Millisecond
	}
	if cfg.PlaybackTick <= 0 {
		cfg.PlaybackTick = 20 * time.Millisecond
	}
	if cfg.RingMaxDuration <= 0 || cfg.RingMaxDuration > 10*time.Second {
		cfg.RingMaxDuration = 10 * time.Second
	}
	if cfg.IVRTimeout <= 0 {
		cfg.IVRTimeout = 10 * time.Second
	}
	if cfg.IVRMaxRetries <= 0 {
		cfg.IVRMaxRetries = 2
	}
	if cfg.RTCPInterval <= 0 {
		cfg.RTCPInterval = 5 * time.Second
	}

	s := &Session{
		cfg:     cfg,
		log:     cfg.Log.With("call_id", cfg.Dialog.CallID),
		control: make(chan controlEvent, 64),
		media:   make(chan mediaEvent, 64),
		done:    make(chan struct{}),
		txKey:   cfg.Dialog.CallID,
	}

	s.sess = fsm.NewFSM(SessInitial, fsm.Events{
		{Name: "ring", Src: []string{SessInitial}, Dst: SessRinging},
		{Name: "answer", Src: []string{SessInitial, SessRinging}, Dst: SessEstablished},
		{Name: "transfer", Src: []string{SessEstablished}, Dst: SessTransferring},
		{Name: "bridge", Src: []string{SessTransferring}, Dst: SessBridged},
		{Name: "unbridge", Src: []string{SessBridged}, Dst: SessEstablished},
		{Name: "terminate", Src: []string{SessInitial, SessRinging, SessEstablished, SessTransferring, SessBridged}, Dst: SessTerminating},
		{Name: "terminated", Src: []string{SessTerminating}, Dst: SessTerminated},
	}, nil)

	s.ivr = fsm.NewFSM(IvrIdle, fsm.Events{
		{Name: "intro", Src: []string{IvrIdle}, Dst: IvrPlayingIntro},
		{Name: "menu_wait", Src: []string{IvrPlayingIntro, IvrMenuWaiting}, Dst: IvrMenuWaiting},
		{Name: "voicebot", Src: []string{IvrIdle, IvrPlayingIntro, IvrMenuWaiting}, Dst: IvrVoicebot},
		{Name: "announcement", Src: []string{IvrIdle, IvrPlayingIntro}, Dst: IvrAnnouncement},
		{Name: "voicemail", Src: []string{IvrIdle, IvrPlayingIntro, IvrMenuWaiting, IvrVoicebot}, Dst: IvrVoicemail},
		{Name: "bridged", Src: []string{IvrIdle, IvrPlayingIntro, IvrMenuWaiting, IvrVoicebot}, Dst: IvrB2buaMode},
		{Name: "unbridged", Src: []string{IvrB2buaMode}, Dst: IvrIdle},
	}, nil)

	return s
}

// Post delivers a control event from outside the actor (SIP callbacks,
// app commands). Never blocks indefinitely: the control channel is
// bounded but sized generously (64) per spec.md §4.5.
func (s *Session) Post(kind string, data interface{}) {
	select {
	case s.control <- controlEvent{kind: kind, data: data}:
	case <-s.done:
	}
}

// DeliverAudio implements rtp.Sink, feeding inbound RTP frames onto
// the drop-on-full media channel.
func (s *Session) DeliverAudio(callID string, pt uint8, frame []byte) {
	fromB := callID != s.cfg.Dialog.CallID
	select {
	case s.media <- mediaEvent{kind: "audio", frame: frame, fromB: fromB}:
	default:
		// media channel is drop-on-full per spec.md §4.5
	}
}

// DeliverDTMF implements rtp.Sink.
func (s *Session) DeliverDTMF(callID string, digit rune) {
	select {
	case s.media <- mediaEvent{kind: "dtmf", digit: digit}:
	default:
	}
}

// Done returns a channel closed once the session has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.done }
