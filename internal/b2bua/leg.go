// Package b2bua implements the outbound/transfer B-leg engine of
// spec.md §4.4: given an established A-leg, originate a second SIP
// dialog to a PSTN number or preconfigured transfer target, bridge the
// media once both legs answer, and tear down either leg cleanly.
// Grounded on internal/signaling/b2bua/{state,leg,originator}.go, with
// the old package's mediaclient gRPC calls replaced by internal/rtp's
// local RTP tables and the old internal/signaling/dialog.Dialog
// replaced by this package's own lightweight UAC dialog bookkeeping
// (the B-leg is a dialog we originate, not one sipgo hands us as a
// server transaction, so it does not fit internal/sip.Dialog's shape).
package b2bua

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// Leg is one side of a bridged call the B2BUA engine originated. A-legs
// are represented by internal/sip.Dialog inside internal/session; Leg
// here is always the B-leg this package owns end to end.
type Leg interface {
	ID() string
	CallID() string
	Direction() LegDirection
	State() LegState
	TerminationCause() TerminationCause

	WaitForState(ctx context.Context, state LegState) error

	Info() LegInfo

	Hangup(ctx context.Context) error
	Destroy()

	OnStateChange(fn func(old, new LegState))
	OnTerminated(fn func(cause TerminationCause))

	RemoteRTPAddr() (host string, port int, ok bool)
}

// LegInfo is a point-in-time snapshot of a leg, safe to copy and log.
type LegInfo struct {
	ID          string
	CallID      string
	Direction   LegDirection
	State       LegState
	Cause       TerminationCause
	CreatedAt   time.Time
	RingStartAt time.Time
	AnsweredAt  time.Time
	DestroyedAt time.Time
	RemoteHost  string
	RemotePort  int
	LocalRTPKey string
}

func (i LegInfo) Duration() time.Duration {
	if i.DestroyedAt.IsZero() {
		return time.Since(i.CreatedAt)
	}
	return i.DestroyedAt.Sub(i.CreatedAt)
}

func (i LegInfo) RingDuration() time.Duration {
	if i.RingStartAt.IsZero() {
		return 0
	}
	end := i.AnsweredAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(i.RingStartAt)
}

func (i LegInfo) TalkDuration() time.Duration {
	if i.AnsweredAt.IsZero() {
		return 0
	}
	end := i.DestroyedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(i.AnsweredAt)
}

// legImpl is the concrete B-leg: a UAC dialog this package originated
// with sipgo's plain sip.Client (not sipgo.DialogUA), keeping the
// remote Contact/To/tag it needs to rebuild ACK and BYE requests. No
// route set is stored: the peer's Record-Route headers are not recorded.
type legImpl struct {
	mu sync.RWMutex

	id        string
	callID    string
	direction LegDirection
	state     LegState
	cause     TerminationCause

	info LegInfo

	localTag          string
	remoteTag         string
	localCSeq         uint32
	remoteContactURI  string
	remoteToURI       string
	remoteHost        string
	remotePort        int

	localRTPKey string

	inviteReq  *sip.Request
	inviteResp *sip.Response

	ctx    context.Context
	cancel context.CancelFunc

	onStateChange func(old, new LegState)
	onTerminated  func(cause TerminationCause)

	teardown func(ctx context.Context) error
}

// LegOption configures a newly created leg.
type LegOption func(*legImpl)

func WithTeardownHandler(fn func(ctx context.Context) error) LegOption {
	return func(l *legImpl) { l.teardown = fn }
}

// NewOutboundLeg creates a B-leg before the INVITE has been sent;
// Originator.Originate fills in the rest of the fields as responses
// arrive.
func NewOutboundLeg(localRTPKey string, opts ...LegOption) *legImpl {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	l := &legImpl{
		id:          uuid.NewString(),
		direction:   LegDirectionOutbound,
		state:       LegStateCreated,
		localRTPKey: localRTPKey,
		localCSeq:   1,
		ctx:         ctx,
		cancel:      cancel,
		info:        LegInfo{Direction: LegDirectionOutbound, CreatedAt: now},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *legImpl) ID() string             { return l.id }
func (l *legImpl) CallID() string         { l.mu.RLock(); defer l.mu.RUnlock(); return l.callID }
func (l *legImpl) Direction() LegDirection { return l.direction }

func (l *legImpl) State() LegState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *legImpl) TerminationCause() TerminationCause {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cause
}

func (l *legImpl) Info() LegInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info := l.info
	info.ID = l.id
	info.CallID = l.callID
	info.State = l.state
	info.Cause = l.cause
	info.RemoteHost = l.remoteHost
	info.RemotePort = l.remotePort
	info.LocalRTPKey = l.localRTPKey
	return info
}

func (l *legImpl) RemoteRTPAddr() (string, int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.remoteHost == "" {
		return "", 0, false
	}
	return l.remoteHost, l.remotePort, true
}

func (l *legImpl) setCallID(id string) {
	l.mu.Lock()
	l.callID = id
	l.mu.Unlock()
}

func (l *legImpl) setRemoteMedia(host string, port int) {
	l.mu.Lock()
	l.remoteHost, l.remotePort = host, port
	l.mu.Unlock()
}

func (l *legImpl) setInviteResult(req *sip.Request, resp *sip.Response, remoteTag, remoteContactURI, remoteToURI string) {
	l.mu.Lock()
	l.inviteReq = req
	l.inviteResp = resp
	l.remoteTag = remoteTag
	l.remoteContactURI = remoteContactURI
	l.remoteToURI = remoteToURI
	l.mu.Unlock()
}

func (l *legImpl) nextCSeq() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.localCSeq++
	return l.localCSeq
}

// TransitionTo moves the leg to a new state, stamping the
// ring/answer/destroy timestamps spec.md §4.4's duration bookkeeping
// needs, and notifying OnStateChange/OnTerminated callbacks.
func (l *legImpl) TransitionTo(newState LegState) {
	l.mu.Lock()
	old := l.state
	l.state = newState
	now := time.Now()
	switch newState {
	case LegStateRinging, LegStateEarlyMedia:
		if l.info.RingStartAt.IsZero() {
			l.info.RingStartAt = now
		}
	case LegStateAnswered:
		l.info.AnsweredAt = now
	case LegStateDestroyed, LegStateFailed:
		l.info.DestroyedAt = now
	}
	cb := l.onStateChange
	termCb := l.onTerminated
	cause := l.cause
	terminal := newState.IsTerminal()
	l.mu.Unlock()

	if cb != nil && old != newState {
		cb(old, newState)
	}
	if terminal {
		l.cancel()
		if termCb != nil {
			termCb(cause)
		}
	}
}

func (l *legImpl) setTerminationCause(c TerminationCause) {
	l.mu.Lock()
	l.cause = c
	l.mu.Unlock()
}

func (l *legImpl) OnStateChange(fn func(old, new LegState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStateChange = fn
}

func (l *legImpl) OnTerminated(fn func(cause TerminationCause)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTerminated = fn
}

func (l *legImpl) WaitForState(ctx context.Context, target LegState) error {
	for {
		if l.State() == target {
			return nil
		}
		if l.State().IsTerminal() && target != l.State() {
			return fmt.Errorf("b2bua: leg %s reached terminal state %s waiting for %s", l.id, l.State(), target)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.ctx.Done():
			return fmt.Errorf("b2bua: leg %s destroyed waiting for %s", l.id, target)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Hangup sends BYE on an answered leg (delegated to the Originator via
// the teardown handler, since building the BYE needs the route set and
// client this leg itself does not hold a reference to).
func (l *legImpl) Hangup(ctx context.Context) error {
	if l.State() != LegStateAnswered {
		l.TransitionTo(LegStateDestroyed)
		return nil
	}
	if l.teardown == nil {
		l.TransitionTo(LegStateDestroyed)
		return nil
	}
	err := l.teardown(ctx)
	l.setTerminationCause(TerminationCauseNormal)
	l.TransitionTo(LegStateDestroyed)
	return err
}

func (l *legImpl) Destroy() {
	if !l.State().IsTerminal() {
		l.TransitionTo(LegStateDestroyed)
	}
	l.cancel()
}
