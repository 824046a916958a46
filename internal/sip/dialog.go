package sip

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// DialogDirection indicates whether we initiated or received the dialog.
type DialogDirection int

const (
	DirectionInbound DialogDirection = iota
	DirectionOutbound
)

func (d DialogDirection) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}

// SessionTimerRefresher is who is responsible for refreshing the
// session per RFC 4028.
type SessionTimerRefresher int

const (
	RefresherUnset SessionTimerRefresher = iota
	RefresherUAC
	RefresherUAS
)

func (r SessionTimerRefresher) String() string {
	switch r {
	case RefresherUAC:
		return "uac"
	case RefresherUAS:
		return "uas"
	default:
		return ""
	}
}

// Dialog is a SIP dialog with full lifecycle tracking, extended from
// the plain RFC 3261 dialog with the RFC 3262 (100rel/PRACK) and
// RFC 4028 (session timer) bookkeeping spec.md §4.2 requires.
type Dialog struct {
	mu sync.RWMutex

	CallID    string
	LocalTag  string
	RemoteTag string

	Direction DialogDirection

	State          CallState
	CreatedAt      time.Time
	StateChangedAt time.Time

	Session     *sipgo.DialogServerSession
	Transaction sip.ServerTransaction

	InviteRequest  *sip.Request
	InviteResponse *sip.Response

	RemoteAddr string
	RemotePort int
	Codec      string

	RemoteContactURI string

	localCSeq atomic.Uint32

	reInviteInProgress atomic.Bool

	// 100rel/PRACK (RFC 3262). Require100rel is set when the INVITE's
	// Supported or Require header carries "100rel"; once set every
	// provisional response above 100 Trying is sent reliably with an
	// increasing RSeq and retransmitted (Timer T1 doubling) until the
	// matching PRACK arrives.
	Require100rel bool
	rseq          uint32
	pendingRSeq   uint32
	prackReceived chan struct{}

	// Session timers (RFC 4028).
	SessionExpires int // seconds
	MinSE          int // seconds
	Refresher      SessionTimerRefresher
	lastRefresh    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	TerminateReason TerminateReason
}

// NewDialog creates a dialog from an incoming INVITE request.
func NewDialog(req *sip.Request, tx sip.ServerTransaction) *Dialog {
	ctx, cancel := context.WithCancel(context.Background())

	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}

	remoteTag := ""
	if from := req.From(); from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			remoteTag = tag
		}
	}

	var initialCSeq uint32
	if cseq := req.CSeq(); cseq != nil {
		initialCSeq = cseq.SeqNo
	}

	now := time.Now()
	d := &Dialog{
		CallID:         callID,
		RemoteTag:      remoteTag,
		Direction:      DirectionInbound,
		State:          StateInitial,
		CreatedAt:      now,
		StateChangedAt: now,
		InviteRequest:  req,
		Transaction:    tx,
		ctx:            ctx,
		cancel:         cancel,
		rseq:           randomRSeq(),
		prackReceived:  make(chan struct{}, 1),
	}
	d.localCSeq.Store(initialCSeq)
	return d
}

// randomRSeq picks an initial RSeq in [1, 2^31-1] per RFC 3262 §7.1 so a
// dialog's RSeq space never collides with another dialog's after a
// restart, and leaves room to detect the overflow spec.md §9 calls out
// (a dialog that happens to start near the top of the range simply
// disables 100rel for its remaining lifetime once it would wrap).
func randomRSeq() uint32 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<31-2))
	if err != nil {
		return 1
	}
	return uint32(n.Int64()) + 1
}

// NextRSeq returns the next RSeq to use for a reliable provisional
// response, or ok=false if the sequence would overflow 2^31-1 — per
// spec.md §9, 100rel is disabled for the remainder of the dialog in
// that case rather than wrapping.
func (d *Dialog) NextRSeq() (rseq uint32, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rseq >= 1<<31-1 {
		d.Require100rel = false
		return 0, false
	}
	d.rseq++
	d.pendingRSeq = d.rseq
	return d.rseq, true
}

// OnPrack records that the PRACK acknowledging pendingRSeq arrived,
// releasing any retransmission loop waiting on WaitForPrack.
func (d *Dialog) OnPrack(rack uint32) bool {
	d.mu.Lock()
	matched := rack == d.pendingRSeq
	d.mu.Unlock()
	if matched {
		select {
		case d.prackReceived <- struct{}{}:
		default:
		}
	}
	return matched
}

// WaitForPrack blocks until the pending reliable provisional is
// acknowledged or ctx is done.
func (d *Dialog) WaitForPrack(ctx context.Context) error {
	select {
	case <-d.prackReceived:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NegotiateSessionTimer resolves the Session-Expires/Min-SE values for
// this dialog per RFC 4028: if the offered Session-Expires is below our
// Min-SE floor, the caller must reject with 422 before this is called
// (NegotiateSessionTimer only records an already-accepted value).
func (d *Dialog) NegotiateSessionTimer(sessionExpires, minSE int, refresher SessionTimerRefresher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SessionExpires = sessionExpires
	d.MinSE = minSE
	d.Refresher = refresher
	d.lastRefresh = time.Now()
}

// SessionTimerDeadline is when this dialog's session timer next
// requires a refresh (UPDATE or re-INVITE) to avoid expiring.
func (d *Dialog) SessionTimerDeadline() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.SessionExpires == 0 {
		return time.Time{}
	}
	return d.lastRefresh.Add(time.Duration(d.SessionExpires) * time.Second)
}

// RefreshSessionTimer records that a session refresh (UPDATE/re-INVITE)
// was just processed, resetting the deadline.
func (d *Dialog) RefreshSessionTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastRefresh = time.Now()
}

func (d *Dialog) SetSession(session *sipgo.DialogServerSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Session = session
}

func (d *Dialog) SetInviteResponse(resp *sip.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InviteResponse = resp
}

func (d *Dialog) SetRemoteEndpoint(addr string, port int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RemoteAddr = addr
	d.RemotePort = port
}

func (d *Dialog) SetMediaEndpoint(addr string, port int, codec string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RemoteAddr = addr
	d.RemotePort = port
	d.Codec = codec
}

func (d *Dialog) GetState() CallState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.State
}

func (d *Dialog) TransitionTo(newState CallState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.State.CanTransitionTo(newState) {
		return fmt.Errorf("sip: invalid transition %s -> %s for call %s", d.State, newState, d.CallID)
	}
	d.State = newState
	d.StateChangedAt = time.Now()
	if newState.IsTerminal() {
		d.cancel()
	}
	return nil
}

func (d *Dialog) Context() context.Context {
	return d.ctx
}

func (d *Dialog) Cancel() {
	d.cancel()
}

func (d *Dialog) IsTerminated() bool {
	return d.GetState().IsTerminal()
}

func (d *Dialog) IsReINVITEInProgress() bool {
	return d.reInviteInProgress.Load()
}
