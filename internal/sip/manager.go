package sip

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebacius/switchboard/internal/store"
)

const (
	ActiveDialogTTL     = 4 * time.Hour
	TerminatedDialogTTL = 32 * time.Second // RFC 3261 Timer B
	DialogCleanupInterval = 10 * time.Second

	// DefaultMinSE is the floor this UAS enforces for Min-SE (RFC 4028);
	// an offer below it is rejected with 422 carrying our Min-SE.
	DefaultMinSE = 90
)

// Manager is the central per-process registry of active dialogs, the
// SIP-side counterpart to the session coordinator's per-call actor.
type Manager struct {
	mu sync.RWMutex

	dialogs *store.TTLStore[string, *Dialog]

	sipClient *sipgo.Client
	dialogUA  *sipgo.DialogUA

	ackTimeout    time.Duration
	cancelTimeout time.Duration

	log *slog.Logger

	onTerminated func(d *Dialog)
}

func NewManager(log *slog.Logger, client *sipgo.Client, dialogUA *sipgo.DialogUA) *Manager {
	m := &Manager{
		dialogs:       store.NewTTLStore[string, *Dialog](DialogCleanupInterval),
		sipClient:     client,
		dialogUA:      dialogUA,
		ackTimeout:    32 * time.Second,
		cancelTimeout: 5 * time.Second,
		log:           log,
	}
	m.dialogs.SetOnEvict(func(callID string, d *Dialog) {
		m.log.Debug("dialog evicted from cache", "call_id", callID, "state", d.GetState())
	})
	return m
}

func (m *Manager) SetOnTerminated(fn func(d *Dialog)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTerminated = fn
}

// CreateFromInvite creates a new dialog from an incoming INVITE,
// recording whether the caller requested 100rel (Supported or Require
// header carrying "100rel", RFC 3262 §3).
func (m *Manager) CreateFromInvite(req *sip.Request) (*Dialog, error) {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}
	if callID == "" {
		return nil, fmt.Errorf("sip: INVITE missing Call-ID")
	}

	if existing, exists := m.dialogs.Get(callID); exists {
		if existing.GetState() != StateTerminated {
			m.log.Warn("duplicate INVITE received", "call_id", callID, "state", existing.GetState())
			return existing, nil
		}
	}

	dlg := NewDialog(req, nil)
	dlg.Require100rel = has100rel(req)
	if host, port, ok := ParseAudioConnection(req.Body()); ok {
		dlg.SetMediaEndpoint(host, port, "PCMU")
	}
	m.dialogs.Set(callID, dlg, ActiveDialogTTL)

	m.log.Info("dialog created", "call_id", callID, "100rel", dlg.Require100rel)
	return dlg, nil
}

// AttachTransaction binds the server transaction to a dialog once the
// transaction layer has started it (kept separate from
// CreateFromInvite so the 100rel check can run before any response is
// sent).
func (m *Manager) AttachTransaction(d *Dialog, tx sip.ServerTransaction) {
	d.mu.Lock()
	d.Transaction = tx
	d.mu.Unlock()
}

func has100rel(req *sip.Request) bool {
	for _, hdr := range req.GetHeaders("Supported") {
		if containsToken(hdr.Value(), "100rel") {
			return true
		}
	}
	for _, hdr := range req.GetHeaders("Require") {
		if containsToken(hdr.Value(), "100rel") {
			return true
		}
	}
	return false
}

func containsToken(header, token string) bool {
	for _, f := range splitCSV(header) {
		if f == token {
			return true
		}
	}
	return false
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			field := trimSpace(s[start:i])
			if field != "" {
				out = append(out, field)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

// SendTrying sends 100 Trying (never sent reliably, RFC 3262 §3).
func (m *Manager) SendTrying(d *Dialog) error {
	trying := sip.NewResponseFromRequest(d.InviteRequest, sip.StatusTrying, "Trying", nil)
	if err := d.Transaction.Respond(trying); err != nil {
		return fmt.Errorf("sip: send 100 Trying: %w", err)
	}
	if err := d.TransitionTo(StateEarly); err != nil {
		m.log.Warn("state transition failed", "call_id", d.CallID, "error", err)
	}
	return nil
}

// SendProgress sends 183 Session Progress with early-media SDP. When
// the dialog requires 100rel, the response carries RSeq/Require and is
// retransmitted (T1 doubling, capped at 4s, RFC 3262 §3) until the
// matching PRACK arrives or ctx is cancelled.
func (m *Manager) SendProgress(ctx context.Context, d *Dialog, sdpBody []byte) error {
	progress := sip.NewResponseFromRequest(d.InviteRequest, 183, "Session Progress", sdpBody)
	ct := sip.ContentTypeHeader("application/sdp")
	progress.AppendHeader(&ct)

	if !d.Require100rel {
		return d.Transaction.Respond(progress)
	}

	rseq, ok := d.NextRSeq()
	if !ok {
		return d.Transaction.Respond(progress)
	}
	progress.AppendHeader(sip.NewHeader("RSeq", strconv.FormatUint(uint64(rseq), 10)))
	progress.AppendHeader(sip.NewHeader("Require", "100rel"))

	return m.sendReliably(ctx, d, progress)
}

// sendReliably retransmits resp at T1=500ms doubling (capped 4s) until
// WaitForPrack unblocks or the 32s dialog timeout elapses, per RFC 3262
// §3's reuse of the INVITE server transaction's Timer A/B cadence.
func (m *Manager) sendReliably(ctx context.Context, d *Dialog, resp *sip.Response) error {
	if err := d.Transaction.Respond(resp); err != nil {
		return err
	}

	ackCtx, cancel := context.WithTimeout(ctx, TerminatedDialogTTL)
	defer cancel()

	delay := 500 * time.Millisecond
	const cap = 4 * time.Second
	for {
		select {
		case <-ackCtx.Done():
			return fmt.Errorf("sip: PRACK timeout for call %s", d.CallID)
		case <-time.After(delay):
			if err := d.Transaction.Respond(resp); err != nil {
				return err
			}
			delay *= 2
			if delay > cap {
				delay = cap
			}
		case <-waitChan(d, ackCtx):
			return nil
		}
	}
}

func waitChan(d *Dialog, ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		if d.WaitForPrack(ctx) == nil {
			close(ch)
		}
	}()
	return ch
}

// HandlePRACK processes an incoming PRACK, matching its RAck against
// the dialog's pending reliable provisional.
func (m *Manager) HandlePRACK(req *sip.Request, tx sip.ServerTransaction) error {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}
	d, exists := m.Get(callID)
	if !exists {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		return tx.Respond(resp)
	}

	rackHdr := req.GetHeader("RAck")
	var rseq uint32
	if rackHdr != nil {
		fmt.Sscanf(rackHdr.Value(), "%d", &rseq)
	}
	d.OnPrack(rseq)

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	return tx.Respond(resp)
}

// NegotiateSessionExpires resolves an offered Session-Expires/Min-SE
// pair against DefaultMinSE, per RFC 4028 §3: if the offer's interval
// is below our floor, the caller responds 422 with our Min-SE and does
// not create the dialog's timer state.
func NegotiateSessionExpires(offered, minSE int) (accepted int, refresher SessionTimerRefresher, tooSmall bool) {
	if offered == 0 {
		offered = 1800 // RFC 4028 default when absent
	}
	if offered < DefaultMinSE || (minSE != 0 && offered < minSE) {
		return 0, RefresherUnset, true
	}
	return offered, RefresherUAC, false
}

// SendOK sends 200 OK with SDP, creating the sipgo dialog session, and
// records the negotiated session timer's baseline.
func (m *Manager) SendOK(d *Dialog, sdpBody []byte) error {
	session, err := m.dialogUA.ReadInvite(d.InviteRequest, d.Transaction)
	if err != nil {
		return fmt.Errorf("sip: create dialog session: %w", err)
	}
	d.SetSession(session)

	if d.SessionExpires > 0 {
		se := fmt.Sprintf("%d;refresher=%s", d.SessionExpires, d.Refresher)
		session.InviteResponse.AppendHeader(sip.NewHeader("Session-Expires", se))
	}

	if err := session.RespondSDP(sdpBody); err != nil {
		_ = session.Close()
		return fmt.Errorf("sip: send 200 OK: %w", err)
	}
	d.SetInviteResponse(session.InviteResponse)

	if err := d.TransitionTo(StateWaitingACK); err != nil {
		m.log.Warn("state transition failed", "call_id", d.CallID, "error", err)
	}
	d.RefreshSessionTimer()

	go m.watchACKTimeout(d)
	return nil
}

// ConfirmWithACK confirms the dialog when its ACK arrives.
func (m *Manager) ConfirmWithACK(req *sip.Request, tx sip.ServerTransaction) error {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}
	d, exists := m.Get(callID)
	if !exists {
		return fmt.Errorf("sip: ACK for unknown dialog %s", callID)
	}

	state := d.GetState()
	if state != StateWaitingACK {
		if state == StateConfirmed {
			return nil // retransmission
		}
		return fmt.Errorf("sip: ACK in unexpected state %s", state)
	}

	if d.Session != nil {
		if err := d.Session.ReadAck(req, tx); err != nil {
			m.log.Warn("failed to read ACK", "call_id", callID, "error", err)
		}
	}
	if err := d.TransitionTo(StateConfirmed); err != nil {
		return fmt.Errorf("sip: transition to Confirmed: %w", err)
	}
	return nil
}

// HandleIncomingBYE processes a BYE from the remote party.
func (m *Manager) HandleIncomingBYE(req *sip.Request, tx sip.ServerTransaction) error {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}
	d, exists := m.Get(callID)
	if !exists {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		_ = tx.Respond(resp)
		return fmt.Errorf("sip: dialog not found for BYE: %s", callID)
	}

	if d.Session != nil {
		if err := d.Session.ReadBye(req, tx); err != nil {
			m.log.Warn("failed to read BYE", "call_id", callID, "error", err)
		}
	} else {
		resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
		_ = tx.Respond(resp)
	}

	d.Cancel()
	m.terminate(d, ReasonRemoteBYE)
	return nil
}

// HandleIncomingCANCEL processes a CANCEL.
func (m *Manager) HandleIncomingCANCEL(req *sip.Request, tx sip.ServerTransaction) error {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}
	d, exists := m.Get(callID)
	if !exists {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		_ = tx.Respond(resp)
		return fmt.Errorf("sip: dialog not found for CANCEL: %s", callID)
	}

	state := d.GetState()
	if state != StateEarly && state != StateWaitingACK {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		_ = tx.Respond(resp)
		return nil
	}

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	_ = tx.Respond(resp)

	if d.Transaction != nil {
		terminated := sip.NewResponseFromRequest(d.InviteRequest, 487, "Request Terminated", nil)
		_ = d.Transaction.Respond(terminated)
	}

	d.Cancel()
	m.terminate(d, ReasonCancel)
	return nil
}

// Terminate ends a dialog, sending BYE first if it is confirmed and we
// are the one hanging up.
func (m *Manager) Terminate(callID string, reason TerminateReason) error {
	d, exists := m.Get(callID)
	if !exists {
		return fmt.Errorf("sip: dialog not found: %s", callID)
	}

	state := d.GetState()
	if state == StateTerminated {
		return nil
	}

	if state == StateConfirmed && reason == ReasonLocalBYE {
		if err := m.sendBYE(d); err != nil {
			m.log.Error("failed to send BYE", "call_id", callID, "error", err)
		}
	}

	d.Cancel()
	m.terminate(d, reason)
	return nil
}

func (m *Manager) sendBYE(d *Dialog) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if d.Session != nil && d.Direction == DirectionInbound {
		return d.Session.Bye(ctx)
	}
	return fmt.Errorf("sip: no session to send BYE on for call %s", d.CallID)
}

func (m *Manager) terminate(d *Dialog, reason TerminateReason) {
	d.mu.Lock()
	d.TerminateReason = reason
	d.mu.Unlock()
	_ = d.TransitionTo(StateTerminated)

	m.dialogs.SetWithExpiry(d.CallID, d, time.Now().Add(TerminatedDialogTTL))

	m.mu.RLock()
	cb := m.onTerminated
	m.mu.RUnlock()
	if cb != nil {
		cb(d)
	}
}

func (m *Manager) watchACKTimeout(d *Dialog) {
	timer := time.NewTimer(m.ackTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		if d.GetState() == StateWaitingACK {
			m.log.Warn("ACK timeout, terminating dialog", "call_id", d.CallID)
			d.Cancel()
			m.terminate(d, ReasonTimeout)
		}
	case <-d.Context().Done():
	}
}

func (m *Manager) Get(callID string) (*Dialog, bool) {
	return m.dialogs.Get(callID)
}

func (m *Manager) List() []*Dialog {
	all := m.dialogs.All()
	out := make([]*Dialog, 0, len(all))
	for _, d := range all {
		out = append(out, d)
	}
	return out
}

func (m *Manager) Count() int {
	return m.dialogs.Len()
}

func (m *Manager) Close() {
	m.dialogs.Close()
}
