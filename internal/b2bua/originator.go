package b2bua

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/icholy/digest"

	"github.com/sebacius/switchboard/internal/metrics"
	sipcore "github.com/sebacius/switchboard/internal/sip"
)

// OriginatorConfig carries the transport/contact details the
// Originator needs to build and send outbound INVITEs, independent of
// internal/sip.Transport's inbound-side config.
type OriginatorConfig struct {
	AdvertisedIP string
	ContactUser  string
	ContactPort  int
	Transport    string

	// InviteTimeout bounds how long Originate waits for a final
	// response, spec.md §4.4's "per-call timeout (configurable,
	// default 30s)".
	InviteTimeout time.Duration
}

// OriginateRequest describes the B-leg to create, for either the
// transfer mode (A-leg already up, bridge in a preconfigured URI) or
// the outbound mode (PSTN number resolved by dial plan) of spec.md
// §4.4.
type OriginateRequest struct {
	TargetURI    string // sip:user@host:port, fully resolved by the caller
	CallerID     string
	CallerName   string
	LocalRTPKey  string
	LocalRTPHost string
	LocalRTPPort int
	AuthUser     string
	AuthPassword string
}

// OriginateResult is returned once Originate has sent the INVITE; the
// caller keeps watching the returned Leg for state transitions as
// provisional/final responses arrive asynchronously.
type OriginateResult struct {
	Leg Leg
}

// challengeCacheEntry mirrors spec.md §4.4's "cache the challenge
// keyed by header type for reuse across calls" rule.
type challengeCacheEntry struct {
	challenge *digest.Challenge
}

// Originator drives outbound B-leg INVITEs with sipgo's plain
// sip.Client (not DialogUA) and builds the ACK itself, the same way
// the teacher's Originator.sendACK does: its Request-URI is the
// response's Contact and it is sent to the address the response came
// from. Record-Route is not read and no route set is kept. Grounded on
// internal/signaling/b2bua/originator.go's
// Originate/buildINVITE/executeINVITE/sendACK/sendCANCEL/SendBYE.
type Originator struct {
	cfg    OriginatorConfig
	ua     *sipgo.UserAgent
	client *sipgo.Client
	log    *slog.Logger

	mu   sync.Mutex
	legs map[string]*legImpl // by leg ID

	chMu  sync.Mutex
	cache map[string]challengeCacheEntry // "www"/"proxy" -> last challenge
}

func NewOriginator(log *slog.Logger, ua *sipgo.UserAgent, client *sipgo.Client, cfg OriginatorConfig) *Originator {
	if cfg.InviteTimeout <= 0 {
		cfg.InviteTimeout = 30 * time.Second
	}
	return &Originator{
		cfg:    cfg,
		ua:     ua,
		client: client,
		log:    log,
		legs:   make(map[string]*legImpl),
		cache:  make(map[string]challengeCacheEntry),
	}
}

// Originate allocates a B-leg and starts the INVITE state machine in
// the background; the caller watches the returned Leg via
// OnStateChange/OnTerminated rather than blocking on the whole call.
func (o *Originator) Originate(ctx context.Context, req OriginateRequest) (*OriginateResult, error) {
	var requestURI sip.Uri
	if err := sip.ParseUri(req.TargetURI, &requestURI); err != nil {
		return nil, fmt.Errorf("b2bua: invalid target uri %q: %w", req.TargetURI, err)
	}

	var leg *legImpl
	leg = NewOutboundLeg(req.LocalRTPKey, WithTeardownHandler(func(ctx context.Context) error {
		return o.sendBYE(ctx, leg)
	}))
	leg.setCallID(uuid.NewString())

	o.mu.Lock()
	o.legs[leg.id] = leg
	o.mu.Unlock()

	metrics.B2BUA.Attempts.Inc()
	go o.executeINVITE(ctx, leg, req)

	return &OriginateResult{Leg: leg}, nil
}

func (o *Originator) buildINVITE(leg *legImpl, req OriginateRequest, cseq uint32) (*sip.Request, error) {
	var requestURI sip.Uri
	if err := sip.ParseUri(req.TargetURI, &requestURI); err != nil {
		return nil, fmt.Errorf("b2bua: parse target uri %q: %w", req.TargetURI, err)
	}

	invite := sip.NewRequest(sip.INVITE, requestURI)
	invite.SetTransport(strings.ToUpper(o.cfg.Transport))

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	localTag := leg.localTag
	if localTag == "" {
		localTag = uuid.NewString()[:8]
	}
	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	fromURI := sip.Uri{Scheme: "sip", User: req.CallerID, Host: o.cfg.AdvertisedIP, Port: o.cfg.ContactPort}
	invite.AppendHeader(&sip.FromHeader{DisplayName: req.CallerName, Address: fromURI, Params: fromParams})

	invite.AppendHeader(&sip.ToHeader{Address: requestURI, Params: sip.NewParams()})

	callIDHdr := sip.CallIDHeader(leg.callID)
	invite.AppendHeader(&callIDHdr)

	invite.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.INVITE})

	contactURI := sip.Uri{Scheme: "sip", User: o.cfg.ContactUser, Host: o.cfg.AdvertisedIP, Port: o.cfg.ContactPort}
	invite.AppendHeader(&sip.ContactHeader{Address: contactURI})

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody([]byte(buildSDPOffer(req.LocalRTPHost, req.LocalRTPPort)))

	leg.mu.Lock()
	leg.localTag = localTag
	leg.mu.Unlock()

	return invite, nil
}

// buildSDPOffer produces the PCMU-only SDP body spec.md §4.1 and
// §4.4 describe for every B-leg offer.
func buildSDPOffer(host string, port int) string {
	return string(sipcore.BuildAudioOffer(time.Now().UnixNano()/1000, host, port))
}

// executeINVITE runs the full outbound INVITE state machine of
// spec.md §4.4: provisional tracking, up to two digest auth retries
// with challenge-cache reuse, and the final 2xx ACK handling.
func (o *Originator) executeINVITE(ctx context.Context, leg *legImpl, req OriginateRequest) {
	timeoutCtx, cancel := context.WithTimeout(ctx, o.cfg.InviteTimeout)
	defer cancel()

	cseq := uint32(1)
	attempts := 0
	var authChal *digest.Challenge
	authHeader := ""

	for {
		attempts++
		invite, err := o.buildINVITE(leg, req, cseq)
		if err != nil {
			o.fail(leg, TerminationCauseError)
			return
		}

		if authChal != nil {
			o.attachAuth(invite, authChal, authHeader, req)
		} else if attempts == 1 {
			if entry, ok := o.cachedChallenge("www"); ok {
				o.attachAuth(invite, entry.challenge, "Authorization", req)
			}
		}

		tx, err := o.client.TransactionRequest(timeoutCtx, invite)
		if err != nil {
			o.fail(leg, TerminationCauseError)
			return
		}

		resp, terminal, err := o.collectResponses(timeoutCtx, leg, tx)
		tx.Terminate()
		if err != nil {
			o.fail(leg, TerminationCauseTimeout)
			return
		}
		if !terminal {
			continue
		}

		switch {
		case resp.StatusCode == 401 || resp.StatusCode == 407:
			if attempts > 2 {
				o.sendACK(leg, resp, invite)
				o.fail(leg, TerminationCauseRejected)
				return
			}
			headerName, cacheKey, authzName := "WWW-Authenticate", "www", "Authorization"
			if resp.StatusCode == 407 {
				headerName, cacheKey, authzName = "Proxy-Authenticate", "proxy", "Proxy-Authorization"
			}
			hdr := resp.GetHeader(headerName)
			if hdr == nil {
				o.sendACK(leg, resp, invite)
				o.fail(leg, TerminationCauseRejected)
				return
			}
			chal, err := digest.ParseChallenge(hdr.Value())
			if err != nil {
				o.sendACK(leg, resp, invite)
				o.fail(leg, TerminationCauseRejected)
				return
			}
			o.cacheChallenge(cacheKey, chal)
			authChal, authHeader = chal, authzName
			o.sendACK(leg, resp, invite)
			cseq++
			continue

		case resp.StatusCode >= 300:
			o.sendACK(leg, resp, invite)
			cause := TerminationCauseRejected
			if resp.StatusCode == 487 {
				cause = TerminationCauseCancel
			}
			o.fail(leg, cause)
			return

		default: // 2xx
			o.handle2xx(leg, invite, resp)
			return
		}
	}
}

// collectResponses reads provisional and final responses off tx,
// updating the leg's state as 180/183(+SDP) arrive, per spec.md
// §4.4's "outbound path translates 180 into Ringing and 183+SDP into
// EarlyMedia" rule. It returns once a final (>=200) response arrives.
func (o *Originator) collectResponses(ctx context.Context, leg *legImpl, tx sip.ClientTransaction) (*sip.Response, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-tx.Done():
			return nil, false, fmt.Errorf("b2bua: transaction terminated: %w", tx.Err())
		case resp := <-tx.Responses():
			if resp.StatusCode < 200 {
				switch resp.StatusCode {
				case 180:
					leg.TransitionTo(LegStateRinging)
				case 183:
					if len(resp.Body()) > 0 {
						if host, port, ok := sipcore.ParseAudioConnection(resp.Body()); ok {
							leg.setRemoteMedia(host, port)
						}
						leg.TransitionTo(LegStateEarlyMedia)
					}
				}
				continue
			}
			return resp, true, nil
		}
	}
}

func (o *Originator) handle2xx(leg *legImpl, invite *sip.Request, resp *sip.Response) {
	toHdr := resp.To()
	remoteTag := ""
	remoteToURI := ""
	if toHdr != nil {
		if tag, ok := toHdr.Params.Get("tag"); ok {
			remoteTag = tag
		}
		remoteToURI = toHdr.Address.String()
	}

	remoteContactURI := invite.Recipient.String()
	if contact := resp.Contact(); contact != nil {
		remoteContactURI = contact.Address.String()
	}

	leg.setInviteResult(invite, resp, remoteTag, remoteContactURI, remoteToURI)

	if host, port, ok := sipcore.ParseAudioConnection(resp.Body()); ok {
		leg.setRemoteMedia(host, port)
	}

	if err := o.sendACK(leg, resp, invite); err != nil {
		o.log.Error("b2bua: failed to send 2xx ACK", "call_id", leg.callID, "error", err)
	}

	leg.TransitionTo(LegStateAnswered)
	metrics.B2BUA.Answered.Inc()
}

// sendACK sends the ACK for any final response, 2xx or otherwise, per
// RFC 3261 §13.2.2.4/§17.1.1.3: a 2xx ACK is a new request sent
// directly to the response's Contact, outside the INVITE transaction.
func (o *Originator) sendACK(leg *legImpl, resp *sip.Response, invite *sip.Request) error {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, requestURI)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)

	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	} else if to := invite.To(); to != nil {
		ack.AppendHeader(to)
	}

	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}

	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	destAddr := resp.Source()
	if destAddr == "" {
		port := requestURI.Port
		if port == 0 {
			port = 5060
		}
		destAddr = fmt.Sprintf("%s:%d", requestURI.Host, port)
	}
	ack.SetDestination(destAddr)

	done := make(chan error, 1)
	go func() { done <- o.client.WriteRequest(ack) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("b2bua: ACK write timed out")
	}
}

func (o *Originator) sendBYE(ctx context.Context, leg *legImpl) error {
	leg.mu.RLock()
	invite := leg.inviteReq
	remoteContactURI := leg.remoteContactURI
	remoteToURI := leg.remoteToURI
	remoteTag := leg.remoteTag
	leg.mu.RUnlock()
	if invite == nil || remoteContactURI == "" {
		return nil
	}

	var requestURI sip.Uri
	if err := sip.ParseUri(remoteContactURI, &requestURI); err != nil {
		return fmt.Errorf("b2bua: parse remote contact uri: %w", err)
	}

	bye := sip.NewRequest(sip.BYE, requestURI)
	sip.CopyHeaders("From", invite, bye)
	sip.CopyHeaders("Call-ID", invite, bye)

	var toURI sip.Uri
	if remoteToURI != "" {
		if err := sip.ParseUri(remoteToURI, &toURI); err != nil {
			toURI = requestURI
		}
	} else {
		toURI = requestURI
	}
	toParams := sip.NewParams()
	if remoteTag != "" {
		toParams.Add("tag", remoteTag)
	}
	bye.AppendHeader(&sip.ToHeader{Address: toURI, Params: toParams})
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: leg.nextCSeq(), MethodName: sip.BYE})

	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	tx, err := o.client.TransactionRequest(ctx, bye)
	if err != nil {
		return fmt.Errorf("b2bua: send BYE: %w", err)
	}
	defer tx.Terminate()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tx.Done():
		return tx.Err()
	case <-tx.Responses():
		return nil
	}
}

// SendCANCEL aborts a not-yet-answered B-leg, per spec.md §4.4's
// cancellation rule: if asserted after a provisional, emit CANCEL
// immediately; if already answered, hang up the bridged dialog
// instead.
func (o *Originator) SendCANCEL(ctx context.Context, leg *legImpl, invite *sip.Request) error {
	if leg.State() == LegStateAnswered {
		return leg.Hangup(ctx)
	}
	if invite != nil {
		cancelReq := sip.NewRequest(sip.CANCEL, invite.Recipient)
		sip.CopyHeaders("Via", invite, cancelReq)
		sip.CopyHeaders("From", invite, cancelReq)
		sip.CopyHeaders("To", invite, cancelReq)
		sip.CopyHeaders("Call-ID", invite, cancelReq)
		if cseq := invite.CSeq(); cseq != nil {
			cancelReq.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
		}
		maxFwd := sip.MaxForwardsHeader(70)
		cancelReq.AppendHeader(&maxFwd)

		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if tx, err := o.client.TransactionRequest(cctx, cancelReq); err == nil {
			defer tx.Terminate()
			select {
			case <-tx.Responses():
			case <-cctx.Done():
			}
		}
	}
	leg.setTerminationCause(TerminationCauseCancel)
	leg.TransitionTo(LegStateFailed)
	return nil
}

func (o *Originator) fail(leg *legImpl, cause TerminationCause) {
	leg.setTerminationCause(cause)
	leg.TransitionTo(LegStateFailed)
	metrics.B2BUA.Failed.WithLabelValues(cause.String()).Inc()
}

func (o *Originator) attachAuth(req *sip.Request, chal *digest.Challenge, headerName string, oreq OriginateRequest) {
	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: oreq.AuthUser,
		Password: oreq.AuthPassword,
	})
	if err != nil {
		return
	}
	req.AppendHeader(sip.NewHeader(headerName, cred.String()))
}

func (o *Originator) cacheChallenge(kind string, chal *digest.Challenge) {
	o.chMu.Lock()
	defer o.chMu.Unlock()
	o.cache[kind] = challengeCacheEntry{challenge: chal}
}

func (o *Originator) cachedChallenge(kind string) (challengeCacheEntry, bool) {
	o.chMu.Lock()
	defer o.chMu.Unlock()
	e, ok := o.cache[kind]
	return e, ok
}

// GetLeg returns a tracked B-leg by its leg ID.
func (o *Originator) GetLeg(legID string) (Leg, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.legs[legID]
	return l, ok
}

// GetLegByCallID returns a tracked B-leg by its SIP Call-ID.
func (o *Originator) GetLegByCallID(callID string) (Leg, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, l := range o.legs {
		if l.callID == callID {
			return l, true
		}
	}
	return nil, false
}

// Forget drops a terminated leg from the tracking table.
func (o *Originator) Forget(legID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.legs, legID)
}

