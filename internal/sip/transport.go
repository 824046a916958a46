package sip

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// InviteHandler is invoked for every initial INVITE once its Dialog has
// been created and 100 Trying sent, spec.md §4.2 step 1-2. It owns
// deciding the rest of the call (routing lookup, SDP answer, ringing,
// answer) via Manager and the media/session layers above this package.
type InviteHandler func(ctx context.Context, d *Dialog, req *sip.Request, tx sip.ServerTransaction)

// ReInviteHandler is invoked for a re-INVITE on an existing confirmed
// dialog (session refresh or mid-call renegotiation, RFC 4028/3261).
type ReInviteHandler func(ctx context.Context, d *Dialog, req *sip.Request, tx sip.ServerTransaction)

// Transport wires one sipgo UA/Server/Client triple to this package's
// Manager, and dispatches to caller-supplied handlers for the call
// flows above the plain UAS transaction layer. Grounded on
// internal/signaling/app/app.go's NewServer/Start/handle* shape,
// generalized so the B2BUA and session layers plug in as callbacks
// instead of this package importing them directly (avoiding the import
// cycle: session needs sip.Dialog, sip must not need session).
type Transport struct {
	log *slog.Logger

	UA     *sipgo.UserAgent
	Server *sipgo.Server
	Client *sipgo.Client

	Dialogs *Manager

	onInvite   InviteHandler
	onReInvite ReInviteHandler
}

// Config carries the transport-level parameters of spec.md §6.
type Config struct {
	BindAddr      string
	Port          int
	AdvertisedIP  string
	ContactUser   string
}

// NewTransport creates the sipgo UA/server/client triple and the
// dialog Manager, per spec.md §4.1's "one shared UDP/TCP listener
// services every dialog."
func NewTransport(log *slog.Logger, cfg Config) (*Transport, error) {
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("sip: create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("sip: create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("sip: create client: %w", err)
	}

	contact := sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   cfg.ContactUser,
			Host:   cfg.AdvertisedIP,
			Port:   cfg.Port,
		},
	}
	dialogUA := &sipgo.DialogUA{Client: client, ContactHDR: contact}

	dialogMgr := NewManager(log, client, dialogUA)

	t := &Transport{
		log:     log,
		UA:      ua,
		Server:  srv,
		Client:  client,
		Dialogs: dialogMgr,
	}

	srv.OnRequest(sip.INVITE, t.handleInvite)
	srv.OnRequest(sip.ACK, t.handleAck)
	srv.OnRequest(sip.BYE, t.handleBye)
	srv.OnRequest(sip.CANCEL, t.handleCancel)
	srv.OnRequest(sip.PRACK, t.handlePrack)

	return t, nil
}

// OnInvite registers the handler invoked for initial INVITEs.
func (t *Transport) OnInvite(h InviteHandler) { t.onInvite = h }

// OnReInvite registers the handler invoked for re-INVITEs on an
// already-confirmed dialog.
func (t *Transport) OnReInvite(h ReInviteHandler) { t.onReInvite = h }

// ListenAndServe starts the SIP listener; it blocks until ctx is done
// or the listener fails.
func (t *Transport) ListenAndServe(ctx context.Context, network, addr string) error {
	return t.Server.ListenAndServe(ctx, network, addr)
}

func (t *Transport) Close() error {
	t.Dialogs.Close()
	return t.UA.Close()
}

func (t *Transport) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}

	if existing, ok := t.Dialogs.Get(callID); ok && existing.GetState() == StateConfirmed {
		if t.onReInvite != nil {
			t.Dialogs.AttachTransaction(existing, tx)
			t.onReInvite(existing.Context(), existing, req, tx)
		}
		return
	}

	d, err := t.Dialogs.CreateFromInvite(req)
	if err != nil {
		t.log.Error("failed to create dialog from INVITE", "error", err)
		resp := sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Server Error", nil)
		_ = tx.Respond(resp)
		return
	}
	t.Dialogs.AttachTransaction(d, tx)

	if err := t.Dialogs.SendTrying(d); err != nil {
		t.log.Error("failed to send 100 Trying", "call_id", callID, "error", err)
		return
	}

	if t.onInvite != nil {
		t.onInvite(d.Context(), d, req, tx)
	}
}

func (t *Transport) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	if err := t.Dialogs.ConfirmWithACK(req, tx); err != nil {
		t.log.Debug("ACK handling", "error", err)
	}
}

func (t *Transport) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	if err := t.Dialogs.HandleIncomingBYE(req, tx); err != nil {
		t.log.Debug("BYE handling", "error", err)
	}
}

func (t *Transport) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	if err := t.Dialogs.HandleIncomingCANCEL(req, tx); err != nil {
		t.log.Debug("CANCEL handling", "error", err)
	}
}

func (t *Transport) handlePrack(req *sip.Request, tx sip.ServerTransaction) {
	if err := t.Dialogs.HandlePRACK(req, tx); err != nil {
		t.log.Debug("PRACK handling", "error", err)
	}
}
