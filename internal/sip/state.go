// Package sip implements the UAS transaction core of spec.md §4.2: one
// shared sipgo server handles both inbound INVITE dialogs and the
// non-INVITE requests (ACK, BYE, CANCEL, PRACK) that ride on them,
// plus RFC 3262 100rel/PRACK and RFC 4028 session timer negotiation
// that sipgo itself does not implement. No UPDATE handler is
// registered, so a session refresh sent as UPDATE is not processed.
// Grounded on
// internal/signaling/dialog/{dialog,manager,state}.go, generalized from
// the teacher's plain invite-server-transaction state machine to carry
// the extra per-dialog bookkeeping those RFCs require.
package sip

import "fmt"

// CallState is the lifecycle state of a SIP dialog (RFC 3261 §12).
type CallState int

const (
	StateInitial CallState = iota
	StateEarly
	StateWaitingACK
	StateConfirmed
	StateTerminating
	StateTerminated
)

func (s CallState) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateEarly:
		return "Early"
	case StateWaitingACK:
		return "WaitingACK"
	case StateConfirmed:
		return "Confirmed"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

var validTransitions = map[CallState][]CallState{
	StateInitial:     {StateEarly, StateTerminated},
	StateEarly:       {StateWaitingACK, StateTerminated},
	StateWaitingACK:  {StateConfirmed, StateTerminated},
	StateConfirmed:   {StateTerminating, StateTerminated},
	StateTerminating: {StateTerminated},
	StateTerminated:  {},
}

func (s CallState) CanTransitionTo(next CallState) bool {
	for _, state := range validTransitions[s] {
		if state == next {
			return true
		}
	}
	return false
}

func (s CallState) IsTerminal() bool {
	return s == StateTerminated
}

// TerminateReason explains why a dialog was terminated.
type TerminateReason int

const (
	ReasonLocalBYE TerminateReason = iota
	ReasonRemoteBYE
	ReasonCancel
	ReasonTimeout
	ReasonSessionExpired
	ReasonError
)

func (r TerminateReason) String() string {
	switch r {
	case ReasonLocalBYE:
		return "LocalBYE"
	case ReasonRemoteBYE:
		return "RemoteBYE"
	case ReasonCancel:
		return "Cancel"
	case ReasonTimeout:
		return "Timeout"
	case ReasonSessionExpired:
		return "SessionExpired"
	case ReasonError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}
