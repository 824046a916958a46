// Package calllog defines the CallLogPort external collaborator of
// spec.md §6: persistence of the terminal call record. Database access
// backing a real implementation is out of scope (spec.md §1); this
// package is the typed contract plus the recording sub-record the
// session coordinator attaches when recording is enabled.
package calllog

import (
	"context"
	"time"

	"github.com/sebacius/switchboard/internal/routing"
)

// EndReason classifies why a call ended, spec.md §3's TerminationCause
// narrowed to the subset call-log cares about.
type EndReason string

const (
	EndReasonCallerHangup EndReason = "caller_hangup"
	EndReasonCalleeHangup EndReason = "callee_hangup"
	EndReasonBusy         EndReason = "busy"
	EndReasonNoAnswer     EndReason = "no_answer"
	EndReasonFailed       EndReason = "failed"
	EndReasonTransferred  EndReason = "transferred"
	EndReasonSystemError  EndReason = "system_error"
)

// Status is the call-log's final disposition field.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusRejected  Status = "rejected"
	StatusError     Status = "error"
)

// Recording is the optional sub-record attached when a mixed recording
// file was produced (internal/recording.Recorder.StopAndMerge).
type Recording struct {
	FilePath   string
	DurationMS int64
}

// EndedCallLog is the terminal call record persisted via Persist, per
// spec.md §6's field list.
type EndedCallLog struct {
	ID              string
	StartedAt       time.Time
	EndedAt         time.Time
	DurationSec     int64
	ExternalCallID  string
	SipCallID       string
	CallerNumber    string
	CallerCategory  routing.CallerCategory
	ActionCode      routing.ActionCode
	IVRFlowID       string
	AnsweredAt      *time.Time
	EndReason       EndReason
	Status          Status
	Recording       *Recording
}

// Port is the CallLogPort external collaborator (spec.md §6).
type Port interface {
	PersistCallEnded(ctx context.Context, log EndedCallLog) error
}
