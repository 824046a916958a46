// Package routing defines the RoutingPort interface of spec.md §6: the
// external collaborator responsible for caller routing and dial-plan
// lookups. Database access backing a real implementation is explicitly out
// of scope (spec.md §1) — this package is contracts only, shaped so the
// session coordinator can exercise every dispatch branch it names.
package routing

import "context"

// ActionCode is the routing decision returned for an incoming call,
// spec.md §4.5 step 2.
type ActionCode string

const (
	ActionVoicebot     ActionCode = "VR" // voice-bot (default)
	ActionIVR          ActionCode = "IV" // IVR flow
	ActionAnnouncement ActionCode = "AN" // announcement
	ActionVoicemail    ActionCode = "VM" // voicemail
	ActionVoicebotDirect ActionCode = "VB" // voicebot-direct
	ActionBusy         ActionCode = "BZ" // reject 486
	ActionNoResponse   ActionCode = "NR" // silent drop
	ActionTransfer     ActionCode = "TR" // bridge to a second SIP dialog
)

// RouteDecision is the companion configuration bundled with an ActionCode.
type RouteDecision struct {
	ActionCode        ActionCode
	IVRFlowID         string
	RecordingEnabled  bool
	AnnounceEnabled   bool
	AnnouncementID    string
	GroupID           string
	OutboundEnabled   bool
}

// CallerCategory classifies the caller for call-log purposes.
type CallerCategory string

const (
	CategorySpam       CallerCategory = "spam"
	CategoryRegistered CallerCategory = "registered"
	CategoryUnknown    CallerCategory = "unknown"
)

// CallActionRule is the group-level override resolved from a caller group.
type CallActionRule struct {
	ID           string
	ActionConfig map[string]any
}

// IVRMenu describes one DTMF-driven IVR flow node.
type IVRMenu struct {
	FlowID string
	NodeID string
}

// IVRDestination is where a DTMF key, timeout, or invalid-input event
// routes to within an IVR flow.
type IVRDestination struct {
	ActionCode        ActionCode
	IVRFlowID         string
	AnnouncementID    string
	TransferTargetURI string
}

// SystemSettingsExtra houses the anonymous/default-action fallbacks
// (spec.md §9: "anonymous-caller handling relies on
// system_settings.extra.anonymousAction").
type SystemSettingsExtra struct {
	AnonymousAction ActionCode
	DefaultAction   ActionCode
}

// Port is the RoutingPort external collaborator (spec.md §6).
type Port interface {
	FindRegisteredNumber(ctx context.Context, e164 string) (*RouteDecision, bool, error)
	FindCallerGroup(ctx context.Context, e164 string) (groupID string, ok bool, err error)
	FindCallActionRule(ctx context.Context, groupID string) (*CallActionRule, bool, error)
	FindRoutingRule(ctx context.Context, category CallerCategory) (*RouteDecision, bool, error)
	GetSystemSettingsExtra(ctx context.Context) (*SystemSettingsExtra, bool, error)
	IsSpam(ctx context.Context, e164 string) (bool, error)
	IsRegistered(ctx context.Context, e164 string) (bool, error)
	FindAnnouncementAudioFileURL(ctx context.Context, id string) (string, bool, error)

	FindIVRMenu(ctx context.Context, flowID string) (*IVRMenu, bool, error)
	FindIVRDTMFDestination(ctx context.Context, nodeID string, key rune) (*IVRDestination, bool, error)
	FindIVRTimeoutDestination(ctx context.Context, nodeID string) (*IVRDestination, bool, error)
	FindIVRInvalidDestination(ctx context.Context, nodeID string) (*IVRDestination, bool, error)
}

// Resolve applies the fallback chain spec.md describes for anonymous or
// unclassified callers: missing anonymousAction fields default to busy
// (ActionBusy), per spec.md §9's resolution of that open ambiguity.
func Resolve(settings *SystemSettingsExtra, anonymous bool) ActionCode {
	if settings == nil {
		return ActionBusy
	}
	if anonymous {
		if settings.AnonymousAction == "" {
			return ActionBusy
		}
		return settings.AnonymousAction
	}
	if settings.DefaultAction == "" {
		return ActionBusy
	}
	return settings.DefaultAction
}
