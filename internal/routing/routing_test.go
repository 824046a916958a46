package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveNilSettingsDefaultsToBusy(t *testing.T) {
	assert.Equal(t, ActionBusy, Resolve(nil, true))
	assert.Equal(t, ActionBusy, Resolve(nil, false))
}

func TestResolveAnonymousUsesAnonymousAction(t *testing.T) {
	settings := &SystemSettingsExtra{AnonymousAction: ActionVoicemail, DefaultAction: ActionIVR}
	assert.Equal(t, ActionVoicemail, Resolve(settings, true))
}

func TestResolveAnonymousWithoutOverrideDefaultsToBusy(t *testing.T) {
	settings := &SystemSettingsExtra{DefaultAction: ActionIVR}
	assert.Equal(t, ActionBusy, Resolve(settings, true))
}

func TestResolveNonAnonymousUsesDefaultAction(t *testing.T) {
	settings := &SystemSettingsExtra{AnonymousAction: ActionVoicemail, DefaultAction: ActionVoicebot}
	assert.Equal(t, ActionVoicebot, Resolve(settings, false))
}

func TestResolveNonAnonymousWithoutDefaultIsBusy(t *testing.T) {
	settings := &SystemSettingsExtra{AnonymousAction: ActionVoicemail}
	assert.Equal(t, ActionBusy, Resolve(settings, false))
}
