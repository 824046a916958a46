package routing

import (
	"context"
	"sync"
)

// Fake is a package-local in-memory Port implementation, and it is also
// the routing port cmd/switchboard wires into every session (spec.md §1
// excludes a real routing backend from scope).
type Fake struct {
	mu sync.RWMutex

	numbers      map[string]*RouteDecision
	groups       map[string]string
	rules        map[string]*CallActionRule
	byCategory   map[CallerCategory]*RouteDecision
	settings     *SystemSettingsExtra
	spam         map[string]bool
	registered   map[string]bool
	announcement map[string]string
	menus        map[string]*IVRMenu
	dtmfDest     map[string]*IVRDestination
	timeoutDest  map[string]*IVRDestination
	invalidDest  map[string]*IVRDestination
}

// NewFake returns an empty Fake ready for test setup via its Set*
// helpers.
func NewFake() *Fake {
	return &Fake{
		numbers:      make(map[string]*RouteDecision),
		groups:       make(map[string]string),
		rules:        make(map[string]*CallActionRule),
		byCategory:   make(map[CallerCategory]*RouteDecision),
		spam:         make(map[string]bool),
		registered:   make(map[string]bool),
		announcement: make(map[string]string),
		menus:        make(map[string]*IVRMenu),
		dtmfDest:     make(map[string]*IVRDestination),
		timeoutDest:  make(map[string]*IVRDestination),
		invalidDest:  make(map[string]*IVRDestination),
	}
}

func (f *Fake) SetRegisteredNumber(e164 string, d *RouteDecision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.numbers[e164] = d
}

func (f *Fake) SetCallerGroup(e164, groupID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[e164] = groupID
}

func (f *Fake) SetCallActionRule(groupID string, r *CallActionRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[groupID] = r
}

func (f *Fake) SetRoutingRule(category CallerCategory, d *RouteDecision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byCategory[category] = d
}

func (f *Fake) SetSystemSettingsExtra(s *SystemSettingsExtra) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
}

func (f *Fake) SetSpam(e164 string, spam bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spam[e164] = spam
}

func (f *Fake) SetRegistered(e164 string, registered bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[e164] = registered
}

func (f *Fake) SetAnnouncementURL(id, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announcement[id] = url
}

func (f *Fake) SetIVRMenu(flowID string, m *IVRMenu) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus[flowID] = m
}

func (f *Fake) SetIVRDTMFDestination(nodeID string, key rune, d *IVRDestination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dtmfDest[dtmfKey(nodeID, key)] = d
}

func (f *Fake) SetIVRTimeoutDestination(nodeID string, d *IVRDestination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeoutDest[nodeID] = d
}

func (f *Fake) SetIVRInvalidDestination(nodeID string, d *IVRDestination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidDest[nodeID] = d
}

func (f *Fake) FindRegisteredNumber(_ context.Context, e164 string) (*RouteDecision, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.numbers[e164]
	return d, ok, nil
}

func (f *Fake) FindCallerGroup(_ context.Context, e164 string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	g, ok := f.groups[e164]
	return g, ok, nil
}

func (f *Fake) FindCallActionRule(_ context.Context, groupID string) (*CallActionRule, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rules[groupID]
	return r, ok, nil
}

func (f *Fake) FindRoutingRule(_ context.Context, category CallerCategory) (*RouteDecision, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.byCategory[category]
	return d, ok, nil
}

func (f *Fake) GetSystemSettingsExtra(_ context.Context) (*SystemSettingsExtra, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.settings, f.settings != nil, nil
}

func (f *Fake) IsSpam(_ context.Context, e164 string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.spam[e164], nil
}

func (f *Fake) IsRegistered(_ context.Context, e164 string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.registered[e164], nil
}

func (f *Fake) FindAnnouncementAudioFileURL(_ context.Context, id string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.announcement[id]
	return u, ok, nil
}

func (f *Fake) FindIVRMenu(_ context.Context, flowID string) (*IVRMenu, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.menus[flowID]
	return m, ok, nil
}

func (f *Fake) FindIVRDTMFDestination(_ context.Context, nodeID string, key rune) (*IVRDestination, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.dtmfDest[dtmfKey(nodeID, key)]
	return d, ok, nil
}

func (f *Fake) FindIVRTimeoutDestination(_ context.Context, nodeID string) (*IVRDestination, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.timeoutDest[nodeID]
	return d, ok, nil
}

func (f *Fake) FindIVRInvalidDestination(_ context.Context, nodeID string) (*IVRDestination, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.invalidDest[nodeID]
	return d, ok, nil
}

func dtmfKey(nodeID string, key rune) string {
	return nodeID + ":" + string(key)
}

var _ Port = (*Fake)(nil)
