package session

import "sync"

// Registry is the call-id (or "<call-id>-b" for a bridged B-leg)
// lookup the single shared rtp.Demux needs to hand inbound RTP/DTMF
// to the right actor. Complements the peer-address->call-id half
// rtp.Demux already keeps internally; grounded on
// internal/signaling/location/store.go's mutex-guarded map style,
// the same pattern internal/b2bua.Originator's challenge cache uses.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry, one per process.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session under key, either the A-leg's own Call-ID
// or a "<call-id>-b" alias for its bridged B-leg.
func (r *Registry) Add(key string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[key] = s
}

// Get returns the session registered under key, if any. Used by the
// process wiring to route SIP-layer dialog termination callbacks
// (BYE/CANCEL/session-timer-expiry) to the right actor.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Remove drops a key, called on termination/unbridge.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// DeliverAudio implements rtp.Sink, forwarding to the session
// registered under callID.
func (r *Registry) DeliverAudio(callID string, pt uint8, frame []byte) {
	r.mu.RLock()
	s := r.sessions[callID]
	r.mu.RUnlock()
	if s != nil {
		s.DeliverAudio(callID, pt, frame)
	}
}

// DeliverDTMF implements rtp.Sink.
func (r *Registry) DeliverDTMF(callID string, digit rune) {
	r.mu.RLock()
	s := r.sessions[callID]
	r.mu.RUnlock()
	if s != nil {
		s.DeliverDTMF(callID, digit)
	}
}
