package calllog

import (
	"context"
	"sync"
)

// Fake is a package-local in-memory Port implementation, and it is also
// the call-log port cmd/switchboard wires into every session (spec.md §1
// excludes a real call-log backend from scope).
type Fake struct {
	mu      sync.Mutex
	Entries []EndedCallLog
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) PersistCallEnded(_ context.Context, log EndedCallLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Entries = append(f.Entries, log)
	return nil
}

// Last returns the most recently persisted entry, for test assertions.
func (f *Fake) Last() (EndedCallLog, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Entries) == 0 {
		return EndedCallLog{}, false
	}
	return f.Entries[len(f.Entries)-1], true
}

var _ Port = (*Fake)(nil)
