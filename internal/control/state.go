package control

import "sync"

// RunState is the runtime state the control plane mutates and the pipeline
// reads before every dispatch. It is safe for concurrent use; a read always
// observes the latest completed write.
type RunState struct {
	mu          sync.RWMutex
	paused      bool
	allowRemote bool
}

// Snapshot is a point-in-time copy of a [RunState].
type Snapshot struct {
	Paused              bool
	AllowRemoteCommands bool
}

// NewRunState returns an unpaused state with the given remote-command policy.
func NewRunState(allowRemoteCommands bool) *RunState {
	return &RunState{allowRemote: allowRemoteCommands}
}

// Paused reports whether audio-originated triggers are suspended.
func (s *RunState) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// SetPaused sets the paused flag and reports whether it changed.
func (s *RunState) SetPaused(paused bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.paused != paused
	s.paused = paused
	return changed
}

// AllowRemoteCommands reports whether CMD messages may run.
func (s *RunState) AllowRemoteCommands() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allowRemote
}

// SetAllowRemoteCommands changes the remote-command policy.
func (s *RunState) SetAllowRemoteCommands(allow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowRemote = allow
}

// Snapshot returns both flags read under one lock.
func (s *RunState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Paused: s.paused, AllowRemoteCommands: s.allowRemote}
}
