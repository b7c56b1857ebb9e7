// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script per-frame decisions and inspect the frames that were
// submitted for processing.
//
// Example:
//
//	sess := &mock.Session{Script: mock.Pattern("..SSSS..")}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/voxtrigger/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
//
// Each ProcessFrame call consumes the next entry of Script. Once the script
// is exhausted, Default is returned. When Classify is set it takes priority
// over both and decides from the frame bytes.
type Session struct {
	mu sync.Mutex

	// Script is the ordered sequence of decisions returned by ProcessFrame.
	Script []vad.Decision

	// Default is returned after Script runs out.
	Default vad.Decision

	// Classify, if set, computes the decision from the frame itself.
	Classify func(frame []byte) vad.Decision

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ProcessFrameCount is the number of frames processed.
	ProcessFrameCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ProcessFrame records the call and returns the next scripted decision.
func (s *Session) ProcessFrame(frame []byte) (vad.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.ProcessFrameCount
	s.ProcessFrameCount++
	if s.ProcessFrameErr != nil {
		return vad.Decision{}, s.ProcessFrameErr
	}
	if s.Classify != nil {
		return s.Classify(frame), nil
	}
	if i < len(s.Script) {
		return s.Script[i], nil
	}
	return s.Default, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)

// Pattern converts a string into a decision script: 'S' (or 's') is speech,
// any other character is silence.
func Pattern(p string) []vad.Decision {
	out := make([]vad.Decision, len(p))
	for i, c := range p {
		if c == 'S' || c == 's' {
			out[i] = vad.Decision{Speech: true, Probability: 1}
		}
	}
	return out
}
