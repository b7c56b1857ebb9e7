// Package webrtc provides a [vad.Engine] backed by the WebRTC voice activity
// detector via github.com/hackers365/go-webrtcvad (cgo).
//
// Supported sample rates are 8, 16, 32 and 48 kHz; supported frame durations
// are 10, 20 and 30 ms. The classifier is binary, so Decision.Probability is
// either 0 or 1.
package webrtc

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hackers365/go-webrtcvad"

	"github.com/MrWong99/voxtrigger/pkg/provider/vad"
)

// DefaultMode is the aggressiveness used when Config.Aggressiveness is out of range.
const DefaultMode = 2

var (
	supportedRates  = []int{8000, 16000, 32000, 48000}
	supportedFrames = []int{10, 20, 30}
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates WebRTC VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and allocates a native VAD instance.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if !slices.Contains(supportedRates, cfg.SampleRate) {
		return nil, fmt.Errorf("webrtc vad: unsupported sample rate %d (want one of %v)", cfg.SampleRate, supportedRates)
	}
	if !slices.Contains(supportedFrames, cfg.FrameSizeMs) {
		return nil, fmt.Errorf("webrtc vad: unsupported frame size %d ms (want one of %v)", cfg.FrameSizeMs, supportedFrames)
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("webrtc vad: aggressiveness %d out of range 0..3", cfg.Aggressiveness)
	}

	inst, err := webrtcvad.New()
	if inst == nil {
		if err == nil {
			err = errors.New("allocation failed")
		}
		return nil, fmt.Errorf("webrtc vad: create instance: %w", err)
	}
	if err := inst.SetMode(cfg.Aggressiveness); err != nil {
		webrtcvad.Free(inst)
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Aggressiveness, err)
	}

	return &Session{
		inst:       inst,
		sampleRate: cfg.SampleRate,
		frameBytes: cfg.FrameBytes(),
	}, nil
}

// Session is a single WebRTC VAD instance. It is safe for concurrent use.
type Session struct {
	mu         sync.Mutex
	inst       *webrtcvad.VAD
	sampleRate int
	frameBytes int
}

// ProcessFrame classifies frame.
func (s *Session) ProcessFrame(frame []byte) (vad.Decision, error) {
	if len(frame) != s.frameBytes {
		return vad.Decision{}, fmt.Errorf("webrtc vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inst == nil {
		return vad.Decision{}, vad.ErrClosed
	}
	active, err := s.inst.Process(s.sampleRate, frame)
	if err != nil {
		return vad.Decision{}, fmt.Errorf("webrtc vad: process: %w", err)
	}
	if active {
		return vad.Decision{Speech: true, Probability: 1}, nil
	}
	return vad.Decision{}, nil
}

// Reset is a no-op: the WebRTC classifier keeps no per-utterance state that
// callers need to clear.
func (s *Session) Reset() {}

// Close frees the native instance.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inst != nil {
		webrtcvad.Free(s.inst)
		s.inst = nil
	}
	return nil
}
