// Package energy provides a pure-Go [vad.Engine] that classifies frames by
// RMS energy. It needs no cgo and serves as the fallback classifier on hosts
// where the WebRTC detector cannot be built.
//
// The frame's RMS is normalised to [0, 1] (full scale int16 = 1) and compared
// against Config.SpeechThreshold. Decision.Probability carries the normalised
// RMS clamped to [0, 1].
package energy

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/MrWong99/voxtrigger/pkg/provider/vad"
)

// DefaultThreshold is used when Config.SpeechThreshold is zero. It corresponds
// to roughly -36 dBFS.
const DefaultThreshold = 0.015

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates energy-gate sessions.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a stateless session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: invalid sample rate %d or frame size %d ms", cfg.SampleRate, cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %v out of range [0, 1]", cfg.SpeechThreshold)
	}
	th := cfg.SpeechThreshold
	if th == 0 {
		th = DefaultThreshold
	}
	return &Session{threshold: th, frameBytes: cfg.FrameBytes()}, nil
}

// Session classifies frames independently; it holds no history.
type Session struct {
	threshold  float64
	frameBytes int
	closed     bool
}

// ProcessFrame computes the frame's normalised RMS and compares it to the threshold.
func (s *Session) ProcessFrame(frame []byte) (vad.Decision, error) {
	if s.closed {
		return vad.Decision{}, vad.ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Decision{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	level := RMS(frame)
	return vad.Decision{Speech: level >= s.threshold, Probability: min(level, 1)}, nil
}

// Reset is a no-op.
func (s *Session) Reset() {}

// Close marks the session closed.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

// RMS returns the root-mean-square of little-endian int16 PCM normalised so
// that a full-scale square wave yields 1.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
