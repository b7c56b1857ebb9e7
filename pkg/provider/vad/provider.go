// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech classifier (WebRTC VAD or a plain
// energy gate) and surfaces it as a stateful, per-stream session. The
// classifier only labels individual frames; turning raw labels into speech
// segments (smoothing, hangover, pre-roll) is the segmenter's job.
//
// VAD is synchronous: ProcessFrame returns immediately with a [Decision],
// making it suitable for the low-latency capture loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

// ErrClosed is returned by ProcessFrame after the session has been closed.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// Aggressiveness is the WebRTC filtering mode, 0 (least aggressive about
	// filtering out non-speech) to 3 (most aggressive). Ignored by backends
	// that have no such notion.
	Aggressiveness int

	// SpeechThreshold is the probability (or normalised energy, for the energy
	// backend) at or above which a frame is classified as speech. Range [0, 1].
	SpeechThreshold float64
}

// FrameBytes returns the byte length of one mono int16 frame under cfg.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine.
type SessionHandle interface {
	// ProcessFrame classifies a single frame of raw little-endian int16 PCM at
	// the SampleRate and FrameSizeMs configured when the session was created.
	// Returns an error if the frame size is wrong or the engine fails.
	ProcessFrame(frame []byte) (Decision, error)

	// Reset clears any accumulated classifier state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid for the backend.
	NewSession(cfg Config) (SessionHandle, error)
}
