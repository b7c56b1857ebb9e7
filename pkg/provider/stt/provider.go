// Package stt defines the Engine interface for local speech-to-text backends.
//
// Transcription is batch-oriented: the pipeline hands a complete speech
// segment to [Model.Transcribe] and gets one [Transcript] back. The engine is
// opaque (audio in, text out); device selection, fallback and queueing live
// in the inference adapter above it.
//
// An [Engine] is a factory that loads a [Model] for a given device and
// precision. Loading is explicit and happens once at startup, because model
// initialisation is slow and may fail on an accelerated device while
// succeeding on CPU.
//
// Implementations must be safe for concurrent use. A Model may serialise
// calls internally; callers must not assume parallel Transcribe calls run
// concurrently.
package stt

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned by [Engine.Load] when the requested
// accelerated device cannot be initialised. Callers may retry on CPU.
var ErrDeviceUnavailable = errors.New("stt: accelerated device unavailable")

// ErrModelClosed is returned by [Model.Transcribe] after Close.
var ErrModelClosed = errors.New("stt: model closed")

// Engine loads speech-to-text models.
type Engine interface {
	// Load initialises the model described by cfg on cfg.Device. Load fails
	// with an error wrapping [ErrDeviceUnavailable] if cfg.Device is
	// accelerated and the device cannot be used.
	Load(ctx context.Context, cfg LoadConfig) (Model, error)
}

// Model is a loaded speech-to-text model.
type Model interface {
	// Transcribe converts mono float32 samples at 16 kHz into text. If ctx is
	// cancelled the call returns as soon as the engine allows, with ctx.Err().
	Transcribe(ctx context.Context, samples []float32, opts Options) (Transcript, error)

	// Close releases the model. Calling Close more than once is safe.
	Close() error
}

// Prefetcher is implemented by engines that can download model weights ahead
// of the first Load.
type Prefetcher interface {
	Prefetch(ctx context.Context, cfg LoadConfig) error
}
