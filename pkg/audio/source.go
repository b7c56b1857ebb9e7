// Package audio defines the frame type and the capture abstraction that feed
// the voice-trigger pipeline.
//
// A [Source] produces a stream of fixed-duration mono PCM [Frame] values.
// Concrete backends live in sub-packages: audio/portaudio (microphone),
// audio/ffmpeg (ffmpeg subprocess capture), audio/wavfile (WAV playback for
// tests and self-checks) and audio/mock.
//
// Sources sit on the low-latency path. They must never block on their
// consumer: when the frame channel is full the newest frame is dropped.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned by [Source.Start] when the capture device
// cannot be opened.
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// Source is a capture stream of PCM frames.
type Source interface {
	// Start opens the underlying device and begins delivering frames on the
	// returned channel. The channel is closed when capture stops, either
	// because ctx was cancelled, Close was called or the input ended.
	Start(ctx context.Context) (<-chan Frame, error)

	// Close stops capture and releases the device. Frames already queued on
	// the channel may still be read. Calling Close more than once is safe.
	Close() error
}

// Dropped reports how many frames a source discarded because its consumer
// was not keeping up. Sources that track drops implement it.
type Dropped interface {
	DroppedFrames() uint64
}
