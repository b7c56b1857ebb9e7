package audio

import "time"

const (
	// DefaultSampleRate is the capture rate used throughout the pipeline. Both
	// the VAD and whisper.cpp operate on 16 kHz mono.
	DefaultSampleRate = 16000

	// DefaultFrameMs is the fixed frame duration fed to the segmenter.
	DefaultFrameMs = 20

	// bytesPerSample is the width of one little-endian int16 sample.
	bytesPerSample = 2
)

// Frame is one fixed-duration block of mono 16-bit little-endian PCM. Frames
// are immutable once produced: consumers may retain Data but must not modify it.
type Frame struct {
	// Data holds exactly FrameBytes(SampleRate, frameMs) bytes of PCM.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Seq is the zero-based position of the frame within its capture stream.
	Seq uint64

	// Timestamp marks the start of the frame relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Data) / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSamples returns the number of samples in a frame of frameMs at sampleRate.
func FrameSamples(sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000
}

// FrameBytes returns the byte length of a mono int16 frame of frameMs at sampleRate.
func FrameBytes(sampleRate, frameMs int) int {
	return FrameSamples(sampleRate, frameMs) * bytesPerSample
}
