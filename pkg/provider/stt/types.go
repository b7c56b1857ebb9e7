package stt

import "time"

// Device is the hardware a model runs on.
type Device string

const (
	// DeviceAccelerated is a GPU (CUDA, including Jetson/Tegra boards).
	DeviceAccelerated Device = "cuda"

	// DeviceCPU is the host CPU.
	DeviceCPU Device = "cpu"
)

// Precision is the numeric format of the model weights.
type Precision string

const (
	PrecisionInt8    Precision = "int8"
	PrecisionInt5    Precision = "int5"
	PrecisionFloat16 Precision = "float16"
	PrecisionFloat32 Precision = "float32"
)

// IsValid reports whether p is a known precision.
func (p Precision) IsValid() bool {
	switch p {
	case PrecisionInt8, PrecisionInt5, PrecisionFloat16, PrecisionFloat32:
		return true
	}
	return false
}

// LoadConfig describes the model to load.
type LoadConfig struct {
	// ModelID is a model name such as "tiny.en" or a path to a model file.
	ModelID string

	// ModelDir is where named models are looked up and downloaded to.
	ModelDir string

	Device    Device
	Precision Precision

	// Threads is the number of CPU threads used for decoding. Zero lets the
	// engine decide.
	Threads int

	// Language is the default recognition language ("en"). Empty means
	// auto-detect where supported.
	Language string
}

// Options are per-call overrides.
type Options struct {
	// Language overrides LoadConfig.Language when non-empty.
	Language string
}

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the recognised speech with non-speech annotations removed.
	Text string

	// Language is the language the engine used.
	Language string

	// Confidence is the mean token probability in [0, 1], or zero when the
	// engine does not report it.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration

	// Elapsed is the wall-clock time the engine spent.
	Elapsed time.Duration

	// Device is where the transcription ran.
	Device Device
}
