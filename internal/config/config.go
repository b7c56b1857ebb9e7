// Package config provides the configuration schema, loader, command-line
// overrides and file watcher for the voxtrigger daemon.
package config

import (
	"time"

	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// InputKind selects the capture backend.
type InputKind string

const (
	// InputPortAudio captures from a sound card through PortAudio.
	InputPortAudio InputKind = "portaudio"

	// InputFFmpeg reads s16le PCM from an ffmpeg subprocess.
	InputFFmpeg InputKind = "ffmpeg"

	// InputWAV plays a WAV file through the pipeline.
	InputWAV InputKind = "wav"
)

// IsValid reports whether k is a recognised capture backend.
func (k InputKind) IsValid() bool {
	switch k {
	case InputPortAudio, InputFFmpeg, InputWAV:
		return true
	}
	return false
}

// VADKind selects the frame classifier.
type VADKind string

const (
	VADWebRTC VADKind = "webrtc"
	VADEnergy VADKind = "energy"
)

// IsValid reports whether k is a recognised classifier.
func (k VADKind) IsValid() bool {
	return k == VADWebRTC || k == VADEnergy
}

// Device is the inference device policy.
type Device string

const (
	// DeviceAuto tries the accelerator and falls back to CPU once.
	DeviceAuto Device = "auto"

	// DeviceCUDA requires the accelerator.
	DeviceCUDA Device = "cuda"

	// DeviceCPU never touches the accelerator.
	DeviceCPU Device = "cpu"
)

// IsValid reports whether d is a recognised device policy.
func (d Device) IsValid() bool {
	switch d {
	case DeviceAuto, DeviceCUDA, DeviceCPU:
		return true
	}
	return false
}

// Backend selects the speech-to-text engine.
type Backend string

const (
	// BackendWhisper runs whisper.cpp in-process.
	BackendWhisper Backend = "whisper"

	// BackendWhisperServer posts segments to a whisper.cpp HTTP server.
	BackendWhisperServer Backend = "whisper-server"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	return b == BackendWhisper || b == BackendWhisperServer
}

// Config is the root configuration. It is typically loaded from a YAML file
// using [Load] and then overridden from the command line with [Flags.Apply].
type Config struct {
	LogLevel LogLevel `yaml:"log_level"`

	// Reload watches the config file and applies log level and remote
	// command policy changes without a restart.
	Reload bool `yaml:"reload"`

	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Segment  SegmentConfig  `yaml:"segment"`
	ASR      ASRConfig      `yaml:"asr"`
	Triggers TriggersConfig `yaml:"triggers"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Control  ControlConfig  `yaml:"control"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Admin    AdminConfig    `yaml:"admin"`
}

// AudioConfig selects the capture source.
type AudioConfig struct {
	Input InputKind `yaml:"input"`

	// Device is the PortAudio device name or the ffmpeg -i argument. Empty
	// selects the system default.
	Device string `yaml:"device"`

	// FFmpegFormat is the ffmpeg -f input format ("pulse", "alsa").
	FFmpegFormat string `yaml:"ffmpeg_format"`

	// File is the WAV path for the wav input.
	File string `yaml:"file"`

	// Realtime paces WAV playback at one frame per frame duration.
	Realtime bool `yaml:"realtime"`
}

// VADConfig configures the frame classifier.
type VADConfig struct {
	Kind VADKind `yaml:"kind"`

	// Level is the WebRTC aggressiveness, 0..3.
	Level int `yaml:"level"`

	// Threshold is the normalised RMS gate for the energy classifier.
	Threshold float64 `yaml:"threshold"`
}

// SegmentConfig bounds the speech segments handed to inference.
type SegmentConfig struct {
	MaxSegment time.Duration `yaml:"max_segment"`
	MinSpeech  time.Duration `yaml:"min_speech"`

	// SpeechPad is the hangover after speech ends. Zero closes a segment as
	// soon as the smoothing frames agree on silence.
	SpeechPad time.Duration `yaml:"speech_pad"`

	PreRoll         time.Duration `yaml:"pre_roll"`
	SmoothingFrames int           `yaml:"smoothing_frames"`
}

// ASRConfig configures model loading and inference.
type ASRConfig struct {
	Backend Backend `yaml:"backend"`

	// ServerURL is the whisper.cpp server for the whisper-server backend.
	ServerURL string `yaml:"server_url"`

	Device Device `yaml:"device"`

	// Model is a model name ("tiny.en") or a path to a ggml model file.
	Model    string `yaml:"model"`
	ModelDir string `yaml:"model_dir"`

	Compute    stt.Precision `yaml:"compute"`
	Language   string        `yaml:"lang"`
	CPUThreads int           `yaml:"cpu_threads"`

	// QueueDepth bounds the segments waiting for inference.
	QueueDepth int `yaml:"queue_depth"`

	// Prefetch downloads missing model weights before loading.
	Prefetch bool `yaml:"prefetch"`

	// Warmup is the length of silence decoded once after loading.
	Warmup time.Duration `yaml:"warmup"`
}

// TriggersConfig locates the trigger table.
type TriggersConfig struct {
	// File is a JSON or YAML object of phrase to command. Empty uses the
	// built-in table.
	File string `yaml:"file"`
}

// MatcherConfig tunes fuzzy matching.
type MatcherConfig struct {
	// Threshold is the minimum similarity in [0, 1].
	Threshold float64 `yaml:"threshold"`

	// Cooldown suppresses a phrase after it fires. Zero disables it.
	Cooldown         time.Duration `yaml:"cooldown"`
	MinChars         int           `yaml:"min_chars"`
	RequireAllTokens bool          `yaml:"require_all_tokens"`
	Phonetic         bool          `yaml:"phonetic"`
}

// ControlConfig configures the UDP control plane.
type ControlConfig struct {
	// Enabled starts the UDP listener.
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	// Token, when set, must prefix every datagram as "<token>:".
	Token string `yaml:"token"`

	// OutHost, when set, receives a TRIGGER datagram for every local match.
	OutHost string `yaml:"out_host"`
	OutPort int    `yaml:"out_port"`

	// AllowRemoteCommands lets CMD datagrams run shell commands.
	AllowRemoteCommands bool `yaml:"allow_remote_commands"`

	InjectionBuffer int `yaml:"injection_buffer"`
}

// DispatchConfig configures command execution.
type DispatchConfig struct {
	Shell         string        `yaml:"shell"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// AdminConfig configures the health and metrics HTTP server.
type AdminConfig struct {
	// ListenAddr is the TCP address (":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}
