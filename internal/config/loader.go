package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
)

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Audio: AudioConfig{
			Input:        InputPortAudio,
			FFmpegFormat: "pulse",
		},
		VAD: VADConfig{
			Kind:      VADWebRTC,
			Level:     3,
			Threshold: 0.015,
		},
		Segment: SegmentConfig{
			MaxSegment:      2 * time.Second,
			MinSpeech:       250 * time.Millisecond,
			SpeechPad:       120 * time.Millisecond,
			PreRoll:         100 * time.Millisecond,
			SmoothingFrames: 3,
		},
		ASR: ASRConfig{
			Backend:    BackendWhisper,
			Device:     DeviceAuto,
			Model:      "tiny.en",
			ModelDir:   "models",
			Compute:    stt.PrecisionInt8,
			Language:   "en",
			CPUThreads: 4,
			QueueDepth: 2,
		},
		Matcher: MatcherConfig{
			Threshold: 0.8,
			Cooldown:  4 * time.Second,
			MinChars:  3,
		},
		Control: ControlConfig{
			Host:            "0.0.0.0",
			Port:            9999,
			OutPort:         9999,
			InjectionBuffer: 16,
		},
		Dispatch: DispatchConfig{
			Shell:         "sh",
			MaxConcurrent: 4,
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Keys absent from the file keep their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; must be one of debug, info, warn, error", cfg.LogLevel))
	}

	if !cfg.Audio.Input.IsValid() {
		errs = append(errs, fmt.Errorf("audio.input %q is invalid; must be one of portaudio, ffmpeg, wav", cfg.Audio.Input))
	}
	if cfg.Audio.Input == InputWAV && cfg.Audio.File == "" {
		errs = append(errs, errors.New("audio.file is required when audio.input is wav"))
	}

	if !cfg.VAD.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("vad.kind %q is invalid; must be webrtc or energy", cfg.VAD.Kind))
	}
	if cfg.VAD.Level < 0 || cfg.VAD.Level > 3 {
		errs = append(errs, fmt.Errorf("vad.level %d is out of range 0..3", cfg.VAD.Level))
	}
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %v is out of range [0, 1]", cfg.VAD.Threshold))
	}

	if cfg.Segment.MinSpeech <= 0 {
		errs = append(errs, fmt.Errorf("segment.min_speech %v must be positive", cfg.Segment.MinSpeech))
	}
	if cfg.Segment.MaxSegment < cfg.Segment.MinSpeech {
		errs = append(errs, fmt.Errorf("segment.max_segment %v is shorter than segment.min_speech %v", cfg.Segment.MaxSegment, cfg.Segment.MinSpeech))
	}
	if cfg.Segment.SpeechPad < 0 {
		errs = append(errs, fmt.Errorf("segment.speech_pad %v must not be negative", cfg.Segment.SpeechPad))
	}
	if cfg.Segment.SmoothingFrames < 1 {
		errs = append(errs, fmt.Errorf("segment.smoothing_frames %d must be at least 1", cfg.Segment.SmoothingFrames))
	}

	if !cfg.ASR.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("asr.backend %q is invalid; must be whisper or whisper-server", cfg.ASR.Backend))
	}
	if cfg.ASR.Backend == BackendWhisperServer && cfg.ASR.ServerURL == "" {
		errs = append(errs, errors.New("asr.server_url is required for the whisper-server backend"))
	}
	if !cfg.ASR.Device.IsValid() {
		errs = append(errs, fmt.Errorf("asr.device %q is invalid; must be one of auto, cuda, cpu", cfg.ASR.Device))
	}
	if cfg.ASR.Model == "" {
		errs = append(errs, errors.New("asr.model is required"))
	}
	if !cfg.ASR.Compute.IsValid() {
		errs = append(errs, fmt.Errorf("asr.compute %q is invalid; must be one of int8, int5, float16, float32", cfg.ASR.Compute))
	}
	if cfg.ASR.CPUThreads < 0 {
		errs = append(errs, fmt.Errorf("asr.cpu_threads %d must not be negative", cfg.ASR.CPUThreads))
	}
	if cfg.ASR.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("asr.queue_depth %d must be at least 1", cfg.ASR.QueueDepth))
	}
	if cfg.ASR.Warmup < 0 {
		errs = append(errs, fmt.Errorf("asr.warmup %v must not be negative", cfg.ASR.Warmup))
	}

	if cfg.Matcher.Threshold <= 0 || cfg.Matcher.Threshold > 1 {
		errs = append(errs, fmt.Errorf("matcher.threshold %v is out of range (0, 1]", cfg.Matcher.Threshold))
	}
	if cfg.Matcher.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("matcher.cooldown %v must not be negative", cfg.Matcher.Cooldown))
	}
	if cfg.Matcher.MinChars < 0 {
		errs = append(errs, fmt.Errorf("matcher.min_chars %d must not be negative", cfg.Matcher.MinChars))
	}

	if cfg.Control.Enabled && (cfg.Control.Port < 1 || cfg.Control.Port > 65535) {
		errs = append(errs, fmt.Errorf("control.port %d is out of range", cfg.Control.Port))
	}
	if cfg.Control.OutHost != "" && (cfg.Control.OutPort < 1 || cfg.Control.OutPort > 65535) {
		errs = append(errs, fmt.Errorf("control.out_port %d is out of range", cfg.Control.OutPort))
	}
	if cfg.Control.InjectionBuffer < 1 {
		errs = append(errs, fmt.Errorf("control.injection_buffer %d must be at least 1", cfg.Control.InjectionBuffer))
	}

	if cfg.Dispatch.Shell == "" {
		errs = append(errs, errors.New("dispatch.shell is required"))
	}
	if cfg.Dispatch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch.timeout %v must not be negative", cfg.Dispatch.Timeout))
	}
	if cfg.Dispatch.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("dispatch.max_concurrent %d must be at least 1", cfg.Dispatch.MaxConcurrent))
	}

	return errors.Join(errs...)
}
