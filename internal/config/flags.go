package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Flags are the command-line overrides. Only flags given on the command line
// are applied, so a value from the config file survives unless overridden.
type Flags struct {
	// ConfigPath is the YAML file given with --config.
	ConfigPath string

	// Debug forces the debug log level.
	Debug bool

	fs  *flag.FlagSet
	val Config
}

// RegisterFlags defines the override flags on fs. Defaults shown in usage
// are the [Default] values.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs, val: *Default()}
	v := &f.val

	fs.StringVar(&f.ConfigPath, "config", "", "path to YAML config file")
	fs.BoolVar(&f.Debug, "debug", false, "enable debug logs")

	fs.StringVar((*string)(&v.Audio.Input), "input", string(v.Audio.Input), "capture backend: portaudio|ffmpeg|wav")
	fs.StringVar(&v.Audio.Device, "input-device", v.Audio.Device, "capture device name, ffmpeg input or WAV path")

	fs.StringVar((*string)(&v.ASR.Device), "asr-device", string(v.ASR.Device), "inference device: auto|cuda|cpu")
	fs.StringVar(&v.ASR.Model, "model", v.ASR.Model, "whisper model name or path to a ggml model file")
	fs.StringVar(&v.ASR.ModelDir, "model-dir", v.ASR.ModelDir, "directory holding downloaded models")
	fs.StringVar((*string)(&v.ASR.Compute), "compute", string(v.ASR.Compute), "model precision: int8|int5|float16|float32")
	fs.StringVar(&v.ASR.Language, "lang", v.ASR.Language, "language hint, or empty for auto")
	fs.IntVar(&v.ASR.CPUThreads, "cpu-threads", v.ASR.CPUThreads, "CPU threads for inference")
	fs.BoolVar(&v.ASR.Prefetch, "prefetch-model", v.ASR.Prefetch, "download model weights before start")
	fs.Var((*seconds)(&v.ASR.Warmup), "warmup-sec", "seconds of silence decoded after model load")

	fs.StringVar(&v.Triggers.File, "triggers", v.Triggers.File, "path to JSON or YAML trigger table")
	fs.Var((*threshold)(&v.Matcher.Threshold), "threshold", "fuzzy match threshold, 0..1 or 0..100")
	fs.Var((*seconds)(&v.Matcher.Cooldown), "cooldown", "cooldown seconds per trigger")

	fs.StringVar((*string)(&v.VAD.Kind), "vad", string(v.VAD.Kind), "frame classifier: webrtc|energy")
	fs.IntVar(&v.VAD.Level, "vad-level", v.VAD.Level, "webrtc aggressiveness 0..3")
	fs.Var((*seconds)(&v.Segment.MaxSegment), "max-segment", "max speech segment length in seconds")
	fs.Var((*seconds)(&v.Segment.MinSpeech), "min-speech", "min speech length in seconds before inference")
	fs.Var((*millis)(&v.Segment.SpeechPad), "speech-pad-ms", "padding after speech end in milliseconds")

	fs.BoolVar(&v.Control.Enabled, "udp-in", v.Control.Enabled, "enable the UDP control listener")
	fs.StringVar(&v.Control.Host, "udp-host", v.Control.Host, "UDP listen host")
	fs.IntVar(&v.Control.Port, "udp-port", v.Control.Port, "UDP listen port")
	fs.StringVar(&v.Control.Token, "udp-token", v.Control.Token, "UDP token (recommended)")
	fs.StringVar(&v.Control.OutHost, "udp-out-host", v.Control.OutHost, "send TRIGGER datagrams for local matches to this host")
	fs.IntVar(&v.Control.OutPort, "udp-out-port", v.Control.OutPort, "UDP out port")
	fs.BoolVar(&v.Control.AllowRemoteCommands, "allow-udp-cmd", v.Control.AllowRemoteCommands, "allow UDP CMD:<shell> (DANGEROUS)")

	fs.StringVar(&v.Admin.ListenAddr, "admin-addr", v.Admin.ListenAddr, "health and metrics listen address, empty to disable")
	return f
}

// overrides copies one flag's destination field from src to dst.
var overrides = map[string]func(dst, src *Config){
	"input":          func(d, s *Config) { d.Audio.Input = s.Audio.Input },
	"input-device":   func(d, s *Config) { d.Audio.Device = s.Audio.Device },
	"asr-device":     func(d, s *Config) { d.ASR.Device = s.ASR.Device },
	"model":          func(d, s *Config) { d.ASR.Model = s.ASR.Model },
	"model-dir":      func(d, s *Config) { d.ASR.ModelDir = s.ASR.ModelDir },
	"compute":        func(d, s *Config) { d.ASR.Compute = s.ASR.Compute },
	"lang":           func(d, s *Config) { d.ASR.Language = s.ASR.Language },
	"cpu-threads":    func(d, s *Config) { d.ASR.CPUThreads = s.ASR.CPUThreads },
	"prefetch-model": func(d, s *Config) { d.ASR.Prefetch = s.ASR.Prefetch },
	"warmup-sec":     func(d, s *Config) { d.ASR.Warmup = s.ASR.Warmup },
	"triggers":       func(d, s *Config) { d.Triggers.File = s.Triggers.File },
	"threshold":      func(d, s *Config) { d.Matcher.Threshold = s.Matcher.Threshold },
	"cooldown":       func(d, s *Config) { d.Matcher.Cooldown = s.Matcher.Cooldown },
	"vad":            func(d, s *Config) { d.VAD.Kind = s.VAD.Kind },
	"vad-level":      func(d, s *Config) { d.VAD.Level = s.VAD.Level },
	"max-segment":    func(d, s *Config) { d.Segment.MaxSegment = s.Segment.MaxSegment },
	"min-speech":     func(d, s *Config) { d.Segment.MinSpeech = s.Segment.MinSpeech },
	"speech-pad-ms":  func(d, s *Config) { d.Segment.SpeechPad = s.Segment.SpeechPad },
	"udp-in":         func(d, s *Config) { d.Control.Enabled = s.Control.Enabled },
	"udp-host":       func(d, s *Config) { d.Control.Host = s.Control.Host },
	"udp-port":       func(d, s *Config) { d.Control.Port = s.Control.Port },
	"udp-token":      func(d, s *Config) { d.Control.Token = s.Control.Token },
	"udp-out-host":   func(d, s *Config) { d.Control.OutHost = s.Control.OutHost },
	"udp-out-port":   func(d, s *Config) { d.Control.OutPort = s.Control.OutPort },
	"allow-udp-cmd":  func(d, s *Config) { d.Control.AllowRemoteCommands = s.Control.AllowRemoteCommands },
	"admin-addr":     func(d, s *Config) { d.Admin.ListenAddr = s.Admin.ListenAddr },
}

// Apply copies every flag set on the command line onto cfg. With the wav
// input, --input-device names the file. It must be called after fs.Parse.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		if o, ok := overrides[fl.Name]; ok {
			o(cfg, &f.val)
		}
	})
	if cfg.Audio.Input == InputWAV && cfg.Audio.File == "" {
		cfg.Audio.File = cfg.Audio.Device
	}
	if f.Debug {
		cfg.LogLevel = LogDebug
	}
}

// seconds accepts "2.5" as seconds or a Go duration ("2500ms").
type seconds time.Duration

func (s *seconds) String() string { return time.Duration(*s).String() }

func (s *seconds) Set(v string) error {
	d, err := parseDuration(v, time.Second)
	if err != nil {
		return err
	}
	*s = seconds(d)
	return nil
}

// millis accepts "120" as milliseconds or a Go duration.
type millis time.Duration

func (m *millis) String() string { return time.Duration(*m).String() }

func (m *millis) Set(v string) error {
	d, err := parseDuration(v, time.Millisecond)
	if err != nil {
		return err
	}
	*m = millis(d)
	return nil
}

func parseDuration(v string, unit time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(unit)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

// threshold reads values above 1 as a percentage.
type threshold float64

func (t *threshold) String() string { return strconv.FormatFloat(float64(*t), 'g', -1, 64) }

func (t *threshold) Set(v string) error {
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("invalid threshold %q", v)
	}
	if n > 1 {
		n /= 100
	}
	*t = threshold(n)
	return nil
}
