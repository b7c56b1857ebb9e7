// Package whisper provides an [stt.Engine] backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// Models are ggml files named ggml-<model>[-<quant>].bin. A bare model name
// such as "tiny.en" is resolved inside LoadConfig.ModelDir using the
// requested precision; a value ending in ".bin" or containing a path
// separator is used as a file path verbatim. [Engine.Prefetch] downloads
// missing named models from the upstream whisper.cpp model repository.
//
// Accelerated loads are only attempted when a CUDA device node is present.
// CPU loads hide CUDA devices from the process before the model is created,
// so a GPU-enabled libwhisper build stays on the CPU.
package whisper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/spf13/afero"

	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
)

var (
	_ stt.Engine     = (*Engine)(nil)
	_ stt.Prefetcher = (*Engine)(nil)
)

// Option configures an [Engine].
type Option func(*Engine)

// WithFs sets the filesystem used for model lookup, device probing and
// downloads. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(e *Engine) { e.fs = fs }
}

// WithProbe overrides accelerator detection.
func WithProbe(probe func() bool) Option {
	return func(e *Engine) { e.probe = probe }
}

// WithHTTPClient sets the client used by Prefetch.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithBaseURL sets the download base URL used by Prefetch.
func WithBaseURL(u string) Option {
	return func(e *Engine) { e.baseURL = u }
}

// Engine loads whisper.cpp models.
type Engine struct {
	fs      afero.Fs
	probe   func() bool
	client  *http.Client
	baseURL string
}

// New returns an Engine with defaults applied.
func New(opts ...Option) *Engine {
	e := &Engine{
		fs:      afero.NewOsFs(),
		client:  &http.Client{Timeout: 10 * time.Minute},
		baseURL: DefaultBaseURL,
	}
	for _, o := range opts {
		o(e)
	}
	if e.probe == nil {
		fs := e.fs
		e.probe = func() bool { return AcceleratorAvailable(fs) }
	}
	return e
}

// Load resolves the model file and initialises it on cfg.Device.
func (e *Engine) Load(ctx context.Context, cfg stt.LoadConfig) (stt.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := ResolvePath(cfg.ModelDir, cfg.ModelID, cfg.Precision)
	if _, err := e.fs.Stat(path); err != nil {
		return nil, fmt.Errorf("whisper: model file %s: %w", path, err)
	}

	switch cfg.Device {
	case stt.DeviceAccelerated:
		if !e.probe() {
			return nil, fmt.Errorf("whisper: %w: no CUDA device node found", stt.ErrDeviceUnavailable)
		}
	case stt.DeviceCPU:
		if err := os.Setenv("CUDA_VISIBLE_DEVICES", ""); err != nil {
			slog.Warn("whisper: could not hide CUDA devices", "err", err)
		}
	default:
		return nil, fmt.Errorf("whisper: unknown device %q", cfg.Device)
	}

	start := time.Now()
	m, err := whisperlib.New(path)
	if err != nil {
		if cfg.Device == stt.DeviceAccelerated {
			return nil, fmt.Errorf("whisper: %w: load %s: %v", stt.ErrDeviceUnavailable, path, err)
		}
		return nil, fmt.Errorf("whisper: load %s: %w", path, err)
	}
	slog.Info("whisper model loaded",
		"path", path,
		"device", cfg.Device,
		"precision", cfg.Precision,
		"multilingual", m.IsMultilingual(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return &Model{
		model:    m,
		device:   cfg.Device,
		language: cfg.Language,
		threads:  cfg.Threads,
	}, nil
}
