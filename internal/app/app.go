// Package app wires the voxtrigger subsystems into a running pipeline.
//
// The App owns the full lifecycle: New builds every component from the
// config, Run drives the capture, inference, result, injection and control
// loops, and Shutdown tears everything down in order.
//
// The inference adapter and the trigger table are passed in already loaded,
// because failing to load either is a startup error the caller reports.
// For testing, inject doubles via functional options (WithSource, WithVAD,
// WithRunner, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtrigger/internal/config"
	"github.com/MrWong99/voxtrigger/internal/control"
	"github.com/MrWong99/voxtrigger/internal/dispatch"
	"github.com/MrWong99/voxtrigger/internal/health"
	"github.com/MrWong99/voxtrigger/internal/inference"
	"github.com/MrWong99/voxtrigger/internal/observe"
	"github.com/MrWong99/voxtrigger/internal/segment"
	"github.com/MrWong99/voxtrigger/internal/trigger"
	"github.com/MrWong99/voxtrigger/pkg/audio"
	"github.com/MrWong99/voxtrigger/pkg/audio/ffmpeg"
	"github.com/MrWong99/voxtrigger/pkg/audio/portaudio"
	"github.com/MrWong99/voxtrigger/pkg/audio/wavfile"
	"github.com/MrWong99/voxtrigger/pkg/provider/vad"
	"github.com/MrWong99/voxtrigger/pkg/provider/vad/energy"
	"github.com/MrWong99/voxtrigger/pkg/provider/vad/webrtc"
)

// ErrAlreadyRunning is returned by a second call to [App.Run].
var ErrAlreadyRunning = errors.New("app: already running")

// DefaultActionGrace is how long Shutdown waits for started actions before
// leaving them to run detached.
const DefaultActionGrace = 2 * time.Second

// errInputEnded stops the run group once a finite input has been processed.
var errInputEnded = errors.New("app: capture input ended")

// Deps are the components loaded before the pipeline is assembled.
type Deps struct {
	// Adapter must already be loaded.
	Adapter *inference.Adapter

	// Table is the initial trigger table. Nil uses [trigger.DefaultTable].
	Table *trigger.Table
}

// App owns all subsystem lifetimes and orchestrates the voice-trigger pipeline.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	source     audio.Source
	vadEngine  vad.Engine
	vadSession vad.SessionHandle
	segmenter  *segment.Segmenter
	adapter    *inference.Adapter
	matcher    *trigger.Matcher
	table      *trigger.Table
	state      *control.RunState
	runner     dispatch.Runner
	dispatcher *dispatch.Dispatcher
	plane      *control.Plane
	listener   *control.Listener
	notifier   *control.Notifier

	matcherOpts []trigger.Option
	actionGrace time.Duration
	capturing   health.Flag
	running     atomic.Bool

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a capture source instead of building one from config.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithVAD injects a VAD engine instead of building one from config.
func WithVAD(e vad.Engine) Option {
	return func(a *App) { a.vadEngine = e }
}

// WithRunner injects the command runner instead of a [dispatch.ShellRunner].
func WithRunner(r dispatch.Runner) Option {
	return func(a *App) { a.runner = r }
}

// WithState injects the run state shared with the control plane.
func WithState(s *control.RunState) Option {
	return func(a *App) { a.state = s }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMatcherOptions passes opts to the trigger matcher.
func WithMatcherOptions(opts ...trigger.Option) Option {
	return func(a *App) { a.matcherOpts = append(a.matcherOpts, opts...) }
}

// WithActionGrace sets how long Shutdown waits for running actions.
func WithActionGrace(d time.Duration) Option {
	return func(a *App) { a.actionGrace = d }
}

// New creates an App by wiring all subsystems together. Nothing is started:
// devices are opened and sockets bound by Run.
func New(cfg *config.Config, deps Deps, opts ...Option) (*App, error) {
	if deps.Adapter == nil {
		return nil, errors.New("app: inference adapter is required")
	}
	a := &App{cfg: cfg, adapter: deps.Adapter, actionGrace: DefaultActionGrace}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	table := deps.Table
	if table == nil {
		table = trigger.DefaultTable()
	}
	a.table = table

	if err := a.initCapture(); err != nil {
		return nil, err
	}

	cooldown := cfg.Matcher.Cooldown
	if cooldown == 0 {
		cooldown = -1
	}
	a.matcher = trigger.NewMatcher(trigger.Config{
		Threshold:        cfg.Matcher.Threshold,
		MinChars:         cfg.Matcher.MinChars,
		Cooldown:         cooldown,
		RequireAllTokens: cfg.Matcher.RequireAllTokens,
		Phonetic:         cfg.Matcher.Phonetic,
	}, a.matcherOpts...)

	if a.state == nil {
		a.state = control.NewRunState(cfg.Control.AllowRemoteCommands)
	}
	if a.runner == nil {
		a.runner = dispatch.NewShellRunner(
			dispatch.WithShell(cfg.Dispatch.Shell),
			dispatch.WithTimeout(cfg.Dispatch.Timeout),
			dispatch.WithMaxConcurrent(cfg.Dispatch.MaxConcurrent),
		)
	}
	a.dispatcher = dispatch.New(a.runner, a.state, dispatch.WithMetrics(a.metrics))

	a.plane = control.NewPlane(a.state, table, cfg.Control.Token,
		control.WithInjectionBuffer(cfg.Control.InjectionBuffer),
		control.WithPlaneMetrics(a.metrics),
	)
	if cfg.Control.Enabled {
		addr := net.JoinHostPort(cfg.Control.Host, strconv.Itoa(cfg.Control.Port))
		a.listener = control.NewListener(addr, a.plane)
	}
	if cfg.Control.OutHost != "" {
		addr := net.JoinHostPort(cfg.Control.OutHost, strconv.Itoa(cfg.Control.OutPort))
		a.notifier = control.NewNotifier(addr, cfg.Control.Token)
		a.closers = append(a.closers, a.notifier.Close)
	}

	// The model goes last: it must outlive an abandoned transcription.
	a.closers = append(a.closers, a.adapter.Close)
	return a, nil
}

// initCapture builds the source, the VAD session and the segmenter.
func (a *App) initCapture() error {
	cfg := a.cfg
	if a.source == nil {
		a.source = newSource(cfg.Audio)
	}
	a.closers = append(a.closers, a.source.Close)

	if a.vadEngine == nil {
		switch cfg.VAD.Kind {
		case config.VADEnergy:
			a.vadEngine = energy.New()
		default:
			a.vadEngine = webrtc.New()
		}
	}
	sess, err := a.vadEngine.NewSession(vad.Config{
		SampleRate:      audio.DefaultSampleRate,
		FrameSizeMs:     audio.DefaultFrameMs,
		Aggressiveness:  cfg.VAD.Level,
		SpeechThreshold: cfg.VAD.Threshold,
	})
	if err != nil {
		return fmt.Errorf("app: create vad session: %w", err)
	}
	a.vadSession = sess
	a.closers = append(a.closers, sess.Close)

	// Zero in the config means "off"; the segmenter reads zero as "default".
	preRoll, hangover := cfg.Segment.PreRoll, cfg.Segment.SpeechPad
	if preRoll == 0 {
		preRoll = -1
	}
	if hangover == 0 {
		hangover = -1
	}
	a.segmenter, err = segment.New(segment.Config{
		SampleRate:      audio.DefaultSampleRate,
		FrameMs:         audio.DefaultFrameMs,
		MaxSegment:      cfg.Segment.MaxSegment,
		MinSegment:      cfg.Segment.MinSpeech,
		Hangover:        hangover,
		PreRoll:         preRoll,
		SmoothingFrames: cfg.Segment.SmoothingFrames,
	}, sess, segment.WithDiscardHook(func(d time.Duration) {
		slog.Debug("segment too short, discarded", "duration", d)
		a.metrics.RecordSegment(context.Background(), observe.OutcomeDiscarded)
	}))
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

func newSource(cfg config.AudioConfig) audio.Source {
	switch cfg.Input {
	case config.InputFFmpeg:
		return ffmpeg.New(ffmpeg.Config{
			InputFormat: cfg.FFmpegFormat,
			InputDevice: cfg.Device,
		})
	case config.InputWAV:
		return wavfile.New(cfg.File, wavfile.WithRealtime(cfg.Realtime))
	default:
		return portaudio.New(portaudio.WithDevice(cfg.Device))
	}
}

// Run opens the capture device, binds the control socket and blocks until
// ctx is cancelled or a finite input has been fully processed. Failing to
// open the device or bind the socket is returned immediately.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if a.listener != nil {
		if err := a.listener.Bind(); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	frames, err := a.source.Start(ctx)
	if err != nil {
		return fmt.Errorf("app: start capture: %w", err)
	}
	a.capturing.Set(true)
	defer a.capturing.Set(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.adapter.Run(gctx) })
	g.Go(func() error { return a.captureLoop(gctx, frames) })
	g.Go(func() error { return a.resultLoop(gctx) })
	g.Go(func() error { return a.injectionLoop(gctx) })
	if a.listener != nil {
		g.Go(func() error { return a.listener.Listen(gctx) })
	}

	slog.Info("pipeline running",
		"input", a.cfg.Audio.Input,
		"device", a.adapter.Device(),
		"triggers", a.Table().Len(),
		"control", a.listener != nil,
	)

	err = g.Wait()
	if errors.Is(err, errInputEnded) {
		slog.Info("capture input ended, pipeline stopped")
		return nil
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems: capture first so no new audio enters,
// then the VAD session, the notifier and finally the model. Running actions
// get a short grace period and are then left running; they never fail the
// shutdown. If ctx expires, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		if w, ok := a.runner.(interface{ Wait(context.Context) error }); ok {
			graceCtx, cancel := context.WithTimeout(ctx, a.actionGrace)
			if err := w.Wait(graceCtx); err != nil {
				slog.Info("leaving actions running", "grace", a.actionGrace)
			}
			cancel()
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// Table returns the active trigger table.
func (a *App) Table() *trigger.Table { return a.table }

// State returns the run state shared with the control plane.
func (a *App) State() *control.RunState { return a.state }

// Listener returns the control listener, or nil when control is disabled.
func (a *App) Listener() *control.Listener { return a.listener }

// Checkers returns the readiness checks for the admin server.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{
		health.Condition("inference", "model not loaded", a.adapter.Loaded),
		a.capturing.Checker("capture", "capture not running"),
	}
	if a.listener != nil {
		checks = append(checks, health.Condition("control", "udp socket not bound", a.listener.Bound))
	}
	return checks
}

// Status is the document served on /status.
type Status struct {
	Paused              bool   `json:"paused"`
	AllowRemoteCommands bool   `json:"allow_remote_commands"`
	Device              string `json:"device"`
	Precision           string `json:"precision"`
	FellBack            bool   `json:"fell_back"`
	Pending             int    `json:"pending_segments"`
	Dropped             uint64 `json:"dropped_segments"`
	Triggers            int    `json:"triggers"`
}

// Status reports the live pipeline state.
func (a *App) Status() Status {
	snap := a.state.Snapshot()
	return Status{
		Paused:              snap.Paused,
		AllowRemoteCommands: snap.AllowRemoteCommands,
		Device:              string(a.adapter.Device()),
		Precision:           string(a.adapter.Precision()),
		FellBack:            a.adapter.FellBack(),
		Pending:             a.adapter.Pending(),
		Dropped:             a.adapter.Dropped(),
		Triggers:            a.Table().Len(),
	}
}
