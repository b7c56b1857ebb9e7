package app_test

import (
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxtrigger/internal/app"
	"github.com/MrWong99/voxtrigger/internal/config"
	"github.com/MrWong99/voxtrigger/internal/control"
	"github.com/MrWong99/voxtrigger/internal/dispatch"
	dispatchmock "github.com/MrWong99/voxtrigger/internal/dispatch/mock"
	"github.com/MrWong99/voxtrigger/internal/inference"
	"github.com/MrWong99/voxtrigger/internal/observe"
	"github.com/MrWong99/voxtrigger/internal/trigger"
	"github.com/MrWong99/voxtrigger/pkg/audio"
	audiomock "github.com/MrWong99/voxtrigger/pkg/audio/mock"
	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxtrigger/pkg/provider/stt/mock"
	"github.com/MrWong99/voxtrigger/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxtrigger/pkg/provider/vad/mock"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

type harness struct {
	cfg    *config.Config
	source *audiomock.Source
	model  *sttmock.Model
	runner *dispatchmock.Runner
	state  *control.RunState
	reader *sdkmetric.ManualReader
	table  *trigger.Table

	// opts are applied after the harness doubles.
	opts []app.Option
}

func newHarness(t *testing.T, frames []audio.Frame, texts ...string) *harness {
	t.Helper()
	table, err := trigger.NewTable([]trigger.Pair{
		{Phrase: "open browser", Command: "cmd1"},
		{Phrase: "say hello", Command: "cmd2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{
		cfg:    config.Default(),
		source: &audiomock.Source{Frames: frames},
		model:  &sttmock.Model{Texts: texts},
		runner: &dispatchmock.Runner{Ran: make(chan string, 8)},
		state:  control.NewRunState(false),
		reader: sdkmetric.NewManualReader(),
		table:  table,
	}
}

func (h *harness) build(t *testing.T) *app.App {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	adapter := inference.New(&sttmock.Engine{Model: h.model},
		inference.Config{Model: "tiny.en", Policy: inference.PolicyCPU, Language: "en"},
		inference.WithMetrics(metrics),
	)
	if err := adapter.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	a, err := app.New(h.cfg, app.Deps{Adapter: adapter, Table: h.table}, append([]app.Option{
		app.WithSource(h.source),
		app.WithVAD(&vadmock.Engine{Session: &vadmock.Session{Classify: loud}}),
		app.WithRunner(h.runner),
		app.WithState(h.state),
		app.WithMetrics(metrics),
	}, h.opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// segmentCount returns the voxtrigger.segments value for outcome.
func (h *harness) segmentCount(t *testing.T, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "voxtrigger.segments" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("voxtrigger.segments is %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("outcome")); ok && v.AsString() == outcome {
					return dp.Value
				}
			}
		}
	}
	return 0
}

// loud classifies any frame with a non-zero sample as speech.
func loud(frame []byte) vad.Decision {
	for _, b := range frame {
		if b != 0 {
			return vad.Decision{Speech: true, Probability: 1}
		}
	}
	return vad.Decision{}
}

// utterance is 600 ms of speech followed by 400 ms of silence, enough for
// exactly one segment with the default segmentation settings.
func utterance() []audio.Frame {
	speech := audiomock.MakeFrames(30, audio.DefaultSampleRate, audio.DefaultFrameMs, 1000)
	silence := audiomock.MakeFrames(20, audio.DefaultSampleRate, audio.DefaultFrameMs, 0)
	return append(speech, silence...)
}

func runToEnd(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func waitCommand(t *testing.T, r *dispatchmock.Runner) string {
	t.Helper()
	select {
	case cmd := <-r.Ran:
		return cmd
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a dispatched command")
		return ""
	}
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestNew_RequiresAdapter(t *testing.T) {
	_, err := app.New(config.Default(), app.Deps{})
	if err == nil {
		t.Fatal("expected error without an adapter")
	}
}

func TestRun_LocalMatchDispatches(t *testing.T) {
	h := newHarness(t, utterance(), "please open browser")
	a := h.build(t)

	runToEnd(t, a)

	if got := h.runner.Calls(); !slices.Equal(got, []string{"cmd1"}) {
		t.Errorf("commands = %v, want [cmd1]", got)
	}
	if n := h.model.Calls(); n != 1 {
		t.Errorf("transcriptions = %d, want 1", n)
	}
	if n := h.segmentCount(t, observe.OutcomeEmitted); n != 1 {
		t.Errorf("emitted segments = %d, want 1", n)
	}
}

func TestRun_NoMatchDispatchesNothing(t *testing.T) {
	h := newHarness(t, utterance(), "what a lovely day")
	a := h.build(t)

	runToEnd(t, a)

	if got := h.runner.Calls(); len(got) != 0 {
		t.Errorf("commands = %v, want none", got)
	}
}

func TestRun_FlushesSpeechAtEndOfInput(t *testing.T) {
	// The input ends mid-utterance; the open segment is still transcribed.
	speech := audiomock.MakeFrames(30, audio.DefaultSampleRate, audio.DefaultFrameMs, 1000)
	h := newHarness(t, speech, "say hello")
	a := h.build(t)

	runToEnd(t, a)

	if got := h.runner.Calls(); !slices.Equal(got, []string{"cmd2"}) {
		t.Errorf("commands = %v, want [cmd2]", got)
	}
}

func TestRun_ShortNoiseIsDiscarded(t *testing.T) {
	noise := audiomock.MakeFrames(5, audio.DefaultSampleRate, audio.DefaultFrameMs, 1000)
	silence := audiomock.MakeFrames(20, audio.DefaultSampleRate, audio.DefaultFrameMs, 0)
	h := newHarness(t, append(noise, silence...), "open browser")
	a := h.build(t)

	runToEnd(t, a)

	if n := h.model.Calls(); n != 0 {
		t.Errorf("transcriptions = %d, want 0", n)
	}
	if n := h.segmentCount(t, observe.OutcomeDiscarded); n != 1 {
		t.Errorf("discarded segments = %d, want 1", n)
	}
}

func TestRun_PausedAudioIsNeverDispatched(t *testing.T) {
	h := newHarness(t, utterance(), "open browser")
	h.state.SetPaused(true)
	a := h.build(t)

	runToEnd(t, a)

	if got := h.runner.Calls(); len(got) != 0 {
		t.Errorf("commands = %v, want none while paused", got)
	}
	if n := h.model.Calls(); n != 0 {
		t.Errorf("transcriptions = %d, want 0 while paused", n)
	}
	if n := h.segmentCount(t, observe.OutcomePaused); n != 1 {
		t.Errorf("paused segments = %d, want 1", n)
	}
}

func TestRun_ZeroFlagsDisableCooldownAndSpeechPad(t *testing.T) {
	// Two bursts of "say hello" separated by 80 ms of silence.
	burst := audiomock.MakeFrames(20, audio.DefaultSampleRate, audio.DefaultFrameMs, 1000)
	gap := audiomock.MakeFrames(4, audio.DefaultSampleRate, audio.DefaultFrameMs, 0)
	tail := audiomock.MakeFrames(20, audio.DefaultSampleRate, audio.DefaultFrameMs, 0)
	frames := slices.Concat(burst, gap, burst, tail)

	tests := []struct {
		name         string
		args         []string
		wantSegments int64
		wantCommands []string
	}{
		{"defaults", nil, 1, []string{"cmd2"}},
		{"zero", []string{"--cooldown", "0", "--speech-pad-ms", "0"}, 2, []string{"cmd2", "cmd2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, frames, "say hello")
			fs := flag.NewFlagSet("voxtrigger", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			f := config.RegisterFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			f.Apply(h.cfg)
			if err := config.Validate(h.cfg); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			a := h.build(t)

			runToEnd(t, a)

			if n := h.segmentCount(t, observe.OutcomeEmitted); n != tt.wantSegments {
				t.Errorf("emitted segments = %d, want %d", n, tt.wantSegments)
			}
			if got := h.runner.Calls(); !slices.Equal(got, tt.wantCommands) {
				t.Errorf("commands = %v, want %v", got, tt.wantCommands)
			}
		})
	}
}

func TestRun_RemoteTriggerWhilePaused(t *testing.T) {
	h := newHarness(t, nil)
	h.source.HoldOpen = true
	h.cfg.Control.Enabled = true
	h.cfg.Control.Host = "127.0.0.1"
	h.cfg.Control.Port = 0
	h.state.SetPaused(true)
	a := h.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !a.Listener().Bound() {
		if time.Now().After(deadline) {
			t.Fatal("control socket never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	conn, err := net.Dial("udp", a.Listener().Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("TRIGGER:Say Hello")); err != nil {
		t.Fatal(err)
	}

	if cmd := waitCommand(t, h.runner); cmd != "cmd2" {
		t.Errorf("command = %q, want cmd2", cmd)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_Twice(t *testing.T) {
	h := newHarness(t, nil)
	a := h.build(t)

	runToEnd(t, a)
	if err := a.Run(context.Background()); !errors.Is(err, app.ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}
}

func TestRun_SourceStartFails(t *testing.T) {
	h := newHarness(t, nil)
	h.source.StartErr = errors.New("no such device")
	a := h.build(t)

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	a := h.build(t)

	for range 2 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
	if _, closed := h.source.Calls(); closed != 1 {
		t.Errorf("source closed %d times, want 1", closed)
	}
}

func TestShutdown_LeavesLongActionsRunning(t *testing.T) {
	runner := dispatch.NewShellRunner()
	h := newHarness(t, nil)
	h.opts = []app.Option{app.WithRunner(runner), app.WithActionGrace(50 * time.Millisecond)}
	a := h.build(t)

	if err := runner.Run(context.Background(), "sleep 3"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown took %v, want the grace period only", elapsed)
	}
	if runner.Running() != 1 {
		t.Errorf("Running = %d, want the action left running", runner.Running())
	}
}

func TestShutdown_ExpiredDeadline(t *testing.T) {
	h := newHarness(t, nil)
	a := h.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
}

func TestCheckers(t *testing.T) {
	h := newHarness(t, nil)
	if n := len(h.build(t).Checkers()); n != 2 {
		t.Errorf("checkers = %d, want 2 without control", n)
	}

	h = newHarness(t, nil)
	h.cfg.Control.Enabled = true
	h.cfg.Control.Host = "127.0.0.1"
	h.cfg.Control.Port = 0
	checks := h.build(t).Checkers()
	if n := len(checks); n != 3 {
		t.Fatalf("checkers = %d, want 3 with control", n)
	}
	if err := checks[2].Check(context.Background()); err == nil {
		t.Error("control check passed before the socket was bound")
	}
	if err := checks[0].Check(context.Background()); err != nil {
		t.Errorf("inference check: %v", err)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.state.SetPaused(true)
	a := h.build(t)

	st := a.Status()
	if !st.Paused || st.AllowRemoteCommands {
		t.Errorf("status = %+v", st)
	}
	if st.Device != string(stt.DeviceCPU) || st.Triggers != 2 {
		t.Errorf("status = %+v", st)
	}
}
