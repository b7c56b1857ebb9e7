package segment_test

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxtrigger/internal/segment"
	"github.com/MrWong99/voxtrigger/pkg/audio"
	audiomock "github.com/MrWong99/voxtrigger/pkg/audio/mock"
	"github.com/MrWong99/voxtrigger/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxtrigger/pkg/provider/vad/mock"
)

// run feeds one frame per pattern character through a segmenter configured
// with cfg and returns every emitted segment, including the flushed tail.
func run(t *testing.T, cfg segment.Config, pattern string, opts ...segment.Option) []*segment.Segment {
	t.Helper()
	return runScript(t, cfg, vadmock.Pattern(pattern), opts...)
}

func runScript(t *testing.T, cfg segment.Config, script []vad.Decision, opts ...segment.Option) []*segment.Segment {
	t.Helper()
	seg, err := segment.New(cfg, &vadmock.Session{Script: script}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var out []*segment.Segment
	for _, f := range audiomock.MakeFrames(len(script), 16000, 20, 1000) {
		s, err := seg.Submit(f)
		if err != nil {
			t.Fatalf("Submit frame %d: %v", f.Seq, err)
		}
		if s != nil {
			out = append(out, s)
		}
	}
	if s := seg.Flush(); s != nil {
		out = append(out, s)
	}
	return out
}

func TestSegmenter_Utterance(t *testing.T) {
	pattern := strings.Repeat(".", 10) + strings.Repeat("S", 20) + strings.Repeat(".", 10)
	segs := run(t, segment.DefaultConfig(), pattern)
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	s := segs[0]
	// 5 pre-roll + 20 speech + 6 hangover frames.
	if len(s.Frames) != 31 {
		t.Errorf("frames = %d, want 31", len(s.Frames))
	}
	if s.Duration != 620*time.Millisecond {
		t.Errorf("Duration = %v, want 620ms", s.Duration)
	}
	if s.Start != 100*time.Millisecond {
		t.Errorf("Start = %v, want 100ms (pre-roll from frame 5)", s.Start)
	}
	if s.ForceClosed {
		t.Error("segment closed by silence must not be ForceClosed")
	}
	if s.ID == "" {
		t.Error("segment has no ID")
	}
	if got := len(s.Samples()); got != 31*320 {
		t.Errorf("Samples = %d, want %d", got, 31*320)
	}
}

func TestSegmenter_IsolatedFlickerNeverOpens(t *testing.T) {
	patterns := []string{
		"....S....",
		"S.S.S.S.S.S.S.S.S.S.S.S.S",
		strings.Repeat("SS.", 40),
	}
	for _, p := range patterns {
		if segs := run(t, segment.DefaultConfig(), p); len(segs) != 0 {
			t.Errorf("pattern %q: got %d segments, want 0", p, len(segs))
		}
	}
}

func TestSegmenter_ShortSegmentDiscarded(t *testing.T) {
	cfg := segment.DefaultConfig()
	cfg.PreRoll = -1 // disable so only speech + hangover count

	var discarded []time.Duration
	hook := segment.WithDiscardHook(func(d time.Duration) { discarded = append(discarded, d) })

	// 3 speech + 6 hangover = 180 ms < 250 ms.
	segs := run(t, cfg, "..SSS.........", hook)
	if len(segs) != 0 {
		t.Fatalf("got %d segments, want 0", len(segs))
	}
	if len(discarded) != 1 || discarded[0] != 180*time.Millisecond {
		t.Errorf("discarded = %v, want [180ms]", discarded)
	}
}

func TestSegmenter_ForceCloseAtMax(t *testing.T) {
	segs := run(t, segment.DefaultConfig(), strings.Repeat("S", 250))
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	for i, s := range segs[:2] {
		if !s.ForceClosed {
			t.Errorf("segment %d: expected ForceClosed", i)
		}
		if s.Duration != 2*time.Second {
			t.Errorf("segment %d: Duration = %v, want 2s", i, s.Duration)
		}
	}
	if segs[2].ForceClosed {
		t.Error("flushed tail must not be ForceClosed")
	}
	if segs[2].Duration != time.Second {
		t.Errorf("tail Duration = %v, want 1s", segs[2].Duration)
	}
}

func TestSegmenter_ActivityWithinHangoverCancelsClose(t *testing.T) {
	// 4 silent frames reach TrailingSilence but not the 6-frame hangover.
	pattern := strings.Repeat("S", 20) + "...." + "SSSSS" + strings.Repeat(".", 10)
	segs := run(t, segment.DefaultConfig(), pattern)
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
}

func TestSegmenter_NegativeHangoverDisables(t *testing.T) {
	cfg := segment.DefaultConfig()
	cfg.Hangover = -1
	seg, err := segment.New(cfg, &vadmock.Session{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := seg.Config().Hangover; got != 0 {
		t.Errorf("Hangover = %v, want 0", got)
	}

	// The same gap that stays inside the default hangover now splits the
	// utterance after the smoothing frames.
	pattern := strings.Repeat("S", 20) + "...." + strings.Repeat("S", 20) + strings.Repeat(".", 10)
	if segs := run(t, cfg, pattern); len(segs) != 2 {
		t.Errorf("got %d segments, want 2", len(segs))
	}
}

func TestSegmenter_FlickerDuringHangoverDoesNotReopen(t *testing.T) {
	pattern := strings.Repeat("S", 20) + "...S...." + strings.Repeat("S", 20) + strings.Repeat(".", 10)
	segs := run(t, segment.DefaultConfig(), pattern)
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
}

func TestSegmenter_WrongFrameSize(t *testing.T) {
	seg, err := segment.New(segment.DefaultConfig(), &vadmock.Session{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = seg.Submit(audio.Frame{Data: make([]byte, 960), SampleRate: 16000})
	if !errors.Is(err, segment.ErrFrameSize) {
		t.Fatalf("err = %v, want ErrFrameSize", err)
	}
}

func TestSegmenter_ClassifierError(t *testing.T) {
	boom := errors.New("boom")
	seg, err := segment.New(segment.DefaultConfig(), &vadmock.Session{ProcessFrameErr: boom})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = seg.Submit(audiomock.MakeFrames(1, 16000, 20, 0)[0])
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestSegmenter_Reset(t *testing.T) {
	seg, err := segment.New(segment.DefaultConfig(), &vadmock.Session{Default: vad.Decision{Speech: true}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, f := range audiomock.MakeFrames(10, 16000, 20, 0) {
		if _, err := seg.Submit(f); err != nil {
			t.Fatal(err)
		}
	}
	if seg.State() != segment.Speech {
		t.Fatalf("State = %v, want speech", seg.State())
	}
	seg.Reset()
	if seg.State() != segment.Silence {
		t.Errorf("State after Reset = %v, want silence", seg.State())
	}
	if s := seg.Flush(); s != nil {
		t.Error("Flush after Reset returned a segment")
	}
}

// Emitted segments stay within [MinSegment, MaxSegment] for arbitrary
// classification sequences and configurations.
func TestSegmenter_BoundsHoldForRandomInput(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	configs := []segment.Config{
		segment.DefaultConfig(),
		{MaxSegment: 400 * time.Millisecond, MinSegment: 300 * time.Millisecond, PreRoll: 300 * time.Millisecond, Hangover: 60 * time.Millisecond, SmoothingFrames: 2},
		{MaxSegment: 1 * time.Second, MinSegment: 40 * time.Millisecond, PreRoll: -1, Hangover: 200 * time.Millisecond, SmoothingFrames: 1},
		{MaxSegment: 260 * time.Millisecond, MinSegment: 240 * time.Millisecond, PreRoll: time.Second, SmoothingFrames: 5},
	}
	for ci, cfg := range configs {
		for trial := range 50 {
			// Bursty script: stay in a run with probability p.
			script := make([]vad.Decision, 600)
			speech := false
			stay := 0.6 + rng.Float64()*0.39
			for i := range script {
				if rng.Float64() > stay {
					speech = !speech
				}
				script[i] = vad.Decision{Speech: speech}
			}
			eff := cfg
			if eff.MinSegment == 0 {
				eff = segment.DefaultConfig()
			}
			for _, s := range runScript(t, cfg, script) {
				if len(s.Frames) == 0 {
					t.Fatalf("config %d trial %d: empty segment", ci, trial)
				}
				if s.Duration < eff.MinSegment || s.Duration > eff.MaxSegment {
					t.Fatalf("config %d trial %d: duration %v outside [%v, %v]",
						ci, trial, s.Duration, eff.MinSegment, eff.MaxSegment)
				}
				if s.Duration != time.Duration(len(s.Frames))*20*time.Millisecond {
					t.Fatalf("config %d trial %d: duration %v disagrees with %d frames", ci, trial, s.Duration, len(s.Frames))
				}
			}
		}
	}
}

func TestSegmenter_Deterministic(t *testing.T) {
	pattern := strings.Repeat("..SSSSSSSSSSSSSSSS.......", 8)
	a := run(t, segment.DefaultConfig(), pattern)
	b := run(t, segment.DefaultConfig(), pattern)
	if len(a) != len(b) {
		t.Fatalf("run lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Start != b[i].Start || a[i].Duration != b[i].Duration {
			t.Errorf("segment %d differs: %v/%v vs %v/%v", i, a[i].Start, a[i].Duration, b[i].Start, b[i].Duration)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := segment.DefaultConfig()
	cfg.MaxSegment = 100 * time.Millisecond
	cfg.MinSegment = 200 * time.Millisecond
	if _, err := segment.New(cfg, &vadmock.Session{}); err == nil {
		t.Fatal("expected error when max < min")
	}
	cfg = segment.DefaultConfig()
	cfg.MaxSegment = 250 * time.Millisecond
	cfg.MinSegment = 250 * time.Millisecond
	if _, err := segment.New(cfg, &vadmock.Session{}); err == nil {
		t.Fatal("expected error when max cannot hold min at frame granularity")
	}
	if _, err := segment.New(segment.DefaultConfig(), nil); err == nil {
		t.Fatal("expected error for nil classifier")
	}
}
