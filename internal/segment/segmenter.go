package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxtrigger/pkg/audio"
	"github.com/MrWong99/voxtrigger/pkg/provider/vad"
)

// ErrFrameSize is returned by [Segmenter.Submit] for frames whose length does
// not match the configured sample rate and frame duration.
var ErrFrameSize = errors.New("segment: wrong frame size")

// State is the segmenter's position in the speech state machine.
type State int

const (
	// Silence: no segment open.
	Silence State = iota

	// Speech: a segment is open and speech is ongoing.
	Speech

	// TrailingSilence: a segment is open and the hangover window is running.
	TrailingSilence
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Silence:
		return "silence"
	case Speech:
		return "speech"
	case TrailingSilence:
		return "trailing_silence"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Classifier labels a single frame. [vad.SessionHandle] satisfies it.
type Classifier interface {
	ProcessFrame(frame []byte) (vad.Decision, error)
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithDiscardHook registers fn to be called whenever a closed segment is
// dropped for being shorter than MinSegment.
func WithDiscardHook(fn func(d time.Duration)) Option {
	return func(s *Segmenter) { s.onDiscard = fn }
}

// Segmenter groups classified frames into [Segment] values. It is driven by a
// single goroutine and is not safe for concurrent use.
type Segmenter struct {
	cfg Config
	cls Classifier

	frameBytes    int
	frameDur      time.Duration
	maxFrames     int
	minFrames     int
	hangFrames    int
	preRollFrames int
	smooth        int

	state      State
	history    []audio.Frame // recent frames while in Silence, for pre-roll
	frames     []audio.Frame // the open segment
	speechRun  int
	silenceRun int

	onDiscard func(time.Duration)
}

// New returns a Segmenter. Zero fields in cfg take their defaults.
func New(cfg Config, cls Classifier, opts ...Option) (*Segmenter, error) {
	if cls == nil {
		return nil, errors.New("segment: classifier is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("segment: invalid config: %w", err)
	}
	s := &Segmenter{
		cfg:           cfg,
		cls:           cls,
		frameBytes:    audio.FrameBytes(cfg.SampleRate, cfg.FrameMs),
		frameDur:      time.Duration(cfg.FrameMs) * time.Millisecond,
		maxFrames:     framesFloor(cfg.MaxSegment, cfg.FrameMs),
		minFrames:     framesCeil(cfg.MinSegment, cfg.FrameMs),
		hangFrames:    max(framesFloor(cfg.Hangover, cfg.FrameMs), cfg.SmoothingFrames),
		preRollFrames: framesFloor(cfg.PreRoll, cfg.FrameMs),
		smooth:        cfg.SmoothingFrames,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Segmenter) Config() Config { return s.cfg }

// State returns the current state.
func (s *Segmenter) State() State { return s.state }

// Submit classifies f and advances the state machine. It returns the segment
// completed by this frame, or nil when none is.
func (s *Segmenter) Submit(f audio.Frame) (*Segment, error) {
	if len(f.Data) != s.frameBytes {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(f.Data), s.frameBytes)
	}
	d, err := s.cls.ProcessFrame(f.Data)
	if err != nil {
		return nil, fmt.Errorf("segment: classify frame %d: %w", f.Seq, err)
	}
	return s.step(f, d.Speech), nil
}

func (s *Segmenter) step(f audio.Frame, speech bool) *Segment {
	switch s.state {
	case Silence:
		s.remember(f)
		if !speech {
			s.speechRun = 0
			return nil
		}
		s.speechRun++
		if s.speechRun < s.smooth {
			return nil
		}
		s.open()

	case Speech:
		s.frames = append(s.frames, f)
		if speech {
			s.silenceRun = 0
		} else {
			s.silenceRun++
			if s.silenceRun >= s.smooth {
				s.state = TrailingSilence
				s.speechRun = 0
			}
		}

	case TrailingSilence:
		s.frames = append(s.frames, f)
		if speech {
			s.speechRun++
			if s.speechRun >= s.smooth {
				s.state = Speech
				s.speechRun = 0
				s.silenceRun = 0
			}
		} else {
			s.speechRun = 0
			s.silenceRun++
		}
	}

	if s.state == TrailingSilence && s.silenceRun >= s.hangFrames {
		return s.close(false)
	}
	if s.state != Silence && len(s.frames) >= s.maxFrames {
		return s.close(true)
	}
	return nil
}

// remember keeps the most recent frames needed for pre-roll plus the
// smoothing run that may open a segment.
func (s *Segmenter) remember(f audio.Frame) {
	keep := s.preRollFrames + s.smooth
	s.history = append(s.history, f)
	if len(s.history) > keep {
		s.history = append(s.history[:0], s.history[len(s.history)-keep:]...)
	}
}

// open starts a segment from the pre-roll and the smoothing run in history.
func (s *Segmenter) open() {
	take := min(len(s.history), s.preRollFrames+s.speechRun, s.maxFrames)
	s.frames = make([]audio.Frame, take, s.maxFrames)
	copy(s.frames, s.history[len(s.history)-take:])
	s.history = s.history[:0]
	s.state = Speech
	s.speechRun = 0
	s.silenceRun = 0
}

// close ends the open segment and returns it if it is long enough.
func (s *Segmenter) close(forced bool) *Segment {
	frames := s.frames
	s.frames = nil
	s.state = Silence
	s.speechRun = 0
	s.silenceRun = 0

	dur := time.Duration(len(frames)) * s.frameDur
	if len(frames) < s.minFrames {
		slog.Debug("segment discarded: too short", "duration", dur, "min", s.cfg.MinSegment)
		if s.onDiscard != nil {
			s.onDiscard(dur)
		}
		return nil
	}
	return &Segment{
		ID:          newID(),
		Start:       frames[0].Timestamp,
		Duration:    dur,
		Frames:      frames,
		ForceClosed: forced,
	}
}

// Flush closes any open segment at end of stream, applying the usual
// minimum-length rule.
func (s *Segmenter) Flush() *Segment {
	if s.state == Silence {
		s.history = s.history[:0]
		s.speechRun = 0
		return nil
	}
	return s.close(false)
}

// Reset drops all state, including any open segment.
func (s *Segmenter) Reset() {
	s.state = Silence
	s.history = nil
	s.frames = nil
	s.speechRun = 0
	s.silenceRun = 0
}
