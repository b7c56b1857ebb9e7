// Package segment turns a stream of classified audio frames into bounded
// speech segments ready for transcription.
//
// The [Segmenter] is a three-state machine (Silence, Speech, TrailingSilence)
// driven one frame at a time. Raw per-frame classifications are smoothed: a
// state change needs SmoothingFrames consecutive frames of the new label, so
// a single flickering frame never opens or closes a segment. Segments carry
// a short pre-roll of the frames preceding speech onset and the hangover
// frames after it, and are always between MinSegment and MaxSegment long.
//
// Durations are counted in frames, never by wall clock, so replaying the
// same audio always yields the same segments.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxtrigger/pkg/audio"
)

// Config controls segmentation. Zero fields take the values from
// [DefaultConfig].
type Config struct {
	SampleRate int
	FrameMs    int

	// MaxSegment force-closes a segment once reached.
	MaxSegment time.Duration

	// MinSegment is the shortest segment emitted; shorter ones are discarded.
	MinSegment time.Duration

	// Hangover is how long inactivity must last before a segment closes.
	// Negative disables it, leaving only the smoothing frames.
	Hangover time.Duration

	// PreRoll is how much audio preceding speech onset is prepended.
	// Negative disables it.
	PreRoll time.Duration

	// SmoothingFrames is the number of consecutive frames with the same raw
	// classification required before a transition.
	SmoothingFrames int
}

// DefaultConfig returns the standard 20 ms / 2 s / 250 ms / 120 ms settings.
func DefaultConfig() Config {
	return Config{
		SampleRate:      audio.DefaultSampleRate,
		FrameMs:         audio.DefaultFrameMs,
		MaxSegment:      2 * time.Second,
		MinSegment:      250 * time.Millisecond,
		Hangover:        120 * time.Millisecond,
		PreRoll:         100 * time.Millisecond,
		SmoothingFrames: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.FrameMs == 0 {
		c.FrameMs = d.FrameMs
	}
	if c.MaxSegment == 0 {
		c.MaxSegment = d.MaxSegment
	}
	if c.MinSegment == 0 {
		c.MinSegment = d.MinSegment
	}
	if c.SmoothingFrames == 0 {
		c.SmoothingFrames = d.SmoothingFrames
	}
	c.Hangover = orDefault(c.Hangover, d.Hangover)
	c.PreRoll = orDefault(c.PreRoll, d.PreRoll)
	return c
}

// orDefault returns def for zero and zero for negative durations.
func orDefault(v, def time.Duration) time.Duration {
	switch {
	case v == 0:
		return def
	case v < 0:
		return 0
	}
	return v
}

// Validate reports every inconsistency in c.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.SampleRate))
	}
	if c.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("frame duration %d ms must be positive", c.FrameMs))
	}
	if c.MinSegment <= 0 {
		errs = append(errs, fmt.Errorf("min segment %v must be positive", c.MinSegment))
	}
	if c.MaxSegment < c.MinSegment {
		errs = append(errs, fmt.Errorf("max segment %v is shorter than min segment %v", c.MaxSegment, c.MinSegment))
	}
	if c.SmoothingFrames < 1 {
		errs = append(errs, fmt.Errorf("smoothing frames %d must be at least 1", c.SmoothingFrames))
	}
	if c.Hangover < 0 || c.PreRoll < 0 {
		errs = append(errs, errors.New("hangover and pre-roll must not be negative"))
	}
	if c.FrameMs > 0 {
		maxFrames := framesFloor(c.MaxSegment, c.FrameMs)
		if maxFrames < c.SmoothingFrames {
			errs = append(errs, fmt.Errorf("max segment %v holds fewer than %d frames", c.MaxSegment, c.SmoothingFrames))
		}
		if maxFrames < framesCeil(c.MinSegment, c.FrameMs) {
			errs = append(errs, fmt.Errorf("max segment %v rounds below min segment %v at %d ms frames", c.MaxSegment, c.MinSegment, c.FrameMs))
		}
	}
	return errors.Join(errs...)
}

// Segment is a contiguous run of frames judged to contain speech.
// It is handed to inference exactly once.
type Segment struct {
	ID string

	// Start is the timestamp of the first frame (pre-roll included).
	Start time.Duration

	// Duration is len(Frames) × frame duration.
	Duration time.Duration

	Frames []audio.Frame

	// ForceClosed is set when the segment was cut at MaxSegment rather than
	// closed by trailing silence.
	ForceClosed bool
}

// PCM returns the concatenated frame data.
func (s *Segment) PCM() []byte {
	if len(s.Frames) == 0 {
		return nil
	}
	out := make([]byte, 0, len(s.Frames)*len(s.Frames[0].Data))
	for _, f := range s.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Samples returns the segment as float32 samples in [-1, 1].
func (s *Segment) Samples() []float32 {
	return audio.PCMToFloat32(s.PCM())
}

func newID() string { return uuid.NewString() }

func framesFloor(d time.Duration, frameMs int) int {
	return int(d / (time.Duration(frameMs) * time.Millisecond))
}

func framesCeil(d time.Duration, frameMs int) int {
	fd := time.Duration(frameMs) * time.Millisecond
	return int((d + fd - 1) / fd)
}
