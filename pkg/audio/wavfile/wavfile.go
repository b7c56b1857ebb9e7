// Package wavfile plays a WAV file as an [audio.Source]. It is used for
// offline testing, the self-check tool and the --input wav:<path> mode.
//
// Any PCM WAV (8, 16, 24 or 32 bit, any channel count and sample rate) is
// accepted; audio is downmixed and resampled to the pipeline format before
// framing. The final partial frame is zero-padded.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/MrWong99/voxtrigger/pkg/audio"
)

// ErrInvalidFile is returned when the file is not a readable PCM WAV.
var ErrInvalidFile = errors.New("wavfile: not a valid PCM WAV file")

var _ audio.Source = (*Source)(nil)

// Option configures a [Source].
type Option func(*Source)

// WithFs reads the file from fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Source) { s.fs = fs }
}

// WithRealtime paces frame delivery at wall-clock speed, as a microphone
// would. Without it frames are delivered as fast as the consumer reads them.
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// WithSampleRate sets the output rate. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.sampleRate = rate }
}

// WithFrameMs sets the frame duration. Defaults to 20 ms.
func WithFrameMs(ms int) Option {
	return func(s *Source) { s.frameMs = ms }
}

// Source replays a WAV file as a stream of frames.
type Source struct {
	path       string
	fs         afero.Fs
	realtime   bool
	sampleRate int
	frameMs    int

	mu      sync.Mutex
	started bool
	done    chan struct{}
	once    sync.Once
}

// New returns a Source for the WAV file at path.
func New(path string, opts ...Option) *Source {
	s := &Source{
		path:       path,
		fs:         afero.NewOsFs(),
		sampleRate: audio.DefaultSampleRate,
		frameMs:    audio.DefaultFrameMs,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start decodes the whole file and streams it as frames. Since the file must
// be delivered intact, Start blocks on a full channel instead of dropping.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, errors.New("wavfile: source already started")
	}

	pcm, err := Load(s.fs, s.path, s.sampleRate)
	if err != nil {
		return nil, err
	}
	s.started = true

	frames := audio.NewFramer(s.sampleRate, s.frameMs).Push(padToFrame(pcm, audio.FrameBytes(s.sampleRate, s.frameMs)))
	slog.Debug("wav source loaded", "path", s.path, "frames", len(frames))

	out := make(chan audio.Frame)
	go func() {
		defer close(out)
		var tick <-chan time.Time
		if s.realtime {
			t := time.NewTicker(time.Duration(s.frameMs) * time.Millisecond)
			defer t.Stop()
			tick = t.C
		}
		for _, f := range frames {
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}()
	return out, nil
}

// Close stops delivery.
func (s *Source) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Load decodes the WAV at path into 16-bit mono PCM at sampleRate.
func Load(fs afero.Fs, path string, sampleRate int) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %s: missing format chunk", ErrInvalidFile, path)
	}

	pcm := audio.Int16ToPCM(ToInt16(buf, int(dec.BitDepth)))
	conv := &audio.FormatConverter{
		Source:     audio.Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels},
		TargetRate: sampleRate,
	}
	return conv.Convert(pcm), nil
}

// ToInt16 scales decoded samples of the given bit depth to int16.
func ToInt16(buf *goaudio.IntBuffer, bitDepth int) []int16 {
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch bitDepth {
		case 8:
			out[i] = int16((v - 128) << 8)
		case 24:
			out[i] = int16(v >> 8)
		case 32:
			out[i] = int16(v >> 16)
		default:
			out[i] = int16(v)
		}
	}
	return out
}

func padToFrame(pcm []byte, frameBytes int) []byte {
	if rem := len(pcm) % frameBytes; rem != 0 {
		pcm = append(pcm, make([]byte, frameBytes-rem)...)
	}
	return pcm
}
