// Package portaudio captures microphone audio through PortAudio and exposes
// it as an [audio.Source] of fixed 20 ms mono frames.
//
// The PortAudio shared library must be installed on the host. The stream is
// opened in blocking mode with a buffer of exactly one frame, so every Read
// yields one frame without further re-chunking.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxtrigger/pkg/audio"
)

var _ audio.Source = (*Capture)(nil)

// Option configures a [Capture].
type Option func(*Capture)

// WithDevice selects an input device by name or numeric index as listed by
// PortAudio. An empty value selects the system default input.
func WithDevice(device string) Option {
	return func(c *Capture) { c.device = device }
}

// WithSampleRate sets the capture rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *Capture) { c.sampleRate = rate }
}

// WithFrameMs sets the frame duration. Defaults to 20 ms.
func WithFrameMs(ms int) Option {
	return func(c *Capture) { c.frameMs = ms }
}

// WithBuffer sets how many frames may queue before new ones are dropped.
// Defaults to 64 (~1.3 s at 20 ms).
func WithBuffer(frames int) Option {
	return func(c *Capture) { c.bufferFrames = frames }
}

// Capture is a PortAudio-backed microphone source.
type Capture struct {
	device       string
	sampleRate   int
	frameMs      int
	bufferFrames int

	mu      sync.Mutex
	stream  *pa.Stream
	emitter *audio.Emitter
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New returns an unstarted Capture.
func New(opts ...Option) *Capture {
	c := &Capture{
		sampleRate:   audio.DefaultSampleRate,
		frameMs:      audio.DefaultFrameMs,
		bufferFrames: 64,
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start initialises PortAudio, opens the input stream and starts the read loop.
func (c *Capture) Start(ctx context.Context) (<-chan audio.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil, errors.New("portaudio: capture already started")
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init: %v", audio.ErrDeviceUnavailable, err)
	}

	buf := make([]int16, audio.FrameSamples(c.sampleRate, c.frameMs))
	stream, err := c.open(buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("%w: start stream: %v", audio.ErrDeviceUnavailable, err)
	}

	c.stream = stream
	c.emitter = audio.NewEmitter(c.bufferFrames)

	slog.Info("portaudio capture started",
		"device", deviceLabel(c.device),
		"sample_rate", c.sampleRate,
		"frame_ms", c.frameMs,
	)

	go c.readLoop(ctx, buf)
	return c.emitter.C(), nil
}

func (c *Capture) open(buf []int16) (*pa.Stream, error) {
	if c.device == "" {
		return pa.OpenDefaultStream(1, 0, float64(c.sampleRate), len(buf), buf)
	}
	dev, err := findDevice(c.device)
	if err != nil {
		return nil, err
	}
	p := pa.LowLatencyParameters(dev, nil)
	p.Input.Channels = 1
	p.SampleRate = float64(c.sampleRate)
	p.FramesPerBuffer = len(buf)
	return pa.OpenStream(p, buf)
}

// readLoop performs blocking reads until ctx or Close stops it.
func (c *Capture) readLoop(ctx context.Context, buf []int16) {
	defer close(c.stopped)
	defer c.emitter.Close()

	framer := audio.NewFramer(c.sampleRate, c.frameMs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
				continue
			}
			slog.Error("portaudio read failed, stopping capture", "err", err)
			return
		}
		for _, f := range framer.Push(audio.Int16ToPCM(buf)) {
			c.emitter.Send(f)
		}
	}
}

// Close stops the read loop, closes the stream and terminates PortAudio.
func (c *Capture) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		stream := c.stream
		c.mu.Unlock()
		if stream == nil {
			return
		}

		<-c.stopped
		err = errors.Join(stream.Stop(), stream.Close(), pa.Terminate())
		slog.Info("portaudio capture stopped", "dropped_frames", c.emitter.DroppedFrames())
	})
	return err
}

// DroppedFrames implements [audio.Dropped].
func (c *Capture) DroppedFrames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitter == nil {
		return 0
	}
	return c.emitter.DroppedFrames()
}

// findDevice resolves name as either a numeric device index or an exact
// device name among devices that have input channels.
func findDevice(name string) (*pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if idx, err := strconv.Atoi(name); err == nil {
		if idx < 0 || idx >= len(devices) {
			return nil, fmt.Errorf("device index %d out of range (have %d)", idx, len(devices))
		}
		if devices[idx].MaxInputChannels < 1 {
			return nil, fmt.Errorf("device %d (%s) has no input channels", idx, devices[idx].Name)
		}
		return devices[idx], nil
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device named %q", name)
}

func deviceLabel(d string) string {
	if d == "" {
		return "default"
	}
	return d
}
