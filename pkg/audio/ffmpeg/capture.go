// Package ffmpeg captures audio by running an ffmpeg subprocess that writes
// raw s16le mono PCM to stdout. It is the fallback capture path on hosts
// where PortAudio is not installed but ffmpeg can reach the input device
// (PulseAudio, ALSA, avfoundation, dshow).
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/voxtrigger/pkg/audio"
)

var _ audio.Source = (*Capture)(nil)

// Config selects the ffmpeg input.
type Config struct {
	// Command is the ffmpeg binary. Defaults to "ffmpeg".
	Command string

	// InputFormat is passed to -f. Defaults to "pulse".
	InputFormat string

	// InputDevice is passed to -i. Defaults to "default".
	InputDevice string

	// SampleRate is the output rate. Defaults to 16000.
	SampleRate int

	// FrameMs is the frame duration. Defaults to 20.
	FrameMs int

	// Buffer is the frame channel capacity. Defaults to 64.
	Buffer int
}

// Capture is an [audio.Source] reading from an ffmpeg subprocess.
type Capture struct {
	cfg Config

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  bytes.Buffer
	waitErr chan error
	emitter *audio.Emitter

	stopOnce sync.Once
	stopErr  error
}

// New returns an unstarted Capture with defaults applied to cfg.
func New(cfg Config) *Capture {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = audio.DefaultFrameMs
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Capture{cfg: cfg}
}

// Args returns the ffmpeg argument list for the configured input.
func (c *Capture) Args() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.cfg.InputFormat,
		"-i", c.cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(c.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Start launches ffmpeg and begins framing its output. If ffmpeg exits within
// the first 250 ms the device is considered unavailable.
func (c *Capture) Start(ctx context.Context) (<-chan audio.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil {
		return nil, errors.New("ffmpeg: capture already started")
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command, c.Args()...)
	cmd.Stderr = &c.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", audio.ErrDeviceUnavailable, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		msg := bytes.TrimSpace(c.stderr.Bytes())
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", audio.ErrDeviceUnavailable, err, msg)
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", audio.ErrDeviceUnavailable)
	case <-time.After(250 * time.Millisecond):
	}

	c.cmd = cmd
	c.stdout = stdout
	c.waitErr = waitErr
	c.emitter = audio.NewEmitter(c.cfg.Buffer)

	slog.Info("ffmpeg capture started",
		"format", c.cfg.InputFormat,
		"device", c.cfg.InputDevice,
		"sample_rate", c.cfg.SampleRate,
	)

	go c.readLoop()
	return c.emitter.C(), nil
}

func (c *Capture) readLoop() {
	defer c.emitter.Close()

	framer := audio.NewFramer(c.cfg.SampleRate, c.cfg.FrameMs)
	buf := make([]byte, audio.FrameBytes(c.cfg.SampleRate, c.cfg.FrameMs))
	for {
		n, err := c.stdout.Read(buf)
		if n > 0 {
			for _, f := range framer.Push(buf[:n]) {
				c.emitter.Send(f)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Warn("ffmpeg read ended", "err", err)
			}
			return
		}
	}
}

// Close interrupts ffmpeg, waits up to 1.2 s for it to exit and then kills it.
func (c *Capture) Close() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cmd := c.cmd
		c.mu.Unlock()
		if cmd == nil {
			return
		}

		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case err, ok := <-c.waitErr:
			if ok {
				c.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			_ = cmd.Process.Kill()
			if err, ok := <-c.waitErr; ok {
				c.stopErr = normalizeStopErr(err)
			}
		}

		if err := c.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && c.stopErr == nil {
			c.stopErr = err
		}
		slog.Info("ffmpeg capture stopped", "dropped_frames", c.emitter.DroppedFrames())
	})
	return c.stopErr
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

// normalizeStopErr treats a non-zero exit after our interrupt as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
