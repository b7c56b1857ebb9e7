package audio

import (
	"sync/atomic"
	"time"
)

// Framer re-chunks arbitrary-sized PCM reads into exact fixed-duration
// frames. Leftover bytes are carried into the next Push.
// Not safe for concurrent use.
type Framer struct {
	sampleRate int
	frameBytes int
	frameDur   time.Duration
	buf        []byte
	seq        uint64
}

// NewFramer returns a Framer producing frameMs frames of mono PCM at sampleRate.
func NewFramer(sampleRate, frameMs int) *Framer {
	return &Framer{
		sampleRate: sampleRate,
		frameBytes: FrameBytes(sampleRate, frameMs),
		frameDur:   time.Duration(frameMs) * time.Millisecond,
	}
}

// Push appends pcm to the internal buffer and returns every complete frame.
// Each returned frame owns its Data.
func (f *Framer) Push(pcm []byte) []Frame {
	f.buf = append(f.buf, pcm...)
	var out []Frame
	for len(f.buf) >= f.frameBytes {
		data := make([]byte, f.frameBytes)
		copy(data, f.buf[:f.frameBytes])
		f.buf = f.buf[f.frameBytes:]
		out = append(out, Frame{
			Data:       data,
			SampleRate: f.sampleRate,
			Seq:        f.seq,
			Timestamp:  time.Duration(f.seq) * f.frameDur,
		})
		f.seq++
	}
	// Compact so the backing array does not grow without bound.
	if len(f.buf) == 0 {
		f.buf = f.buf[:0:0]
	}
	return out
}

// Pending returns the number of buffered bytes not yet forming a full frame.
func (f *Framer) Pending() int { return len(f.buf) }

// Emitter delivers frames to a consumer without ever blocking the capture
// goroutine. When the channel is full the frame is dropped and counted.
type Emitter struct {
	ch      chan Frame
	dropped atomic.Uint64
}

// NewEmitter creates an Emitter with a channel buffer of size.
func NewEmitter(size int) *Emitter {
	return &Emitter{ch: make(chan Frame, max(size, 1))}
}

// C returns the receive side of the frame channel.
func (e *Emitter) C() <-chan Frame { return e.ch }

// Send offers f to the consumer. It returns false if the frame was dropped.
func (e *Emitter) Send(f Frame) bool {
	select {
	case e.ch <- f:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Close closes the frame channel. Must be called exactly once, by the
// goroutine that calls Send.
func (e *Emitter) Close() { close(e.ch) }

// DroppedFrames implements [Dropped].
func (e *Emitter) DroppedFrames() uint64 { return e.dropped.Load() }
