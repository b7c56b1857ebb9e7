// Package inference wraps a speech-to-text [stt.Engine] with the device
// policy and scheduling the trigger pipeline needs.
//
// The [Adapter] loads the model once at startup. Under [PolicyAuto] it tries
// the accelerated device first and, if that fails, falls back to the CPU at
// float32 precision. The fallback is remembered: no later Load or Transcribe
// ever touches the accelerated device again.
//
// Segments reach the model through a small bounded queue drained by a single
// worker ([Adapter.Run]), so at most one transcription is in flight. When the
// queue is full the oldest pending segment is dropped; a stale command is
// worth less than a fresh one.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxtrigger/internal/observe"
	"github.com/MrWong99/voxtrigger/internal/segment"
	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
)

var (
	// ErrDeviceUnavailable is returned by Load under [PolicyAccelerated] when
	// the accelerated device cannot be initialised.
	ErrDeviceUnavailable = errors.New("inference: accelerated device unavailable")

	// ErrNotLoaded is returned when transcription is requested before Load.
	ErrNotLoaded = errors.New("inference: model not loaded")

	// ErrQueueClosed is returned by Submit after the adapter has been closed.
	ErrQueueClosed = errors.New("inference: queue closed")

	// ErrAbandoned marks a transcription cut short by shutdown.
	ErrAbandoned = errors.New("inference: transcription abandoned")
)

// Policy selects which device Load uses.
type Policy string

const (
	// PolicyAuto tries the accelerated device and falls back to CPU.
	PolicyAuto Policy = "auto"

	// PolicyAccelerated requires the accelerated device.
	PolicyAccelerated Policy = "cuda"

	// PolicyCPU loads on the CPU only.
	PolicyCPU Policy = "cpu"
)

// IsValid reports whether p is a known policy.
func (p Policy) IsValid() bool {
	switch p {
	case PolicyAuto, PolicyAccelerated, PolicyCPU:
		return true
	}
	return false
}

// DefaultQueueDepth is the number of segments that may wait for the worker.
const DefaultQueueDepth = 2

// Config describes the model and scheduling.
type Config struct {
	Model     string
	ModelDir  string
	Policy    Policy
	Precision stt.Precision
	Threads   int
	Language  string

	// QueueDepth bounds the pending segment queue. Zero means
	// [DefaultQueueDepth].
	QueueDepth int
}

// Result is the outcome of one queued transcription.
type Result struct {
	Segment    *segment.Segment
	Transcript stt.Transcript
	Err        error
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithMetrics records inference metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// Adapter owns the loaded model and the inference queue. It is safe for
// concurrent use.
type Adapter struct {
	engine  stt.Engine
	cfg     Config
	metrics *observe.Metrics

	mu        sync.Mutex
	model     stt.Model
	device    stt.Device
	precision stt.Precision
	fellBack  bool

	// flight serialises calls into the model.
	flight sync.Mutex

	qmu     sync.Mutex
	queue   []*segment.Segment
	qclosed bool
	wake    chan struct{}
	dropped atomic.Uint64

	results chan Result
	running atomic.Bool
}

// New returns an Adapter for engine. Load must be called before any
// transcription.
func New(engine stt.Engine, cfg Config, opts ...Option) *Adapter {
	if cfg.Policy == "" {
		cfg.Policy = PolicyAuto
	}
	if cfg.Precision == "" {
		cfg.Precision = stt.PrecisionInt8
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	a := &Adapter{
		engine:  engine,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		results: make(chan Result, cfg.QueueDepth),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

func (a *Adapter) loadConfig(dev stt.Device, prec stt.Precision) stt.LoadConfig {
	return stt.LoadConfig{
		ModelID:   a.cfg.Model,
		ModelDir:  a.cfg.ModelDir,
		Device:    dev,
		Precision: prec,
		Threads:   a.cfg.Threads,
		Language:  a.cfg.Language,
	}
}

// Load initialises the model according to the configured policy. Calling it
// again replaces the model, honouring an earlier CPU fallback.
func (a *Adapter) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		model stt.Model
		dev   stt.Device
		prec  = a.cfg.Precision
		err   error
	)
	switch {
	case a.cfg.Policy == PolicyCPU:
		dev = stt.DeviceCPU
		model, err = a.engine.Load(ctx, a.loadConfig(dev, prec))

	case a.cfg.Policy == PolicyAccelerated:
		dev = stt.DeviceAccelerated
		model, err = a.engine.Load(ctx, a.loadConfig(dev, prec))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}

	case a.fellBack:
		dev, prec = stt.DeviceCPU, stt.PrecisionFloat32
		model, err = a.engine.Load(ctx, a.loadConfig(dev, prec))

	default:
		dev = stt.DeviceAccelerated
		slog.Info("loading speech model", "model", a.cfg.Model, "device", dev, "precision", prec)
		model, err = a.engine.Load(ctx, a.loadConfig(dev, prec))
		if err != nil {
			slog.Warn("accelerated init failed, falling back to CPU", "err", err)
			a.fellBack = true
			a.metrics.InferenceFallbacks.Add(ctx, 1)
			dev, prec = stt.DeviceCPU, stt.PrecisionFloat32
			model, err = a.engine.Load(ctx, a.loadConfig(dev, prec))
		}
	}
	if err != nil {
		return fmt.Errorf("inference: load %s on %s: %w", a.cfg.Model, dev, err)
	}

	if a.model != nil {
		if cerr := a.model.Close(); cerr != nil {
			slog.Warn("closing previous model", "err", cerr)
		}
	}
	a.model, a.device, a.precision = model, dev, prec
	slog.Info("speech model ready", "model", a.cfg.Model, "device", dev, "precision", prec)
	return nil
}

// Prefetch downloads the model weights if the engine supports it. Engines
// without download support are a no-op.
func (a *Adapter) Prefetch(ctx context.Context) error {
	p, ok := a.engine.(stt.Prefetcher)
	if !ok {
		return nil
	}
	if err := p.Prefetch(ctx, a.loadConfig(stt.DeviceCPU, a.cfg.Precision)); err != nil {
		return fmt.Errorf("inference: prefetch %s: %w", a.cfg.Model, err)
	}
	return nil
}

// Warmup runs a throwaway transcription of d of silence so the first real
// segment does not pay for lazy engine initialisation. Failures are logged
// and ignored.
func (a *Adapter) Warmup(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	model := a.current()
	if model == nil {
		return
	}
	slog.Info("warming up speech model", "duration", d)
	samples := make([]float32, int(d.Seconds()*16000))

	a.flight.Lock()
	defer a.flight.Unlock()
	if _, err := model.Transcribe(ctx, samples, stt.Options{Language: a.cfg.Language}); err != nil {
		slog.Debug("warmup failed", "err", err)
	}
}

// Transcribe runs seg through the model synchronously. Calls are serialised
// with the queue worker. A call cut short by ctx returns an error wrapping
// [ErrAbandoned].
func (a *Adapter) Transcribe(ctx context.Context, seg *segment.Segment) (stt.Transcript, error) {
	model := a.current()
	if model == nil {
		return stt.Transcript{}, ErrNotLoaded
	}
	dev := a.Device()

	ctx, span := observe.StartSegmentSpan(ctx, "inference.transcribe", seg.ID,
		observe.AttrDevice.String(string(dev)))
	defer span.End()

	a.flight.Lock()
	defer a.flight.Unlock()

	start := time.Now()
	tr, err := model.Transcribe(ctx, seg.Samples(), stt.Options{Language: a.cfg.Language})
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return stt.Transcript{}, fmt.Errorf("%w: %v", ErrAbandoned, err)
		}
		return stt.Transcript{}, fmt.Errorf("inference: transcribe segment %s: %w", seg.ID, err)
	}
	if tr.Elapsed == 0 {
		tr.Elapsed = elapsed
	}
	if tr.Device == "" {
		tr.Device = dev
	}
	a.metrics.RecordInference(ctx, string(dev), elapsed.Seconds())
	return tr, nil
}

// Submit enqueues seg for the worker without blocking. When the queue is full
// the oldest pending segment is discarded and dropped reports true.
func (a *Adapter) Submit(seg *segment.Segment) (dropped bool, err error) {
	a.qmu.Lock()
	if a.qclosed {
		a.qmu.Unlock()
		return false, ErrQueueClosed
	}
	if len(a.queue) >= a.cfg.QueueDepth {
		old := a.queue[0]
		a.queue[0] = nil
		a.queue = a.queue[1:]
		dropped = true
		a.dropped.Add(1)
		slog.Warn("inference queue full, dropping oldest segment",
			"segment_id", old.ID, "queue_depth", a.cfg.QueueDepth)
		a.metrics.RecordSegment(context.Background(), observe.OutcomeDropped)
	} else {
		a.metrics.QueueDepth.Add(context.Background(), 1)
	}
	a.queue = append(a.queue, seg)
	a.qmu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return dropped, nil
}

// Pending returns the number of queued segments.
func (a *Adapter) Pending() int {
	a.qmu.Lock()
	defer a.qmu.Unlock()
	return len(a.queue)
}

// Dropped returns how many queued segments were discarded for overflow.
func (a *Adapter) Dropped() uint64 { return a.dropped.Load() }

// Results delivers one [Result] per dequeued segment. It is closed when Run
// returns.
func (a *Adapter) Results() <-chan Result { return a.results }

// Run drains the queue one segment at a time until ctx is cancelled. On
// cancellation the in-flight transcription is abandoned and pending segments
// are discarded. Run may only be called once.
func (a *Adapter) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("inference: Run called twice")
	}
	defer close(a.results)
	defer a.closeQueue()

	for {
		seg, ok := a.next(ctx)
		if !ok {
			return nil
		}
		tr, err := a.Transcribe(ctx, seg)
		if errors.Is(err, ErrAbandoned) || ctx.Err() != nil {
			slog.Debug("in-flight transcription abandoned", "segment_id", seg.ID)
			return nil
		}
		if err != nil {
			slog.Warn("transcription failed, dropping segment", "segment_id", seg.ID, "err", err)
			a.metrics.RecordSegment(ctx, observe.OutcomeFailed)
		}
		select {
		case a.results <- Result{Segment: seg, Transcript: tr, Err: err}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *Adapter) next(ctx context.Context) (*segment.Segment, bool) {
	for {
		a.qmu.Lock()
		if len(a.queue) > 0 {
			seg := a.queue[0]
			a.queue[0] = nil
			a.queue = a.queue[1:]
			a.qmu.Unlock()
			a.metrics.QueueDepth.Add(ctx, -1)
			return seg, true
		}
		closed := a.qclosed
		a.qmu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-a.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Drain stops accepting segments. Run transcribes those already queued and
// then returns.
func (a *Adapter) Drain() {
	a.qmu.Lock()
	a.qclosed = true
	a.qmu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Adapter) closeQueue() {
	a.qmu.Lock()
	defer a.qmu.Unlock()
	a.qclosed = true
	if n := len(a.queue); n > 0 {
		slog.Debug("discarding pending segments", "count", n)
		a.metrics.QueueDepth.Add(context.Background(), int64(-n))
	}
	a.queue = nil
}

// Close stops accepting segments and releases the model.
func (a *Adapter) Close() error {
	a.closeQueue()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model == nil {
		return nil
	}
	// Wait for an in-flight call started outside Run.
	a.flight.Lock()
	defer a.flight.Unlock()
	err := a.model.Close()
	a.model = nil
	return err
}

func (a *Adapter) current() stt.Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// Loaded reports whether a model is ready.
func (a *Adapter) Loaded() bool { return a.current() != nil }

// Device returns the device of the loaded model.
func (a *Adapter) Device() stt.Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

// Precision returns the precision of the loaded model.
func (a *Adapter) Precision() stt.Precision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.precision
}

// FellBack reports whether the accelerated device failed and the adapter is
// pinned to the CPU.
func (a *Adapter) FellBack() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fellBack
}
