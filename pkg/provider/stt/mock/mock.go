// Package mock provides test doubles for the stt package interfaces.
//
// Engine records every Load call and can fail per device, which makes it the
// tool for exercising accelerated-to-CPU fallback. Model returns scripted
// transcripts, records the audio it was given and can block until released
// to simulate a slow transcription.
//
// Example:
//
//	model := &mock.Model{Texts: []string{"open browser"}}
//	eng := &mock.Engine{
//	    Model:     model,
//	    LoadErrs: map[stt.Device]error{stt.DeviceAccelerated: stt.ErrDeviceUnavailable},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
)

// LoadCall records a single invocation of Engine.Load.
type LoadCall struct {
	Cfg stt.LoadConfig
}

// Engine is a mock implementation of stt.Engine and stt.Prefetcher.
type Engine struct {
	mu sync.Mutex

	// Model is returned by Load. If nil, a default Model is created.
	Model *Model

	// LoadErrs maps a device to the error Load returns for it.
	LoadErrs map[stt.Device]error

	// PrefetchErr is returned by Prefetch.
	PrefetchErr error

	// LoadCalls records every Load call in order.
	LoadCalls []LoadCall

	// PrefetchCalls counts Prefetch invocations.
	PrefetchCalls int
}

// Load records the call and returns Model, or the error configured for cfg.Device.
func (e *Engine) Load(_ context.Context, cfg stt.LoadConfig) (stt.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LoadCalls = append(e.LoadCalls, LoadCall{Cfg: cfg})
	if err := e.LoadErrs[cfg.Device]; err != nil {
		return nil, err
	}
	if e.Model == nil {
		e.Model = &Model{}
	}
	e.Model.setDevice(cfg.Device)
	return e.Model, nil
}

// Prefetch records the call and returns PrefetchErr.
func (e *Engine) Prefetch(_ context.Context, _ stt.LoadConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.PrefetchCalls++
	return e.PrefetchErr
}

// Devices returns the devices passed to Load, in order.
func (e *Engine) Devices() []stt.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]stt.Device, len(e.LoadCalls))
	for i, c := range e.LoadCalls {
		out[i] = c.Cfg.Device
	}
	return out
}

var (
	_ stt.Engine     = (*Engine)(nil)
	_ stt.Prefetcher = (*Engine)(nil)
)

// TranscribeCall records a single invocation of Model.Transcribe.
type TranscribeCall struct {
	Samples int
	Opts    stt.Options
}

// Model is a mock implementation of stt.Model.
//
// Each Transcribe call returns the next entry of Texts (the last entry
// repeats once the script runs out) or Err. If Gate is non-nil, Transcribe
// blocks until a value is received from it or ctx is done.
type Model struct {
	mu sync.Mutex

	// Texts is the script of transcript texts.
	Texts []string

	// TextFor, if set, computes the text from the number of samples and
	// takes priority over Texts.
	TextFor func(samples int) string

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Gate, if non-nil, blocks each Transcribe call until it yields.
	Gate chan struct{}

	// Started, if non-nil, receives a value when a Transcribe call begins.
	Started chan struct{}

	// Confidence is reported on every transcript.
	Confidence float64

	// --- Call records ---

	TranscribeCalls []TranscribeCall
	CloseCallCount  int

	device stt.Device
}

func (m *Model) setDevice(d stt.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = d
}

// Transcribe records the call and returns the next scripted transcript.
func (m *Model) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Transcript, error) {
	m.mu.Lock()
	i := len(m.TranscribeCalls)
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{Samples: len(samples), Opts: opts})
	gate, started := m.Gate, m.Started
	m.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return stt.Transcript{}, m.Err
	}
	var text string
	switch {
	case m.TextFor != nil:
		text = m.TextFor(len(samples))
	case len(m.Texts) > 0:
		text = m.Texts[min(i, len(m.Texts)-1)]
	}
	return stt.Transcript{
		Text:       text,
		Language:   opts.Language,
		Confidence: m.Confidence,
		Duration:   time.Duration(len(samples)) * time.Second / 16000,
		Device:     m.device,
	}, nil
}

// Close records the call.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCallCount++
	return nil
}

// Calls returns the number of Transcribe calls so far.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.TranscribeCalls)
}

var _ stt.Model = (*Model)(nil)
