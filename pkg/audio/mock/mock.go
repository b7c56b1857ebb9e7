// Package mock provides an in-memory [audio.Source] for unit tests.
//
// The mock is safe for concurrent use. It records Start and Close calls and
// exposes exported fields that the test sets to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{Frames: frames}
//	ch, err := src.Start(ctx)
//	for f := range ch { ... }
//	if src.CloseCalls != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtrigger/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Source is a scripted [audio.Source]. Frames are delivered in order and the
// channel is closed after the last one, unless HoldOpen is set.
type Source struct {
	mu sync.Mutex

	// Frames is the script delivered by Start.
	Frames []audio.Frame

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// CloseErr is returned by Close.
	CloseErr error

	// HoldOpen keeps the channel open after the script ends until Close or
	// ctx cancellation, as a live microphone would.
	HoldOpen bool

	// StartCalls counts Start invocations.
	StartCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int

	done chan struct{}
}

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	s.StartCalls++
	if s.StartErr != nil {
		s.mu.Unlock()
		return nil, s.StartErr
	}
	if s.done == nil {
		s.done = make(chan struct{})
	}
	done := s.done
	frames := append([]audio.Frame(nil), s.Frames...)
	hold := s.HoldOpen
	s.mu.Unlock()

	ch := make(chan audio.Frame)
	go func() {
		defer close(ch)
		for _, f := range frames {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
		if hold {
			select {
			case <-ctx.Done():
			case <-done:
			}
		}
	}()
	return ch, nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if s.done == nil {
		s.done = make(chan struct{})
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.CloseErr
}

// Calls returns a snapshot of the Start and Close call counts.
func (s *Source) Calls() (start, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartCalls, s.CloseCalls
}

// MakeFrames builds n frames of constant-amplitude PCM at rate/frameMs. An
// amplitude of zero yields silence.
func MakeFrames(n, rate, frameMs int, amplitude int16) []audio.Frame {
	framer := audio.NewFramer(rate, frameMs)
	samples := make([]int16, audio.FrameSamples(rate, frameMs)*n)
	for i := range samples {
		// Alternate sign so the signal has energy but no DC offset.
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return framer.Push(audio.Int16ToPCM(samples))
}
