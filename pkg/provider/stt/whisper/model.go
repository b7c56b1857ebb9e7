package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxtrigger/pkg/provider/stt"
)

// sampleRate is the only input rate whisper.cpp accepts.
const sampleRate = 16000

var _ stt.Model = (*Model)(nil)

// Model is a loaded whisper.cpp model. Transcribe calls are serialised: each
// one creates a fresh whisper context, since contexts are not thread-safe.
type Model struct {
	mu       sync.Mutex
	model    whisperlib.Model
	device   stt.Device
	language string
	threads  int
	closed   bool
}

// Transcribe runs whisper.cpp on samples. Cancelling ctx aborts the encoder
// before its next run and discards the result.
func (m *Model) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return stt.Transcript{}, stt.ErrModelClosed
	}

	start := time.Now()
	wctx, err := m.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = m.language
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
		}
	}
	if m.threads > 0 {
		wctx.SetThreads(uint(m.threads))
	}

	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		if ctx.Err() != nil {
			return stt.Transcript{}, ctx.Err()
		}
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}

	var segs []whisperlib.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		segs = append(segs, seg)
	}

	texts := make([]string, len(segs))
	var probs []float32
	for i, s := range segs {
		texts[i] = s.Text
		for _, tok := range s.Tokens {
			if isSpecialToken(tok.Text) {
				continue
			}
			probs = append(probs, tok.P)
		}
	}

	return stt.Transcript{
		Text:       stt.JoinSegments(texts),
		Language:   wctx.Language(),
		Confidence: meanProbability(probs),
		Duration:   time.Duration(len(samples)) * time.Second / sampleRate,
		Elapsed:    time.Since(start),
		Device:     m.device,
	}, nil
}

// Close releases the model.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.model.Close()
}
