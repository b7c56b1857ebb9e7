package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/voxtrigger/internal/dispatch"
	"github.com/MrWong99/voxtrigger/internal/inference"
	"github.com/MrWong99/voxtrigger/internal/observe"
	"github.com/MrWong99/voxtrigger/internal/segment"
	"github.com/MrWong99/voxtrigger/internal/trigger"
	"github.com/MrWong99/voxtrigger/pkg/audio"
)

// captureLoop feeds frames through the segmenter and queues completed
// segments for inference. When frames closes on its own, the open segment is
// flushed and the inference queue drained so a finite input is processed to
// the end.
func (a *App) captureLoop(ctx context.Context, frames <-chan audio.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				a.emit(ctx, a.segmenter.Flush())
				a.adapter.Drain()
				return nil
			}
			seg, err := a.segmenter.Submit(f)
			if err != nil {
				// A bad frame is local to that frame; keep listening.
				slog.Warn("frame rejected", "seq", f.Seq, "err", err)
				continue
			}
			a.emit(ctx, seg)
		}
	}
}

// emit hands seg to the inference queue. Segments completed while paused
// are discarded.
func (a *App) emit(ctx context.Context, seg *segment.Segment) {
	if seg == nil {
		return
	}
	if a.state.Paused() {
		slog.Debug("paused, segment discarded", "segment_id", seg.ID, "duration", seg.Duration)
		a.metrics.RecordSegment(ctx, observe.OutcomePaused)
		return
	}
	a.metrics.RecordSegment(ctx, observe.OutcomeEmitted)
	a.metrics.SegmentDuration.Record(ctx, seg.Duration.Seconds())
	if _, err := a.adapter.Submit(seg); err != nil && !errors.Is(err, inference.ErrQueueClosed) {
		slog.Warn("segment not queued", "segment_id", seg.ID, "err", err)
	}
}

// resultLoop matches each transcript against the trigger table and
// dispatches the winner. It returns errInputEnded once the adapter has
// finished a drained queue.
func (a *App) resultLoop(ctx context.Context) error {
	for res := range a.adapter.Results() {
		if res.Err != nil || res.Transcript.Text == "" {
			continue
		}
		a.handleTranscript(ctx, res)
	}
	if ctx.Err() != nil {
		return nil
	}
	return errInputEnded
}

func (a *App) handleTranscript(ctx context.Context, res inference.Result) {
	text := res.Transcript.Text
	if a.state.Paused() {
		slog.Debug("paused, transcript ignored", "segment_id", res.Segment.ID, "text", text)
		return
	}

	ctx, span := observe.StartSegmentSpan(ctx, "pipeline.match", res.Segment.ID)
	defer span.End()
	log := observe.Logger(ctx)

	m, outcome := a.matcher.Accept(text, a.Table())
	span.SetAttributes(observe.AttrOutcome.String(outcome.String()))

	switch outcome {
	case trigger.OutcomeNoMatch:
		log.Debug("no trigger matched", "text", text)
	case trigger.OutcomeSuppressed:
		log.Info("trigger in cooldown, suppressed", "phrase", m.Phrase, "score", m.Score)
		a.metrics.RecordTrigger(ctx, dispatch.OriginLocalTrigger.String(), "cooldown")
	case trigger.OutcomeMatched:
		log.Info("trigger matched", "phrase", m.Phrase, "score", m.Score, "text", text)
		// Dispatch logs and counts its own failures.
		_ = a.dispatcher.Dispatch(ctx, m.Command, dispatch.OriginLocalTrigger)
		if a.notifier != nil {
			a.notifier.NotifyTrigger(ctx, m.Phrase)
		}
	}
}

// injectionLoop dispatches the triggers and commands accepted by the control
// plane.
func (a *App) injectionLoop(ctx context.Context) error {
	in := a.plane.Injections()
	for {
		select {
		case <-ctx.Done():
			return nil
		case inj := <-in:
			_ = a.dispatcher.Dispatch(ctx, inj.Command, inj.Origin)
		}
	}
}
