// Package observe provides application-wide observability primitives for
// voxtrigger: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware for the admin endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxtrigger metrics.
const meterName = "github.com/MrWong99/voxtrigger"

// Segment outcomes recorded on the segments counter.
const (
	OutcomeEmitted   = "emitted"
	OutcomeDiscarded = "discarded"
	OutcomePaused    = "paused"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// InferenceDuration tracks wall-clock transcription latency. Use with
	// attribute.String("device", ...).
	InferenceDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of emitted segments.
	SegmentDuration metric.Float64Histogram

	// --- Counters ---

	// Segments counts segmenter output by outcome
	// (emitted, discarded, paused, dropped, failed).
	Segments metric.Int64Counter

	// Triggers counts dispatch attempts. Use with attributes:
	//   attribute.String("origin", ...), attribute.String("status", ...)
	Triggers metric.Int64Counter

	// ControlMessages counts received control datagrams. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ControlMessages metric.Int64Counter

	// InferenceFallbacks counts accelerated-to-CPU fallbacks.
	InferenceFallbacks metric.Int64Counter

	// DroppedFrames counts capture frames dropped because the pipeline was
	// not keeping up.
	DroppedFrames metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks segments waiting for inference.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription latency on constrained hardware.
var latencyBuckets = []float64{
	0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 3, 5,
}

// segmentBuckets covers the 0.25–2 s segment range.
var segmentBuckets = []float64{
	0.25, 0.5, 0.75, 1, 1.25, 1.5, 1.75, 2,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.InferenceDuration, err = m.Float64Histogram("voxtrigger.inference.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("voxtrigger.segment.duration",
		metric.WithDescription("Audio length of emitted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Segments, err = m.Int64Counter("voxtrigger.segments",
		metric.WithDescription("Speech segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Triggers, err = m.Int64Counter("voxtrigger.triggers",
		metric.WithDescription("Dispatched actions by origin and status."),
	); err != nil {
		return nil, err
	}
	if met.ControlMessages, err = m.Int64Counter("voxtrigger.control.messages",
		metric.WithDescription("Control datagrams by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.InferenceFallbacks, err = m.Int64Counter("voxtrigger.inference.fallbacks",
		metric.WithDescription("Accelerated-device initialisation failures that fell back to CPU."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("voxtrigger.capture.dropped_frames",
		metric.WithDescription("Capture frames dropped because the consumer was behind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("voxtrigger.inference.queue_depth",
		metric.WithDescription("Segments waiting for transcription."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxtrigger.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegment increments the segments counter for outcome.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTrigger increments the triggers counter.
func (m *Metrics) RecordTrigger(ctx context.Context, origin, status string) {
	m.Triggers.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("origin", origin),
			attribute.String("status", status),
		),
	)
}

// RecordControlMessage increments the control messages counter.
func (m *Metrics) RecordControlMessage(ctx context.Context, kind, status string) {
	m.ControlMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordInference records one transcription latency on device.
func (m *Metrics) RecordInference(ctx context.Context, device string, seconds float64) {
	m.InferenceDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("device", device)))
}
