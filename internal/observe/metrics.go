// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/earshotlabs/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// CaptureDuration tracks how long reading one audio frame takes.
	CaptureDuration metric.Float64Histogram

	// SuppressDuration tracks noise suppression latency per frame.
	SuppressDuration metric.Float64Histogram

	// TranscribeDuration tracks speech-to-text latency per frame.
	TranscribeDuration metric.Float64Histogram

	// --- Counters ---

	// FramesCaptured counts audio frames delivered by the capture device.
	FramesCaptured metric.Int64Counter

	// SuppressionFallbacks counts frames passed through unsuppressed after
	// a recoverable suppressor error.
	SuppressionFallbacks metric.Int64Counter

	// EmptyTranscriptions counts frames the engine transcribed to nothing.
	EmptyTranscriptions metric.Int64Counter

	// TranscriptAppends counts lines appended to the shared transcript log.
	TranscriptAppends metric.Int64Counter

	// KeywordHits counts alert keyword detections. Use with attribute:
	//   attribute.String("keyword", ...)
	KeywordHits metric.Int64Counter

	// SyncBatches counts transcription batches pushed off-device. Use with
	// attributes:
	//   attribute.String("target", ...), attribute.String("status", ...)
	SyncBatches metric.Int64Counter

	// DeviceRecoveries counts successful capture device reopens after a
	// hardware fault.
	DeviceRecoveries metric.Int64Counter

	// --- Error counters ---

	// LoopErrors counts errors absorbed by the worker loops. Use with
	// attribute:
	//   attribute.String("loop", ...)
	LoopErrors metric.Int64Counter

	// --- Gauges ---

	// BatteryLevel tracks the last sampled battery level in [0, 1].
	BatteryLevel metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for audio-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureDuration, err = m.Float64Histogram("earshot.capture.duration",
		metric.WithDescription("Latency of reading one audio frame from the capture device."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SuppressDuration, err = m.Float64Histogram("earshot.suppress.duration",
		metric.WithDescription("Latency of noise suppression per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("earshot.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("earshot.capture.frames",
		metric.WithDescription("Total audio frames delivered by the capture device."),
	); err != nil {
		return nil, err
	}
	if met.SuppressionFallbacks, err = m.Int64Counter("earshot.suppress.fallbacks",
		metric.WithDescription("Total frames passed through unsuppressed after a recoverable suppressor error."),
	); err != nil {
		return nil, err
	}
	if met.EmptyTranscriptions, err = m.Int64Counter("earshot.transcribe.empty",
		metric.WithDescription("Total frames the engine transcribed to an empty string."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptAppends, err = m.Int64Counter("earshot.transcript.appends",
		metric.WithDescription("Total lines appended to the shared transcript log."),
	); err != nil {
		return nil, err
	}
	if met.KeywordHits, err = m.Int64Counter("earshot.keyword.hits",
		metric.WithDescription("Total alert keyword detections by keyword."),
	); err != nil {
		return nil, err
	}
	if met.SyncBatches, err = m.Int64Counter("earshot.sync.batches",
		metric.WithDescription("Total transcription batches pushed off-device by target and status."),
	); err != nil {
		return nil, err
	}
	if met.DeviceRecoveries, err = m.Int64Counter("earshot.capture.recoveries",
		metric.WithDescription("Total successful capture device reopens after a hardware fault."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.LoopErrors, err = m.Int64Counter("earshot.loop.errors",
		metric.WithDescription("Total errors absorbed by the worker loops, by loop name."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.BatteryLevel, err = m.Float64Gauge("earshot.power.battery_level",
		metric.WithDescription("Last sampled battery level as a fraction of full charge."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordKeywordHit records one alert keyword detection.
func (m *Metrics) RecordKeywordHit(ctx context.Context, keyword string) {
	m.KeywordHits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("keyword", keyword)),
	)
}

// RecordSyncBatch records one off-device push attempt with the standard
// attribute set.
func (m *Metrics) RecordSyncBatch(ctx context.Context, target, status string) {
	m.SyncBatches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("target", target),
			attribute.String("status", status),
		),
	)
}

// RecordLoopError records one error absorbed by a worker loop.
func (m *Metrics) RecordLoopError(ctx context.Context, loop string) {
	m.LoopErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("loop", loop)),
	)
}
