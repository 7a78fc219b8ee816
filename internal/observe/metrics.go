// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, tracing, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/sonantic-labs/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RoundTripDuration tracks the utterance round trip: send to the remote
	// service through reply received.
	RoundTripDuration metric.Float64Histogram

	// PlaybackReadyDuration tracks time from playback start to the first
	// rendered frame (buffering plus codec negotiation).
	PlaybackReadyDuration metric.Float64Histogram

	// UtteranceDuration tracks the audio length of captured utterances.
	UtteranceDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts finalized utterances. Use with attribute:
	//   attribute.String("outcome", "sent"|"discarded"|"dropped")
	Utterances metric.Int64Counter

	// PlaybackAttempts counts playback attempts by final status. Use with:
	//   attribute.String("status", "ended"|"failed"|"blocked"|"superseded")
	PlaybackAttempts metric.Int64Counter

	// PlaybackStalls counts mid-playback stalls, including recovered ones.
	PlaybackStalls metric.Int64Counter

	// TransportErrors counts classified transport failures. Use with:
	//   attribute.String("kind", ...)
	TransportErrors metric.Int64Counter

	// TimerFirings counts session timer expirations by kind.
	TimerFirings metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live (mode=active) voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control-surface HTTP request processing
	// time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.RoundTripDuration, err = m.Float64Histogram("parley.roundtrip.duration",
		metric.WithDescription("Latency of the utterance round trip to the reasoning service."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackReadyDuration, err = m.Float64Histogram("parley.playback.ready.duration",
		metric.WithDescription("Time from playback start to first rendered frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("parley.utterance.duration",
		metric.WithDescription("Audio duration of captured utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.25, 0.5, 1, 2, 5, 10, 20, 45),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("parley.utterances",
		metric.WithDescription("Total finalized utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackAttempts, err = m.Int64Counter("parley.playback.attempts",
		metric.WithDescription("Total playback attempts by final status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStalls, err = m.Int64Counter("parley.playback.stalls",
		metric.WithDescription("Total mid-playback stalls, including recovered ones."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("parley.transport.errors",
		metric.WithDescription("Total classified transport failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.TimerFirings, err = m.Int64Counter("parley.timer.firings",
		metric.WithDescription("Total session timer expirations by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("Control-surface HTTP request latency by method and path."),
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

// RecordUtterance records a finalized utterance with its outcome and audio
// duration.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string, d time.Duration) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	if d > 0 {
		m.UtteranceDuration.Record(ctx, d.Seconds())
	}
}

// RecordPlaybackAttempt records a playback attempt's final status.
func (m *Metrics) RecordPlaybackAttempt(ctx context.Context, status string) {
	m.PlaybackAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTransportError records a classified transport failure.
func (m *Metrics) RecordTransportError(ctx context.Context, kind string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTimerFiring records a session timer expiration.
func (m *Metrics) RecordTimerFiring(ctx context.Context, kind string) {
	m.TimerFirings.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
