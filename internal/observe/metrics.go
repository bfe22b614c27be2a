// Package observe provides application-wide observability primitives for
// MiniMax: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all MiniMax metrics.
const meterName = "github.com/FlavioMarcoHaux/MiniMax"

// Session outcomes recorded by [Metrics.RecordSessionOutcome].
const (
	OutcomeTransitioned = "transitioned"
	OutcomeHangup       = "hangup"
	OutcomeExit         = "exit"
	OutcomeError        = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from Connect to an open voice stream.
	ConnectDuration metric.Float64Histogram

	// ChatDuration tracks mentor chat completion latency.
	ChatDuration metric.Float64Histogram

	// --- Counters ---

	// SchedulesFired counts schedules consumed by the poller. Use with
	// attribute.String("activity", ...).
	SchedulesFired metric.Int64Counter

	// PollErrors counts store failures seen by the poller. Use with
	// attribute.String("op", ...).
	PollErrors metric.Int64Counter

	// SessionOutcomes counts how voice sessions ended. Use with
	// attribute.String("activity", ...), attribute.String("outcome", ...).
	SessionOutcomes metric.Int64Counter

	// AudioChunksSent counts microphone chunks forwarded to the backend.
	AudioChunksSent metric.Int64Counter

	// AudioChunksPlayed counts backend chunks scheduled for playback.
	AudioChunksPlayed metric.Int64Counter

	// AudioDecodeErrors counts inbound chunks skipped because they could not
	// be decoded. Use with attribute.String("stage", "base64"|"pcm").
	AudioDecodeErrors metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice streams.
	ActiveSessions metric.Int64UpDownCounter

	// DeviceClients tracks the number of attached audio device clients.
	DeviceClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network round trips to the generative backend.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("minimax.voice.connect.duration",
		metric.WithDescription("Time from connect request to an open voice stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("minimax.chat.duration",
		metric.WithDescription("Latency of mentor chat completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SchedulesFired, err = m.Int64Counter("minimax.schedule.fired",
		metric.WithDescription("Schedules consumed by the poller, by activity."),
	); err != nil {
		return nil, err
	}
	if met.PollErrors, err = m.Int64Counter("minimax.schedule.poll_errors",
		metric.WithDescription("Store failures seen by the poller, by operation."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("minimax.voice.sessions",
		metric.WithDescription("Voice sessions by activity and outcome."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksSent, err = m.Int64Counter("minimax.voice.audio.sent",
		metric.WithDescription("Microphone chunks forwarded to the voice backend."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksPlayed, err = m.Int64Counter("minimax.voice.audio.played",
		metric.WithDescription("Backend audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.AudioDecodeErrors, err = m.Int64Counter("minimax.voice.audio.decode_errors",
		metric.WithDescription("Inbound audio chunks skipped because they could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("minimax.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("minimax.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("minimax.voice.active_sessions",
		metric.WithDescription("Number of live voice streams."),
	); err != nil {
		return nil, err
	}
	if met.DeviceClients, err = m.Int64UpDownCounter("minimax.device.clients",
		metric.WithDescription("Number of attached audio device clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("minimax.http.request.duration",
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

// RecordScheduleFired records one schedule consumed by the poller.
func (m *Metrics) RecordScheduleFired(ctx context.Context, activity string) {
	m.SchedulesFired.Add(ctx, 1, metric.WithAttributes(attribute.String("activity", activity)))
}

// RecordPollError records one store failure seen by the poller.
func (m *Metrics) RecordPollError(ctx context.Context, op string) {
	m.PollErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordSessionOutcome records how a voice session ended.
func (m *Metrics) RecordSessionOutcome(ctx context.Context, activity, outcome string) {
	m.SessionOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("activity", activity),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordDecodeError records one skipped inbound audio chunk.
func (m *Metrics) RecordDecodeError(ctx context.Context, stage string) {
	m.AudioDecodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
