// Package observe provides application-wide observability primitives for
// Verbatim: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Verbatim metrics.
const meterName = "github.com/verbatimhq/verbatim"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// PipelineDuration tracks end-to-end correction latency per video job.
	PipelineDuration metric.Float64Histogram

	// AIDuration tracks per-segment AI corrector call latency.
	AIDuration metric.Float64Histogram

	// Corrections counts applied corrections. Use with attribute:
	//   attribute.String("source", "dictionary"|"ai"|"user")
	Corrections metric.Int64Counter

	// SegmentsSkipped counts malformed segments dropped by validation.
	SegmentsSkipped metric.Int64Counter

	// AIErrors counts AI corrector failures (timeouts, 5xx, parse rejects).
	// Use with attribute: attribute.String("provider", ...)
	AIErrors metric.Int64Counter

	// AIRejected counts AI results discarded by the confidence gate.
	AIRejected metric.Int64Counter

	// DictionaryUpserts counts atomic dictionary upserts. Use with
	// attribute: attribute.String("origin", "match"|"ai"|"feedback"|"seed")
	DictionaryUpserts metric.Int64Counter

	// ActiveJobs tracks the number of correction jobs currently running.
	ActiveJobs metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...) and
	// attribute.String("route", ...) carrying the matched mux pattern.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// range accommodates whole-video jobs; the lower range per-segment AI calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PipelineDuration, err = m.Float64Histogram("verbatim.pipeline.duration",
		metric.WithDescription("End-to-end correction latency per video job."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AIDuration, err = m.Float64Histogram("verbatim.ai.duration",
		metric.WithDescription("Per-segment AI corrector call latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("verbatim.corrections",
		metric.WithDescription("Applied corrections by source tier."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsSkipped, err = m.Int64Counter("verbatim.segments.skipped",
		metric.WithDescription("Malformed segments dropped by validation."),
	); err != nil {
		return nil, err
	}
	if met.AIErrors, err = m.Int64Counter("verbatim.ai.errors",
		metric.WithDescription("AI corrector failures by provider."),
	); err != nil {
		return nil, err
	}
	if met.AIRejected, err = m.Int64Counter("verbatim.ai.rejected",
		metric.WithDescription("AI results discarded by the confidence gate."),
	); err != nil {
		return nil, err
	}
	if met.DictionaryUpserts, err = m.Int64Counter("verbatim.dictionary.upserts",
		metric.WithDescription("Atomic dictionary upserts by origin."),
	); err != nil {
		return nil, err
	}
	if met.ActiveJobs, err = m.Int64UpDownCounter("verbatim.active_jobs",
		metric.WithDescription("Correction jobs currently running."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("verbatim.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// RecordCorrection increments the corrections counter for one source tier.
func (m *Metrics) RecordCorrection(ctx context.Context, source string) {
	m.Corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordUpsert increments the dictionary upsert counter for one origin.
func (m *Metrics) RecordUpsert(ctx context.Context, origin string) {
	m.DictionaryUpserts.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}
