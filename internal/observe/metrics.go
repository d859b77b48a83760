// Package observe provides application-wide observability primitives for
// lexibase: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all lexibase metrics.
const meterName = "github.com/lexibase/lexibase"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// LookupDuration tracks end-to-end lookup latency.
	LookupDuration metric.Float64Histogram

	// LLMDuration tracks LLM call latency through the substrate.
	LLMDuration metric.Float64Histogram

	// ProviderFetchDuration tracks dictionary provider fetch latency.
	ProviderFetchDuration metric.Float64Histogram

	// EnhancementDuration tracks one enhancement grid run.
	EnhancementDuration metric.Float64Histogram

	// --- Counters ---

	// Lookups counts lookup requests. Use with attributes:
	//   attribute.String("status", ...), attribute.String("cache", "hit"|"miss")
	Lookups metric.Int64Counter

	// LLMTokens counts tokens consumed. Use with attribute:
	//   attribute.String("kind", "prompt"|"completion")
	LLMTokens metric.Int64Counter

	// CacheEvents counts cache lookups. Use with attributes:
	//   attribute.String("cache", ...), attribute.String("result", "hit"|"miss")
	CacheEvents metric.Int64Counter

	// ProviderRequests counts dictionary provider fetches. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of live streaming connections.
	ActiveStreams metric.Int64UpDownCounter

	// ActiveLookups tracks the number of lookups currently executing.
	ActiveLookups metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Lookups
// involving LLM synthesis routinely run tens of seconds, so the upper buckets
// stretch far beyond typical HTTP latencies.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LookupDuration, err = m.Float64Histogram("lexibase.lookup.duration",
		metric.WithDescription("End-to-end lookup latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("lexibase.llm.duration",
		metric.WithDescription("Latency of LLM calls through the substrate."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderFetchDuration, err = m.Float64Histogram("lexibase.provider.fetch.duration",
		metric.WithDescription("Latency of dictionary provider fetches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EnhancementDuration, err = m.Float64Histogram("lexibase.enhancement.duration",
		metric.WithDescription("Latency of one enhancement grid run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Lookups, err = m.Int64Counter("lexibase.lookups",
		metric.WithDescription("Total lookup requests by status and cache outcome."),
	); err != nil {
		return nil, err
	}
	if met.LLMTokens, err = m.Int64Counter("lexibase.llm.tokens",
		metric.WithDescription("Total LLM tokens consumed by kind."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvents, err = m.Int64Counter("lexibase.cache.events",
		metric.WithDescription("Cache lookups by cache name and result."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("lexibase.provider.requests",
		metric.WithDescription("Total dictionary provider fetches by provider and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("lexibase.provider.errors",
		metric.WithDescription("Total provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("lexibase.active_streams",
		metric.WithDescription("Number of live streaming connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveLookups, err = m.Int64UpDownCounter("lexibase.active_lookups",
		metric.WithDescription("Number of lookups currently executing."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lexibase.http.request.duration",
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

// RecordLookup is a convenience method that records one lookup with its
// duration, status, and cache outcome.
func (m *Metrics) RecordLookup(ctx context.Context, seconds float64, status, cache string) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("cache", cache),
	)
	m.Lookups.Add(ctx, 1, attrs)
	m.LookupDuration.Record(ctx, seconds, attrs)
}

// RecordLLMTokens is a convenience method that records token usage of one
// LLM call.
func (m *Metrics) RecordLLMTokens(ctx context.Context, promptTokens, completionTokens int64) {
	m.LLMTokens.Add(ctx, promptTokens,
		metric.WithAttributes(attribute.String("kind", "prompt")))
	m.LLMTokens.Add(ctx, completionTokens,
		metric.WithAttributes(attribute.String("kind", "completion")))
}

// RecordCacheEvent is a convenience method that records one cache lookup
// outcome.
func (m *Metrics) RecordCacheEvent(ctx context.Context, cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("result", result),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// fetch counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
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
