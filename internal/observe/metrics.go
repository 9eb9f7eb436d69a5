// Package observe provides observability primitives for the Altavoz runtime:
// OpenTelemetry metrics with a Prometheus exporter bridge so the standard
// /metrics endpoint keeps working.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/altavoz-ai/altavoz/pkg/audiocache"
)

// meterName is the instrumentation scope name used for all Altavoz metrics.
const meterName = "github.com/altavoz-ai/altavoz"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ActionDuration tracks external action round-trip latency. Use with
	// attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	ActionDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// TurnDuration tracks final-transcript-to-first-audio latency.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// CacheHits, CacheMisses, and CacheEvictions count audio cache traffic.
	// Use with attribute.String("language", ...).
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	CacheEvictions metric.Int64Counter

	// Interruptions counts caller barge-ins that flagged queued speech.
	Interruptions metric.Int64Counter

	// TrimmedMessages counts history messages dropped by context truncation.
	TrimmedMessages metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter
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
	if met.ActionDuration, err = m.Float64Histogram("altavoz.action.duration",
		metric.WithDescription("Latency of external action dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("altavoz.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("altavoz.turn.duration",
		metric.WithDescription("Latency from final transcript to first audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CacheHits, err = m.Int64Counter("altavoz.cache.hits",
		metric.WithDescription("Audio cache hits by language."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("altavoz.cache.misses",
		metric.WithDescription("Audio cache misses by language."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvictions, err = m.Int64Counter("altavoz.cache.evictions",
		metric.WithDescription("Audio cache evictions by language."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("altavoz.interruptions",
		metric.WithDescription("Caller barge-ins that interrupted queued speech."),
	); err != nil {
		return nil, err
	}
	if met.TrimmedMessages, err = m.Int64Counter("altavoz.context.trimmed_messages",
		metric.WithDescription("History messages dropped by context truncation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("altavoz.active_calls",
		metric.WithDescription("Number of live call sessions."),
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

// RecordAction records one external action dispatch with its outcome.
func (m *Metrics) RecordAction(ctx context.Context, name, status string, seconds float64) {
	m.ActionDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("action", name),
			attribute.String("status", status),
		),
	)
}

// RecordSynthesis records one text-to-speech synthesis round trip.
func (m *Metrics) RecordSynthesis(ctx context.Context, seconds float64) {
	m.SynthesisDuration.Record(ctx, seconds)
}

// RecordTurn records the latency of one conversational turn.
func (m *Metrics) RecordTurn(ctx context.Context, seconds float64) {
	m.TurnDuration.Record(ctx, seconds)
}

// RecordInterruptions adds n flagged events to the barge-in counter.
func (m *Metrics) RecordInterruptions(ctx context.Context, n int) {
	if n > 0 {
		m.Interruptions.Add(ctx, int64(n))
	}
}

// RecordTrimmed adds n dropped history messages to the truncation counter.
func (m *Metrics) RecordTrimmed(ctx context.Context, n int) {
	if n > 0 {
		m.TrimmedMessages.Add(ctx, int64(n))
	}
}

// CallStarted increments the active-call gauge.
func (m *Metrics) CallStarted(ctx context.Context) {
	m.ActiveCalls.Add(ctx, 1)
}

// CallEnded decrements the active-call gauge.
func (m *Metrics) CallEnded(ctx context.Context) {
	m.ActiveCalls.Add(ctx, -1)
}

// CacheHooks returns audio cache lifecycle callbacks wired to the cache
// counters. Pass the result to [audiocache.WithHooks].
func (m *Metrics) CacheHooks() audiocache.Hooks {
	langAttr := func(language string) metric.AddOption {
		return metric.WithAttributes(attribute.String("language", language))
	}
	return audiocache.Hooks{
		OnHit: func(language string) {
			m.CacheHits.Add(context.Background(), 1, langAttr(language))
		},
		OnMiss: func(language string) {
			m.CacheMisses.Add(context.Background(), 1, langAttr(language))
		},
		OnEvict: func(language string, freed int64) {
			m.CacheEvictions.Add(context.Background(), 1, langAttr(language))
		},
	}
}
