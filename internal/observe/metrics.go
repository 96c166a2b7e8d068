// Package observe provides application-wide observability primitives for
// Babelcast: OpenTelemetry metrics, tracing helpers, trace-aware logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to Prometheus so the /metrics endpoint can be scraped. Tests
// should build their own [Metrics] with [NewMetrics] and a ManualReader
// instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/babelcast"

// Metrics holds all OpenTelemetry instruments of the application.
type Metrics struct {
	// --- Stage latency histograms ---

	// RecognitionDuration tracks recognizer calls.
	RecognitionDuration metric.Float64Histogram

	// TranslationDuration tracks one language task of the translation chain,
	// including fallbacks. Attributes: lang, outcome.
	TranslationDuration metric.Float64Histogram

	// SynthesisDuration tracks speech synthesis per language. Attributes:
	// lang, source.
	SynthesisDuration metric.Float64Histogram

	// PublishDuration tracks a single publish. Attributes: lang, kind.
	PublishDuration metric.Float64Histogram

	// UtteranceLatency is the time from segment emission to the language's
	// audio being published. Attribute: lang.
	UtteranceLatency metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Attributes: provider, kind,
	// status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// Segments counts segmenter results. Attribute: outcome
	// (forwarded, silent).
	Segments metric.Int64Counter

	// Drops counts discarded work. Attributes: stage, reason.
	Drops metric.Int64Counter

	// Translations counts per-language translation outcomes. Attributes:
	// lang, outcome, provider.
	Translations metric.Int64Counter

	// Syntheses counts per-language synthesis results. Attributes: lang,
	// source.
	Syntheses metric.Int64Counter

	// PublishFailures counts failed deliveries. Attributes: lang, kind.
	PublishFailures metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// provider, to.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// InFlightUtterances tracks utterance jobs between recognition and the
	// last language being published.
	InFlightUtterances metric.Int64UpDownCounter

	// ListenerConnections tracks relay listeners. Attribute: channel.
	ListenerConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, spanning fast text
// publishes up to slow cloud recognition.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a [Metrics] with instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.RecognitionDuration, "babelcast.recognition.duration", "Latency of speech recognition calls."},
		{&met.TranslationDuration, "babelcast.translation.duration", "Latency of one language's translation chain."},
		{&met.SynthesisDuration, "babelcast.synthesis.duration", "Latency of speech synthesis per language."},
		{&met.PublishDuration, "babelcast.publish.duration", "Latency of publishing one payload."},
		{&met.UtteranceLatency, "babelcast.utterance.latency", "Time from segment emission to published audio."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "babelcast.provider.requests", "Total provider requests by provider, kind and status."},
		{&met.ProviderErrors, "babelcast.provider.errors", "Total provider errors by provider and kind."},
		{&met.Segments, "babelcast.segments", "Segmenter results by outcome."},
		{&met.Drops, "babelcast.drops", "Discarded frames and utterances by stage and reason."},
		{&met.Translations, "babelcast.translations", "Translation outcomes by language and provider."},
		{&met.Syntheses, "babelcast.syntheses", "Synthesis results by language and source."},
		{&met.PublishFailures, "babelcast.publish.failures", "Failed publishes by language and kind."},
		{&met.BreakerTransitions, "babelcast.breaker.transitions", "Circuit breaker state changes by provider."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.InFlightUtterances, err = m.Int64UpDownCounter("babelcast.utterances.in_flight",
		metric.WithDescription("Utterance jobs currently being translated, synthesised or published."),
	); err != nil {
		return nil, err
	}
	if met.ListenerConnections, err = m.Int64UpDownCounter("babelcast.relay.listeners",
		metric.WithDescription("Connected relay listeners by channel."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("babelcast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments reach the Prometheus exporter.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call. A non-nil err also counts a
// provider error.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordSegment counts a segmenter result.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordDrop counts discarded work at stage.
func (m *Metrics) RecordDrop(ctx context.Context, stage, reason string) {
	m.Drops.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage), Attr("reason", reason)))
}

// RecordTranslation records one language's translation result.
func (m *Metrics) RecordTranslation(ctx context.Context, lang, outcome, provider string, d time.Duration) {
	m.Translations.Add(ctx, 1, metric.WithAttributes(
		Attr("lang", lang),
		Attr("outcome", outcome),
		Attr("provider", provider),
	))
	m.TranslationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("lang", lang), Attr("outcome", outcome)))
}

// RecordSynthesis records one language's synthesis result.
func (m *Metrics) RecordSynthesis(ctx context.Context, lang, source string, d time.Duration) {
	attrs := metric.WithAttributes(Attr("lang", lang), Attr("source", source))
	m.Syntheses.Add(ctx, 1, attrs)
	m.SynthesisDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordPublish records a publish attempt. A non-nil err counts a failure.
func (m *Metrics) RecordPublish(ctx context.Context, lang, kind string, d time.Duration, err error) {
	attrs := metric.WithAttributes(Attr("lang", lang), Attr("kind", kind))
	m.PublishDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.PublishFailures.Add(ctx, 1, attrs)
	}
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("to", to)))
}

// RecordListener adjusts the relay listener gauge of channel by delta.
func (m *Metrics) RecordListener(ctx context.Context, channel string, delta int64) {
	m.ListenerConnections.Add(ctx, delta, metric.WithAttributes(Attr("channel", channel)))
}

// RecordUtteranceLatency records the end-to-end latency of one language.
func (m *Metrics) RecordUtteranceLatency(ctx context.Context, lang string, d time.Duration) {
	m.UtteranceLatency.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("lang", lang)))
}
