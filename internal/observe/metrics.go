// Package observe holds the OpenTelemetry metric instruments of the editor
// core. Components take a *Metrics through their options and fall back to
// [DefaultMetrics], which records into the global meter provider. Tests
// should use [NewMetrics] with their own provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/vsariola/shifter"

// Metrics holds all metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// SegmentDuration tracks the wall time of one segment synthesis,
	// vocoder call included.
	SegmentDuration metric.Float64Histogram

	// SegmentsSynthesized counts segments that were synthesized and stored.
	SegmentsSynthesized metric.Int64Counter

	// SynthesisFailures counts failed segment syntheses. Use with attribute:
	//   attribute.String("track", ...)
	SynthesisFailures metric.Int64Counter

	// PassDuration tracks the wall time of a whole dirty pass.
	PassDuration metric.Float64Histogram

	// TensionDuration tracks the wall time of the tension effect.
	TensionDuration metric.Float64Histogram

	// TensionFailures counts tension effect failures that fell back to the
	// unprocessed audio.
	TensionFailures metric.Int64Counter

	// PlaybackSessions tracks the number of prepared playback sessions
	// currently attached to a player.
	PlaybackSessions metric.Int64UpDownCounter
}

// latencyBuckets are bucket boundaries in seconds for vocoder and DSP work.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments using the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SegmentDuration, err = m.Float64Histogram("shifter.segment.duration",
		metric.WithDescription("Latency of synthesizing one dirty segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PassDuration, err = m.Float64Histogram("shifter.pass.duration",
		metric.WithDescription("Latency of a complete dirty pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TensionDuration, err = m.Float64Histogram("shifter.tension.duration",
		metric.WithDescription("Latency of the tension effect over a full track."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SegmentsSynthesized, err = m.Int64Counter("shifter.segments.synthesized",
		metric.WithDescription("Total segments synthesized."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisFailures, err = m.Int64Counter("shifter.synthesis.failures",
		metric.WithDescription("Total failed segment syntheses by track."),
	); err != nil {
		return nil, err
	}
	if met.TensionFailures, err = m.Int64Counter("shifter.tension.failures",
		metric.WithDescription("Total tension effect failures."),
	); err != nil {
		return nil, err
	}

	if met.PlaybackSessions, err = m.Int64UpDownCounter("shifter.playback.sessions",
		metric.WithDescription("Number of playback sessions attached to a player."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from [otel.GetMeterProvider].
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

// RecordSegment records one segment synthesis attempt.
func (m *Metrics) RecordSegment(ctx context.Context, track string, d time.Duration, err error) {
	m.SegmentDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.SynthesisFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("track", track)))
		return
	}
	m.SegmentsSynthesized.Add(ctx, 1)
}

// RecordTension records one run of the tension effect.
func (m *Metrics) RecordTension(ctx context.Context, d time.Duration, err error) {
	m.TensionDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.TensionFailures.Add(ctx, 1)
	}
}
