// Package observe provides the OpenTelemetry metric instruments used across
// roopcam and the provider setup that exports them to Prometheus.
//
// Components receive a *Metrics through their configuration. Tests build one
// with NewMetrics over an sdkmetric.ManualReader; production code uses
// InitProvider and then DefaultMetrics.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/teslashibe/roopcam"

// Metrics holds all instruments. All fields are safe for concurrent use.
type Metrics struct {
	// PassDuration is the end-to-end latency of one pipeline pass.
	PassDuration metric.Float64Histogram

	// InferenceDuration is per-call latency. Attribute: kind.
	InferenceDuration metric.Float64Histogram

	// InferenceRequests counts calls. Attributes: kind, status.
	InferenceRequests metric.Int64Counter

	// SchedulerTicks counts ticks. Attribute: outcome.
	SchedulerTicks metric.Int64Counter

	// FramesPublished counts render-sink publications. Attribute: variant.
	FramesPublished metric.Int64Counter

	// SessionTransitions counts state changes. Attributes: from, to.
	SessionTransitions metric.Int64Counter

	// AudioActive counts analysis ticks that crossed the activity floor.
	AudioActive metric.Int64Counter
}

// Latency buckets (seconds) sized around the 33ms frame budget.
var latencyBuckets = []float64{
	0.005, 0.01, 0.015, 0.025, 0.033, 0.05, 0.075, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.PassDuration, err = m.Float64Histogram("roopcam.pass.duration",
		metric.WithDescription("Latency of one capture-to-render pipeline pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("roopcam.inference.duration",
		metric.WithDescription("Latency of remote inference calls by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferenceRequests, err = m.Int64Counter("roopcam.inference.requests",
		metric.WithDescription("Inference calls by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.SchedulerTicks, err = m.Int64Counter("roopcam.scheduler.ticks",
		metric.WithDescription("Scheduler ticks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesPublished, err = m.Int64Counter("roopcam.frames.published",
		metric.WithDescription("Frames delivered to the render sink by variant."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("roopcam.session.transitions",
		metric.WithDescription("Peer session state transitions."),
	); err != nil {
		return nil, err
	}
	if met.AudioActive, err = m.Int64Counter("roopcam.audio.active",
		metric.WithDescription("Audio analysis ticks above the activity floor."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance created from the global
// meter provider. Before InitProvider runs this is backed by a no-op provider.
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

// RecordInference records one inference call.
func (m *Metrics) RecordInference(ctx context.Context, kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	kindAttr := attribute.String("kind", kind)
	m.InferenceRequests.Add(ctx, 1, metric.WithAttributes(kindAttr, attribute.String("status", status)))
	if status == "ok" {
		m.InferenceDuration.Record(ctx, d.Seconds(), metric.WithAttributes(kindAttr))
	}
}

// RecordTick records one scheduler tick outcome.
func (m *Metrics) RecordTick(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.SchedulerTicks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPublish records a render-sink publication and its pass latency.
func (m *Metrics) RecordPublish(ctx context.Context, variant string, pass time.Duration) {
	if m == nil {
		return
	}
	m.FramesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("variant", variant)))
	m.PassDuration.Record(ctx, pass.Seconds())
}

// RecordTransition records a session state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordAudioActive records an active audio analysis tick.
func (m *Metrics) RecordAudioActive(ctx context.Context, profile string) {
	if m == nil {
		return
	}
	m.AudioActive.Add(ctx, 1, metric.WithAttributes(attribute.String("profile", profile)))
}
