package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumInt(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64], got %T", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordInference(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInference(ctx, "detect", "ok", 12*time.Millisecond)
	m.RecordInference(ctx, "detect", "error", 0)
	m.RecordInference(ctx, "swap", "busy", 0)

	rm := collect(t, reader)

	reqs := findMetric(rm, "roopcam.inference.requests")
	if reqs == nil {
		t.Fatal("roopcam.inference.requests not found")
	}
	if got := sumInt(t, reqs); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}

	dur := findMetric(rm, "roopcam.inference.duration")
	if dur == nil {
		t.Fatal("roopcam.inference.duration not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", dur.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 1 {
		t.Errorf("duration samples = %d, want 1 (only ok calls)", count)
	}
}

func TestRecordTickAndPublish(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTick(ctx, "dispatched")
	m.RecordTick(ctx, "skipped")
	m.RecordPublish(ctx, "raw", 20*time.Millisecond)

	rm := collect(t, reader)
	if got := sumInt(t, findMetric(rm, "roopcam.scheduler.ticks")); got != 2 {
		t.Errorf("ticks = %d, want 2", got)
	}
	if got := sumInt(t, findMetric(rm, "roopcam.frames.published")); got != 1 {
		t.Errorf("published = %d, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordInference(ctx, "detect", "ok", time.Millisecond)
	m.RecordTick(ctx, "skipped")
	m.RecordPublish(ctx, "raw", time.Millisecond)
	m.RecordTransition(ctx, "new", "connecting")
	m.RecordAudioActive(ctx, "robot")
}
