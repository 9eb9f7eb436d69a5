package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordAction(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAction(ctx, "lookup_user", "ok", 0.12)
	m.RecordAction(ctx, "lookup_user", "ok", 0.34)

	rm := collect(t, reader)
	met := findMetric(rm, "altavoz.action.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestCacheHooksFeedCounters(t *testing.T) {
	m, reader := newTestMetrics(t)

	hooks := m.CacheHooks()
	hooks.OnHit("es")
	hooks.OnHit("es")
	hooks.OnMiss("es")
	hooks.OnEvict("es", 1024)

	rm := collect(t, reader)

	counters := []struct {
		name string
		want int64
	}{
		{"altavoz.cache.hits", 2},
		{"altavoz.cache.misses", 1},
		{"altavoz.cache.evictions", 1},
	}
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("counter value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestInterruptionAndTrimCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInterruptions(ctx, 3)
	m.RecordInterruptions(ctx, 0) // no-op
	m.RecordTrimmed(ctx, 2)

	rm := collect(t, reader)

	if met := findMetric(rm, "altavoz.interruptions"); met == nil {
		t.Fatal("interruptions metric not found")
	} else if sum := met.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 3 {
		t.Errorf("interruptions = %d, want 3", sum.DataPoints[0].Value)
	}
	if met := findMetric(rm, "altavoz.context.trimmed_messages"); met == nil {
		t.Fatal("trimmed metric not found")
	} else if sum := met.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 2 {
		t.Errorf("trimmed = %d, want 2", sum.DataPoints[0].Value)
	}
}

func TestActiveCallsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CallStarted(ctx)
	m.CallStarted(ctx)
	m.CallEnded(ctx)

	rm := collect(t, reader)
	met := findMetric(rm, "altavoz.active_calls")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check that
	// repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
