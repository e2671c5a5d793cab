package otel

import (
	"context"
	"sync"
	"testing"

	tokenpipe "github.com/MrEthical07/tokenpipe"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot tokenpipe.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() tokenpipe.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := tokenpipe.MetricsSnapshot{
		Counters:   make(map[tokenpipe.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[tokenpipe.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("tokenpipe-test")

	src := &fakeSource{
		snapshot: tokenpipe.MetricsSnapshot{
			Counters: map[tokenpipe.MetricID]uint64{
				tokenpipe.MetricRenewalStarted: 3,
				tokenpipe.MetricRenewalWaiter:  12,
			},
			Histograms: map[tokenpipe.MetricID][]uint64{
				tokenpipe.MetricRenewalLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collectSums(t, reader)
	if got["tokenpipe_renewal_started_total"] != 3 {
		t.Fatalf("expected renewal_started 3, got %d", got["tokenpipe_renewal_started_total"])
	}
	if got["tokenpipe_renewal_waiter_total"] != 12 {
		t.Fatalf("expected renewal_waiter 12, got %d", got["tokenpipe_renewal_waiter_total"])
	}
	if got["tokenpipe_renewal_latency_seconds_bucket_le_0_005"] != 1 {
		t.Fatalf("expected first bucket 1, got %d", got["tokenpipe_renewal_latency_seconds_bucket_le_0_005"])
	}
	if got["tokenpipe_renewal_latency_seconds_count"] != 8 {
		t.Fatalf("expected histogram count 8, got %d", got["tokenpipe_renewal_latency_seconds_count"])
	}
	if got["tokenpipe_audit_dropped_total"] != 1 {
		t.Fatalf("expected audit dropped 1, got %d", got["tokenpipe_audit_dropped_total"])
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("tokenpipe-test")

	if _, err := NewExporter(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestBoundSuffix(t *testing.T) {
	cases := map[int]string{0: "0_005", 4: "0_1", 6: "0_5", 7: "inf"}
	for i, want := range cases {
		if got := boundSuffix(i); got != want {
			t.Fatalf("boundSuffix(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("tokenpipe-test")

	src := &fakeSource{
		snapshot: tokenpipe.MetricsSnapshot{
			Counters: map[tokenpipe.MetricID]uint64{
				tokenpipe.MetricRenewalSuccess: 1,
			},
			Histograms: map[tokenpipe.MetricID][]uint64{
				tokenpipe.MetricRenewalLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[tokenpipe.MetricRenewalSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
