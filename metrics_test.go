package authcore

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLogout)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 2 || snap.Counters[MetricLogout] != 1 {
		t.Fatalf("unexpected snapshot %v", snap.Counters)
	}
	if snap.Counters[MetricRefreshSuccess] != 0 {
		t.Fatalf("untouched counter should be zero, got %d", snap.Counters[MetricRefreshSuccess])
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricLoginSuccess)
	m.Observe(MetricValidateLatency, time.Millisecond)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled metrics recorded %d", got)
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 {
		t.Fatalf("disabled snapshot should be empty, got %v", snap.Counters)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	if nilMetrics.Value(MetricLoginSuccess) != 0 {
		t.Fatal("nil metrics must read zero")
	}
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	samples := []time.Duration{
		2 * time.Millisecond,
		7 * time.Millisecond,
		60 * time.Millisecond,
		time.Second,
	}
	for _, d := range samples {
		m.Observe(MetricValidateLatency, d)
	}

	snap := m.Snapshot()
	buckets, ok := snap.Histograms[MetricValidateLatency]
	if !ok {
		t.Fatal("expected a latency histogram")
	}

	var total uint64
	for _, n := range buckets {
		total += n
	}
	if total != uint64(len(samples)) {
		t.Fatalf("expected %d samples, got %d", len(samples), total)
	}
	if buckets[len(buckets)-1] != 1 {
		t.Fatalf("expected the 1s sample in the overflow bucket, got %v", buckets)
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.Inc(MetricValidateSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricValidateSuccess); got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}
}

func TestMetricNames(t *testing.T) {
	seen := make(map[string]MetricID)
	for id := MetricID(0); id < metricIDCount; id++ {
		name := id.Name()
		if name == "" {
			t.Fatalf("metric %d has no name", id)
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("metrics %d and %d share the name %q", prev, id, name)
		}
		seen[name] = id
	}
}
