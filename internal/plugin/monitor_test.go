package plugin

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestMonitor(t *testing.T, opts ...MonitorOption) *Monitor {
	t.Helper()
	return NewMonitor(prometheus.NewRegistry(), nil, opts...)
}

func TestRecordEvictsOldestAtCapacity(t *testing.T) {
	m := newTestMonitor(t)

	for i := 0; i <= DefaultMetricCapacity; i++ {
		m.Record("alpha", MetricResponseMS, float64(i), time.Now())
	}

	points := m.Series("alpha", MetricResponseMS)
	if len(points) != DefaultMetricCapacity {
		t.Fatalf("len = %d, want %d", len(points), DefaultMetricCapacity)
	}
	if points[0].Value != 1 {
		t.Errorf("oldest value = %v, want 1 (sample 0 evicted)", points[0].Value)
	}
	if points[len(points)-1].Value != float64(DefaultMetricCapacity) {
		t.Errorf("latest value = %v, want %d", points[len(points)-1].Value, DefaultMetricCapacity)
	}
}

func TestRecordKeepsArrivalOrder(t *testing.T) {
	m := newTestMonitor(t, WithMetricCapacity(5))

	for i := 0; i < 8; i++ {
		m.Record("alpha", MetricMemoryMB, float64(i), time.Now())
	}

	points := m.Series("alpha", MetricMemoryMB)
	want := []float64{3, 4, 5, 6, 7}
	if len(points) != len(want) {
		t.Fatalf("len = %d, want %d", len(points), len(want))
	}
	for i, w := range want {
		if points[i].Value != w {
			t.Errorf("points[%d] = %v, want %v", i, points[i].Value, w)
		}
	}
}

func TestSeriesAreIndependentPerPluginAndMetric(t *testing.T) {
	m := newTestMonitor(t)
	m.Record("alpha", MetricMemoryMB, 1, time.Now())
	m.Record("alpha", MetricCPUPercent, 2, time.Now())
	m.Record("beta", MetricMemoryMB, 3, time.Now())

	if got := m.Series("alpha", MetricMemoryMB); len(got) != 1 || got[0].Value != 1 {
		t.Errorf("alpha memory series = %v", got)
	}
	if got := m.Series("beta", MetricMemoryMB); len(got) != 1 || got[0].Value != 3 {
		t.Errorf("beta memory series = %v", got)
	}
	if got := m.Series("ghost", MetricMemoryMB); got != nil {
		t.Errorf("unknown series = %v, want nil", got)
	}
}

func TestCheckAlertsUsesLatestSampleOnly(t *testing.T) {
	m := newTestMonitor(t, WithThresholds(Thresholds{MemoryMB: 512, CPUPercent: 80, ResponseMS: 1000}))

	m.Record("alpha", MetricMemoryMB, 600, time.Now())
	alerts := m.CheckAlerts("alpha")
	if len(alerts) != 1 {
		t.Fatalf("alerts = %v, want one", alerts)
	}
	if !strings.Contains(alerts[0], "memory_mb") {
		t.Errorf("alert %q does not name the metric", alerts[0])
	}

	// A newer in-range sample clears the alert; history is irrelevant.
	m.Record("alpha", MetricMemoryMB, 100, time.Now())
	if alerts := m.CheckAlerts("alpha"); len(alerts) != 0 {
		t.Errorf("alerts = %v, want none after recovery", alerts)
	}
}

func TestCheckAlertsIgnoresUnwatchedMetrics(t *testing.T) {
	m := newTestMonitor(t)
	m.Record("alpha", MetricLoadMS, 1e9, time.Now())

	if alerts := m.CheckAlerts("alpha"); len(alerts) != 0 {
		t.Errorf("alerts = %v, want none for stage metrics", alerts)
	}
}

func TestAllAlertsAggregatesAcrossPlugins(t *testing.T) {
	m := newTestMonitor(t, WithThresholds(Thresholds{MemoryMB: 512, CPUPercent: 80, ResponseMS: 1000}))
	m.Record("beta", MetricCPUPercent, 95, time.Now())
	m.Record("alpha", MetricMemoryMB, 700, time.Now())
	m.Record("calm", MetricMemoryMB, 10, time.Now())

	alerts := m.AllAlerts()
	if len(alerts) != 2 {
		t.Fatalf("alerts = %v, want two", alerts)
	}
	if !strings.Contains(alerts[0], "alpha") || !strings.Contains(alerts[1], "beta") {
		t.Errorf("alerts not in name order: %v", alerts)
	}
}

func TestForgetDropsAllSeries(t *testing.T) {
	m := newTestMonitor(t)
	m.Record("alpha", MetricMemoryMB, 1, time.Now())
	m.Forget("alpha")

	if got := m.Metrics("alpha"); got != nil {
		t.Errorf("metrics = %v, want nil after Forget", got)
	}
}

func TestObserveStageRecordsSeries(t *testing.T) {
	m := newTestMonitor(t)
	m.ObserveStage("alpha", MetricLoadMS, 250*time.Millisecond)

	points := m.Series("alpha", MetricLoadMS)
	if len(points) != 1 || points[0].Value != 250 {
		t.Errorf("series = %v, want one 250ms sample", points)
	}
}
