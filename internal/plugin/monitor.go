package plugin

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultMetricCapacity is the per-series ring buffer capacity.
const DefaultMetricCapacity = 100

// Well-known metric names.
const (
	MetricMemoryMB   = "memory_mb"
	MetricCPUPercent = "cpu_percent"
	MetricResponseMS = "response_ms"
	MetricLoadMS     = "load_ms"
	MetricInitMS     = "init_ms"
	MetricActivateMS = "activate_ms"
)

// MetricPoint is one sample in a metric series.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Thresholds is the fixed alert threshold table. Alerts compare only
// the latest sample of each metric against its ceiling.
type Thresholds struct {
	MemoryMB   float64
	CPUPercent float64
	ResponseMS float64
}

// DefaultThresholds returns the default alert ceilings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MemoryMB:   512,
		CPUPercent: 80,
		ResponseMS: 1000,
	}
}

// series is a fixed-capacity FIFO buffer of metric points.
type series struct {
	points   []MetricPoint
	capacity int
}

func (s *series) append(p MetricPoint) {
	if len(s.points) == s.capacity {
		copy(s.points, s.points[1:])
		s.points[len(s.points)-1] = p
		return
	}
	s.points = append(s.points, p)
}

func (s *series) latest() (MetricPoint, bool) {
	if len(s.points) == 0 {
		return MetricPoint{}, false
	}
	return s.points[len(s.points)-1], true
}

// Monitor records bounded per-plugin metric series and computes
// threshold alerts on demand. Alerts are never stored. Aggregates are
// additionally exported as Prometheus collectors.
type Monitor struct {
	mu         sync.RWMutex
	capacity   int
	series     map[string]map[string]*series // plugin -> metric -> buffer
	thresholds Thresholds
	log        *zap.Logger

	activePlugins prometheus.Gauge
	loadFailures  prometheus.Counter
	stageSeconds  *prometheus.HistogramVec
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMetricCapacity overrides the per-series buffer capacity.
func WithMetricCapacity(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithThresholds overrides the alert threshold table.
func WithThresholds(t Thresholds) MonitorOption {
	return func(m *Monitor) {
		m.thresholds = t
	}
}

// NewMonitor creates a monitor registering its collectors on reg.
func NewMonitor(reg prometheus.Registerer, log *zap.Logger, opts ...MonitorOption) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Monitor{
		capacity:   DefaultMetricCapacity,
		series:     make(map[string]map[string]*series),
		thresholds: DefaultThresholds(),
		log:        log,
	}
	for _, opt := range opts {
		opt(m)
	}

	factory := promauto.With(reg)
	m.activePlugins = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "pluginhost",
		Name:      "active_plugins",
		Help:      "Number of plugins currently in the active state.",
	})
	m.loadFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "pluginhost",
		Name:      "load_failures_total",
		Help:      "Plugins that failed to load, initialize or activate.",
	})
	m.stageSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pluginhost",
		Name:      "stage_duration_seconds",
		Help:      "Duration of plugin lifecycle stages.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"plugin", "stage"})

	return m
}

// Record appends a sample to the (plugin, metric) ring buffer,
// evicting the oldest sample when the buffer is full.
func (m *Monitor) Record(name, metric string, value float64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byMetric, ok := m.series[name]
	if !ok {
		byMetric = make(map[string]*series)
		m.series[name] = byMetric
	}
	s, ok := byMetric[metric]
	if !ok {
		s = &series{capacity: m.capacity}
		byMetric[metric] = s
	}
	s.append(MetricPoint{Timestamp: ts, Value: value})
}

// Series returns a copy of the samples for (plugin, metric), oldest
// first.
func (m *Monitor) Series(name, metric string) []MetricPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if byMetric, ok := m.series[name]; ok {
		if s, ok := byMetric[metric]; ok {
			return append([]MetricPoint{}, s.points...)
		}
	}
	return nil
}

// Metrics returns a copy of every series recorded for the plugin.
func (m *Monitor) Metrics(name string) map[string][]MetricPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byMetric, ok := m.series[name]
	if !ok {
		return nil
	}
	out := make(map[string][]MetricPoint, len(byMetric))
	for metric, s := range byMetric {
		out[metric] = append([]MetricPoint{}, s.points...)
	}
	return out
}

// Forget drops all series for the plugin.
func (m *Monitor) Forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.series, name)
}

// ObserveStage records a lifecycle stage duration both in the ring
// buffer and the Prometheus histogram.
func (m *Monitor) ObserveStage(name, stage string, d time.Duration) {
	m.Record(name, stage, float64(d.Milliseconds()), time.Now())
	m.stageSeconds.WithLabelValues(name, stage).Observe(d.Seconds())
}

// IncLoadFailure counts a pipeline failure.
func (m *Monitor) IncLoadFailure() {
	m.loadFailures.Inc()
}

// SetActiveCount updates the exported active-plugin gauge.
func (m *Monitor) SetActiveCount(n int) {
	m.activePlugins.Set(float64(n))
}

// CheckAlerts compares the latest sample of each of the plugin's
// metrics against the threshold table and returns one alert string
// per exceeded ceiling. Computed on demand, never stored.
func (m *Monitor) CheckAlerts(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byMetric, ok := m.series[name]
	if !ok {
		return nil
	}

	ceilings := map[string]float64{
		MetricMemoryMB:   m.thresholds.MemoryMB,
		MetricCPUPercent: m.thresholds.CPUPercent,
		MetricResponseMS: m.thresholds.ResponseMS,
	}

	metrics := make([]string, 0, len(byMetric))
	for metric := range byMetric {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	var alerts []string
	for _, metric := range metrics {
		ceiling, watched := ceilings[metric]
		if !watched || ceiling <= 0 {
			continue
		}
		if p, ok := byMetric[metric].latest(); ok && p.Value > ceiling {
			alerts = append(alerts,
				fmt.Sprintf("plugin %q: %s %.1f exceeds threshold %.1f", name, metric, p.Value, ceiling))
		}
	}
	return alerts
}

// AllAlerts concatenates the current alerts of every plugin with
// recorded metrics, in name order.
func (m *Monitor) AllAlerts() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.series))
	for name := range m.series {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	var alerts []string
	for _, name := range names {
		alerts = append(alerts, m.CheckAlerts(name)...)
	}
	return alerts
}
