package observability

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Metrics records application metrics.
type Metrics interface {
	// Counter adds value to a counter.
	Counter(name string, value int64, tags ...Tag)
	// Gauge replaces a gauge's value.
	Gauge(name string, value float64, tags ...Tag)
	Timing(name string, d time.Duration, tags ...Tag)
}

// Tag labels a metric.
type Tag struct {
	Key, Value string
}

// T is shorthand for Tag{key, value}.
func T(key, value string) Tag { return Tag{Key: key, Value: value} }

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag) {}

func (NoopMetrics) Gauge(string, float64, ...Tag) {}

func (NoopMetrics) Timing(string, time.Duration, ...Tag) {}

// InMemoryMetrics keeps metrics in process. The API and worker expose its
// snapshot through their health endpoints.
type InMemoryMetrics struct {
	mu       sync.RWMutex
	counters series[int64]
	gauges   series[float64]
	timings  series[[]time.Duration]
}

// series maps a formatted metric key to its value.
type series[V any] map[string]V

func (s series[V]) update(name string, tags []Tag, fn func(V) V) {
	key := formatKey(name, tags)
	s[key] = fn(s[key])
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters: series[int64]{},
		gauges:   series[float64]{},
		timings:  series[[]time.Duration]{},
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.update(name, tags, func(n int64) int64 { return n + value })
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges.update(name, tags, func(float64) float64 { return value })
}

func (m *InMemoryMetrics) Timing(name string, d time.Duration, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings.update(name, tags, func(ds []time.Duration) []time.Duration { return append(ds, d) })
}

func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	return read(m, m.counters, name, tags)
}

func (m *InMemoryMetrics) GetGauge(name string, tags ...Tag) float64 {
	return read(m, m.gauges, name, tags)
}

// GetTimings returns a copy of the recorded durations.
func (m *InMemoryMetrics) GetTimings(name string, tags ...Tag) []time.Duration {
	return slices.Clone(read(m, m.timings, name, tags))
}

func read[V any](m *InMemoryMetrics, s series[V], name string, tags []Tag) V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return s[formatKey(name, tags)]
}

// Snapshot returns every counter and gauge by key, and for each timing its
// sample count and mean in milliseconds under key+".count" and key+".mean_ms".
func (m *InMemoryMetrics) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]any, len(m.counters)+len(m.gauges)+2*len(m.timings))
	for k, v := range m.counters {
		out[k] = v
	}
	for k, v := range m.gauges {
		out[k] = v
	}
	for k, ds := range m.timings {
		var total time.Duration
		for _, d := range ds {
			total += d
		}
		out[k+".count"] = len(ds)
		if len(ds) > 0 {
			out[k+".mean_ms"] = float64(total.Microseconds()) / 1000 / float64(len(ds))
		}
	}
	return out
}

// formatKey renders tags sorted by key so that tag order does not matter.
func formatKey(name string, tags []Tag) string {
	if len(tags) == 0 {
		return name
	}
	sorted := slices.SortedFunc(slices.Values(tags), func(a, b Tag) int { return strings.Compare(a.Key, b.Key) })

	var b strings.Builder
	b.WriteString(name)
	for _, t := range sorted {
		fmt.Fprintf(&b, ":%s=%s", t.Key, t.Value)
	}
	return b.String()
}

// Metric names.
const (
	MetricOperationTotal    = "licenceledger.operation.total"
	MetricOperationDuration = "licenceledger.operation.duration"

	MetricLicencesCreated  = "licenceledger.licences.created"
	MetricLicencesRejected = "licenceledger.licences.rejected"
	MetricLedgerRetries    = "licenceledger.ledger.occ_retries"

	MetricHTTPRequests = "licenceledger.http.requests"
)
