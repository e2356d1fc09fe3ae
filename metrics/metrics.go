// Package metrics is a small in-process collector: labeled counters, gauges,
// and windowed histograms with Prometheus text-format export. Series are
// auto-created on first touch.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultBuckets is the fixed histogram bucket set. An implicit +Inf bucket
// always equals the total count.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// DefaultWindowSize bounds how many observations a histogram retains for
// its sum.
const DefaultWindowSize = 10000

// Option configures a Collector.
type Option func(*Collector)

// WithWindowSize overrides the histogram sliding-window bound.
func WithWindowSize(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.windowSize = n
		}
	}
}

// Collector holds every metric family. Safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	counters   map[string]map[string]*counterSeries
	gauges     map[string]float64
	histograms map[string]*histogram
	windowSize int
}

type counterSeries struct {
	labels map[string]string
	value  float64
}

// histogram buckets and count track lifetime recordings and never go down.
// Only sum is windowed: evicting the oldest observation subtracts it.
type histogram struct {
	buckets []uint64 // cumulative, aligned with DefaultBuckets
	window  []float64
	head    int
	sum     float64
	count   uint64
}

// New creates an empty collector.
func New(opts ...Option) *Collector {
	c := &Collector{
		counters:   make(map[string]map[string]*counterSeries),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*histogram),
		windowSize: DefaultWindowSize,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// labelKey builds a stable series key from a label set.
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

// Increment adds by to the counter series identified by name and labels,
// creating it on first touch.
func (c *Collector) Increment(name string, by float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	series, ok := c.counters[name]
	if !ok {
		series = make(map[string]*counterSeries)
		c.counters[name] = series
	}
	key := labelKey(labels)
	s, ok := series[key]
	if !ok {
		copied := make(map[string]string, len(labels))
		for k, v := range labels {
			copied[k] = v
		}
		s = &counterSeries{labels: copied}
		series[key] = s
	}
	s.value += by
}

// Counter returns the current value of one counter series; 0 if absent.
func (c *Collector) Counter(name string, labels map[string]string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.counters[name][labelKey(labels)]; ok {
		return s.value
	}
	return 0
}

// SetGauge records a gauge value. Last write wins; negative and fractional
// values are fine.
func (c *Collector) SetGauge(name string, value float64) {
	c.mu.Lock()
	c.gauges[name] = value
	c.mu.Unlock()
}

// Gauge returns the current gauge value; 0 if absent.
func (c *Collector) Gauge(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gauges[name]
}

// Observe records one observation. Buckets and count are lifetime; when the
// window is full the oldest observation is evicted and subtracted from sum.
func (c *Collector) Observe(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.histograms[name]
	if !ok {
		h = &histogram{
			buckets: make([]uint64, len(DefaultBuckets)),
			window:  make([]float64, 0, c.windowSize),
		}
		c.histograms[name] = h
	}
	for i, le := range DefaultBuckets {
		if value <= le {
			h.buckets[i]++
		}
	}
	if len(h.window) < c.windowSize {
		h.window = append(h.window, value)
	} else {
		h.sum -= h.window[h.head]
		h.window[h.head] = value
		h.head = (h.head + 1) % len(h.window)
	}
	h.sum += value
	h.count++
}

// HistogramSnapshot is a point-in-time view of one histogram.
type HistogramSnapshot struct {
	Buckets map[float64]uint64 // cumulative, keyed by upper bound
	Sum     float64
	Count   uint64 // lifetime recordings, not window size
}

// Histogram snapshots one histogram; ok is false when it does not exist.
func (c *Collector) Histogram(name string) (HistogramSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.histograms[name]
	if !ok {
		return HistogramSnapshot{}, false
	}
	buckets := make(map[float64]uint64, len(DefaultBuckets))
	for i, le := range DefaultBuckets {
		buckets[le] = h.buckets[i]
	}
	return HistogramSnapshot{Buckets: buckets, Sum: h.sum, Count: h.count}, true
}

// Reset zeroes every counter and gauge and clears histogram windows, sums,
// and counts.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]map[string]*counterSeries)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string]*histogram)
}

// Export renders every metric in Prometheus text format. Series with empty
// label sets omit the brace group.
func (c *Collector) Export() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder

	names := make([]string, 0, len(c.counters))
	for name := range c.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "# HELP %s counter\n# TYPE %s counter\n", name, name)
		keys := make([]string, 0, len(c.counters[name]))
		for key := range c.counters[name] {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			s := c.counters[name][key]
			fmt.Fprintf(&b, "%s%s %s\n", name, renderLabels(s.labels), formatValue(s.value))
		}
	}

	names = names[:0]
	for name := range c.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "# HELP %s gauge\n# TYPE %s gauge\n", name, name)
		fmt.Fprintf(&b, "%s %s\n", name, formatValue(c.gauges[name]))
	}

	names = names[:0]
	for name := range c.histograms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h := c.histograms[name]
		fmt.Fprintf(&b, "# HELP %s histogram\n# TYPE %s histogram\n", name, name)
		for i, le := range DefaultBuckets {
			fmt.Fprintf(&b, "%s_bucket{le=%q} %d\n", name, formatValue(le), h.buckets[i])
		}
		fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", name, h.count)
		fmt.Fprintf(&b, "%s_sum %s\n", name, formatValue(h.sum))
		fmt.Fprintf(&b, "%s_count %d\n", name, h.count)
	}

	return b.String()
}

func renderLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func formatValue(v float64) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
