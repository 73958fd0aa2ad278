// Package metrics provides the relay's lightweight metric primitives.
// Counters and gauges are lock-free atomics; histograms take a short mutex.
// Values are exposed in Prometheus text format by the exporter.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter counts events. It only goes up.
type Counter struct {
	name string
	n    atomic.Int64
}

// NewCounter returns a new Counter with the given name.
func NewCounter(name string) *Counter { return &Counter{name: name} }

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.n.Add(1) }

// Add increments the counter by n. Counters are monotonic, so negative
// increments are ignored.
func (c *Counter) Add(n int64) {
	if n > 0 {
		c.n.Add(n)
	}
}

// Value returns the current count.
func (c *Counter) Value() int64 { return c.n.Load() }

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Gauge tracks a value that moves in both directions.
type Gauge struct {
	name string
	n    atomic.Int64
}

// NewGauge returns a new Gauge with the given name.
func NewGauge(name string) *Gauge { return &Gauge{name: name} }

// Set replaces the gauge value.
func (g *Gauge) Set(v int64) { g.n.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.n.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.n.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.n.Load() }

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// HistogramStats is a point-in-time summary of a histogram. Min and Max are
// zero when nothing has been observed.
type HistogramStats struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
}

// Mean returns the arithmetic mean, or 0 with no observations.
func (s HistogramStats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Histogram summarizes observed values as count, sum, min and max. Quantiles
// are deliberately out of scope; the summary is enough for latency dashboards
// and keeps the hot path to a handful of compares under one mutex.
type Histogram struct {
	name string

	mu sync.Mutex
	s  HistogramStats
}

// NewHistogram returns a new Histogram with the given name.
func NewHistogram(name string) *Histogram { return &Histogram{name: name} }

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	if h.s.Count == 0 || v < h.s.Min {
		h.s.Min = v
	}
	if h.s.Count == 0 || v > h.s.Max {
		h.s.Max = v
	}
	h.s.Count++
	h.s.Sum += v
	h.mu.Unlock()
}

// Stats returns a consistent snapshot of the summary.
func (h *Histogram) Stats() HistogramStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 { return h.Stats().Count }

// Sum returns the sum of all observed values.
func (h *Histogram) Sum() float64 { return h.Stats().Sum }

// Min returns the smallest observed value, or 0 with no observations.
func (h *Histogram) Min() float64 { return h.Stats().Min }

// Max returns the largest observed value, or 0 with no observations.
func (h *Histogram) Max() float64 { return h.Stats().Max }

// Mean returns the arithmetic mean, or 0 with no observations.
func (h *Histogram) Mean() float64 { return h.Stats().Mean() }

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// Timer records an elapsed duration into a histogram, in milliseconds.
type Timer struct {
	start time.Time
	hist  *Histogram
}

// NewTimer starts a timer that records into h when stopped.
func NewTimer(h *Histogram) *Timer {
	return &Timer{start: time.Now(), hist: h}
}

// Stop observes the elapsed milliseconds and returns the duration.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.hist != nil {
		t.hist.Observe(float64(d.Milliseconds()))
	}
	return d
}
