package metrics

import (
	"fmt"
	"math"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// PrometheusConfig configures the text-exposition exporter.
type PrometheusConfig struct {
	// Namespace is prepended to every metric name
	// (e.g. "blobrelay" produces "blobrelay_jobs_submitted").
	Namespace string
	// EnableRuntime adds Go runtime metrics (goroutines, heap, GC) to the
	// scrape output.
	EnableRuntime bool
	// Path is the HTTP path to serve metrics on (default "/metrics").
	Path string
}

// DefaultPrometheusConfig returns a config with sensible defaults.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		Namespace:     "blobrelay",
		EnableRuntime: true,
		Path:          "/metrics",
	}
}

// PrometheusExporter serves a Registry in Prometheus text exposition format.
type PrometheusExporter struct {
	config   PrometheusConfig
	registry *Registry
}

// NewPrometheusExporter creates an exporter reading from the given registry.
func NewPrometheusExporter(registry *Registry, config PrometheusConfig) *PrometheusExporter {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	return &PrometheusExporter{config: config, registry: registry}
}

// Handler returns an http.Handler serving the metrics endpoint.
func (pe *PrometheusExporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(pe.config.Path, pe.handleMetrics)
	return mux
}

func (pe *PrometheusExporter) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var b strings.Builder
	pe.writeRegistry(&b)
	if pe.config.EnableRuntime {
		pe.writeRuntime(&b)
	}
	w.Write([]byte(b.String()))
}

// writeRegistry emits every registry metric, name-sorted per family.
// Histograms become summaries with _count/_sum plus min/max/mean lines.
func (pe *PrometheusExporter) writeRegistry(b *strings.Builder) {
	counters, gauges, histograms := pe.registry.export()

	for _, c := range counters {
		pe.writeInt(b, pe.promName(c.Name()), "counter", c.Name(), c.Value())
	}
	for _, g := range gauges {
		pe.writeInt(b, pe.promName(g.Name()), "gauge", g.Name(), g.Value())
	}
	for _, h := range histograms {
		name := pe.promName(h.Name())
		s := h.Stats()
		pe.writeHeader(b, name, "summary", h.Name())
		fmt.Fprintf(b, "%s_count %d\n", name, s.Count)
		fmt.Fprintf(b, "%s_sum %s\n", name, formatFloat(s.Sum))
		if s.Count > 0 {
			fmt.Fprintf(b, "%s_min %s\n", name, formatFloat(s.Min))
			fmt.Fprintf(b, "%s_max %s\n", name, formatFloat(s.Max))
			fmt.Fprintf(b, "%s_mean %s\n", name, formatFloat(s.Mean()))
		}
	}
}

// writeRuntime emits the process-level Go metrics a scrape expects.
func (pe *PrometheusExporter) writeRuntime(b *strings.Builder) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	prefix := pe.config.Namespace
	if prefix != "" {
		prefix += "_"
	}

	pe.writeInt(b, prefix+"go_goroutines", "gauge",
		"Number of active goroutines", int64(runtime.NumGoroutine()))
	pe.writeInt(b, prefix+"go_memstats_heap_alloc_bytes", "gauge",
		"Bytes of allocated heap objects", int64(m.HeapAlloc))
	pe.writeInt(b, prefix+"go_memstats_sys_bytes", "gauge",
		"Bytes of memory obtained from the OS", int64(m.Sys))
	pe.writeInt(b, prefix+"go_memstats_heap_objects", "gauge",
		"Number of allocated heap objects", int64(m.HeapObjects))
	pe.writeInt(b, prefix+"go_gc_cycles_total", "counter",
		"Completed GC cycles", int64(m.NumGC))

	start := prefix + "process_start_time_seconds"
	pe.writeHeader(b, start, "gauge", "Process start time in seconds since epoch")
	fmt.Fprintf(b, "%s %s\n", start, formatFloat(float64(processStartTime.Unix())))
}

func (pe *PrometheusExporter) writeHeader(b *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, metricType)
}

func (pe *PrometheusExporter) writeInt(b *strings.Builder, name, metricType, help string, v int64) {
	pe.writeHeader(b, name, metricType, help)
	fmt.Fprintf(b, "%s %d\n", name, v)
}

// promName converts a dot-separated metric name to Prometheus form: dots and
// dashes become underscores and the namespace is prepended.
func (pe *PrometheusExporter) promName(name string) string {
	sanitized := strings.ReplaceAll(name, ".", "_")
	sanitized = strings.ReplaceAll(sanitized, "-", "_")
	if pe.config.Namespace != "" {
		return pe.config.Namespace + "_" + sanitized
	}
	return sanitized
}

// formatFloat renders a float for exposition, handling the special values.
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}

// processStartTime is recorded at init for process_start_time_seconds.
var processStartTime = time.Now()
