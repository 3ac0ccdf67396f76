// Package observability is the in-process observability core: the metrics
// registry, hierarchical span recorder, cost tracker, failure classifier,
// evaluation scoring and the simulated generation log. The OTel provider
// mirrors the registry outward; nothing here depends on it.
package observability

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// Canonical series names.
const (
	MetricRequestCount         = "request_count"
	MetricWorkflowExecutions   = "workflow_execution_count"
	MetricNodeExecutionLatency = "node_execution_latency"
	MetricModelUsage           = "model_usage_count"
	MetricPromptUsage          = "prompt_usage_count"
	MetricRequestLatency       = "request_latency"
	MetricFailureCount         = "failure_count"
)

// Mirror receives every registry update. The OTel provider implements it;
// a nil mirror changes nothing.
type Mirror interface {
	Count(ctx context.Context, name string, labels map[string]string, delta float64)
	Observe(ctx context.Context, name string, labels map[string]string, value float64)
}

// Registry is the mutex-guarded metrics core. Counters and histograms are
// keyed by series name plus a canonical label encoding.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]map[string]counterSeries
	histograms map[string]map[string]*histogramSeries
	mirror     Mirror
}

type counterSeries struct {
	labels map[string]string
	value  float64
}

type histogramSeries struct {
	labels map[string]string
	values []float64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]map[string]counterSeries),
		histograms: make(map[string]map[string]*histogramSeries),
	}
}

// SetMirror wires an outward mirror. Call before traffic.
func (r *Registry) SetMirror(m Mirror) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = m
}

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

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// IncrCounter adds 1 to the labeled counter.
func (r *Registry) IncrCounter(ctx context.Context, name string, labels map[string]string) {
	r.AddCounter(ctx, name, labels, 1)
}

// AddCounter adds delta to the labeled counter.
func (r *Registry) AddCounter(ctx context.Context, name string, labels map[string]string, delta float64) {
	r.mu.Lock()
	series := r.counters[name]
	if series == nil {
		series = make(map[string]counterSeries)
		r.counters[name] = series
	}
	key := labelKey(labels)
	cur := series[key]
	if cur.labels == nil {
		cur.labels = copyLabels(labels)
	}
	cur.value += delta
	series[key] = cur
	mirror := r.mirror
	r.mu.Unlock()

	if mirror != nil {
		mirror.Count(ctx, name, labels, delta)
	}
}

// ObserveHistogram records one sample in the labeled histogram.
func (r *Registry) ObserveHistogram(ctx context.Context, name string, labels map[string]string, value float64) {
	r.mu.Lock()
	series := r.histograms[name]
	if series == nil {
		series = make(map[string]*histogramSeries)
		r.histograms[name] = series
	}
	key := labelKey(labels)
	h := series[key]
	if h == nil {
		h = &histogramSeries{labels: copyLabels(labels)}
		series[key] = h
	}
	h.values = append(h.values, value)
	mirror := r.mirror
	r.mu.Unlock()

	if mirror != nil {
		mirror.Observe(ctx, name, labels, value)
	}
}

// CounterValue reads one counter. Zero when the series does not exist.
func (r *Registry) CounterValue(name string, labels map[string]string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name][labelKey(labels)].value
}

// CounterPoint is one counter series in a snapshot.
type CounterPoint struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// HistogramStats is one histogram series with computed percentiles.
type HistogramStats struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Count  int               `json:"count"`
	Min    float64           `json:"min"`
	Max    float64           `json:"max"`
	Avg    float64           `json:"avg"`
	P50    float64           `json:"p50"`
	P95    float64           `json:"p95"`
	P99    float64           `json:"p99"`
}

// MetricsSnapshot is a point-in-time copy of the whole registry.
type MetricsSnapshot struct {
	Counters   []CounterPoint   `json:"counters"`
	Histograms []HistogramStats `json:"histograms"`
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Snapshot computes stats for every series. Output ordering is stable.
func (r *Registry) Snapshot() MetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var snap MetricsSnapshot
	counterNames := make([]string, 0, len(r.counters))
	for name := range r.counters {
		counterNames = append(counterNames, name)
	}
	sort.Strings(counterNames)
	for _, name := range counterNames {
		keys := make([]string, 0, len(r.counters[name]))
		for k := range r.counters[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s := r.counters[name][k]
			snap.Counters = append(snap.Counters, CounterPoint{
				Name:   name,
				Labels: copyLabels(s.labels),
				Value:  s.value,
			})
		}
	}

	histNames := make([]string, 0, len(r.histograms))
	for name := range r.histograms {
		histNames = append(histNames, name)
	}
	sort.Strings(histNames)
	for _, name := range histNames {
		keys := make([]string, 0, len(r.histograms[name]))
		for k := range r.histograms[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h := r.histograms[name][k]
			values := make([]float64, len(h.values))
			copy(values, h.values)
			sort.Float64s(values)
			var sum float64
			for _, v := range values {
				sum += v
			}
			stats := HistogramStats{
				Name:   name,
				Labels: copyLabels(h.labels),
				Count:  len(values),
			}
			if len(values) > 0 {
				stats.Min = values[0]
				stats.Max = values[len(values)-1]
				stats.Avg = sum / float64(len(values))
				stats.P50 = percentile(values, 0.50)
				stats.P95 = percentile(values, 0.95)
				stats.P99 = percentile(values, 0.99)
			}
			snap.Histograms = append(snap.Histograms, stats)
		}
	}
	return snap
}
