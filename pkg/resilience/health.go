package resilience

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Health status strings.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthError    = "error"
)

// Probe checks one dependency. Return detail attributes for the report;
// an error marks the component unhealthy.
type Probe func(ctx context.Context) (map[string]any, error)

// ComponentHealth is one probe's result.
type ComponentHealth struct {
	Status string         `json:"status"`
	Detail map[string]any `json:"detail,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// HealthReport aggregates every probe.
type HealthReport struct {
	Status     string                     `json:"status"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]ComponentHealth `json:"components"`
}

// HealthAggregator composes named probes over the process dependencies
// (kv store, event store, publisher, workflow backlog, breaker states).
type HealthAggregator struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewHealthAggregator creates an empty aggregator.
func NewHealthAggregator() *HealthAggregator {
	return &HealthAggregator{probes: make(map[string]Probe)}
}

// RegisterProbe adds or replaces a named probe.
func (h *HealthAggregator) RegisterProbe(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// Check runs every probe. Any probe error degrades the overall status.
func (h *HealthAggregator) Check(ctx context.Context) HealthReport {
	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	probes := make([]Probe, len(names))
	for i, name := range names {
		probes[i] = h.probes[name]
	}
	h.mu.RUnlock()

	report := HealthReport{
		Status:     HealthHealthy,
		CheckedAt:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth, len(names)),
	}
	for i, name := range names {
		detail, err := probes[i](ctx)
		if err != nil {
			report.Components[name] = ComponentHealth{Status: HealthError, Detail: detail, Error: err.Error()}
			report.Status = HealthDegraded
			continue
		}
		report.Components[name] = ComponentHealth{Status: HealthHealthy, Detail: detail}
	}
	return report
}
