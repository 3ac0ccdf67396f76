package resilience_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arbiter-io/arbiter/pkg/resilience"
)

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }

func TestAutoScaling_ScaleUpOnAnyBreach(t *testing.T) {
	p := resilience.DefaultAutoScalingPolicy()

	cases := []struct {
		name     string
		snapshot resilience.MetricsSnapshot
	}{
		{"cpu", resilience.MetricsSnapshot{CPUUsagePct: f(85), CurrentReplicas: 2}},
		{"latency", resilience.MetricsSnapshot{RequestLatencyP99Ms: f(900), CurrentReplicas: 2}},
		{"failure_rate", resilience.MetricsSnapshot{FailureRate: f(0.2), CurrentReplicas: 2}},
		{"queue_depth", resilience.MetricsSnapshot{QueueDepth: i(80), CurrentReplicas: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Evaluate(tc.snapshot)
			assert.Equal(t, resilience.ScaleUp, got.Action)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestAutoScaling_NoScaleUpAtMaxReplicas(t *testing.T) {
	p := resilience.DefaultAutoScalingPolicy()
	got := p.Evaluate(resilience.MetricsSnapshot{CPUUsagePct: f(99), CurrentReplicas: 20})
	assert.NotEqual(t, resilience.ScaleUp, got.Action)
}

func TestAutoScaling_ScaleDownWhenAllLow(t *testing.T) {
	p := resilience.DefaultAutoScalingPolicy()
	got := p.Evaluate(resilience.MetricsSnapshot{
		CPUUsagePct:         f(10),
		RequestLatencyP99Ms: f(100),
		FailureRate:         f(0.001),
		QueueDepth:          i(2),
		CurrentReplicas:     5,
	})
	assert.Equal(t, resilience.ScaleDown, got.Action)
	assert.Equal(t, "all metrics below scale-down thresholds", got.Reason)
}

func TestAutoScaling_NoScaleDownAtMinReplicas(t *testing.T) {
	p := resilience.DefaultAutoScalingPolicy()
	got := p.Evaluate(resilience.MetricsSnapshot{CPUUsagePct: f(5), CurrentReplicas: 1})
	assert.Equal(t, resilience.NoAction, got.Action)
	assert.Equal(t, "at min_replicas", got.Reason)
}

func TestAutoScaling_HoldInMiddleBand(t *testing.T) {
	p := resilience.DefaultAutoScalingPolicy()
	// CPU between down and up thresholds: neither direction.
	got := p.Evaluate(resilience.MetricsSnapshot{CPUUsagePct: f(50), CurrentReplicas: 5})
	assert.Equal(t, resilience.NoAction, got.Action)
	assert.Equal(t, "no scaling signal", got.Reason)
}

func TestAutoScaling_MissingSignalsCountAsLowForScaleDown(t *testing.T) {
	p := resilience.DefaultAutoScalingPolicy()
	got := p.Evaluate(resilience.MetricsSnapshot{CPUUsagePct: f(10), CurrentReplicas: 3})
	assert.Equal(t, resilience.ScaleDown, got.Action)
}

func TestAutoScaling_Deterministic(t *testing.T) {
	p := resilience.DefaultAutoScalingPolicy()
	snap := resilience.MetricsSnapshot{CPUUsagePct: f(85), CurrentReplicas: 2}
	first := p.Evaluate(snap)
	for k := 0; k < 10; k++ {
		assert.Equal(t, first, p.Evaluate(snap))
	}
}
