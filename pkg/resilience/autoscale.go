package resilience

import "fmt"

// ScalingAction is the autoscaler's verdict.
type ScalingAction string

const (
	ScaleUp   ScalingAction = "scale_up"
	ScaleDown ScalingAction = "scale_down"
	NoAction  ScalingAction = "no_action"
)

// ScalingDecision pairs the action with a deterministic reason string.
type ScalingDecision struct {
	Action ScalingAction `json:"action"`
	Reason string        `json:"reason"`
}

// MetricsSnapshot is the autoscaler input. nil pointers mean "no signal".
type MetricsSnapshot struct {
	CPUUsagePct         *float64 `json:"cpu_usage_pct,omitempty"`
	RequestLatencyP99Ms *float64 `json:"request_latency_p99_ms,omitempty"`
	FailureRate         *float64 `json:"failure_rate,omitempty"`
	QueueDepth          *int     `json:"queue_depth,omitempty"`
	CurrentReplicas     int      `json:"current_replicas"`
}

// AutoScalingPolicy is a pure decision function over a metrics snapshot.
// Scale up on any breached signal; scale down only when every present
// signal is low.
type AutoScalingPolicy struct {
	CPUUp         float64
	CPUDown       float64
	LatencyUpMs   float64
	FailureRateUp float64
	QueueDepthUp  int
	MinReplicas   int
	MaxReplicas   int
}

// DefaultAutoScalingPolicy returns the stock thresholds.
func DefaultAutoScalingPolicy() AutoScalingPolicy {
	return AutoScalingPolicy{
		CPUUp:         70.0,
		CPUDown:       30.0,
		LatencyUpMs:   500.0,
		FailureRateUp: 0.05,
		QueueDepthUp:  50,
		MinReplicas:   1,
		MaxReplicas:   20,
	}
}

// Evaluate returns the same decision and reason for the same snapshot.
func (p AutoScalingPolicy) Evaluate(m MetricsSnapshot) ScalingDecision {
	canGrow := m.CurrentReplicas < p.MaxReplicas

	if m.CPUUsagePct != nil && *m.CPUUsagePct >= p.CPUUp && canGrow {
		return ScalingDecision{ScaleUp, fmt.Sprintf("cpu_usage=%g%% >= %g%%", *m.CPUUsagePct, p.CPUUp)}
	}
	if m.RequestLatencyP99Ms != nil && *m.RequestLatencyP99Ms >= p.LatencyUpMs && canGrow {
		return ScalingDecision{ScaleUp, fmt.Sprintf("latency_p99=%gms >= %gms", *m.RequestLatencyP99Ms, p.LatencyUpMs)}
	}
	if m.FailureRate != nil && *m.FailureRate >= p.FailureRateUp && canGrow {
		return ScalingDecision{ScaleUp, fmt.Sprintf("failure_rate=%g >= %g", *m.FailureRate, p.FailureRateUp)}
	}
	if m.QueueDepth != nil && *m.QueueDepth >= p.QueueDepthUp && canGrow {
		return ScalingDecision{ScaleUp, fmt.Sprintf("queue_depth=%d >= %d", *m.QueueDepth, p.QueueDepthUp)}
	}

	if m.CurrentReplicas <= p.MinReplicas {
		return ScalingDecision{NoAction, "at min_replicas"}
	}

	cpuLow := m.CPUUsagePct == nil || *m.CPUUsagePct <= p.CPUDown
	latencyLow := m.RequestLatencyP99Ms == nil || *m.RequestLatencyP99Ms < p.LatencyUpMs*0.5
	failureLow := m.FailureRate == nil || *m.FailureRate < p.FailureRateUp*0.5
	queueLow := m.QueueDepth == nil || float64(*m.QueueDepth) < float64(p.QueueDepthUp)*0.5
	if cpuLow && latencyLow && failureLow && queueLow {
		return ScalingDecision{ScaleDown, "all metrics below scale-down thresholds"}
	}
	return ScalingDecision{NoAction, "no scaling signal"}
}
