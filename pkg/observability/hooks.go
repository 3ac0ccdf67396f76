package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/arbiter-io/arbiter/pkg/workflow"
)

// Simulated token counts for the deterministic generation records.
const (
	simulatedInputTokens  = 300
	simulatedOutputTokens = 200
)

type rootSpanKey struct{}
type nodeSpanKey struct{}

// WorkflowHooks is the production workflow.Hooks implementation: counters
// and latency into the registry, hierarchical spans, cost attribution, one
// generation record per run and optional evaluation scoring. Every field
// is optional; nil fields skip their concern.
type WorkflowHooks struct {
	Registry    *Registry
	Spans       *SpanRecorder
	Costs       *CostTracker
	Generations *GenerationLog
	Evaluation  *EvaluationService
}

var _ workflow.Hooks = (*WorkflowHooks)(nil)

// RunStarted counts the request and opens the root span.
func (h *WorkflowHooks) RunStarted(ctx context.Context, s *workflow.State, kind workflow.Kind) context.Context {
	if h.Registry != nil {
		h.Registry.IncrCounter(ctx, MetricRequestCount, map[string]string{"tenant_id": s.TenantID})
		h.Registry.IncrCounter(ctx, MetricWorkflowExecutions, map[string]string{"kind": string(kind)})
	}
	if h.Spans != nil {
		root := h.Spans.StartRoot("workflow."+string(kind), map[string]any{
			"event_id":  s.EventID,
			"tenant_id": s.TenantID,
		})
		ctx = context.WithValue(ctx, rootSpanKey{}, root)
	}
	return ctx
}

// NodeStarted opens the node's child span.
func (h *WorkflowHooks) NodeStarted(ctx context.Context, node string) context.Context {
	if h.Spans == nil {
		return ctx
	}
	root, ok := ctx.Value(rootSpanKey{}).(*ActiveSpan)
	if !ok {
		return ctx
	}
	child := h.Spans.StartChild(root, "node."+node, nil)
	return context.WithValue(ctx, nodeSpanKey{}, child)
}

// NodeFinished closes the child span and records per-node series.
func (h *WorkflowHooks) NodeFinished(ctx context.Context, s *workflow.State, entry workflow.TrailEntry) {
	if child, ok := ctx.Value(nodeSpanKey{}).(*ActiveSpan); ok {
		child.SetAttr("action", entry.Action)
		child.SetAttr("execution_ms", entry.ExecutionMS)
		child.End()
	}
	if h.Registry != nil {
		h.Registry.ObserveHistogram(ctx, MetricNodeExecutionLatency,
			map[string]string{"node": entry.Node}, float64(entry.ExecutionMS))
		h.Registry.IncrCounter(ctx, MetricModelUsage,
			map[string]string{"model_version": entry.ModelVersion})
		h.Registry.IncrCounter(ctx, MetricPromptUsage,
			map[string]string{"prompt_version": strconv.Itoa(entry.PromptVersion)})
	}
}

// RunFinished closes the root span, records request latency, attributes
// cost, logs the simulated generation and scores the decision.
func (h *WorkflowHooks) RunFinished(ctx context.Context, s *workflow.State, kind workflow.Kind, elapsed time.Duration) {
	traceID := ""
	if root, ok := ctx.Value(rootSpanKey{}).(*ActiveSpan); ok {
		root.SetAttr("final_decision", s.FinalDecision)
		root.End()
		traceID = root.TraceID()
	}
	if h.Registry != nil {
		h.Registry.ObserveHistogram(ctx, MetricRequestLatency,
			map[string]string{"kind": string(kind)}, float64(elapsed.Milliseconds()))
	}

	var cost float64
	if h.Costs != nil {
		cost = h.Costs.AddCostFromTokens(s.TenantID, simulatedInputTokens, simulatedOutputTokens, s.ModelVersion, s.EventID)
	}
	if h.Generations != nil {
		h.Generations.Log(Generation{
			TraceID:       traceID,
			TenantID:      s.TenantID,
			EventID:       s.EventID,
			ModelVersion:  s.ModelVersion,
			PromptVersion: s.PromptVersion,
			InputTokens:   simulatedInputTokens,
			OutputTokens:  simulatedOutputTokens,
			Cost:          cost,
		})
	}
	if h.Evaluation != nil && s.FinalDecision != "" {
		_, _ = h.Evaluation.EvaluateDecision(ctx, s.TenantID, s.EventID, s.CorrelationID,
			s.FinalDecision, s.PolicyResult, s.GuardrailResult, s.RiskScore)
	}
}

// RunFailed classifies the error and counts the failure.
func (h *WorkflowHooks) RunFailed(ctx context.Context, s *workflow.State, err error) {
	if root, ok := ctx.Value(rootSpanKey{}).(*ActiveSpan); ok {
		root.SetAttr("error", err.Error())
		root.End()
	}
	if h.Registry != nil {
		h.Registry.IncrCounter(ctx, MetricFailureCount,
			map[string]string{"category": string(Classify(err))})
	}
}
