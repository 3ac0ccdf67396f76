package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-io/arbiter/pkg/audit"
	"github.com/arbiter-io/arbiter/pkg/broker"
	"github.com/arbiter-io/arbiter/pkg/domain"
	"github.com/arbiter-io/arbiter/pkg/governance"
	"github.com/arbiter-io/arbiter/pkg/security"
)

type recordingMirror struct {
	mu       sync.Mutex
	counts   []string
	observes []string
}

func (m *recordingMirror) Count(_ context.Context, name string, labels map[string]string, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = append(m.counts, fmt.Sprintf("%s|%s|%g", name, labelKey(labels), delta))
}

func (m *recordingMirror) Observe(_ context.Context, name string, labels map[string]string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observes = append(m.observes, fmt.Sprintf("%s|%s|%g", name, labelKey(labels), value))
}

func TestRegistryCounters(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	labels := map[string]string{"tenant_id": "acme", "event_type": "risk_event"}
	reg.IncrCounter(ctx, MetricRequestCount, labels)
	reg.IncrCounter(ctx, MetricRequestCount, labels)
	reg.AddCounter(ctx, MetricRequestCount, map[string]string{"tenant_id": "other"}, 5)

	assert.Equal(t, 2.0, reg.CounterValue(MetricRequestCount, labels))
	assert.Equal(t, 5.0, reg.CounterValue(MetricRequestCount, map[string]string{"tenant_id": "other"}))
	assert.Zero(t, reg.CounterValue(MetricRequestCount, map[string]string{"tenant_id": "nobody"}))
}

func TestRegistryLabelOrderIrrelevant(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	reg.IncrCounter(ctx, MetricFailureCount, map[string]string{"a": "1", "b": "2"})
	reg.IncrCounter(ctx, MetricFailureCount, map[string]string{"b": "2", "a": "1"})

	assert.Equal(t, 2.0, reg.CounterValue(MetricFailureCount, map[string]string{"a": "1", "b": "2"}))
}

func TestRegistryHistogramStats(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	labels := map[string]string{"node": "risk_scoring"}
	for _, v := range []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		reg.ObserveHistogram(ctx, MetricNodeExecutionLatency, labels, v)
	}

	snap := reg.Snapshot()
	require.Len(t, snap.Histograms, 1)
	h := snap.Histograms[0]
	assert.Equal(t, MetricNodeExecutionLatency, h.Name)
	assert.Equal(t, 10, h.Count)
	assert.Equal(t, 10.0, h.Min)
	assert.Equal(t, 100.0, h.Max)
	assert.Equal(t, 55.0, h.Avg)
	assert.Equal(t, 50.0, h.P50)
	assert.Equal(t, 100.0, h.P95)
	assert.Equal(t, 100.0, h.P99)
}

func TestRegistrySnapshotOrderStable(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	reg.IncrCounter(ctx, "b_series", nil)
	reg.IncrCounter(ctx, "a_series", map[string]string{"k": "2"})
	reg.IncrCounter(ctx, "a_series", map[string]string{"k": "1"})

	snap := reg.Snapshot()
	require.Len(t, snap.Counters, 3)
	assert.Equal(t, "a_series", snap.Counters[0].Name)
	assert.Equal(t, map[string]string{"k": "1"}, snap.Counters[0].Labels)
	assert.Equal(t, map[string]string{"k": "2"}, snap.Counters[1].Labels)
	assert.Equal(t, "b_series", snap.Counters[2].Name)
}

func TestRegistryMirrorReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	mirror := &recordingMirror{}
	reg.SetMirror(mirror)

	reg.IncrCounter(ctx, MetricRequestCount, map[string]string{"tenant_id": "acme"})
	reg.ObserveHistogram(ctx, MetricRequestLatency, nil, 12.5)

	require.Len(t, mirror.counts, 1)
	assert.Equal(t, "request_count|tenant_id=acme|1", mirror.counts[0])
	require.Len(t, mirror.observes, 1)
	assert.Equal(t, "request_latency||12.5", mirror.observes[0])
}

func TestSpanRecorderHierarchy(t *testing.T) {
	rec := NewSpanRecorder()

	root := rec.StartRoot("workflow.risk", map[string]any{"tenant_id": "acme"})
	child := rec.StartChild(root, "node.retrieval", nil)
	child.SetAttr("execution_ms", 3)
	child.End()
	child.End() // idempotent
	root.End()

	finished := rec.Finished()
	require.Len(t, finished, 2)
	assert.Equal(t, "node.retrieval", finished[0].Name)
	assert.Equal(t, finished[1].SpanID, finished[0].ParentID)
	assert.Equal(t, finished[1].TraceID, finished[0].TraceID)
	assert.Equal(t, 3, finished[0].Attrs["execution_ms"])

	byTrace := rec.ByTrace(finished[1].TraceID)
	assert.Len(t, byTrace, 2)
	assert.Empty(t, rec.ByTrace("no-such-trace"))
}

type recordingSpanMirror struct {
	mu    sync.Mutex
	spans []Span
}

func (m *recordingSpanMirror) MirrorSpan(s Span) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, s)
}

func TestSpanRecorderMirrorReceivesFinishedSpans(t *testing.T) {
	rec := NewSpanRecorder()
	mirror := &recordingSpanMirror{}
	rec.SetMirror(mirror)

	root := rec.StartRoot("workflow.risk", nil)
	child := rec.StartChild(root, "node.retrieval", nil)
	child.End()
	child.End() // idempotent: mirrored once
	root.End()

	require.Len(t, mirror.spans, 2)
	assert.Equal(t, "node.retrieval", mirror.spans[0].Name)
	assert.Equal(t, "workflow.risk", mirror.spans[1].Name)
	assert.Equal(t, mirror.spans[1].TraceID, mirror.spans[0].TraceID)
	assert.False(t, mirror.spans[0].End.IsZero())
}

func TestCostTrackerAttribution(t *testing.T) {
	tracker := NewCostTracker(0)

	amount := tracker.AddCostFromTokens("acme", 300, 200, "simulated@1", "req-1")
	assert.InDelta(t, 0.001, amount, 1e-12)

	tracker.AddCost("acme", 0.004, "simulated@1", "req-2")
	tracker.AddCost("other", 0.01, "", "")

	assert.InDelta(t, 0.005, tracker.TenantCost("acme"), 1e-12)
	assert.InDelta(t, 0.005, tracker.ModelCost("simulated@1"), 1e-12)
	assert.InDelta(t, 0.001, tracker.RequestCost("req-1"), 1e-12)
	assert.InDelta(t, 0.015, tracker.Cumulative(), 1e-12)
	assert.Zero(t, tracker.TenantCost("nobody"))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureCategory
	}{
		{"high risk", fmt.Errorf("scoring: %w", domain.ErrHighRisk), CategoryHighRisk},
		{"transition", domain.ErrInvalidTransition, CategoryWorkflow},
		{"tenant", domain.ErrInvalidTenant, CategoryValidation},
		{"metadata", domain.ErrInvalidMetadata, CategoryValidation},
		{"score bounds", domain.ErrRiskScoreOutOfRange, CategoryValidation},
		{"generic validation", domain.ErrValidation, CategoryValidation},
		{"permission", security.ErrPermissionDenied, CategoryPolicyViolation},
		{"tenant mismatch", security.ErrTenantMismatch, CategoryPolicyViolation},
		{"crypto key", security.ErrMissingKey, CategoryInfra},
		{"decrypt", security.ErrDecryptFailed, CategoryInfra},
		{"model approval", governance.ErrModelNotApproved, CategoryPolicyViolation},
		{"publish", fmt.Errorf("amqp: %w", broker.ErrPublish), CategoryMessaging},
		{"unknown", errors.New("boom"), CategoryUnexpected},
		{"nil", nil, CategoryUnexpected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestEvaluateDecisionScores(t *testing.T) {
	ctx := context.Background()
	sink := audit.NewMemorySink()
	svc := NewEvaluationService(sink)

	result, err := svc.EvaluateDecision(ctx, "acme", "evt-1", "corr-1", "APPROVED", "PASS", "OK", 30)
	require.NoError(t, err)

	// risk 30 -> normalized 0.7; confidence (1+1+0.7)/3 = 0.9
	assert.Equal(t, 0.9, result.ConfidenceScore)
	assert.Equal(t, 1.0, result.PolicyAlignmentScore)
	assert.Equal(t, 1.0, result.GuardrailScore)
	assert.Equal(t, 0.9667, result.OverallQualityScore)

	records := sink.ByAction("evaluation_completed")
	require.Len(t, records, 1)
	assert.Equal(t, "evaluation_service", records[0].Actor)
	assert.Equal(t, "quality_scoring", records[0].Reason)
	assert.Equal(t, "APPROVED", records[0].Metadata["final_decision"])
}

func TestEvaluateDecisionFailedChecks(t *testing.T) {
	svc := NewEvaluationService(nil)

	result, err := svc.EvaluateDecision(context.Background(), "acme", "evt-2", "corr-2", "REJECTED", "FAIL", "BLOCKED", 85)
	require.NoError(t, err)

	// risk 85 -> normalized 0.15; confidence 0.15/3 = 0.05
	assert.Equal(t, 0.05, result.ConfidenceScore)
	assert.Equal(t, 0.0, result.PolicyAlignmentScore)
	assert.Equal(t, 0.0, result.GuardrailScore)
	assert.Equal(t, 0.0167, result.OverallQualityScore)
}

func TestGenerationLog(t *testing.T) {
	log := NewGenerationLog()
	log.Log(Generation{TraceID: "t1", TenantID: "acme", EventID: "evt-1", ModelVersion: "simulated@1", PromptVersion: 1, InputTokens: 300, OutputTokens: 200, Cost: 0.001})

	all := log.All()
	require.Len(t, all, 1)
	assert.Equal(t, "simulated@1", all[0].ModelVersion)
	assert.False(t, all[0].CreatedAt.IsZero())
}
