package workflow

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiter-io/arbiter/pkg/audit"
	"github.com/arbiter-io/arbiter/pkg/domain"
	"github.com/arbiter-io/arbiter/pkg/governance"
	"github.com/arbiter-io/arbiter/pkg/kvstore"
)

func newRuntime(t *testing.T, cfg RuntimeConfig) *Runtime {
	t.Helper()
	rt, err := NewRuntime(cfg)
	require.NoError(t, err)
	return rt
}

func riskState(eventID string, metadata map[string]any) State {
	raw := map[string]any{"event_id": eventID, "tenant_id": "test-tenant"}
	if metadata != nil {
		raw["metadata"] = metadata
	}
	return State{
		EventID:       eventID,
		TenantID:      "test-tenant",
		CorrelationID: "corr-1",
		RawEvent:      raw,
	}
}

func TestRunHappyPath(t *testing.T) {
	sink := audit.NewMemorySink()
	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk, Audit: sink})

	final, err := rt.Run(context.Background(), riskState("evt-1", map[string]any{"category": "fraud"}))
	require.NoError(t, err)

	assert.Equal(t, "simulated_context:test-tenant:unknown", final.RetrievedContext)
	assert.Equal(t, PolicyPass, final.PolicyResult)
	assert.Equal(t, 30.0, final.RiskScore)
	assert.Equal(t, GuardrailOK, final.GuardrailResult)
	assert.Equal(t, DecisionApproved, final.FinalDecision)
	assert.Equal(t, DefaultModelVersion, final.ModelVersion)
	assert.Equal(t, DefaultPromptVersion, final.PromptVersion)

	require.Len(t, final.AuditTrail, 5)
	order := []string{NodeRetrieval, NodePolicyValidation, NodeRiskScoring, NodeGuardrails, NodeDecision}
	for i, node := range order {
		assert.Equal(t, node, final.AuditTrail[i].Node)
		assert.Equal(t, DefaultModelVersion, final.AuditTrail[i].ModelVersion)
	}

	records := sink.Records()
	require.Len(t, records, 5)
	assert.Equal(t, "workflow", records[0].Actor)
	assert.Equal(t, "context_retrieved", records[0].Action)
	assert.Equal(t, "vector_retrieval_simulated", records[0].Reason)
	assert.Equal(t, "corr-1", records[0].CorrelationID)
	assert.Equal(t, "deterministic_decision", records[4].Reason)
}

func TestRunSensitiveCategoryEscalates(t *testing.T) {
	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk})

	final, err := rt.Run(context.Background(), riskState("evt-2", map[string]any{"category": "sensitive"}))
	require.NoError(t, err)

	assert.Equal(t, PolicyFail, final.PolicyResult)
	assert.Equal(t, 70.0, final.RiskScore)
	assert.Equal(t, GuardrailOK, final.GuardrailResult)
	assert.Equal(t, DecisionEscalate, final.FinalDecision)
}

func TestRunHighRiskEventType(t *testing.T) {
	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk})

	state := riskState("evt-3", nil)
	state.RawEvent["event_type"] = "high_risk"
	final, err := rt.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, "simulated_context:test-tenant:high_risk", final.RetrievedContext)
	assert.Equal(t, 85.0, final.RiskScore)
	assert.Equal(t, GuardrailViolation, final.GuardrailResult)
	assert.Equal(t, DecisionEscalate, final.FinalDecision)
}

func TestRunLowRiskEventType(t *testing.T) {
	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk})

	state := riskState("evt-4", nil)
	state.RawEvent["event_type"] = "low_risk"
	final, err := rt.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, 15.0, final.RiskScore)
	assert.Equal(t, DecisionApproved, final.FinalDecision)
}

func TestRunBlockedPattern(t *testing.T) {
	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk})

	final, err := rt.Run(context.Background(), riskState("evt-5", map[string]any{"blocked_pattern": true}))
	require.NoError(t, err)

	assert.Equal(t, 30.0, final.RiskScore)
	assert.Equal(t, GuardrailViolation, final.GuardrailResult)
	assert.Equal(t, DecisionEscalate, final.FinalDecision)
}

func TestRunPolicyOverride(t *testing.T) {
	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk})

	final, err := rt.Run(context.Background(), riskState("evt-6", map[string]any{"policy_override": true}))
	require.NoError(t, err)

	assert.Equal(t, PolicyFail, final.PolicyResult)
	assert.Equal(t, DecisionEscalate, final.FinalDecision)
}

func TestRunInputStateUnchanged(t *testing.T) {
	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk})

	input := riskState("evt-7", map[string]any{"category": "sensitive"})
	_, err := rt.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Empty(t, input.AuditTrail)
	assert.Empty(t, input.RetrievedContext)
	assert.Empty(t, input.PolicyResult)
	assert.Zero(t, input.RiskScore)
	assert.Empty(t, input.FinalDecision)
}

func TestRunResumeSkipsTrailNodes(t *testing.T) {
	sink := audit.NewMemorySink()
	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk, Audit: sink})

	partial := riskState("evt-8", nil)
	partial.RetrievedContext = "x"
	partial.AuditTrail = []TrailEntry{{Node: NodeRetrieval, Action: ActionContextRetrieved}}

	final, err := rt.Run(context.Background(), partial)
	require.NoError(t, err)

	assert.Equal(t, "x", final.RetrievedContext)
	require.Len(t, final.AuditTrail, 5)
	assert.Equal(t, DecisionApproved, final.FinalDecision)

	// Only the four executed nodes audit.
	require.Len(t, sink.Records(), 4)
	assert.Equal(t, "policy_validated", sink.Records()[0].Action)
}

func TestRunSnapshotHitReturnsVerbatim(t *testing.T) {
	sink := audit.NewMemorySink()
	kv := kvstore.NewMemoryStore()
	rt := newRuntime(t, RuntimeConfig{
		Kind:      KindRisk,
		Audit:     sink,
		Snapshots: NewSnapshotStore(kv, 0),
	})

	first, err := rt.Run(context.Background(), riskState("evt-9", nil))
	require.NoError(t, err)
	require.Len(t, sink.Records(), 5)

	second, err := rt.Run(context.Background(), riskState("evt-9", nil))
	require.NoError(t, err)

	assert.Equal(t, first.FinalDecision, second.FinalDecision)
	assert.Equal(t, first.RetrievedContext, second.RetrievedContext)
	assert.Len(t, second.AuditTrail, 5)
	// Nothing executed, nothing audited.
	assert.Len(t, sink.Records(), 5)
}

func TestRunVersionResolution(t *testing.T) {
	ctx := context.Background()
	models := governance.NewModelRegistry(nil)
	prompts := governance.NewPromptRegistry(nil)

	_, err := models.Register(ctx, "mlops", RiskModelName, "1.2.0", "abc123")
	require.NoError(t, err)
	_, err = models.Approve(ctx, "approver", RiskModelName, "1.2.0")
	require.NoError(t, err)
	_, err = prompts.Register(ctx, "mlops", RiskPromptID, "risk scoring", "score the event")
	require.NoError(t, err)
	_, err = prompts.Update(ctx, "mlops", RiskPromptID, "score the event carefully", "tighten wording")
	require.NoError(t, err)

	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk, Models: models, Prompts: prompts})

	final, err := rt.Run(ctx, riskState("evt-10", nil))
	require.NoError(t, err)

	assert.Equal(t, "risk-model@1.2.0", final.ModelVersion)
	assert.Equal(t, 2, final.PromptVersion)
	assert.Equal(t, "risk-model@1.2.0", final.AuditTrail[0].ModelVersion)
}

func TestRunVersionResolutionFallsBack(t *testing.T) {
	ctx := context.Background()
	models := governance.NewModelRegistry(nil)
	// Registered but never approved: defaults stay.
	_, err := models.Register(ctx, "mlops", RiskModelName, "1.0.0", "abc")
	require.NoError(t, err)

	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk, Models: models})

	final, err := rt.Run(ctx, riskState("evt-11", nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultModelVersion, final.ModelVersion)
	assert.Equal(t, DefaultPromptVersion, final.PromptVersion)
}

func TestRunCanceledBetweenNodes(t *testing.T) {
	rt := newRuntime(t, RuntimeConfig{Kind: KindRisk})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rt.Run(ctx, riskState("evt-12", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComplianceRegulatoryFlagsEscalate(t *testing.T) {
	sink := audit.NewMemorySink()
	rt := newRuntime(t, RuntimeConfig{Kind: KindCompliance, Audit: sink})

	state := riskState("evt-13", nil)
	state.RegulatoryFlags = []string{"GDPR-32"}
	final, err := rt.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, 30.0, final.RiskScore)
	assert.Equal(t, GuardrailOK, final.GuardrailResult)
	assert.Equal(t, DecisionEscalate, final.FinalDecision)
	assert.True(t, final.ApprovalRequired)

	records := sink.ByAction("decision_made")
	require.Len(t, records, 1)
	assert.Equal(t, "compliance_decision", records[0].Reason)
}

func TestComplianceCleanEventApproved(t *testing.T) {
	rt := newRuntime(t, RuntimeConfig{Kind: KindCompliance})

	final, err := rt.Run(context.Background(), riskState("evt-14", nil))
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, final.FinalDecision)
	assert.False(t, final.ApprovalRequired)
}

func TestDispatcherRoutesByVariant(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	risk := newRuntime(t, RuntimeConfig{Kind: KindRisk, Snapshots: NewSnapshotStore(kv, 0)})
	compliance := newRuntime(t, RuntimeConfig{Kind: KindCompliance, Snapshots: NewSnapshotStore(kv, 0)})
	d := NewDispatcher(risk, compliance)
	ctx := context.Background()

	score := 20.0
	riskEvt := domain.NewRiskEvent("evt-15", "test-tenant", &score, "fraud", nil, "1.0")
	require.NoError(t, d.Trigger(ctx, riskEvt))
	_, ok, err := risk.snapshots.Load(ctx, KindRisk, "evt-15")
	require.NoError(t, err)
	assert.True(t, ok)

	compEvt := domain.NewComplianceEvent("evt-16", "test-tenant", "GDPR-32", "privacy", nil, "1.0")
	require.NoError(t, d.Trigger(ctx, compEvt))
	state, ok, err := compliance.snapshots.Load(ctx, KindCompliance, "evt-16")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"GDPR-32"}, state.RegulatoryFlags)
	assert.True(t, state.ApprovalRequired)
}

func TestDispatcherMissingRuntime(t *testing.T) {
	d := NewDispatcher(nil, nil)
	score := 20.0
	err := d.Trigger(context.Background(), domain.NewRiskEvent("evt-17", "t", &score, "", nil, "1.0"))
	require.Error(t, err)
}

func TestStateFromEventCarriesWireShape(t *testing.T) {
	score := 42.5
	evt := domain.NewRiskEvent("evt-18", "test-tenant", &score, "fraud", map[string]any{"category": "fraud"}, "1.0")
	evt.CorrelationID = "corr-9"

	state, err := StateFromEvent(evt)
	require.NoError(t, err)

	assert.Equal(t, "evt-18", state.EventID)
	assert.Equal(t, "test-tenant", state.TenantID)
	assert.Equal(t, "corr-9", state.CorrelationID)
	assert.Equal(t, "RiskEvent", state.rawEventType())
	assert.Equal(t, "fraud", state.rawMetadata()["category"])
}

func TestNodesDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	rtA := newRuntime(t, RuntimeConfig{Kind: KindRisk})
	rtB := newRuntime(t, RuntimeConfig{Kind: KindRisk})

	properties.Property("same input yields same decision", prop.ForAll(
		func(eventType, category string, blocked bool) bool {
			build := func() State {
				return riskState("evt-p", map[string]any{
					"category":        category,
					"blocked_pattern": blocked,
					"event_type":      eventType,
				})
			}
			a, errA := rtA.Run(context.Background(), build())
			b, errB := rtB.Run(context.Background(), build())
			if errA != nil || errB != nil {
				return false
			}
			return a.FinalDecision == b.FinalDecision &&
				a.RiskScore == b.RiskScore &&
				a.PolicyResult == b.PolicyResult &&
				a.GuardrailResult == b.GuardrailResult
		},
		gen.OneConstOf("high_risk", "low_risk", "transaction", ""),
		gen.OneConstOf("sensitive", "fraud", ""),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
