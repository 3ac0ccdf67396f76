package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbiter-io/arbiter/pkg/audit"
	"github.com/arbiter-io/arbiter/pkg/governance"
	"github.com/arbiter-io/arbiter/pkg/policy"
)

// Registry names each variant pins its versions against.
const (
	RiskModelName       = "risk-model"
	RiskPromptID        = "risk-prompt"
	ComplianceModelName = "compliance-model"
	CompliancePromptID  = "compliance-prompt"
)

// RuntimeConfig wires one pipeline variant. Rules, Snapshots, Models,
// Prompts, Audit, Hooks and Logger are all optional; nil picks a working
// default (compiled default rules, no snapshotting, built-in versions,
// no-op audit and hooks).
type RuntimeConfig struct {
	Kind      Kind
	Rules     *policy.Engine
	Snapshots *SnapshotStore
	Models    *governance.ModelRegistry
	Prompts   *governance.PromptRegistry
	Audit     audit.Sink
	Hooks     Hooks
	Logger    *slog.Logger
}

// Runtime executes the five-node pipeline for one variant.
type Runtime struct {
	kind      Kind
	nodes     *Nodes
	snapshots *SnapshotStore
	models    *governance.ModelRegistry
	prompts   *governance.PromptRegistry
	sink      audit.Sink
	hooks     Hooks
	logger    *slog.Logger
}

// NewRuntime builds a runtime from cfg. Only rule compilation can fail.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindRisk
	}
	if cfg.Rules == nil {
		rules, err := policy.NewEngine(policy.Rules{})
		if err != nil {
			return nil, fmt.Errorf("workflow: compile default rules: %w", err)
		}
		cfg.Rules = rules
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Hooks == nil {
		cfg.Hooks = NopHooks{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runtime{
		kind:      cfg.Kind,
		nodes:     NewNodes(cfg.Rules, cfg.Kind),
		snapshots: cfg.Snapshots,
		models:    cfg.Models,
		prompts:   cfg.Prompts,
		sink:      cfg.Audit,
		hooks:     cfg.Hooks,
		logger:    cfg.Logger.With("component", "workflow", "kind", string(cfg.Kind)),
	}, nil
}

// Kind returns the runtime's variant.
func (r *Runtime) Kind() Kind { return r.kind }

// modelName returns the variant's model registry name.
func (r *Runtime) modelName() string {
	if r.kind == KindCompliance {
		return ComplianceModelName
	}
	return RiskModelName
}

// promptID returns the variant's prompt registry id.
func (r *Runtime) promptID() string {
	if r.kind == KindCompliance {
		return CompliancePromptID
	}
	return RiskPromptID
}

// resolveVersions pins model and prompt versions from the registries,
// falling back to the built-in defaults.
func (r *Runtime) resolveVersions(state *State) {
	state.ModelVersion = DefaultModelVersion
	state.PromptVersion = DefaultPromptVersion

	if r.models != nil {
		if rec, err := r.models.GetApproved(r.modelName(), ""); err == nil {
			state.ModelVersion = rec.Name + "@" + rec.Version
		}
	}
	if r.prompts != nil {
		if rec, err := r.prompts.Get(r.promptID(), 0); err == nil {
			state.PromptVersion = rec.Version
		}
	}
}

// Run executes the pipeline over state. A snapshot hit returns the stored
// state verbatim with no node execution. Nodes already present in the
// audit trail are skipped, so a partial trail resumes where it stopped.
// Cancellation is honored between nodes, never mid-node.
func (r *Runtime) Run(ctx context.Context, state State) (State, error) {
	started := time.Now()
	ctx = r.hooks.RunStarted(ctx, &state, r.kind)

	if r.snapshots != nil {
		cached, ok, err := r.snapshots.Load(ctx, r.kind, state.EventID)
		if err != nil {
			r.logger.WarnContext(ctx, "snapshot load failed, executing",
				"event_id", state.EventID, "error", err)
		} else if ok {
			r.logger.InfoContext(ctx, "snapshot hit", "event_id", state.EventID)
			r.hooks.RunFinished(ctx, &cached, r.kind, time.Since(started))
			return cached, nil
		}
	}

	r.resolveVersions(&state)

	for _, node := range r.nodes.Ordered() {
		if state.HasNode(node.Name) {
			r.logger.DebugContext(ctx, "node already in trail, skipping",
				"event_id", state.EventID, "node", node.Name)
			continue
		}
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("workflow canceled before %s: %w", node.Name, err)
			r.hooks.RunFailed(ctx, &state, err)
			return state, err
		}

		nodeCtx := r.hooks.NodeStarted(ctx, node.Name)
		result := node.Run(state)
		state = result.State

		if err := r.sink.Record(ctx, audit.NewRecord(
			"workflow", state.TenantID, result.Entry.Action, "workflow", state.EventID,
			result.Reason, state.CorrelationID,
			map[string]any{
				"node":           result.Entry.Node,
				"model_version":  result.Entry.ModelVersion,
				"prompt_version": result.Entry.PromptVersion,
				"execution_ms":   result.Entry.ExecutionMS,
				"stage_output":   result.Entry.StageOutput,
			},
		)); err != nil {
			err = fmt.Errorf("audit node %s: %w", node.Name, err)
			r.hooks.RunFailed(ctx, &state, err)
			return state, err
		}
		r.hooks.NodeFinished(nodeCtx, &state, result.Entry)
	}

	if r.snapshots != nil {
		if err := r.snapshots.Save(ctx, r.kind, state); err != nil {
			// Cache only; the run already produced its durable artifacts.
			r.logger.WarnContext(ctx, "snapshot save failed",
				"event_id", state.EventID, "error", err)
		}
	}

	r.hooks.RunFinished(ctx, &state, r.kind, time.Since(started))
	return state, nil
}
