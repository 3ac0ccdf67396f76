// Package policy compiles the workflow's rule predicates as CEL
// expressions. The defaults reproduce the built-in policy, guardrail and
// scoring rules; operators can override the expressions without a rebuild.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Default rule expressions. Inputs: event_type (string), metadata (map),
// risk_score (double, guardrail rule only).
const (
	// DefaultPolicyFailRule fails validation for overridden or sensitive events.
	DefaultPolicyFailRule = `metadata.policy_override == true || metadata.category == "sensitive"`
	// DefaultBlockedPatternRule flags events carrying a blocked pattern marker.
	DefaultBlockedPatternRule = `metadata.blocked_pattern == true`
)

// Engine evaluates compiled boolean predicates over an event snapshot.
type Engine struct {
	env            *cel.Env
	policyFail     cel.Program
	blockedPattern cel.Program
}

// Rules configures the engine's expressions. Zero values use the defaults.
type Rules struct {
	PolicyFail     string `json:"policy_fail"`
	BlockedPattern string `json:"blocked_pattern"`
}

// NewEngine compiles the rule set. Compilation failure is a startup error.
func NewEngine(rules Rules) (*Engine, error) {
	if rules.PolicyFail == "" {
		rules.PolicyFail = DefaultPolicyFailRule
	}
	if rules.BlockedPattern == "" {
		rules.BlockedPattern = DefaultBlockedPatternRule
	}

	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("risk_score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create cel env: %w", err)
	}

	e := &Engine{env: env}
	if e.policyFail, err = compile(env, rules.PolicyFail); err != nil {
		return nil, fmt.Errorf("policy: policy_fail rule: %w", err)
	}
	if e.blockedPattern, err = compile(env, rules.BlockedPattern); err != nil {
		return nil, fmt.Errorf("policy: blocked_pattern rule: %w", err)
	}
	return e, nil
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return prg, nil
}

// Input is the evaluation snapshot for one event.
type Input struct {
	EventType string
	Metadata  map[string]any
	RiskScore float64
}

func (e *Engine) eval(prg cel.Program, in Input) (bool, error) {
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"event_type": in.EventType,
		"metadata":   metadata,
		"risk_score": in.RiskScore,
	})
	if err != nil {
		// Missing metadata keys surface as eval errors; an absent key can
		// never satisfy a rule, so treat it as false.
		return false, nil
	}
	return out == types.True, nil
}

// PolicyFails reports whether the policy-validation rule fires.
func (e *Engine) PolicyFails(in Input) bool {
	fired, _ := e.eval(e.policyFail, in)
	return fired
}

// BlockedPattern reports whether the guardrail pattern rule fires.
func (e *Engine) BlockedPattern(in Input) bool {
	fired, _ := e.eval(e.blockedPattern, in)
	return fired
}
