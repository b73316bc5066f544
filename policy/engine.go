// Package policy evaluates developer consent for QA processing.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/tracekit/tracekit/internal/domain"
)

// Engine is the OPA consent policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.consent_policy.decision"),
		rego.Module("consent_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the consent decision for a trace being created.
// Input is the developer block plus task labels; the decision fixes
// whether the LLM judge may run and whether terminal output may be
// stored unredacted. The decision is recorded on the trace so QA
// stages never re-evaluate.
func (e *Engine) Evaluate(ctx context.Context, developer domain.Developer, labels []string) (*domain.PolicyDecision, error) {
	input := map[string]interface{}{
		"consent_flags": map[string]interface{}{
			"store_raw_code":        developer.ConsentFlags.StoreRawCode,
			"store_terminal_output": developer.ConsentFlags.StoreTerminalOutput,
			"allow_llm_judge":       developer.ConsentFlags.AllowLLMJudge,
		},
		"experience_level": string(developer.ExperienceLevel),
		"labels":           labels,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// Permissive defaults when the policy yields nothing.
	decision := &domain.PolicyDecision{JudgeAllowed: true, StoreRawOutput: true}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return decision, nil
	}
	if v, ok := obj["judge_allowed"].(bool); ok {
		decision.JudgeAllowed = v
	}
	if v, ok := obj["store_raw_output"].(bool); ok {
		decision.StoreRawOutput = v
	}
	return decision, nil
}

// DefaultPolicy is the default consent policy content. Judging and raw
// output storage follow the developer's consent flags; the
// "sensitive" label forces redaction regardless of consent.
const DefaultPolicy = `
package consent_policy

default judge_allowed = false

judge_allowed {
	input.consent_flags.allow_llm_judge
}

default store_raw_output = false

store_raw_output {
	input.consent_flags.store_terminal_output
	not sensitive
}

sensitive {
	input.labels[_] == "sensitive"
}

decision = {"judge_allowed": judge_allowed, "store_raw_output": store_raw_output}
`
