package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// Actions evaluated by the policy.
const (
	ActionSendMessage = "send_message"
	ActionProposeTerm = "propose_term"
	ActionUpdateTerm  = "update_term"
	ActionRatify      = "ratify"
	ActionViewSession = "view_session"
)

// Input is the document the policy sees.
type Input struct {
	Action        string `json:"action"`
	Role          string `json:"role"`
	SessionStatus string `json:"session_status"`
	TermStatus    string `json:"term_status,omitempty"`
	TargetStatus  string `json:"target_status,omitempty"`
	ProposedBy    string `json:"proposed_by,omitempty"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.negotiation_policy.deny"),
		rego.Module("negotiation_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy module from path, or the default
// policy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks an action against the policy.
// Returns whether it is allowed and, if not, the deny reasons in sorted order.
func (e *Engine) Evaluate(ctx context.Context, input Input) (bool, []string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"action":         input.Action,
		"role":           input.Role,
		"session_status": input.SessionStatus,
		"term_status":    input.TermStatus,
		"target_status":  input.TargetStatus,
		"proposed_by":    input.ProposedBy,
	}))
	if err != nil {
		return false, nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// An undefined deny set means nothing objected.
		return true, nil, nil
	}

	var reasons []string
	switch val := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok {
				reasons = append(reasons, s)
			}
		}
	default:
		return false, nil, fmt.Errorf("unexpected policy result type %T", val)
	}
	sort.Strings(reasons)
	return len(reasons) == 0, reasons, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package negotiation_policy

roles = {"party_a", "party_b"}

mutating = {"send_message", "propose_term", "update_term", "ratify"}

deny["unknown role"] {
	not roles[input.role]
}

deny["session is ratified"] {
	input.session_status == "ratified"
	mutating[input.action]
}
`
