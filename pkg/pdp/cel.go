package pdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/nuvalla/gateway/pkg/contracts"
)

// CELPolicy is the reference DecisionPort: an ordered rule list whose
// match conditions are CEL expressions over the call. It exists so the
// gateway can be exercised and tested without a production policy
// engine; rule content beyond it stays out of this module.
//
// A call matching no rule is a configuration error (ErrNoMatchingRule),
// never an implicit allow.
type CELPolicy struct {
	env   *cel.Env
	rules []compiledRule

	mu    sync.RWMutex
	cache map[string]cel.Program
}

type compiledRule struct {
	rule Rule
	prg  cel.Program
}

// NewCELPolicy compiles the rule list. Rules are evaluated in order;
// the first match decides.
func NewCELPolicy(rules []Rule) (*CELPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("call", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("pdp: create CEL environment: %w", err)
	}

	p := &CELPolicy{env: env, cache: make(map[string]cel.Program)}
	for i := range rules {
		r := rules[i]
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("pdp: %w", err)
		}
		prg, err := p.compile(r.When)
		if err != nil {
			return nil, fmt.Errorf("pdp: rule %q: %w", r.Name, err)
		}
		p.rules = append(p.rules, compiledRule{rule: r, prg: prg})
	}
	if len(p.rules) == 0 {
		return nil, fmt.Errorf("pdp: policy has no rules")
	}
	return p, nil
}

func (p *CELPolicy) compile(expr string) (cel.Program, error) {
	p.mu.RLock()
	prg, hit := p.cache[expr]
	p.mu.RUnlock()
	if hit {
		return prg, nil
	}

	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}

	p.mu.Lock()
	p.cache[expr] = prg
	p.mu.Unlock()
	return prg, nil
}

// Evaluate implements DecisionPort.
func (p *CELPolicy) Evaluate(ctx context.Context, call *contracts.ToolCall, approvals []contracts.Approval) (*contracts.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := call.Validate(); err != nil {
		return nil, fmt.Errorf("pdp: %w", err)
	}

	input := map[string]any{
		"call": map[string]any{
			"action_id":     call.ActionID,
			"actor":         call.Actor,
			"target_system": call.TargetSystem,
			"operation":     call.Operation,
			"params":        call.Params,
			"txn_id":        call.TxnID,
		},
	}

	for _, cr := range p.rules {
		out, _, err := cr.prg.Eval(input)
		if err != nil {
			return nil, fmt.Errorf("pdp: rule %q evaluation: %w", cr.rule.Name, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("pdp: rule %q condition is not boolean", cr.rule.Name)
		}
		if !matched {
			continue
		}
		return p.decide(&cr.rule, approvals)
	}

	return nil, fmt.Errorf("%w: %s on %s", ErrNoMatchingRule, call.Operation, call.TargetSystem)
}

func (p *CELPolicy) decide(rule *Rule, approvals []contracts.Approval) (*contracts.Decision, error) {
	receipt := contracts.NewReceipt(rule.Name)

	switch rule.Effect {
	case EffectBlock:
		return &contracts.Decision{
			State:         contracts.DecisionBlock,
			Message:       rule.Message,
			CommitAllowed: false,
			Receipt:       receipt,
		}, nil

	case EffectCommit:
		return &contracts.Decision{
			State:         contracts.DecisionCommit,
			Message:       rule.Message,
			CommitAllowed: true,
			Receipt:       receipt,
		}, nil

	case EffectRequireApproval:
		count, approvers := countApprovals(rule, approvals)
		receipt.ApprovalCount = count
		receipt.Approvers = approvers
		if count >= rule.RequiredApprovals {
			return &contracts.Decision{
				State:         contracts.DecisionCommit,
				Message:       fmt.Sprintf("%s (approved by %d)", rule.Message, count),
				CommitAllowed: true,
				Receipt:       receipt,
			}, nil
		}
		return &contracts.Decision{
			State:             contracts.DecisionRequireApproval,
			Message:           rule.Message,
			CommitAllowed:     false,
			RequiredApprovals: rule.RequiredApprovals,
			Receipt:           receipt,
		}, nil

	default:
		return nil, fmt.Errorf("pdp: rule %q has unknown effect %q", rule.Name, rule.Effect)
	}
}
