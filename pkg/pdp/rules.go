package pdp

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nuvalla/gateway/pkg/contracts"
)

// RuleEffect is what a matched rule decides before approval accounting.
type RuleEffect string

const (
	EffectCommit          RuleEffect = "COMMIT"
	EffectBlock           RuleEffect = "BLOCK"
	EffectRequireApproval RuleEffect = "REQUIRE_APPROVAL"
)

// Rule is one declarative policy rule for the CEL reference engine.
// When is a CEL expression over the variable `call`; the first rule
// whose When evaluates true decides the call.
type Rule struct {
	Name    string     `yaml:"name" json:"name"`
	When    string     `yaml:"when" json:"when"`
	Effect  RuleEffect `yaml:"effect" json:"effect"`
	Message string     `yaml:"message,omitempty" json:"message,omitempty"`

	// RequiredApprovals applies when Effect is REQUIRE_APPROVAL.
	RequiredApprovals int `yaml:"required_approvals,omitempty" json:"required_approvals,omitempty"`

	// DistinctApprovers makes quorum counting ignore duplicate
	// approvals from the same person (maker-checker).
	DistinctApprovers bool `yaml:"distinct_approvers,omitempty" json:"distinct_approvers,omitempty"`
}

func (r *Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule missing name")
	}
	if r.When == "" {
		return fmt.Errorf("rule %q missing when expression", r.Name)
	}
	switch r.Effect {
	case EffectCommit, EffectBlock:
	case EffectRequireApproval:
		if r.RequiredApprovals < 1 {
			return fmt.Errorf("rule %q requires approvals but required_approvals < 1", r.Name)
		}
	default:
		return fmt.Errorf("rule %q has unknown effect %q", r.Name, r.Effect)
	}
	return nil
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML policy rule file.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pdp: read rules: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("pdp: parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("pdp: rule file %s contains no rules", path)
	}
	return f.Rules, nil
}

// countApprovals applies the rule's quorum semantics.
func countApprovals(rule *Rule, approvals []contracts.Approval) (count int, approvers []string) {
	if !rule.DistinctApprovers {
		for _, a := range approvals {
			approvers = append(approvers, a.ApprovedBy)
		}
		return len(approvals), approvers
	}
	seen := make(map[string]bool, len(approvals))
	for _, a := range approvals {
		if seen[a.ApprovedBy] {
			continue
		}
		seen[a.ApprovedBy] = true
		approvers = append(approvers, a.ApprovedBy)
	}
	return len(approvers), approvers
}
