package validation

import (
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/frame"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/ontology"
)

// Validator runs the registered rule tiers against frames. It is
// stateless apart from the registry reference and safe for concurrent
// use.
type Validator struct {
	reg   *ontology.Registry
	rules []rule
}

// New creates a Validator over the given registry.
func New(reg *ontology.Registry) *Validator {
	rules := make([]rule, 0, len(structuralRules)+len(semanticRules)+len(chainRules))
	rules = append(rules, structuralRules...)
	rules = append(rules, semanticRules...)
	rules = append(rules, chainRules...)
	return &Validator{reg: reg, rules: rules}
}

// Validate runs all three tiers against the child frame. The chain tier
// is skipped when parent is nil or empty. A nil child (parse failure)
// short-circuits to a single PARSE_FAILED error.
func (v *Validator) Validate(child, parent *frame.ParsedFrame) *Report {
	if child == nil {
		return parseFailedReport()
	}

	rc := &ruleContext{child: child, parent: parent, reg: v.reg}
	runChain := parent != nil && !parent.IsEmpty()

	report := &Report{}
	for _, r := range v.rules {
		if r.tier == TierChain && !runChain {
			continue
		}
		issue := r.check(rc)
		if issue != nil {
			issue.RuleID = r.id
			issue.Tier = r.tier
			report.add(issue)
		}
	}
	report.Valid = len(report.Errors) == 0
	return report
}

// RuleIDs returns the stable ids of every registered rule in tier order.
func (v *Validator) RuleIDs() []string {
	ids := make([]string, 0, len(v.rules))
	for _, r := range v.rules {
		ids = append(ids, r.id)
	}
	return ids
}
