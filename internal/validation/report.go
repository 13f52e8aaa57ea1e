// Package validation applies the three-tier rule set (structural,
// semantic, chain) to parsed frames. Rules are pure functions with stable
// ids; a report is compiled by running the tiers in order and appending
// results.
package validation

// Severity grades a rule result.
type Severity string

const (
	SeverityError        Severity = "error"
	SeverityWarning      Severity = "warning"
	SeverityInfo         Severity = "info"
	SeverityHold         Severity = "hold"
	SeverityUnverifiable Severity = "unverifiable"
	SeverityPass         Severity = "pass"
)

// Tier identifies which rule group produced a result.
type Tier string

const (
	TierStructural Tier = "structural"
	TierSemantic   Tier = "semantic"
	TierChain      Tier = "chain"
)

// RuleParseFailed is the synthetic rule id reported when the child frame
// could not be parsed at all. It short-circuits every other rule.
const RuleParseFailed = "PARSE_FAILED"

// Issue is a single rule violation.
type Issue struct {
	RuleID   string   `json:"rule_id"`
	Tier     Tier     `json:"tier"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Symbol   string   `json:"symbol,omitempty"`
}

// Report is the outcome of validating one frame. Errors and Warnings are
// disjoint: only error-severity issues land in Errors; warning, info,
// hold and unverifiable issues land in Warnings.
type Report struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
	Valid    bool    `json:"valid"`
}

func (r *Report) add(issue *Issue) {
	if issue == nil || issue.Severity == SeverityPass {
		return
	}
	if issue.Severity == SeverityError {
		r.Errors = append(r.Errors, *issue)
	} else {
		r.Warnings = append(r.Warnings, *issue)
	}
}

// HasError reports whether the given rule id appears among the errors.
func (r *Report) HasError(ruleID string) bool {
	for _, e := range r.Errors {
		if e.RuleID == ruleID {
			return true
		}
	}
	return false
}

// HasWarning reports whether the given rule id appears among the warnings.
func (r *Report) HasWarning(ruleID string) bool {
	for _, w := range r.Warnings {
		if w.RuleID == ruleID {
			return true
		}
	}
	return false
}

// HasHoldSeverity reports whether any warning carries hold severity.
func (r *Report) HasHoldSeverity() bool {
	for _, w := range r.Warnings {
		if w.Severity == SeverityHold {
			return true
		}
	}
	return false
}

func parseFailedReport() *Report {
	return &Report{
		Errors: []Issue{{
			RuleID:   RuleParseFailed,
			Tier:     TierStructural,
			Severity: SeverityError,
			Message:  "frame could not be parsed: two symbols compete for the same slot",
		}},
	}
}
