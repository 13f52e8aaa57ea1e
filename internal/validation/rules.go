package validation

import (
	"fmt"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/frame"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/ontology"
)

// ruleContext is the input to every rule: the frame under validation, the
// optional parent, and the registry for attribute lookups. Attributes
// resolved onto the frames (overlays) take precedence over the registry.
type ruleContext struct {
	child  *frame.ParsedFrame
	parent *frame.ParsedFrame
	reg    *ontology.Registry
}

// attrOf returns the effective attributes of a symbol as seen by pf,
// falling back to the registry when the frame was not resolved.
func (rc *ruleContext) attrOf(pf *frame.ParsedFrame, symbol string) (ontology.Attributes, bool) {
	if attrs, ok := pf.AttrOf(symbol); ok {
		return attrs, true
	}
	return rc.reg.Lookup(symbol)
}

// strengthOf returns the mode strength of a frame's mode, honoring
// overlays. ok=false when the frame has no mode.
func (rc *ruleContext) strengthOf(pf *frame.ParsedFrame) (int, bool) {
	if pf == nil || pf.Mode == "" {
		return 0, false
	}
	attrs, ok := rc.attrOf(pf, pf.Mode)
	if !ok || attrs.Category != ontology.CategoryMode {
		return 0, false
	}
	return attrs.Strength, true
}

// entityLevelOf returns the hierarchy level of a frame's actor entity.
func (rc *ruleContext) entityLevelOf(pf *frame.ParsedFrame) (int, bool) {
	if pf == nil || pf.Entity == "" {
		return 0, false
	}
	attrs, ok := rc.attrOf(pf, pf.Entity)
	if !ok {
		return 0, false
	}
	return attrs.Level, true
}

// countCategory counts recognized symbols of a category in input order.
func (rc *ruleContext) countCategory(pf *frame.ParsedFrame, cat ontology.Category) int {
	n := 0
	for _, sym := range pf.Symbols {
		if attrs, ok := rc.attrOf(pf, sym); ok && attrs.Category == cat {
			n++
		}
	}
	return n
}

// rule is a pure predicate with a stable id. Check returns nil on pass.
type rule struct {
	id    string
	tier  Tier
	check func(rc *ruleContext) *Issue
}

// structuralRules validate frame shape (SR tier).
var structuralRules = []rule{
	{id: "SR-001", tier: TierStructural, check: func(rc *ruleContext) *Issue {
		if len(rc.child.UnparsedSegments) == 0 {
			return nil
		}
		return &Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("frame contains %d unrecognized segment(s)", len(rc.child.UnparsedSegments)),
			Symbol:   rc.child.UnparsedSegments[0],
		}
	}},
	{id: "SR-002", tier: TierStructural, check: func(rc *ruleContext) *Issue {
		if rc.child.Mode == "" || len(rc.child.Symbols) == 0 {
			return nil
		}
		if rc.child.Symbols[0] == rc.child.Mode {
			return nil
		}
		return &Issue{
			Severity: SeverityError,
			Message:  "mode symbol must appear first in the frame",
			Symbol:   rc.child.Mode,
		}
	}},
	{id: "SR-003", tier: TierStructural, check: func(rc *ruleContext) *Issue {
		if rc.countCategory(rc.child, ontology.CategoryMode) <= 1 {
			return nil
		}
		return &Issue{Severity: SeverityError, Message: "frame declares more than one mode", Symbol: rc.child.Mode}
	}},
	{id: "SR-004", tier: TierStructural, check: func(rc *ruleContext) *Issue {
		if !rc.child.IsEmpty() {
			return nil
		}
		return &Issue{Severity: SeverityError, Message: "frame is empty"}
	}},
	{id: "SR-005", tier: TierStructural, check: func(rc *ruleContext) *Issue {
		if rc.countCategory(rc.child, ontology.CategoryDomain) <= 1 {
			return nil
		}
		return &Issue{Severity: SeverityError, Message: "frame declares more than one domain", Symbol: rc.child.Domain}
	}},
	{id: "SR-006", tier: TierStructural, check: func(rc *ruleContext) *Issue {
		if rc.countCategory(rc.child, ontology.CategoryAction) <= 1 {
			return nil
		}
		return &Issue{Severity: SeverityError, Message: "frame declares more than one action", Symbol: rc.child.Action}
	}},
}

// semanticRules validate coherence of the declared symbols (SM tier).
var semanticRules = []rule{
	{id: "SM-001", tier: TierSemantic, check: func(rc *ruleContext) *Issue {
		if !hasSymbol(rc.child, ontology.ModeStrict) || !hasSymbol(rc.child, ontology.ModeFlexible) {
			return nil
		}
		return &Issue{
			Severity: SeverityError,
			Message:  "strict and flexible modes are mutually exclusive",
			Symbol:   ontology.ModeFlexible,
		}
	}},
	{id: "SM-002", tier: TierSemantic, check: func(rc *ruleContext) *Issue {
		if rc.child.Mode != ontology.ModeExploratory || rc.child.Action != ontology.ActionExecute {
			return nil
		}
		return &Issue{
			Severity: SeverityError,
			Message:  "exploratory mode cannot combine with an execute action",
			Symbol:   ontology.ActionExecute,
		}
	}},
	{id: "SM-003", tier: TierSemantic, check: func(rc *ruleContext) *Issue {
		if !rc.child.HasModifier(ontology.ModifierHighPriority) || !rc.child.HasModifier(ontology.ModifierLowPriority) {
			return nil
		}
		return &Issue{
			Severity: SeverityError,
			Message:  "high and low priority modifiers are mutually exclusive",
			Symbol:   ontology.ModifierLowPriority,
		}
	}},
	{id: "SM-006", tier: TierSemantic, check: func(rc *ruleContext) *Issue {
		// Flexible mode downgrades blocks to warnings, so an execute
		// under a forbidden constraint slips through as an override.
		if !rc.child.HasConstraint(ontology.ConstraintForbidden) ||
			rc.child.Action != ontology.ActionExecute ||
			rc.child.Mode != ontology.ModeFlexible {
			return nil
		}
		return &Issue{
			Severity: SeverityWarning,
			Message:  "execute action overrides a forbidden constraint under flexible mode",
			Symbol:   ontology.ConstraintForbidden,
		}
	}},
}

// chainRules validate parent-to-child relationships (CH tier). They run
// only when a non-empty parent frame is supplied.
var chainRules = []rule{
	{id: "CH-001", tier: TierChain, check: func(rc *ruleContext) *Issue {
		childStrength, okC := rc.strengthOf(rc.child)
		parentStrength, okP := rc.strengthOf(rc.parent)
		if !okC || !okP || childStrength <= parentStrength {
			return nil
		}
		return &Issue{
			Severity: SeverityError,
			Message: fmt.Sprintf("child mode weakens parent mode (strength %d > %d)",
				childStrength, parentStrength),
			Symbol: rc.child.Mode,
		}
	}},
	{id: "CH-002", tier: TierChain, check: func(rc *ruleContext) *Issue {
		if rc.child.Domain == "" || rc.parent.Domain == "" || rc.child.Domain == rc.parent.Domain {
			return nil
		}
		return &Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("child domain %s differs from parent domain %s", rc.child.Domain, rc.parent.Domain),
			Symbol:   rc.child.Domain,
		}
	}},
	{id: "CH-003", tier: TierChain, check: func(rc *ruleContext) *Issue {
		for _, c := range rc.parent.Constraints {
			attrs, ok := rc.attrOf(rc.parent, c)
			if !ok || !attrs.Inherits {
				continue
			}
			if !rc.child.HasConstraint(c) {
				return &Issue{
					Severity: SeverityError,
					Message:  fmt.Sprintf("child must inherit parent constraint %s", c),
					Symbol:   c,
				}
			}
		}
		return nil
	}},
	{id: "CH-005", tier: TierChain, check: func(rc *ruleContext) *Issue {
		childLevel, okC := rc.entityLevelOf(rc.child)
		parentLevel, okP := rc.entityLevelOf(rc.parent)
		if !okC || !okP || childLevel >= parentLevel {
			return nil
		}
		return &Issue{
			Severity: SeverityWarning,
			Message:  "child entity outranks parent entity; delegation cannot move up the hierarchy",
			Symbol:   rc.child.Entity,
		}
	}},
	{id: "CH-006", tier: TierChain, check: func(rc *ruleContext) *Issue {
		if rc.parent.Mode != ontology.ModeForbidden || rc.child.Mode == ontology.ModeForbidden {
			return nil
		}
		return &Issue{
			Severity: SeverityError,
			Message:  "parent forbidden mode must propagate to the child",
			Symbol:   ontology.ModeForbidden,
		}
	}},
}

func hasSymbol(pf *frame.ParsedFrame, symbol string) bool {
	for _, s := range pf.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
