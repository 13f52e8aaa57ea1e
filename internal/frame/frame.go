// Package frame implements the symbolic frame language: the ParsedFrame
// structure and the Resolver that tokenizes raw frame strings against the
// ontology. Parsing is total — malformed input yields nil, never a panic.
package frame

import (
	"strings"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/ontology"
)

// ParsedFrame is the structured form of a frame string. The single-value
// slots (Mode, Domain, Source, Action, Entity) are empty strings when
// absent. Symbols preserves the recognized symbols in their original input
// order; Attrs carries the effective attributes of each recognized symbol
// after resolution.
type ParsedFrame struct {
	Mode        string   `json:"mode,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	Source      string   `json:"source,omitempty"`
	Action      string   `json:"action,omitempty"`
	Entity      string   `json:"entity,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	Modifiers   []string `json:"modifiers,omitempty"`

	Symbols          []string `json:"symbols,omitempty"`
	ParseConfidence  float64  `json:"parse_confidence"`
	UnparsedSegments []string `json:"unparsed_segments,omitempty"`

	Attrs map[string]ontology.Attributes `json:"-"`
}

// IsEmpty reports whether no symbol was recognized.
func (pf *ParsedFrame) IsEmpty() bool {
	return pf == nil || len(pf.Symbols) == 0
}

// HasConstraint reports whether the frame carries the given constraint.
func (pf *ParsedFrame) HasConstraint(symbol string) bool {
	if pf == nil {
		return false
	}
	for _, c := range pf.Constraints {
		if c == symbol {
			return true
		}
	}
	return false
}

// HasModifier reports whether the frame carries the given modifier.
func (pf *ParsedFrame) HasModifier(symbol string) bool {
	if pf == nil {
		return false
	}
	for _, m := range pf.Modifiers {
		if m == symbol {
			return true
		}
	}
	return false
}

// AttrOf returns the effective attributes of a symbol in this frame.
func (pf *ParsedFrame) AttrOf(symbol string) (ontology.Attributes, bool) {
	if pf == nil || pf.Attrs == nil {
		return ontology.Attributes{}, false
	}
	attrs, ok := pf.Attrs[symbol]
	return attrs, ok
}

// String reconstructs the raw frame in canonical order: mode, modifiers,
// domain, source, constraints, action, entity. Unparsed segments are not
// reproduced.
func (pf *ParsedFrame) String() string {
	if pf == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(pf.Mode)
	for _, m := range pf.Modifiers {
		b.WriteString(m)
	}
	b.WriteString(pf.Domain)
	b.WriteString(pf.Source)
	for _, c := range pf.Constraints {
		b.WriteString(c)
	}
	b.WriteString(pf.Action)
	b.WriteString(pf.Entity)
	return b.String()
}

// Clone returns a deep copy. The attribute map is copied so a resolved
// frame can diverge from its parse without sharing state.
func (pf *ParsedFrame) Clone() *ParsedFrame {
	if pf == nil {
		return nil
	}
	cp := *pf
	cp.Constraints = append([]string(nil), pf.Constraints...)
	cp.Modifiers = append([]string(nil), pf.Modifiers...)
	cp.Symbols = append([]string(nil), pf.Symbols...)
	cp.UnparsedSegments = append([]string(nil), pf.UnparsedSegments...)
	if pf.Attrs != nil {
		cp.Attrs = make(map[string]ontology.Attributes, len(pf.Attrs))
		for k, v := range pf.Attrs {
			cp.Attrs[k] = v
		}
	}
	return &cp
}
