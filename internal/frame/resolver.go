package frame

import (
	"strings"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/ontology"
)

// Resolver parses raw frame strings against a symbol registry. It is
// stateless apart from the registry reference and safe for concurrent use.
type Resolver struct {
	reg *ontology.Registry
}

// NewResolver creates a Resolver over the given registry.
func NewResolver(reg *ontology.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Parse scans the raw frame rune by rune and classifies each against the
// ontology. It returns nil when two symbols compete for the same slot
// (two modes, two domains, two actions, two actor entities or two
// sources) — that ambiguity is irreducible and higher layers report it as
// a parse failure. Unrecognized runes are collected into
// UnparsedSegments and lower the parse confidence; they never abort the
// parse.
func (r *Resolver) Parse(raw string) *ParsedFrame {
	pf := &ParsedFrame{
		ParseConfidence: 1,
		Attrs:           make(map[string]ontology.Attributes),
	}

	var total, unresolved int
	var segment strings.Builder

	flush := func() {
		if segment.Len() > 0 {
			pf.UnparsedSegments = append(pf.UnparsedSegments, segment.String())
			segment.Reset()
		}
	}

	for _, cp := range raw {
		total++
		sym := string(cp)
		attrs, ok := r.reg.Lookup(sym)
		if !ok {
			unresolved++
			segment.WriteRune(cp)
			continue
		}
		flush()

		switch attrs.Category {
		case ontology.CategoryMode:
			if pf.Mode != "" {
				return nil
			}
			pf.Mode = sym
		case ontology.CategoryDomain:
			if pf.Domain != "" {
				return nil
			}
			pf.Domain = sym
		case ontology.CategoryAction:
			if pf.Action != "" {
				return nil
			}
			pf.Action = sym
		case ontology.CategoryConstraint:
			pf.Constraints = append(pf.Constraints, sym)
		case ontology.CategoryModifier:
			pf.Modifiers = append(pf.Modifiers, sym)
		case ontology.CategoryEntity:
			if attrs.Role == ontology.RoleSource {
				if pf.Source != "" {
					return nil
				}
				pf.Source = sym
			} else {
				if pf.Entity != "" {
					return nil
				}
				pf.Entity = sym
			}
		}

		pf.Symbols = append(pf.Symbols, sym)
		pf.Attrs[sym] = attrs
	}
	flush()

	if total > 0 {
		pf.ParseConfidence = clamp01(1 - float64(unresolved)/float64(total))
	}
	return pf
}

// Resolve applies an optional per-call overlay on top of the registry
// attributes. The returned frame is a copy; neither the input frame nor
// the registry is mutated.
func (r *Resolver) Resolve(pf *ParsedFrame, overlay *ontology.Overlay) *ParsedFrame {
	if pf == nil {
		return nil
	}
	out := pf.Clone()
	if out.Attrs == nil {
		out.Attrs = make(map[string]ontology.Attributes, len(out.Symbols))
	}
	for _, sym := range out.Symbols {
		base, ok := r.reg.Lookup(sym)
		if !ok {
			continue
		}
		out.Attrs[sym] = overlay.Apply(sym, base)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
