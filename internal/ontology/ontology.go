// Package ontology is the authoritative catalog of recognized frame symbols.
// Every symbol belongs to exactly one of six categories (mode, domain,
// action, constraint, modifier, entity) and carries fixed semantic
// attributes. The registry is populated once at init and is read-only
// afterwards, so concurrent lookups need no locking.
package ontology

import (
	"fmt"
	"sort"
)

// Category tags a symbol with its grammatical role inside a frame.
type Category string

const (
	CategoryMode       Category = "mode"
	CategoryDomain     Category = "domain"
	CategoryAction     Category = "action"
	CategoryConstraint Category = "constraint"
	CategoryModifier   Category = "modifier"
	CategoryEntity     Category = "entity"
)

// EntityRole distinguishes actor entities (α, β, γ) from provenance
// sources (Σ, Υ, Λ). Both live in the entity category but fill different
// frame slots.
type EntityRole string

const (
	RoleActor  EntityRole = "actor"
	RoleSource EntityRole = "source"
)

// Attributes holds the fixed semantic attributes of a symbol. Only the
// fields relevant to the symbol's category are populated: Strength for
// modes, Inherits for constraints, Level and Role for entities.
type Attributes struct {
	Name        string
	Category    Category
	Strength    int // modes only; smaller = stricter
	Inherits    bool
	Level       int // actor entities only; smaller = higher authority
	Role        EntityRole
	Description string
}

// Registry is the immutable symbol catalog. Construct with NewRegistry
// (or use Default) and never mutate afterwards.
type Registry struct {
	symbols map[string]Attributes
	maxStrength int
}

// NewRegistry builds a registry from the given symbol table. Returns an
// error if a symbol is declared twice or a mode lacks a positive strength.
func NewRegistry(table map[string]Attributes) (*Registry, error) {
	r := &Registry{symbols: make(map[string]Attributes, len(table))}
	for sym, attrs := range table {
		if _, dup := r.symbols[sym]; dup {
			return nil, fmt.Errorf("duplicate symbol %q", sym)
		}
		if attrs.Category == CategoryMode {
			if attrs.Strength <= 0 {
				return nil, fmt.Errorf("mode %q must declare a positive strength", sym)
			}
			if attrs.Strength > r.maxStrength {
				r.maxStrength = attrs.Strength
			}
		}
		r.symbols[sym] = attrs
	}
	return r, nil
}

// Lookup returns the attributes of a symbol, or ok=false if the symbol is
// not part of the ontology.
func (r *Registry) Lookup(symbol string) (Attributes, bool) {
	attrs, ok := r.symbols[symbol]
	return attrs, ok
}

// AllSymbols returns every recognized symbol in a stable (sorted) order.
func (r *Registry) AllSymbols() []string {
	out := make([]string, 0, len(r.symbols))
	for sym := range r.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Strength returns the strength of a mode symbol. Unknown symbols and
// non-modes report ok=false.
func (r *Registry) Strength(mode string) (int, bool) {
	attrs, ok := r.symbols[mode]
	if !ok || attrs.Category != CategoryMode {
		return 0, false
	}
	return attrs.Strength, true
}

// MaxStrength is the largest mode strength in the catalog, used to
// normalize mode-deviation scores.
func (r *Registry) MaxStrength() int {
	return r.maxStrength
}

// Overlay overrides symbol attributes for a single resolve call without
// touching the registry. Only attributes can change; an overlay cannot
// introduce new symbols or move a symbol between categories.
type Overlay struct {
	overrides map[string]Attributes
}

// NewOverlay creates an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{overrides: make(map[string]Attributes)}
}

// Override records replacement attributes for a symbol. The category of
// the override is forced to match the registry's at resolve time.
func (o *Overlay) Override(symbol string, attrs Attributes) {
	o.overrides[symbol] = attrs
}

// Apply returns the effective attributes for a symbol: the overlay's if
// present (category pinned to base), otherwise the base attributes.
func (o *Overlay) Apply(symbol string, base Attributes) Attributes {
	if o == nil {
		return base
	}
	over, ok := o.overrides[symbol]
	if !ok {
		return base
	}
	over.Category = base.Category
	return over
}
