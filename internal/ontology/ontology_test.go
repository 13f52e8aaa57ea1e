package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg := Default()

	attrs, ok := reg.Lookup(ModeStrict)
	require.True(t, ok)
	assert.Equal(t, CategoryMode, attrs.Category)
	assert.Equal(t, 2, attrs.Strength)

	attrs, ok = reg.Lookup(ConstraintForbidden)
	require.True(t, ok)
	assert.Equal(t, CategoryConstraint, attrs.Category)
	assert.True(t, attrs.Inherits)

	_, ok = reg.Lookup("x")
	assert.False(t, ok)
}

func TestStrengthOrdering(t *testing.T) {
	reg := Default()

	// Smaller strength means stricter. Forbidden is the strictest mode.
	strengths := map[string]int{
		ModeForbidden:   1,
		ModeStrict:      2,
		ModeNeutral:     3,
		ModeExploratory: 4,
		ModeFlexible:    5,
	}
	for mode, want := range strengths {
		got, ok := reg.Strength(mode)
		require.True(t, ok, "mode %q", mode)
		assert.Equal(t, want, got, "mode %q", mode)
	}

	assert.Equal(t, 5, reg.MaxStrength())

	// Non-modes have no strength.
	_, ok := reg.Strength(DomainFinancial)
	assert.False(t, ok)
}

func TestAllSymbolsStable(t *testing.T) {
	reg := Default()
	first := reg.AllSymbols()
	second := reg.AllSymbols()
	assert.Equal(t, first, second)
	assert.Len(t, first, 22)
}

func TestNewRegistryRejectsBadModes(t *testing.T) {
	_, err := NewRegistry(map[string]Attributes{
		"⊕": {Name: "strict", Category: CategoryMode},
	})
	assert.Error(t, err)
}

func TestOverlayOverridesAttributesOnly(t *testing.T) {
	reg := Default()
	base, _ := reg.Lookup(ConstraintSupervised)
	require.False(t, base.Inherits)

	ov := NewOverlay()
	ov.Override(ConstraintSupervised, Attributes{Name: "supervised", Inherits: true})

	eff := ov.Apply(ConstraintSupervised, base)
	assert.True(t, eff.Inherits)
	// Category is pinned to the registry's even if the overlay omits it.
	assert.Equal(t, CategoryConstraint, eff.Category)

	// The registry itself is untouched.
	after, _ := reg.Lookup(ConstraintSupervised)
	assert.False(t, after.Inherits)
}

func TestNilOverlayIsIdentity(t *testing.T) {
	reg := Default()
	base, _ := reg.Lookup(ModeStrict)
	var ov *Overlay
	assert.Equal(t, base, ov.Apply(ModeStrict, base))
}
