package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/frame"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/ontology"
)

func newFixture(t *testing.T) (*frame.Resolver, *Validator) {
	t.Helper()
	reg := ontology.Default()
	return frame.NewResolver(reg), New(reg)
}

func mustParse(t *testing.T, r *frame.Resolver, raw string) *frame.ParsedFrame {
	t.Helper()
	pf := r.Parse(raw)
	require.NotNil(t, pf, "frame %q did not parse", raw)
	return pf
}

func TestCleanFrame(t *testing.T) {
	r, v := newFixture(t)

	report := v.Validate(mustParse(t, r, "⊕◊◎α"), nil)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
}

func TestParseFailedShortCircuits(t *testing.T) {
	_, v := newFixture(t)

	report := v.Validate(nil, nil)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, RuleParseFailed, report.Errors[0].RuleID)
	assert.False(t, report.Valid)
}

func TestStructuralRules(t *testing.T) {
	r, v := newFixture(t)

	t.Run("SR-001 unrecognized symbols warn", func(t *testing.T) {
		report := v.Validate(mustParse(t, r, "⊕z◊▶"), nil)
		assert.True(t, report.Valid)
		assert.True(t, report.HasWarning("SR-001"))
	})

	t.Run("SR-002 mode must be first", func(t *testing.T) {
		report := v.Validate(mustParse(t, r, "◊⊕▶"), nil)
		assert.True(t, report.HasError("SR-002"))
	})

	t.Run("SR-004 empty frame", func(t *testing.T) {
		report := v.Validate(mustParse(t, r, ""), nil)
		assert.True(t, report.HasError("SR-004"))
		assert.False(t, report.Valid)
	})

	t.Run("SR-003 duplicate mode on constructed frame", func(t *testing.T) {
		// Parse refuses duplicate modes, but the validator must also
		// catch frames assembled programmatically.
		pf := &frame.ParsedFrame{
			Mode:            ontology.ModeStrict,
			Symbols:         []string{ontology.ModeStrict, ontology.ModeFlexible},
			ParseConfidence: 1,
		}
		report := v.Validate(pf, nil)
		assert.True(t, report.HasError("SR-003"))
	})
}

func TestSemanticRules(t *testing.T) {
	r, v := newFixture(t)

	t.Run("SM-001 strict vs flexible", func(t *testing.T) {
		pf := &frame.ParsedFrame{
			Mode:            ontology.ModeStrict,
			Symbols:         []string{ontology.ModeStrict, ontology.ModeFlexible},
			ParseConfidence: 1,
		}
		report := v.Validate(pf, nil)
		assert.True(t, report.HasError("SM-001"))
	})

	t.Run("SM-002 exploratory execute", func(t *testing.T) {
		report := v.Validate(mustParse(t, r, "⊙◊▶"), nil)
		assert.True(t, report.HasError("SM-002"))
	})

	t.Run("SM-003 priority conflict", func(t *testing.T) {
		report := v.Validate(mustParse(t, r, "⊕⇑⇓◊◎"), nil)
		assert.True(t, report.HasError("SM-003"))
	})

	t.Run("SM-006 forbidden override under flexible mode", func(t *testing.T) {
		report := v.Validate(mustParse(t, r, "⊖◊⛔▶"), nil)
		assert.True(t, report.Valid)
		assert.True(t, report.HasWarning("SM-006"))

		// Under strict mode the constraint is enforced, not overridden.
		report = v.Validate(mustParse(t, r, "⊕◊⛔▶"), nil)
		assert.True(t, report.Valid)
		assert.False(t, report.HasWarning("SM-006"))
	})
}

func TestChainRules(t *testing.T) {
	r, v := newFixture(t)

	t.Run("skipped without parent", func(t *testing.T) {
		report := v.Validate(mustParse(t, r, "⊖◊◎"), nil)
		assert.True(t, report.Valid)
	})

	t.Run("CH-001 mode weakening", func(t *testing.T) {
		parent := mustParse(t, r, "⊕◊⛔▶")
		child := mustParse(t, r, "⊖◊⛔◎")
		report := v.Validate(child, parent)
		assert.True(t, report.HasError("CH-001"))
	})

	t.Run("CH-001 same or stricter mode passes", func(t *testing.T) {
		parent := mustParse(t, r, "⊘◊◎")
		for _, raw := range []string{"⊘◊◎", "⊕◊◎"} {
			report := v.Validate(mustParse(t, r, raw), parent)
			assert.False(t, report.HasError("CH-001"), "child %q", raw)
		}
	})

	t.Run("CH-002 domain mismatch warns", func(t *testing.T) {
		parent := mustParse(t, r, "⊕◊◎")
		child := mustParse(t, r, "⊕◇◎")
		report := v.Validate(child, parent)
		assert.True(t, report.Valid)
		assert.True(t, report.HasWarning("CH-002"))
	})

	t.Run("CH-003 forbidden constraint must inherit", func(t *testing.T) {
		parent := mustParse(t, r, "⊕◊⛔◎")
		child := mustParse(t, r, "⊕◊◎")
		report := v.Validate(child, parent)
		assert.True(t, report.HasError("CH-003"))

		inherited := mustParse(t, r, "⊕◊⛔◎")
		report = v.Validate(inherited, parent)
		assert.False(t, report.HasError("CH-003"))
	})

	t.Run("CH-003 non-inheriting constraints stay optional", func(t *testing.T) {
		parent := mustParse(t, r, "⊕◊⚠◎")
		child := mustParse(t, r, "⊕◊◎")
		report := v.Validate(child, parent)
		assert.False(t, report.HasError("CH-003"))
	})

	t.Run("CH-005 upward delegation warns", func(t *testing.T) {
		parent := mustParse(t, r, "⊕◊◎β")
		child := mustParse(t, r, "⊕◊◎α")
		report := v.Validate(child, parent)
		assert.True(t, report.HasWarning("CH-005"))
	})

	t.Run("CH-006 forbidden mode propagates", func(t *testing.T) {
		parent := mustParse(t, r, "⊗◊◎")
		child := mustParse(t, r, "⊕◊◎")
		report := v.Validate(child, parent)
		assert.True(t, report.HasError("CH-006"))
	})
}

// Scenario: parent ⊕◊⛔▶ with child ⊖◈▶ must report both the mode
// weakening and the dropped forbidden constraint.
func TestWeakenedChildDroppingForbidden(t *testing.T) {
	r, v := newFixture(t)

	parent := mustParse(t, r, "⊕◊⛔▶")
	child := mustParse(t, r, "⊖◈▶")
	report := v.Validate(child, parent)

	assert.False(t, report.Valid)
	assert.True(t, report.HasError("CH-001"))
	assert.True(t, report.HasError("CH-003"))
	assert.True(t, report.HasWarning("CH-002"))
}

func TestOverlayChangesInheritance(t *testing.T) {
	reg := ontology.Default()
	r := frame.NewResolver(reg)
	v := New(reg)

	// With an overlay marking the supervised constraint as inheriting,
	// CH-003 starts enforcing it.
	ov := ontology.NewOverlay()
	ov.Override(ontology.ConstraintSupervised, ontology.Attributes{Name: "supervised", Inherits: true})

	parent := r.Resolve(mustParse(t, r, "⊕◊⚠◎"), ov)
	child := mustParse(t, r, "⊕◊◎")
	report := v.Validate(child, parent)
	assert.True(t, report.HasError("CH-003"))
}
