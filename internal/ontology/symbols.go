package ontology

// Symbol constants for the built-in catalog. Code elsewhere refers to
// symbols through these names rather than raw literals.
const (
	ModeForbidden   = "⊗"
	ModeStrict      = "⊕"
	ModeNeutral     = "⊘"
	ModeExploratory = "⊙"
	ModeFlexible    = "⊖"

	DomainFinancial   = "◊"
	DomainTechnical   = "◇"
	DomainOperational = "◈"
	DomainLegal       = "◆"

	ActionExecute  = "▶"
	ActionDelegate = "▼"
	ActionObserve  = "◎"
	ActionCreate   = "✚"

	ConstraintForbidden  = "⛔"
	ConstraintSupervised = "⚠"
	ConstraintBounded    = "⏱"

	ModifierHighPriority = "⇑"
	ModifierLowPriority  = "⇓"
	ModifierApproximate  = "≈"

	EntityPrimary   = "α"
	EntitySecondary = "β"
	EntityTertiary  = "γ"

	SourceSystem = "Σ"
	SourceUser   = "Υ"
	SourceAgent  = "Λ"
)

// defaultTable is the built-in symbol catalog. Mode strengths run from 1
// (forbidden, strictest) to 5 (flexible, loosest).
var defaultTable = map[string]Attributes{
	ModeForbidden:   {Name: "forbidden", Category: CategoryMode, Strength: 1, Description: "no actions permitted; propagates to children"},
	ModeStrict:      {Name: "strict", Category: CategoryMode, Strength: 2, Description: "conservative operation, full constraint enforcement"},
	ModeNeutral:     {Name: "neutral", Category: CategoryMode, Strength: 3, Description: "standard operation"},
	ModeExploratory: {Name: "exploratory", Category: CategoryMode, Strength: 4, Description: "read-mostly exploration; execution disallowed"},
	ModeFlexible:    {Name: "flexible", Category: CategoryMode, Strength: 5, Description: "relaxed operation, warnings instead of blocks"},

	DomainFinancial:   {Name: "financial", Category: CategoryDomain, Description: "transactions, bidding, settlement"},
	DomainTechnical:   {Name: "technical", Category: CategoryDomain, Description: "code, infrastructure, tooling"},
	DomainOperational: {Name: "operational", Category: CategoryDomain, Description: "scheduling, logistics, coordination"},
	DomainLegal:       {Name: "legal", Category: CategoryDomain, Description: "citation, compliance, contract review"},

	ActionExecute:  {Name: "execute", Category: CategoryAction, Description: "perform a side-effecting operation"},
	ActionDelegate: {Name: "delegate", Category: CategoryAction, Description: "hand work to a child agent"},
	ActionObserve:  {Name: "observe", Category: CategoryAction, Description: "read-only inspection"},
	ActionCreate:   {Name: "create", Category: CategoryAction, Description: "materialize a new resource or symbol"},

	ConstraintForbidden:  {Name: "forbidden", Category: CategoryConstraint, Inherits: true, Description: "the marked behavior is prohibited; inherited by children"},
	ConstraintSupervised: {Name: "supervised", Category: CategoryConstraint, Description: "a human observes this operation"},
	ConstraintBounded:    {Name: "bounded", Category: CategoryConstraint, Description: "operation carries a time budget"},

	ModifierHighPriority: {Name: "high-priority", Category: CategoryModifier, Description: "schedule ahead of normal work"},
	ModifierLowPriority:  {Name: "low-priority", Category: CategoryModifier, Description: "schedule behind normal work"},
	ModifierApproximate:  {Name: "approximate", Category: CategoryModifier, Description: "best-effort precision is acceptable"},

	EntityPrimary:   {Name: "primary", Category: CategoryEntity, Level: 1, Role: RoleActor, Description: "top-level actor"},
	EntitySecondary: {Name: "secondary", Category: CategoryEntity, Level: 2, Role: RoleActor, Description: "delegated actor"},
	EntityTertiary:  {Name: "tertiary", Category: CategoryEntity, Level: 3, Role: RoleActor, Description: "sub-delegated actor"},

	SourceSystem: {Name: "system", Category: CategoryEntity, Role: RoleSource, Description: "intent originated from the system"},
	SourceUser:   {Name: "user", Category: CategoryEntity, Role: RoleSource, Description: "intent originated from a human"},
	SourceAgent:  {Name: "agent", Category: CategoryEntity, Role: RoleSource, Description: "intent originated from another agent"},
}

// Default returns the built-in registry. The table is static, so
// construction cannot fail.
func Default() *Registry {
	r, err := NewRegistry(defaultTable)
	if err != nil {
		panic("ontology: invalid built-in symbol table: " + err.Error())
	}
	return r
}
