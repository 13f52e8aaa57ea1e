// Package delegation mediates parent→child frame handoff. The engine
// materializes an effective child frame from an inheritance policy,
// validates the chain, and keeps an in-memory registry of delegation
// records that parents can revoke.
package delegation

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/audit"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/drift"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/frame"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/ontology"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/registry"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/validation"
)

// Inheritance policies.
const (
	InheritStrict  = "strict"
	InheritRelaxed = "relaxed"
	InheritCustom  = "custom"
)

// Delegation record statuses.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// CustomSlots selects which slots a custom inheritance copies.
type CustomSlots struct {
	Mode        bool `json:"mode"`
	Domain      bool `json:"domain"`
	Constraints bool `json:"constraints"`
	Modifiers   bool `json:"modifiers"`
}

// Record is one delegation. Immutable except for Status/RevokedAt.
type Record struct {
	ID             string     `json:"id"`
	ParentID       string     `json:"parent_id"`
	ChildID        string     `json:"child_id"`
	ParentFrame    string     `json:"parent_frame"`
	ChildFrame     string     `json:"child_frame"`
	EffectiveFrame string     `json:"effective_frame"`
	InstanceID     string     `json:"instance_id,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// Result is the outcome of a delegation attempt. When validation fails
// the report explains why; Reason covers the non-validation rejections.
type Result struct {
	Delegated      bool               `json:"delegated"`
	Record         *Record            `json:"record,omitempty"`
	EffectiveFrame string             `json:"effective_frame,omitempty"`
	Report         *validation.Report `json:"report,omitempty"`
	Reason         string             `json:"reason,omitempty"`
}

// Input describes a delegation request. ChildDefinitionID and the
// instance fields are optional; when present and a spawner is wired the
// engine spawns the child under the parent's scope.
type Input struct {
	ParentID          string
	ChildID           string
	ParentFrame       string
	ChildFrame        string
	Inheritance       string // strict (default), relaxed, custom
	Custom            *CustomSlots
	ChildDefinitionID string
	ParentInstanceID  string
	CampaignID        string
}

// Spawner is the registry capability the engine uses to materialize the
// child instance. May be nil.
type Spawner interface {
	Spawn(in registry.SpawnInput) (*store.AgentInstance, error)
}

// Engine validates and tracks delegations.
type Engine struct {
	mu      sync.RWMutex
	records map[string]*Record

	resolver  *frame.Resolver
	validator *validation.Validator
	breaker   *drift.Engine
	spawner   Spawner
	auditor   *audit.Log
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates a delegation Engine. Breaker, spawner and auditor
// may be nil.
func NewEngine(reg *ontology.Registry, breaker *drift.Engine, spawner Spawner, auditor *audit.Log, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		records:   make(map[string]*Record),
		resolver:  frame.NewResolver(reg),
		validator: validation.New(reg),
		breaker:   breaker,
		spawner:   spawner,
		auditor:   auditor,
		logger:    logger.With("component", "delegation.Engine"),
		now:       time.Now,
	}
}

// Delegate runs the full handoff: parse, breaker check, inheritance,
// chain validation, record. Chain validation runs against the child's
// original frame, not the effective one, so a child that fails to
// explicitly carry an inherited prohibition is surfaced to the caller.
func (e *Engine) Delegate(in Input) *Result {
	parent := e.resolver.Parse(in.ParentFrame)
	if parent == nil || parent.IsEmpty() {
		return &Result{Reason: fmt.Sprintf("parent frame %q failed to parse", in.ParentFrame)}
	}
	child := e.resolver.Parse(in.ChildFrame)
	if child == nil || child.IsEmpty() {
		return &Result{Reason: fmt.Sprintf("child frame %q failed to parse", in.ChildFrame)}
	}

	if e.breaker != nil {
		if snap := e.breaker.Status(in.ChildID); snap != nil && snap.State == drift.BreakerOpen {
			return &Result{Reason: fmt.Sprintf("circuit breaker open for %s", in.ChildID)}
		}
	}

	effective := e.inherit(parent, child, in.Inheritance, in.Custom)

	// The report is computed against the original child frame so a child
	// that fails to explicitly carry an inherited prohibition is surfaced
	// to the caller. Whether the delegation stands is decided by the
	// effective frame, which inheritance may have repaired.
	report := e.validator.Validate(child, parent)
	if effReport := e.validator.Validate(effective, parent); !effReport.Valid {
		return &Result{Report: report, Reason: "chain validation failed"}
	}

	rec := &Record{
		ID:             uuid.NewString(),
		ParentID:       in.ParentID,
		ChildID:        in.ChildID,
		ParentFrame:    parent.String(),
		ChildFrame:     child.String(),
		EffectiveFrame: effective.String(),
		Status:         StatusActive,
		CreatedAt:      e.now(),
	}

	if e.spawner != nil && in.ChildDefinitionID != "" {
		inst, err := e.spawner.Spawn(registry.SpawnInput{
			DefinitionID:     in.ChildDefinitionID,
			CampaignID:       in.CampaignID,
			ParentInstanceID: in.ParentInstanceID,
			Frame:            rec.EffectiveFrame,
		})
		if err != nil {
			return &Result{Report: report, Reason: fmt.Sprintf("spawn rejected: %v", err)}
		}
		rec.InstanceID = inst.ID
	}

	e.mu.Lock()
	e.records[rec.ID] = rec
	e.mu.Unlock()

	if e.auditor != nil {
		e.auditor.Record(audit.EventDelegationMade, audit.Fields{
			AgentID:    in.ParentID,
			InstanceID: rec.InstanceID,
			Details: map[string]interface{}{
				"delegation_id":   rec.ID,
				"child_id":        in.ChildID,
				"effective_frame": rec.EffectiveFrame,
			},
		})
	}
	e.logger.Info("delegation created",
		"delegation_id", rec.ID,
		"parent_id", in.ParentID,
		"child_id", in.ChildID,
		"effective_frame", rec.EffectiveFrame,
	)
	return &Result{Delegated: true, Record: rec, EffectiveFrame: rec.EffectiveFrame, Report: report}
}

// Revoke deactivates a delegation. Only the recorded parent may revoke,
// and only while the record is active.
func (e *Engine) Revoke(delegationID, caller string) error {
	e.mu.Lock()
	rec, ok := e.records[delegationID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown delegation %s", delegationID)
	}
	if rec.ParentID != caller {
		e.mu.Unlock()
		return fmt.Errorf("delegation %s can only be revoked by %s", delegationID, rec.ParentID)
	}
	if rec.Status != StatusActive {
		e.mu.Unlock()
		return fmt.Errorf("delegation %s is not active", delegationID)
	}
	now := e.now()
	rec.Status = StatusRevoked
	rec.RevokedAt = &now
	childID := rec.ChildID
	e.mu.Unlock()

	if e.auditor != nil {
		e.auditor.Record(audit.EventDelegationRevoke, audit.Fields{
			AgentID: caller,
			Details: map[string]interface{}{"delegation_id": delegationID, "child_id": childID},
		})
	}
	e.logger.Info("delegation revoked", "delegation_id", delegationID, "parent_id", caller)
	return nil
}

// Get returns a copy of the record or nil.
func (e *Engine) Get(delegationID string) *Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[delegationID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// IsActive reports whether the delegation exists and is active. Callers
// gating a child's operations re-check this before acting.
func (e *Engine) IsActive(delegationID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[delegationID]
	return ok && rec.Status == StatusActive
}

// List returns copies of all records, optionally filtered by parent.
func (e *Engine) List(parentID string) []*Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Record
	for _, rec := range e.records {
		if parentID != "" && rec.ParentID != parentID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// inherit materializes the effective child frame under the policy. The
// original child frame is never mutated.
func (e *Engine) inherit(parent, child *frame.ParsedFrame, policy string, custom *CustomSlots) *frame.ParsedFrame {
	eff := child.Clone()

	slots := CustomSlots{Mode: true, Domain: true, Constraints: true, Modifiers: true}
	switch policy {
	case InheritRelaxed:
		slots = CustomSlots{Domain: true}
	case InheritCustom:
		if custom != nil {
			slots = *custom
		}
	case InheritStrict, "":
	}

	if slots.Mode && eff.Mode == "" && parent.Mode != "" {
		eff.Mode = parent.Mode
		adoptAttrs(eff, parent, parent.Mode)
	}
	if slots.Domain && parent.Domain != "" {
		if eff.Domain != "" && eff.Domain != parent.Domain {
			delete(eff.Attrs, eff.Domain)
		}
		eff.Domain = parent.Domain
		adoptAttrs(eff, parent, parent.Domain)
	}

	// The forbidden constraint propagates under every policy.
	for _, c := range parent.Constraints {
		inheritable := c == ontology.ConstraintForbidden
		if slots.Constraints && !inheritable {
			if attrs, ok := parent.AttrOf(c); ok && attrs.Inherits {
				inheritable = true
			}
		}
		if inheritable && !eff.HasConstraint(c) {
			eff.Constraints = append(eff.Constraints, c)
			adoptAttrs(eff, parent, c)
		}
	}

	if slots.Modifiers {
		for _, m := range parent.Modifiers {
			if m != ontology.ModifierHighPriority && m != ontology.ModifierLowPriority {
				continue
			}
			if !eff.HasModifier(ontology.ModifierHighPriority) && !eff.HasModifier(ontology.ModifierLowPriority) {
				eff.Modifiers = append(eff.Modifiers, m)
				adoptAttrs(eff, parent, m)
			}
		}
	}

	// Inherited symbols land in canonical slot order so the effective
	// frame re-parses cleanly.
	eff.Symbols = canonicalSymbols(eff)
	return eff
}

// adoptAttrs copies the resolved attributes of an inherited symbol from
// the parent frame.
func adoptAttrs(eff, parent *frame.ParsedFrame, symbol string) {
	if attrs, ok := parent.AttrOf(symbol); ok {
		if eff.Attrs == nil {
			eff.Attrs = make(map[string]ontology.Attributes)
		}
		eff.Attrs[symbol] = attrs
	}
}

func canonicalSymbols(pf *frame.ParsedFrame) []string {
	var out []string
	if pf.Mode != "" {
		out = append(out, pf.Mode)
	}
	out = append(out, pf.Modifiers...)
	if pf.Domain != "" {
		out = append(out, pf.Domain)
	}
	if pf.Source != "" {
		out = append(out, pf.Source)
	}
	out = append(out, pf.Constraints...)
	if pf.Action != "" {
		out = append(out, pf.Action)
	}
	if pf.Entity != "" {
		out = append(out, pf.Entity)
	}
	return out
}
