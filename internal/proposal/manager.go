// Package proposal generates and adjudicates agent proposals. A
// proposal synthesizes an agent definition from a source template,
// scores its risk, and either auto-approves and spawns or parks behind
// a hold for a human decision.
package proposal

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/audit"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/hold"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/notify"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/registry"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

// Proposal states.
const (
	StatePending  = "pending"
	StateApproved = "approved"
	StateRejected = "rejected"
	StateExpired  = "expired"
)

// Approval levels.
const (
	ApprovalAuto     = "auto"
	ApprovalHuman    = "human"
	ApprovalElevated = "elevated"
)

// Routing thresholds over the weighted risk score.
const (
	elevatedThreshold = 0.7
	humanThreshold    = 0.3
)

// Config tunes the manager.
type Config struct {
	DefaultTTL time.Duration // pending proposal expiry
}

// DefaultConfig returns the standard proposal configuration.
func DefaultConfig() Config {
	return Config{DefaultTTL: 24 * time.Hour}
}

// Store is the persistence subset the manager needs. May be nil.
type Store interface {
	InsertProposal(p *store.Proposal) error
	GetProposal(id string) (*store.Proposal, error)
	ListProposals(filter store.ProposalFilter) ([]*store.Proposal, error)
	UpdateProposal(p *store.Proposal) error
	UpsertDataSource(s *store.DataSource) error
}

// Spawner is the registry capability used when a proposal is approved.
type Spawner interface {
	RegisterDefinition(d *store.AgentDefinition) error
	Spawn(in registry.SpawnInput) (*store.AgentInstance, error)
}

// Modifications optionally adjust the synthesized definition on
// approval.
type Modifications struct {
	Frame          string
	Namespace      string
	ResourceLimits *store.ResourceLimits
}

// Manager owns the proposal lifecycle. The proposal carries its hold id;
// the hold→proposal direction is a derived index.
type Manager struct {
	mu        sync.Mutex
	proposals map[string]*store.Proposal
	byHold    map[string]string

	store    Store
	spawner  Spawner
	holds    *hold.Manager
	notifier notify.Notifier
	auditor  *audit.Log
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a proposal Manager. Store, spawner, holds, notifier
// and auditor may each be nil.
func NewManager(st Store, spawner Spawner, holds *hold.Manager, notifier notify.Notifier, auditor *audit.Log, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &Manager{
		proposals: make(map[string]*store.Proposal),
		byHold:    make(map[string]string),
		store:     st,
		spawner:   spawner,
		holds:     holds,
		notifier:  notifier,
		auditor:   auditor,
		cfg:       cfg,
		logger:    logger.With("component", "proposal.Manager"),
		now:       time.Now,
	}
}

// Load rehydrates pending proposals from the store. Call once at
// startup.
func (m *Manager) Load() error {
	if m.store == nil {
		return nil
	}
	pending, err := m.store.ListProposals(store.ProposalFilter{State: StatePending})
	if err != nil {
		return fmt.Errorf("failed to load proposals: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pending {
		m.proposals[p.ID] = p
		if p.HoldID != "" {
			m.byHold[p.HoldID] = p.ID
		}
	}
	m.logger.Info("proposals loaded", "pending", len(pending))
	return nil
}

// Generate synthesizes a proposal for the data source and routes it by
// risk. Auto-approved proposals spawn immediately; the rest wait behind
// a hold.
func (m *Manager) Generate(just store.Justification, source *store.DataSource) (*store.Proposal, error) {
	if source == nil {
		return nil, fmt.Errorf("data source is nil")
	}
	tpl, ok := templates[source.Type]
	if !ok {
		return nil, fmt.Errorf("no template for source type %q", source.Type)
	}

	now := m.now()
	def := tpl.definition(source, now)
	risk := assessRisk(&def, source)
	def.RiskLevel = riskLevel(risk.Score)

	p := &store.Proposal{
		ID:            "prop_" + ulid.Make().String(),
		Definition:    def,
		Justification: just,
		Risk:          risk,
		Estimate:      tpl.estimate,
		DataAccess:    []string{source.ID},
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.cfg.DefaultTTL),
	}

	if m.store != nil {
		if err := m.store.UpsertDataSource(source); err != nil {
			m.logger.Error("failed to persist data source", "source_id", source.ID, "error", err)
		}
	}

	if risk.ApprovalLevel == ApprovalAuto {
		p.State = StateApproved
		p.Decision = &store.ProposalDecision{
			DecidedBy: "system",
			Reason:    fmt.Sprintf("auto-approved: risk score %.2f below review threshold", risk.Score),
			DecidedAt: now,
		}
		m.register(p)
		m.audit(audit.EventProposalCreated, p, "")
		m.audit(audit.EventProposalApproved, p, "system")
		m.spawn(p)
		m.logger.Info("proposal auto-approved",
			"proposal_id", p.ID,
			"agent_id", def.ID,
			"risk_score", risk.Score,
		)
		return p, nil
	}

	p.State = StatePending
	if m.holds != nil {
		expires := p.ExpiresAt
		h := m.holds.Create(hold.CreateInput{
			AgentID:  def.ID,
			Frame:    def.Frame,
			Tool:     "spawn_agent",
			Reason:   fmt.Sprintf("proposal %s requires %s approval (risk %.2f)", p.ID, risk.ApprovalLevel, risk.Score),
			Severity: holdSeverity(risk.Score),
			Metadata: map[string]interface{}{"proposal_id": p.ID, "source_id": source.ID},
			ExpiresAt: &expires,
		})
		p.HoldID = h.ID
	}
	m.register(p)
	m.audit(audit.EventProposalCreated, p, "")
	m.notifier.Notify(notify.Notification{
		Type:     "proposal.pending",
		Severity: holdSeverity(risk.Score),
		Title:    fmt.Sprintf("Agent proposal awaiting %s approval", risk.ApprovalLevel),
		Message:  just.Reason,
		AgentID:  def.ID,
		RefID:    p.ID,
	})
	m.logger.Info("proposal pending",
		"proposal_id", p.ID,
		"agent_id", def.ID,
		"risk_score", risk.Score,
		"approval_level", risk.ApprovalLevel,
		"hold_id", p.HoldID,
	)
	return p, nil
}

// Approve applies optional modifications, marks the proposal approved,
// resolves the linked hold, and spawns the instance.
func (m *Manager) Approve(proposalID, decider, reason string, mods *Modifications) (*store.Proposal, error) {
	m.mu.Lock()
	p, ok := m.proposals[proposalID]
	if !ok || p.State != StatePending {
		m.mu.Unlock()
		return nil, fmt.Errorf("proposal %s is not pending", proposalID)
	}
	if mods != nil {
		if mods.Frame != "" {
			p.Definition.Frame = mods.Frame
		}
		if mods.Namespace != "" {
			p.Definition.Namespace = mods.Namespace
		}
		if mods.ResourceLimits != nil {
			p.Definition.ResourceLimits = *mods.ResourceLimits
		}
	}
	p.State = StateApproved
	p.Decision = &store.ProposalDecision{
		DecidedBy: decider,
		Reason:    reason,
		DecidedAt: m.now(),
		Modified:  mods != nil,
	}
	holdID := p.HoldID
	m.mu.Unlock()

	if m.holds != nil && holdID != "" {
		m.holds.Approve(holdID, decider, reason, nil)
	}
	m.persist(p)
	m.audit(audit.EventProposalApproved, p, decider)
	m.spawn(p)
	m.logger.Info("proposal approved", "proposal_id", proposalID, "decided_by", decider)
	return p, nil
}

// Reject marks the proposal rejected and rejects the linked hold.
func (m *Manager) Reject(proposalID, decider, reason string) (*store.Proposal, error) {
	m.mu.Lock()
	p, ok := m.proposals[proposalID]
	if !ok || p.State != StatePending {
		m.mu.Unlock()
		return nil, fmt.Errorf("proposal %s is not pending", proposalID)
	}
	p.State = StateRejected
	p.Decision = &store.ProposalDecision{
		DecidedBy: decider,
		Reason:    reason,
		DecidedAt: m.now(),
	}
	holdID := p.HoldID
	m.mu.Unlock()

	if m.holds != nil && holdID != "" {
		m.holds.Reject(holdID, decider, reason)
	}
	m.persist(p)
	m.audit(audit.EventProposalRejected, p, decider)
	m.logger.Info("proposal rejected", "proposal_id", proposalID, "decided_by", decider)
	return p, nil
}

// ExpireStale moves pending proposals past their expiry to expired.
// Returns the number expired.
func (m *Manager) ExpireStale(now time.Time) int {
	m.mu.Lock()
	var stale []*store.Proposal
	for _, p := range m.proposals {
		if p.State == StatePending && p.ExpiresAt.Before(now) {
			p.State = StateExpired
			p.Decision = &store.ProposalDecision{
				DecidedBy: "sweeper",
				Reason:    "proposal expired",
				DecidedAt: now,
			}
			stale = append(stale, p)
		}
	}
	m.mu.Unlock()

	for _, p := range stale {
		m.persist(p)
		m.audit(audit.EventProposalExpired, p, "")
		m.logger.Info("proposal expired", "proposal_id", p.ID, "agent_id", p.Definition.ID)
	}
	return len(stale)
}

// Get returns a proposal, falling back to the store.
func (m *Manager) Get(proposalID string) *store.Proposal {
	m.mu.Lock()
	p, ok := m.proposals[proposalID]
	m.mu.Unlock()
	if ok {
		return p
	}
	if m.store != nil {
		if p, err := m.store.GetProposal(proposalID); err == nil {
			m.mu.Lock()
			m.proposals[p.ID] = p
			if p.HoldID != "" {
				m.byHold[p.HoldID] = p.ID
			}
			m.mu.Unlock()
			return p
		}
	}
	return nil
}

// ByHold resolves the proposal linked to a hold, or nil.
func (m *Manager) ByHold(holdID string) *store.Proposal {
	m.mu.Lock()
	id, ok := m.byHold[holdID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.Get(id)
}

// List returns proposals in the given state; empty state lists all.
func (m *Manager) List(state string) []*store.Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Proposal
	for _, p := range m.proposals {
		if state != "" && p.State != state {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (m *Manager) register(p *store.Proposal) {
	m.mu.Lock()
	m.proposals[p.ID] = p
	if p.HoldID != "" {
		m.byHold[p.HoldID] = p.ID
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.InsertProposal(p); err != nil {
			m.logger.Error("failed to persist proposal", "proposal_id", p.ID, "error", err)
		}
	}
}

func (m *Manager) persist(p *store.Proposal) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateProposal(p); err != nil {
		m.logger.Error("failed to persist proposal update", "proposal_id", p.ID, "error", err)
	}
}

func (m *Manager) spawn(p *store.Proposal) {
	if m.spawner == nil {
		return
	}
	def := p.Definition
	if err := m.spawner.RegisterDefinition(&def); err != nil && !strings.Contains(err.Error(), "already registered") {
		m.logger.Error("failed to register definition", "agent_id", def.ID, "error", err)
		return
	}
	inst, err := m.spawner.Spawn(registry.SpawnInput{DefinitionID: def.ID})
	if err != nil {
		m.logger.Error("failed to spawn approved proposal", "proposal_id", p.ID, "error", err)
		return
	}
	m.logger.Info("proposal spawned", "proposal_id", p.ID, "instance_id", inst.ID)
}

func (m *Manager) audit(event string, p *store.Proposal, operator string) {
	if m.auditor == nil {
		return
	}
	m.auditor.Record(event, audit.Fields{
		AgentID:    p.Definition.ID,
		ProposalID: p.ID,
		OperatorID: operator,
		Details: map[string]interface{}{
			"risk_score":     p.Risk.Score,
			"approval_level": p.Risk.ApprovalLevel,
			"state":          p.State,
		},
	})
}

// holdSeverity maps a risk score onto a hold severity grade.
func holdSeverity(score float64) string {
	switch {
	case score >= 0.8:
		return hold.SeverityCritical
	case score >= 0.6:
		return hold.SeverityHigh
	case score >= 0.3:
		return hold.SeverityMedium
	default:
		return hold.SeverityLow
	}
}

func riskLevel(score float64) string {
	switch {
	case score >= 0.6:
		return "high"
	case score >= 0.3:
		return "medium"
	default:
		return "low"
	}
}
