// Package registry manages agent definitions and their runtime
// instances. Definitions are immutable and versioned; instances move
// through a lifecycle state machine and carry a resolved scope plus
// resource quotas. Campaigns group instances and hold a circuit breaker
// that stops spawning after repeated instance failures.
package registry

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/audit"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

// Instance lifecycle statuses.
const (
	StatusProposed        = "proposed"
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusSpawning        = "spawning"
	StatusRunning         = "running"
	StatusPaused          = "paused"
	StatusReporting       = "reporting"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
	StatusAbandoned       = "abandoned"
	StatusArchived        = "archived"
)

// Campaign breaker states.
const (
	CampaignClosed   = "closed"
	CampaignOpen     = "open"
	CampaignHalfOpen = "half-open"
)

// lifecycle is the transition table. Transitions are monotonic except
// for the running/paused pair; completion statuses only archive.
var lifecycle = map[string][]string{
	StatusProposed:        {StatusPendingApproval, StatusAbandoned},
	StatusPendingApproval: {StatusApproved, StatusAbandoned},
	StatusApproved:        {StatusSpawning, StatusAbandoned},
	StatusSpawning:        {StatusRunning, StatusFailed},
	StatusRunning:         {StatusPaused, StatusReporting, StatusCompleted, StatusFailed, StatusAbandoned},
	StatusPaused:          {StatusRunning, StatusCompleted, StatusFailed, StatusAbandoned},
	StatusReporting:       {StatusCompleted, StatusFailed},
	StatusCompleted:       {StatusArchived},
	StatusFailed:          {StatusArchived},
	StatusAbandoned:       {StatusArchived},
	StatusArchived:        nil,
}

// terminal statuses feed the campaign breaker.
func isTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusAbandoned:
		return true
	}
	return false
}

// Config tunes the registry.
type Config struct {
	DefaultMaxDelegationDepth int // applied when neither parent nor definition constrains it
	CampaignFailureCeiling    int // consecutive failed instances that open a campaign breaker
}

// DefaultConfig returns the standard registry configuration.
func DefaultConfig() Config {
	return Config{
		DefaultMaxDelegationDepth: 3,
		CampaignFailureCeiling:    3,
	}
}

// Store is the persistence subset the registry needs. May be nil.
type Store interface {
	UpsertDefinition(d *store.AgentDefinition) error
	GetDefinition(id string) (*store.AgentDefinition, error)
	ListDefinitions() ([]*store.AgentDefinition, error)
	InsertInstance(i *store.AgentInstance) error
	GetInstance(id string) (*store.AgentInstance, error)
	ListInstances(filter store.InstanceFilter) ([]*store.AgentInstance, error)
	UpdateInstanceStatus(id, status string) error
	UpdateInstanceUsage(id string, usage store.ResourceUsage) error
	UpsertCampaign(c *store.Campaign) error
	GetCampaign(id string) (*store.Campaign, error)
}

// instanceState pairs an instance with its own lock, its limits, and
// the rolling window used for rate limiting. Quota updates take only
// this lock, never the registry-wide one.
type instanceState struct {
	mu      sync.Mutex
	inst    *store.AgentInstance
	limits  store.ResourceLimits
	opTimes []time.Time
}

// SpawnInput describes an instance to create.
type SpawnInput struct {
	DefinitionID     string
	CampaignID       string
	ParentInstanceID string
	Frame            string // overrides the definition's frame when set
}

// Registry is the agent definition and instance catalogue.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*store.AgentDefinition
	instances   map[string]*instanceState
	campaigns   map[string]*store.Campaign

	store   Store
	auditor *audit.Log
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Registry. Store and auditor may be nil.
func New(st Store, auditor *audit.Log, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultMaxDelegationDepth <= 0 {
		cfg.DefaultMaxDelegationDepth = DefaultConfig().DefaultMaxDelegationDepth
	}
	if cfg.CampaignFailureCeiling <= 0 {
		cfg.CampaignFailureCeiling = DefaultConfig().CampaignFailureCeiling
	}
	return &Registry{
		definitions: make(map[string]*store.AgentDefinition),
		instances:   make(map[string]*instanceState),
		campaigns:   make(map[string]*store.Campaign),
		store:       st,
		auditor:     auditor,
		cfg:         cfg,
		logger:      logger.With("component", "registry.Registry"),
		now:         time.Now,
	}
}

// Load rehydrates definitions and non-archived instances from the
// store. Call once at startup.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	defs, err := r.store.ListDefinitions()
	if err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}
	insts, err := r.store.ListInstances(store.InstanceFilter{})
	if err != nil {
		return fmt.Errorf("failed to load instances: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range defs {
		r.definitions[d.ID] = d
	}
	for _, i := range insts {
		if i.Status == StatusArchived {
			continue
		}
		limits := store.ResourceLimits{}
		if d, ok := r.definitions[i.DefinitionID]; ok {
			limits = d.ResourceLimits
		}
		r.instances[i.ID] = &instanceState{inst: i, limits: limits}
	}
	r.logger.Info("registry loaded", "definitions", len(defs), "instances", len(r.instances))
	return nil
}

// RegisterDefinition catalogues a definition. Definitions are immutable:
// re-registering an id with the same version fails; a new version of the
// same id is a new definition.
func (r *Registry) RegisterDefinition(def *store.AgentDefinition) error {
	if def == nil {
		return fmt.Errorf("definition is nil")
	}
	if !strings.HasPrefix(def.ID, "agent.") {
		return fmt.Errorf("definition id %q must be prefixed with agent.", def.ID)
	}
	if def.Version == "" {
		return fmt.Errorf("definition %s has no version", def.ID)
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = r.now()
	}

	r.mu.Lock()
	if existing, ok := r.definitions[def.ID]; ok && existing.Version == def.Version {
		r.mu.Unlock()
		return fmt.Errorf("definition %s version %s is already registered", def.ID, def.Version)
	}
	r.definitions[def.ID] = def
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpsertDefinition(def); err != nil {
			return fmt.Errorf("failed to persist definition %s: %w", def.ID, err)
		}
	}
	r.logger.Info("definition registered", "agent_id", def.ID, "version", def.Version, "category", def.Category)
	return nil
}

// Definition returns a registered definition or nil.
func (r *Registry) Definition(id string) *store.AgentDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.definitions[id]
}

// Definitions lists all registered definitions.
func (r *Registry) Definitions() []*store.AgentDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*store.AgentDefinition, 0, len(r.definitions))
	for _, d := range r.definitions {
		out = append(out, d)
	}
	return out
}

// Spawn creates an instance from a definition. The campaign breaker and
// the delegation depth are checked before anything is allocated; the new
// instance starts in the spawning status.
func (r *Registry) Spawn(in SpawnInput) (*store.AgentInstance, error) {
	r.mu.Lock()
	def, ok := r.definitions[in.DefinitionID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unknown definition %s", in.DefinitionID)
	}

	if in.CampaignID != "" {
		camp := r.campaignLocked(in.CampaignID)
		if camp.BreakerState == CampaignOpen {
			r.mu.Unlock()
			return nil, fmt.Errorf("campaign %s breaker is open", in.CampaignID)
		}
	}

	var parent *store.AgentInstance
	if in.ParentInstanceID != "" {
		ps, ok := r.instances[in.ParentInstanceID]
		if !ok {
			r.mu.Unlock()
			return nil, fmt.Errorf("unknown parent instance %s", in.ParentInstanceID)
		}
		parent = ps.inst
		depth := len(parent.DelegationChain) + 1
		if max := parent.Scope.MaxDelegationDepth; max > 0 && depth >= max {
			r.mu.Unlock()
			return nil, fmt.Errorf("delegation depth limit exceeded (%d/%d)", depth, max)
		}
	}

	now := r.now()
	frame := in.Frame
	if frame == "" {
		frame = def.Frame
	}
	inst := &store.AgentInstance{
		ID:           "inst_" + ulid.Make().String(),
		DefinitionID: def.ID,
		CampaignID:   in.CampaignID,
		Status:       StatusSpawning,
		Scope:        buildScope(def, parent, r.cfg.DefaultMaxDelegationDepth),
		Frame:        frame,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if parent != nil {
		inst.ParentInstanceID = parent.ID
		inst.DelegationChain = append(append([]string{}, parent.DelegationChain...), parent.ID)
	}
	r.instances[inst.ID] = &instanceState{inst: inst, limits: def.ResourceLimits}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.InsertInstance(inst); err != nil {
			return nil, fmt.Errorf("failed to persist instance %s: %w", inst.ID, err)
		}
	}
	if r.auditor != nil {
		r.auditor.Record(audit.EventInstanceSpawned, audit.Fields{
			AgentID:    def.ID,
			InstanceID: inst.ID,
			CampaignID: in.CampaignID,
			Details:    map[string]interface{}{"parent_instance_id": in.ParentInstanceID},
		})
	}
	r.logger.Info("instance spawned",
		"instance_id", inst.ID,
		"agent_id", def.ID,
		"campaign_id", in.CampaignID,
		"depth", len(inst.DelegationChain),
	)
	return inst, nil
}

// Transition moves an instance to a new lifecycle status. Invalid
// transitions fail; reaching a terminal status feeds the campaign
// breaker.
func (r *Registry) Transition(instanceID, to string) error {
	if _, ok := lifecycle[to]; !ok {
		return fmt.Errorf("unknown status %q", to)
	}

	r.mu.Lock()
	st, ok := r.instances[instanceID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown instance %s", instanceID)
	}
	from := st.inst.Status
	if !transitionAllowed(from, to) {
		r.mu.Unlock()
		return fmt.Errorf("invalid transition %s → %s for instance %s", from, to, instanceID)
	}
	st.inst.Status = to
	st.inst.UpdatedAt = r.now()
	campaignID := st.inst.CampaignID
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpdateInstanceStatus(instanceID, to); err != nil {
			return fmt.Errorf("failed to persist status of %s: %w", instanceID, err)
		}
	}
	if r.auditor != nil {
		r.auditor.Record(audit.EventInstanceStatus, audit.Fields{
			InstanceID: instanceID,
			CampaignID: campaignID,
			Details:    map[string]interface{}{"from": from, "to": to},
		})
	}
	r.logger.Info("instance status changed", "instance_id", instanceID, "from", from, "to", to)

	if campaignID != "" && isTerminal(to) {
		r.recordCampaignOutcome(campaignID, to == StatusCompleted)
	}
	return nil
}

func transitionAllowed(from, to string) bool {
	for _, next := range lifecycle[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Instance returns a copy of the instance or nil.
func (r *Registry) Instance(id string) *store.AgentInstance {
	r.mu.RLock()
	st, ok := r.instances[id]
	r.mu.RUnlock()
	if !ok {
		if r.store != nil {
			if inst, err := r.store.GetInstance(id); err == nil {
				return inst
			}
		}
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := *st.inst
	return &cp
}

// Instances lists instances matching the filter.
func (r *Registry) Instances(filter store.InstanceFilter) []*store.AgentInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*store.AgentInstance
	for _, st := range r.instances {
		i := st.inst
		if filter.DefinitionID != "" && i.DefinitionID != filter.DefinitionID {
			continue
		}
		if filter.CampaignID != "" && i.CampaignID != filter.CampaignID {
			continue
		}
		if filter.Status != "" && i.Status != filter.Status {
			continue
		}
		cp := *i
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// EnsureCampaign creates the campaign if it does not exist and returns
// its current state.
func (r *Registry) EnsureCampaign(id, name string) *store.Campaign {
	r.mu.Lock()
	camp := r.campaignLocked(id)
	if camp.Name == "" {
		camp.Name = name
	}
	cp := *camp
	r.mu.Unlock()

	if r.store != nil {
		_ = r.store.UpsertCampaign(&cp)
	}
	return &cp
}

// Campaign returns a copy of the campaign or nil.
func (r *Registry) Campaign(id string) *store.Campaign {
	r.mu.RLock()
	defer r.mu.RUnlock()
	camp, ok := r.campaigns[id]
	if !ok {
		return nil
	}
	cp := *camp
	return &cp
}

// HalfOpenCampaign moves an open campaign breaker to half-open so the
// next instance outcome decides whether it closes. Operator action.
func (r *Registry) HalfOpenCampaign(id string) error {
	r.mu.Lock()
	camp, ok := r.campaigns[id]
	if !ok || camp.BreakerState != CampaignOpen {
		r.mu.Unlock()
		return fmt.Errorf("campaign %s breaker is not open", id)
	}
	camp.BreakerState = CampaignHalfOpen
	cp := *camp
	r.mu.Unlock()

	r.persistCampaign(&cp)
	r.logger.Info("campaign breaker half-open", "campaign_id", id)
	return nil
}

// campaignLocked returns the campaign record, creating it on first use.
// Caller holds r.mu.
func (r *Registry) campaignLocked(id string) *store.Campaign {
	camp, ok := r.campaigns[id]
	if !ok {
		camp = &store.Campaign{
			ID:           id,
			Status:       "active",
			BreakerState: CampaignClosed,
			CreatedAt:    r.now(),
		}
		r.campaigns[id] = camp
	}
	return camp
}

func (r *Registry) recordCampaignOutcome(campaignID string, success bool) {
	r.mu.Lock()
	camp := r.campaignLocked(campaignID)
	var tripped, closed bool
	if success {
		camp.ConsecutiveFailures = 0
		if camp.BreakerState == CampaignHalfOpen {
			camp.BreakerState = CampaignClosed
			closed = true
		}
	} else {
		camp.ConsecutiveFailures++
		if camp.BreakerState == CampaignHalfOpen ||
			(camp.BreakerState == CampaignClosed && camp.ConsecutiveFailures >= r.cfg.CampaignFailureCeiling) {
			camp.BreakerState = CampaignOpen
			tripped = true
		}
	}
	cp := *camp
	r.mu.Unlock()

	r.persistCampaign(&cp)
	if tripped {
		if r.auditor != nil {
			r.auditor.Record(audit.EventCampaignBreaker, audit.Fields{
				CampaignID: campaignID,
				Details:    map[string]interface{}{"state": CampaignOpen, "consecutive_failures": cp.ConsecutiveFailures},
			})
		}
		r.logger.Warn("campaign breaker opened",
			"campaign_id", campaignID,
			"consecutive_failures", cp.ConsecutiveFailures,
		)
	}
	if closed {
		if r.auditor != nil {
			r.auditor.Record(audit.EventCampaignBreaker, audit.Fields{
				CampaignID: campaignID,
				Details:    map[string]interface{}{"state": CampaignClosed},
			})
		}
		r.logger.Info("campaign breaker closed", "campaign_id", campaignID)
	}
}

func (r *Registry) persistCampaign(c *store.Campaign) {
	if r.store == nil {
		return
	}
	if err := r.store.UpsertCampaign(c); err != nil {
		r.logger.Error("failed to persist campaign", "campaign_id", c.ID, "error", err)
	}
}
