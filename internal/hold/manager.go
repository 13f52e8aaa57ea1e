// Package hold manages the human-in-the-loop approval queue. A hold is
// first-class data: the gatekeeper returns it to the transport instead
// of blocking, and an operator later approves or rejects it. Terminal
// transitions happen at most once per hold — approve and reject race by
// compare-and-set on the pending map.
package hold

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/audit"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/notify"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

// Hold states. Pending is the only non-terminal state.
const (
	StatePending  = "pending"
	StateApproved = "approved"
	StateRejected = "rejected"
	StateExpired  = "expired"
)

// Severity grades how urgently a hold needs attention.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Store is the persistence subset the manager needs. May be nil for
// in-memory operation.
type Store interface {
	InsertHold(h *store.Hold) error
	ResolveHold(h *store.Hold) error
	ListHolds(filter store.HoldFilter) ([]*store.Hold, error)
	GetHold(id string) (*store.Hold, error)
}

// Config tunes hold behavior.
type Config struct {
	DefaultTimeout time.Duration // applied when a request carries no expiry
	DedupeWindow   time.Duration // identical requests inside this window share a hold
}

// DefaultConfig returns the standard hold configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 24 * time.Hour,
		DedupeWindow:   10 * time.Second,
	}
}

// CreateInput describes a hold to be opened.
type CreateInput struct {
	AgentID   string
	Frame     string
	Tool      string
	Arguments map[string]interface{}
	Reason    string
	Severity  string
	Metadata  map[string]interface{}
	ExpiresAt *time.Time // nil applies the default timeout
}

// Overrides optionally replace the frame or arguments on approval. The
// gatekeeper re-validates a modified frame before the transport acts on
// it.
type Overrides struct {
	Frame     string
	Arguments map[string]interface{}
}

// Decision records one terminal transition. Created exactly once per
// hold.
type Decision struct {
	HoldID            string                 `json:"hold_id"`
	State             string                 `json:"state"`
	DecidedBy         string                 `json:"decided_by"`
	Reason            string                 `json:"reason"`
	DecidedAt         time.Time              `json:"decided_at"`
	ModifiedFrame     string                 `json:"modified_frame,omitempty"`
	ModifiedArguments map[string]interface{} `json:"modified_arguments,omitempty"`
}

// Stats summarizes the queue.
type Stats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Expired  int `json:"expired"`
}

type fingerprintEntry struct {
	holdID string
	at     time.Time
}

// Manager owns the pending map and the append-only decision history.
type Manager struct {
	mu           sync.Mutex
	pending      map[string]*store.Hold
	resolved     map[string]*store.Hold
	byAgent      map[string]map[string]struct{}
	history      []*Decision
	fingerprints map[uint64]fingerprintEntry

	store    Store
	notifier notify.Notifier
	auditor  *audit.Log
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a hold Manager. Store, notifier and auditor may be
// nil; absent collaborators degrade to in-memory operation.
func NewManager(st Store, notifier notify.Notifier, auditor *audit.Log, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultConfig().DedupeWindow
	}
	return &Manager{
		pending:      make(map[string]*store.Hold),
		resolved:     make(map[string]*store.Hold),
		byAgent:      make(map[string]map[string]struct{}),
		fingerprints: make(map[uint64]fingerprintEntry),
		store:        st,
		notifier:     notifier,
		auditor:      auditor,
		cfg:          cfg,
		logger:       logger.With("component", "hold.Manager"),
		now:          time.Now,
	}
}

// Load rehydrates pending holds from the store, so holds created by an
// earlier process can be resolved by this one.
func (m *Manager) Load() error {
	if m.store == nil {
		return nil
	}
	holds, err := m.store.ListHolds(store.HoldFilter{State: StatePending})
	if err != nil {
		return fmt.Errorf("failed to load pending holds: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range holds {
		m.pending[h.ID] = h
		m.indexAgent(h.AgentID, h.ID)
	}
	m.logger.Info("pending holds loaded", "count", len(holds))
	return nil
}

// Create opens a new hold, or returns the existing pending hold when an
// identical request arrived within the dedupe window.
func (m *Manager) Create(in CreateInput) *store.Hold {
	now := m.now()
	fp := fingerprint(in.AgentID, in.Frame, in.Tool, in.Arguments)

	m.mu.Lock()
	if entry, ok := m.fingerprints[fp]; ok && now.Sub(entry.at) < m.cfg.DedupeWindow {
		if existing, stillPending := m.pending[entry.holdID]; stillPending {
			m.mu.Unlock()
			return existing
		}
	}

	severity := in.Severity
	if severity == "" {
		severity = SeverityMedium
	}
	expiresAt := in.ExpiresAt
	if expiresAt == nil {
		t := now.Add(m.cfg.DefaultTimeout)
		expiresAt = &t
	}

	h := &store.Hold{
		ID:        "hold_" + ulid.Make().String(),
		AgentID:   in.AgentID,
		Frame:     in.Frame,
		Tool:      in.Tool,
		Arguments: in.Arguments,
		Reason:    in.Reason,
		Severity:  severity,
		Metadata:  in.Metadata,
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	m.pending[h.ID] = h
	m.indexAgent(h.AgentID, h.ID)
	m.fingerprints[fp] = fingerprintEntry{holdID: h.ID, at: now}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.InsertHold(h); err != nil {
			m.logger.Error("failed to persist hold", "hold_id", h.ID, "error", err)
		}
	}
	if m.auditor != nil {
		m.auditor.Record(audit.EventHoldCreated, audit.Fields{
			AgentID: h.AgentID,
			Details: map[string]interface{}{"hold_id": h.ID, "severity": h.Severity, "tool": h.Tool},
		})
	}
	m.notifier.Notify(notify.Notification{
		Type:     "hold.created",
		Severity: h.Severity,
		Title:    fmt.Sprintf("Approval needed for %s", h.AgentID),
		Message:  h.Reason,
		AgentID:  h.AgentID,
		RefID:    h.ID,
	})

	m.logger.Info("hold created",
		"hold_id", h.ID,
		"agent_id", h.AgentID,
		"severity", h.Severity,
		"tool", h.Tool,
	)
	return h
}

// Approve moves a pending hold to approved. Returns nil when the hold
// is unknown or already terminal — duplicate calls have no side effect.
func (m *Manager) Approve(holdID, approver, reason string, overrides *Overrides) *Decision {
	return m.resolve(holdID, StateApproved, approver, reason, overrides, audit.EventHoldApproved)
}

// Reject moves a pending hold to rejected. Same contract as Approve.
func (m *Manager) Reject(holdID, decider, reason string) *Decision {
	return m.resolve(holdID, StateRejected, decider, reason, nil, audit.EventHoldRejected)
}

func (m *Manager) resolve(holdID, state, decider, reason string, overrides *Overrides, event string) *Decision {
	now := m.now()

	m.mu.Lock()
	h, ok := m.pending[holdID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.pending, holdID)

	h.State = state
	h.DecidedBy = decider
	h.DecisionReason = reason
	h.DecidedAt = &now
	if overrides != nil {
		h.ModifiedFrame = overrides.Frame
		h.ModifiedArguments = overrides.Arguments
	}
	m.resolved[holdID] = h

	decision := &Decision{
		HoldID:    holdID,
		State:     state,
		DecidedBy: decider,
		Reason:    reason,
		DecidedAt: now,
	}
	if overrides != nil {
		decision.ModifiedFrame = overrides.Frame
		decision.ModifiedArguments = overrides.Arguments
	}
	m.history = append(m.history, decision)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.ResolveHold(h); err != nil {
			m.logger.Error("failed to persist hold resolution", "hold_id", holdID, "error", err)
		}
	}
	if m.auditor != nil {
		m.auditor.Record(event, audit.Fields{
			AgentID:    h.AgentID,
			OperatorID: decider,
			Details:    map[string]interface{}{"hold_id": holdID, "reason": reason},
		})
	}

	m.logger.Info("hold resolved",
		"hold_id", holdID,
		"state", state,
		"decided_by", decider,
	)
	return decision
}

// Sweep expires every pending hold whose deadline has passed. Idempotent:
// a second sweep with the same clock finds nothing to do. Returns the
// number of holds expired.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var expired []*store.Hold
	for id, h := range m.pending {
		if h.ExpiresAt != nil && h.ExpiresAt.Before(now) {
			delete(m.pending, id)
			h.State = StateExpired
			t := now
			h.DecidedAt = &t
			h.DecidedBy = "sweeper"
			m.resolved[id] = h
			m.history = append(m.history, &Decision{
				HoldID:    id,
				State:     StateExpired,
				DecidedBy: "sweeper",
				Reason:    "hold expired",
				DecidedAt: now,
			})
			expired = append(expired, h)
		}
	}
	m.mu.Unlock()

	for _, h := range expired {
		if m.store != nil {
			if err := m.store.ResolveHold(h); err != nil {
				m.logger.Error("failed to persist hold expiry", "hold_id", h.ID, "error", err)
			}
		}
		if m.auditor != nil {
			m.auditor.Record(audit.EventHoldExpired, audit.Fields{
				AgentID: h.AgentID,
				Details: map[string]interface{}{"hold_id": h.ID},
			})
		}
		m.logger.Info("hold expired", "hold_id", h.ID, "agent_id", h.AgentID)
	}
	return len(expired)
}

// Get returns a hold by id, falling back to the store for holds resolved
// before this process started.
func (m *Manager) Get(holdID string) *store.Hold {
	m.mu.Lock()
	if h, ok := m.pending[holdID]; ok {
		m.mu.Unlock()
		return h
	}
	if h, ok := m.resolved[holdID]; ok {
		m.mu.Unlock()
		return h
	}
	m.mu.Unlock()

	if m.store != nil {
		if h, err := m.store.GetHold(holdID); err == nil {
			return h
		}
	}
	return nil
}

// ListPending returns pending holds, optionally filtered by agent, in
// creation order.
func (m *Manager) ListPending(agentID string) []*store.Hold {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.Hold
	for _, h := range m.pending {
		if agentID != "" && h.AgentID != agentID {
			continue
		}
		out = append(out, h)
	}
	sortHolds(out)
	return out
}

// Stats counts holds by state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{Pending: len(m.pending)}
	for _, h := range m.resolved {
		switch h.State {
		case StateApproved:
			stats.Approved++
		case StateRejected:
			stats.Rejected++
		case StateExpired:
			stats.Expired++
		}
	}
	return stats
}

func (m *Manager) indexAgent(agentID, holdID string) {
	ids, ok := m.byAgent[agentID]
	if !ok {
		ids = make(map[string]struct{})
		m.byAgent[agentID] = ids
	}
	ids[holdID] = struct{}{}
}

// fingerprint hashes the identifying fields of a request so that
// identical intercepts within the dedupe window share one hold.
func fingerprint(agentID, frameStr, tool string, args map[string]interface{}) uint64 {
	h := fnv.New64a()
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write([]byte(frameStr))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	if len(args) > 0 {
		if body, err := json.Marshal(args); err == nil {
			h.Write(body)
		}
	}
	return h.Sum64()
}

func sortHolds(holds []*store.Hold) {
	for i := 1; i < len(holds); i++ {
		for j := i; j > 0 && holds[j].CreatedAt.Before(holds[j-1].CreatedAt); j-- {
			holds[j], holds[j-1] = holds[j-1], holds[j]
		}
	}
}
