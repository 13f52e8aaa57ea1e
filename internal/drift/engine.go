// Package drift tracks per-agent behavioral drift against a baseline
// frame and runs the per-agent circuit breaker. Each agent's state sits
// behind its own mutex; the engine never blocks beyond that lock and
// breaker transitions are computed lazily from clock readings — no timer
// goroutine exists.
package drift

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/audit"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/frame"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/ontology"
)

// BreakerState is the circuit breaker position for one agent.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Weights distributes the drift score across its four contributions.
// They must sum to 1.
type Weights struct {
	ModeDeviation     float64 `yaml:"mode_deviation" json:"mode_deviation"`
	DomainChange      float64 `yaml:"domain_change" json:"domain_change"`
	ConstraintRemoval float64 `yaml:"constraint_removal" json:"constraint_removal"`
	FailureRate       float64 `yaml:"failure_rate" json:"failure_rate"`
}

// Config holds drift engine tuning.
type Config struct {
	WarningThreshold          float64       `yaml:"warning_threshold" json:"warning_threshold"`
	CriticalThreshold         float64       `yaml:"critical_threshold" json:"critical_threshold"`
	WindowSize                int           `yaml:"window_size" json:"window_size"`
	Cooldown                  time.Duration `yaml:"cooldown" json:"cooldown"`
	ConsecutiveFailureCeiling int           `yaml:"consecutive_failure_ceiling" json:"consecutive_failure_ceiling"`
	Weights                   Weights       `yaml:"weights" json:"weights"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:          0.15,
		CriticalThreshold:         0.30,
		WindowSize:                100,
		Cooldown:                  30 * time.Second,
		ConsecutiveFailureCeiling: 3,
		Weights: Weights{
			ModeDeviation:     0.3,
			DomainChange:      0.2,
			ConstraintRemoval: 0.3,
			FailureRate:       0.2,
		},
	}
}

// operation is one record in an agent's sliding window.
type operation struct {
	frame   *frame.ParsedFrame
	action  string
	success bool
	at      time.Time
}

// agentState is everything the engine tracks for one agent. Guarded by
// its own mutex so agents never contend with each other.
type agentState struct {
	mu sync.Mutex

	window []operation // ring buffer, fixed capacity
	head   int
	count  int

	baseline            *frame.ParsedFrame
	score               float64
	breaker             BreakerState
	consecutiveFailures int
	lastTransition      time.Time
	warned              bool
}

// Alert reports a threshold crossing detected on a RecordOperation call.
type Alert struct {
	AgentID   string    `json:"agent_id"`
	Level     string    `json:"level"` // warning, critical
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Snapshot is a read-only view of an agent's drift state.
type Snapshot struct {
	AgentID             string       `json:"agent_id"`
	DriftScore          float64      `json:"drift_score"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	WindowLength        int          `json:"window_length"`
	Baseline            string       `json:"baseline,omitempty"`
	LastTransition      time.Time    `json:"last_transition"`
}

// Stats aggregates drift state across all tracked agents.
type Stats struct {
	Agents       int     `json:"agents"`
	OpenBreakers int     `json:"open_breakers"`
	AverageDrift float64 `json:"average_drift"`
}

// Engine is the per-agent drift tracker and circuit breaker.
type Engine struct {
	mu     sync.RWMutex // guards the agents map only
	agents map[string]*agentState

	reg     *ontology.Registry
	cfg     Config
	auditor *audit.Log
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a drift Engine. The audit log may be nil.
func NewEngine(reg *ontology.Registry, cfg Config, auditor *audit.Log, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	return &Engine{
		agents:  make(map[string]*agentState),
		reg:     reg,
		cfg:     cfg,
		auditor: auditor,
		logger:  logger.With("component", "drift.Engine"),
		now:     time.Now,
	}
}

func (e *Engine) state(agentID string) *agentState {
	e.mu.RLock()
	st, ok := e.agents[agentID]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.agents[agentID]; ok {
		return st
	}
	st = &agentState{
		window:  make([]operation, e.cfg.WindowSize),
		breaker: BreakerClosed,
	}
	e.agents[agentID] = st
	return st
}

// RecordOperation appends an operation to the agent's window, recomputes
// the drift score and advances the breaker. It returns an alert when a
// threshold was crossed by this record, nil otherwise.
func (e *Engine) RecordOperation(agentID string, pf *frame.ParsedFrame, action string, success bool) *Alert {
	st := e.state(agentID)
	now := e.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.baseline == nil && pf != nil && !pf.IsEmpty() {
		st.baseline = pf.Clone()
	}

	// FIFO eviction: overwrite the oldest slot once full.
	st.window[(st.head+st.count)%len(st.window)] = operation{frame: pf, action: action, success: success, at: now}
	if st.count < len(st.window) {
		st.count++
	} else {
		st.head = (st.head + 1) % len(st.window)
	}

	if success {
		st.consecutiveFailures = 0
	} else {
		st.consecutiveFailures++
	}

	st.score = e.computeScore(st, pf)

	var alert *Alert
	switch st.breaker {
	case BreakerHalfOpen:
		if success {
			e.transition(agentID, st, BreakerClosed, now)
			st.consecutiveFailures = 0
		} else {
			e.transition(agentID, st, BreakerOpen, now)
		}
	case BreakerClosed:
		if st.score >= e.cfg.CriticalThreshold || st.consecutiveFailures >= e.cfg.ConsecutiveFailureCeiling {
			e.transition(agentID, st, BreakerOpen, now)
			alert = &Alert{
				AgentID:   agentID,
				Level:     "critical",
				Score:     st.score,
				Threshold: e.cfg.CriticalThreshold,
				Message:   "drift critical threshold reached; circuit breaker opened",
				At:        now,
			}
		} else if st.score >= e.cfg.WarningThreshold && !st.warned {
			st.warned = true
			alert = &Alert{
				AgentID:   agentID,
				Level:     "warning",
				Score:     st.score,
				Threshold: e.cfg.WarningThreshold,
				Message:   "drift warning threshold crossed",
				At:        now,
			}
		}
	}

	if alert != nil && e.auditor != nil {
		e.auditor.Record(audit.EventDriftAlert, audit.Fields{
			AgentID: agentID,
			Details: map[string]interface{}{
				"level": alert.Level,
				"score": alert.Score,
			},
		})
	}
	return alert
}

// Status returns a snapshot of the agent's state, or nil for an unknown
// agent. The open → half-open transition happens here, lazily, once the
// cooldown has elapsed.
func (e *Engine) Status(agentID string) *Snapshot {
	e.mu.RLock()
	st, ok := e.agents[agentID]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	now := e.now()
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.breaker == BreakerOpen && now.Sub(st.lastTransition) >= e.cfg.Cooldown {
		e.transition(agentID, st, BreakerHalfOpen, now)
	}

	snap := &Snapshot{
		AgentID:             agentID,
		DriftScore:          st.score,
		State:               st.breaker,
		ConsecutiveFailures: st.consecutiveFailures,
		WindowLength:        st.count,
		LastTransition:      st.lastTransition,
	}
	if st.baseline != nil {
		snap.Baseline = st.baseline.String()
	}
	return snap
}

// HaltAgent forcibly opens the agent's breaker.
func (e *Engine) HaltAgent(agentID, reason string) {
	st := e.state(agentID)
	now := e.now()

	st.mu.Lock()
	e.transition(agentID, st, BreakerOpen, now)
	st.mu.Unlock()

	e.logger.Warn("agent halted", "agent_id", agentID, "reason", reason)
	if e.auditor != nil {
		e.auditor.Record(audit.EventAgentHalted, audit.Fields{
			AgentID: agentID,
			Details: map[string]interface{}{"reason": reason},
		})
	}
}

// Stats aggregates drift across all agents. The average normalizes by
// the number of tracked agents.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	agents := make([]*agentState, 0, len(e.agents))
	for _, st := range e.agents {
		agents = append(agents, st)
	}
	e.mu.RUnlock()

	stats := Stats{Agents: len(agents)}
	var total float64
	for _, st := range agents {
		st.mu.Lock()
		total += st.score
		if st.breaker == BreakerOpen {
			stats.OpenBreakers++
		}
		st.mu.Unlock()
	}
	if len(agents) > 0 {
		stats.AverageDrift = total / float64(len(agents))
	}
	return stats
}

// transition moves the breaker and records the change. Callers hold the
// agent lock.
func (e *Engine) transition(agentID string, st *agentState, to BreakerState, now time.Time) {
	if st.breaker == to {
		return
	}
	from := st.breaker
	st.breaker = to
	st.lastTransition = now

	e.logger.Info("circuit breaker transition",
		"agent_id", agentID,
		"from", from,
		"to", to,
		"score", st.score,
	)
	if e.auditor != nil {
		event := audit.EventBreakerTripped
		if to == BreakerClosed {
			event = audit.EventBreakerReset
		}
		e.auditor.Record(event, audit.Fields{
			AgentID: agentID,
			Details: map[string]interface{}{"from": string(from), "to": string(to)},
		})
	}
}

// computeScore derives the weighted drift score from the baseline, the
// current frame and the window. Callers hold the agent lock.
func (e *Engine) computeScore(st *agentState, current *frame.ParsedFrame) float64 {
	w := e.cfg.Weights

	var modeDeviation float64
	if st.baseline != nil && current != nil && st.baseline.Mode != "" && current.Mode != "" {
		baseStrength, okB := e.reg.Strength(st.baseline.Mode)
		curStrength, okC := e.reg.Strength(current.Mode)
		if okB && okC && e.reg.MaxStrength() > 1 {
			diff := curStrength - baseStrength
			if diff < 0 {
				diff = -diff
			}
			modeDeviation = float64(diff) / float64(e.reg.MaxStrength()-1)
		}
	}

	var domainChange float64
	if st.baseline != nil && current != nil && st.baseline.Domain != current.Domain {
		domainChange = 1
	}

	var constraintRemoval float64
	if st.baseline != nil && len(st.baseline.Constraints) > 0 {
		dropped := 0
		inheritedDropped := false
		for _, c := range st.baseline.Constraints {
			if current.HasConstraint(c) {
				continue
			}
			dropped++
			if attrs, ok := e.reg.Lookup(c); ok && attrs.Inherits {
				inheritedDropped = true
			}
		}
		constraintRemoval = float64(dropped) / float64(len(st.baseline.Constraints))
		if inheritedDropped {
			constraintRemoval = 1
		}
	}

	var failureRate float64
	if st.count > 0 {
		failures := 0
		for i := 0; i < st.count; i++ {
			if !st.window[(st.head+i)%len(st.window)].success {
				failures++
			}
		}
		failureRate = float64(failures) / float64(st.count)
	}

	score := w.ModeDeviation*modeDeviation +
		w.DomainChange*domainChange +
		w.ConstraintRemoval*constraintRemoval +
		w.FailureRate*failureRate
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
