// Package gatekeeper is the synchronous decision point in front of every
// tool call. It chains the circuit breaker, frame validation, scope and
// quota enforcement, and the hold policy into a single Intercept call
// that always returns a decision, never an error.
package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/audit"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/drift"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/frame"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/hold"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/ontology"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/policy"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/registry"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/validation"
)

// Decision actions.
const (
	ActionAllow = "allow"
	ActionBlock = "block"
	ActionHold  = "hold"
)

// Per-issue penalties feeding the coverage confidence.
const (
	errorPenalty   = 0.25
	warningPenalty = 0.10
)

// Config tunes the gatekeeper.
type Config struct {
	HoldOnDriftPrediction       bool     // warning-level drift alone forces a hold
	HoldOnForbiddenWithOverride bool     // SM-006 (forbidden + execute) forces a hold
	DriftWarningThreshold       float64  // mirrors the drift engine's warning threshold
	MinAllowConfidence          float64  // allow decisions below this are downgraded to hold
	ApprovalWhitelist           []string // tools exempt from requires-approval holds
}

// DefaultConfig returns the standard gatekeeper configuration.
func DefaultConfig() Config {
	return Config{
		HoldOnDriftPrediction:       true,
		HoldOnForbiddenWithOverride: true,
		DriftWarningThreshold:       0.15,
		MinAllowConfidence:          0.5,
	}
}

// Request is one intercepted tool call. InstanceID is optional; when
// the agent is a known instance, scope and quota are enforced.
type Request struct {
	AgentID     string                 `json:"agent_id"`
	InstanceID  string                 `json:"instance_id,omitempty"`
	Frame       string                 `json:"frame"`
	ParentFrame string                 `json:"parent_frame,omitempty"`
	Tool        string                 `json:"tool"`
	Arguments   map[string]interface{} `json:"arguments,omitempty"`
}

// Decision is the gatekeeper's answer. Confidence is the coverage
// confidence of the validation pass; Retryable marks transient refusals.
type Decision struct {
	Action     string             `json:"action"`
	Reason     string             `json:"reason,omitempty"`
	Report     *validation.Report `json:"report,omitempty"`
	HoldID     string             `json:"hold_id,omitempty"`
	Confidence float64            `json:"confidence"`
	Retryable  bool               `json:"retryable,omitempty"`
}

// Outcome is reported by the transport after the tool ran.
type Outcome struct {
	AgentID    string
	InstanceID string
	Frame      string
	Tool       string
	Success    bool
	Usage      store.ResourceUsage
}

// Gatekeeper wires the decision pipeline. Drift, registry, holds,
// policies and auditor are each optional; absent collaborators skip
// their stage.
type Gatekeeper struct {
	resolver  *frame.Resolver
	validator *validation.Validator
	drifts    *drift.Engine
	registry  *registry.Registry
	holds     *hold.Manager
	policies  *policy.Engine
	auditor   *audit.Log
	cfg       Config
	logger    *slog.Logger
}

// New creates a Gatekeeper over the given collaborators.
func New(reg *ontology.Registry, drifts *drift.Engine, instances *registry.Registry, holds *hold.Manager, policies *policy.Engine, auditor *audit.Log, cfg Config, logger *slog.Logger) *Gatekeeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinAllowConfidence <= 0 {
		cfg.MinAllowConfidence = DefaultConfig().MinAllowConfidence
	}
	if cfg.DriftWarningThreshold <= 0 {
		cfg.DriftWarningThreshold = DefaultConfig().DriftWarningThreshold
	}
	return &Gatekeeper{
		resolver:  frame.NewResolver(reg),
		validator: validation.New(reg),
		drifts:    drifts,
		registry:  instances,
		holds:     holds,
		policies:  policies,
		auditor:   auditor,
		cfg:       cfg,
		logger:    logger.With("component", "gatekeeper.Gatekeeper"),
	}
}

// Intercept decides one request. It never panics and never returns an
// error: internal failures become block decisions.
func (g *Gatekeeper) Intercept(ctx context.Context, req Request) (decision *Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("intercept panicked", "agent_id", req.AgentID, "panic", r)
			decision = &Decision{
				Action:     ActionBlock,
				Reason:     fmt.Sprintf("internal error: %v", r),
				Confidence: 1.0,
			}
		}
		g.recordDecision(req, decision)
	}()

	decision = g.decide(ctx, req, true)
	return decision
}

// Precheck evaluates a request without side effects: no hold is created
// and no audit event is emitted. A hold decision carries no hold id.
func (g *Gatekeeper) Precheck(ctx context.Context, req Request) *Decision {
	return g.decide(ctx, req, false)
}

// InterceptBatch decides requests in order, stopping early only when the
// context is cancelled (remaining requests are blocked as retryable).
func (g *Gatekeeper) InterceptBatch(ctx context.Context, reqs []Request) []*Decision {
	out := make([]*Decision, len(reqs))
	for i, req := range reqs {
		out[i] = g.Intercept(ctx, req)
	}
	return out
}

func (g *Gatekeeper) decide(ctx context.Context, req Request, commit bool) *Decision {
	if d := cancelled(ctx); d != nil {
		return d
	}

	// Circuit check comes first: an open breaker blocks regardless of
	// frame validity.
	var driftScore float64
	if g.drifts != nil {
		if snap := g.drifts.Status(req.AgentID); snap != nil {
			driftScore = snap.DriftScore
			if snap.State == drift.BreakerOpen {
				return &Decision{Action: ActionBlock, Reason: "Circuit breaker is open", Confidence: 1.0}
			}
		}
	}

	pf := g.resolver.Parse(req.Frame)
	parent := g.resolver.Parse(req.ParentFrame)
	report := g.validator.Validate(pf, parent)
	confidence := coverageConfidence(pf, report)

	if pf == nil {
		return &Decision{
			Action:     ActionBlock,
			Reason:     "frame could not be parsed",
			Report:     report,
			Confidence: confidence,
		}
	}
	if !report.Valid {
		return &Decision{
			Action:     ActionBlock,
			Reason:     "frame failed validation",
			Report:     report,
			Confidence: confidence,
		}
	}

	if d := cancelled(ctx); d != nil {
		return d
	}

	// Scope and quota apply only to known instances.
	var inst *store.AgentInstance
	if g.registry != nil {
		id := req.InstanceID
		if id == "" {
			id = req.AgentID
		}
		inst = g.registry.Instance(id)
	}
	if inst != nil {
		if !registry.ToolAllowed(inst.Scope, req.Tool) {
			return &Decision{
				Action:     ActionBlock,
				Reason:     fmt.Sprintf("tool %s is outside the instance scope", req.Tool),
				Report:     report,
				Confidence: confidence,
			}
		}
		for _, resource := range []string{
			registry.ResourceRate,
			registry.ResourceTokens,
			registry.ResourceTime,
			registry.ResourceSymbols,
		} {
			if q := g.registry.CheckQuota(inst.ID, resource, 1); !q.Allowed {
				return &Decision{
					Action:     ActionBlock,
					Reason:     q.Reason,
					Report:     report,
					Confidence: confidence,
					Retryable:  resource == registry.ResourceRate,
				}
			}
		}
	}

	if d := cancelled(ctx); d != nil {
		return d
	}

	if reason, severity := g.holdReason(req, pf, report, driftScore, inst); reason != "" {
		d := &Decision{
			Action:     ActionHold,
			Reason:     reason,
			Report:     report,
			Confidence: confidence,
		}
		if commit {
			d.HoldID = g.createHold(req, reason, severity)
		}
		return d
	}

	d := &Decision{Action: ActionAllow, Report: report, Confidence: confidence}
	if confidence < g.cfg.MinAllowConfidence {
		d.Action = ActionHold
		d.Reason = fmt.Sprintf("coverage confidence %.2f below %.2f", confidence, g.cfg.MinAllowConfidence)
		if commit {
			d.HoldID = g.createHold(req, d.Reason, hold.SeverityLow)
		}
	}
	return d
}

// holdReason evaluates the hold policy stages in order and returns the
// first reason to park the request, with its severity.
func (g *Gatekeeper) holdReason(req Request, pf *frame.ParsedFrame, report *validation.Report, driftScore float64, inst *store.AgentInstance) (string, string) {
	if report.HasHoldSeverity() {
		return "validation requires human review", hold.SeverityHigh
	}
	if g.cfg.HoldOnForbiddenWithOverride && report.HasWarning("SM-006") {
		return "execute action under a forbidden constraint", hold.SeverityHigh
	}
	if g.cfg.HoldOnDriftPrediction && g.drifts != nil && driftScore >= g.cfg.DriftWarningThreshold {
		return fmt.Sprintf("drift score %.2f at or above warning threshold", driftScore), hold.SeverityMedium
	}
	if inst != nil && g.registry != nil {
		if def := g.registry.Definition(inst.DefinitionID); def != nil && def.RequiresApproval && !g.whitelisted(req.Tool) {
			return fmt.Sprintf("agent %s requires approval for %s", inst.DefinitionID, req.Tool), hold.SeverityMedium
		}
	}
	if g.policies != nil {
		if m := g.policies.Evaluate(policy.Input{
			AgentID:    req.AgentID,
			Tool:       req.Tool,
			Frame:      pf.String(),
			Mode:       pf.Mode,
			Domain:     pf.Domain,
			Action:     pf.Action,
			DriftScore: driftScore,
			Arguments:  req.Arguments,
		}); m != nil {
			severity := m.Severity
			if severity == "" {
				severity = hold.SeverityMedium
			}
			return fmt.Sprintf("hold policy %s: %s", m.Rule, m.Reason), severity
		}
	}
	return "", ""
}

func (g *Gatekeeper) createHold(req Request, reason, severity string) string {
	if g.holds == nil {
		return ""
	}
	h := g.holds.Create(hold.CreateInput{
		AgentID:   req.AgentID,
		Frame:     req.Frame,
		Tool:      req.Tool,
		Arguments: req.Arguments,
		Reason:    reason,
		Severity:  severity,
	})
	return h.ID
}

func (g *Gatekeeper) whitelisted(tool string) bool {
	for _, t := range g.cfg.ApprovalWhitelist {
		if t == tool {
			return true
		}
	}
	return false
}

// RecordOutcome forwards the post-execution result to the drift engine,
// charges the instance's quotas, and emits an audit event.
func (g *Gatekeeper) RecordOutcome(out Outcome) {
	if g.drifts != nil {
		if pf := g.resolver.Parse(out.Frame); pf != nil {
			g.drifts.RecordOperation(out.AgentID, pf, out.Tool, out.Success)
		}
	}
	if g.registry != nil && out.InstanceID != "" {
		if err := g.registry.RecordUsage(out.InstanceID, out.Usage); err != nil {
			g.logger.Warn("failed to record usage", "instance_id", out.InstanceID, "error", err)
		}
	}
	if g.auditor != nil {
		g.auditor.Record(audit.EventOutcomeRecorded, audit.Fields{
			AgentID:    out.AgentID,
			InstanceID: out.InstanceID,
			Details: map[string]interface{}{
				"tool":    out.Tool,
				"success": out.Success,
				"frame":   out.Frame,
			},
		})
	}
}

func (g *Gatekeeper) recordDecision(req Request, d *Decision) {
	if d == nil {
		return
	}
	if g.auditor != nil {
		g.auditor.Record(audit.EventIntercept, audit.Fields{
			AgentID:    req.AgentID,
			InstanceID: req.InstanceID,
			Details: map[string]interface{}{
				"action":     d.Action,
				"tool":       req.Tool,
				"frame":      req.Frame,
				"reason":     d.Reason,
				"hold_id":    d.HoldID,
				"confidence": d.Confidence,
			},
		})
	}
	g.logger.Info("intercept decided",
		"agent_id", req.AgentID,
		"tool", req.Tool,
		"action", d.Action,
		"reason", d.Reason,
		"confidence", d.Confidence,
	)
}

// coverageConfidence folds the parse confidence with penalties for each
// reported issue.
func coverageConfidence(pf *frame.ParsedFrame, report *validation.Report) float64 {
	parseConfidence := 0.0
	if pf != nil {
		parseConfidence = pf.ParseConfidence
	}
	ep := errorPenalty * float64(len(report.Errors))
	wp := warningPenalty * float64(len(report.Warnings))
	if ep > 1 {
		ep = 1
	}
	if wp > 1 {
		wp = 1
	}
	c := parseConfidence * (1 - ep) * (1 - wp)
	if c < 0 {
		return 0
	}
	return c
}

func cancelled(ctx context.Context) *Decision {
	select {
	case <-ctx.Done():
		return &Decision{
			Action:    ActionBlock,
			Reason:    "request cancelled: " + ctx.Err().Error(),
			Retryable: true,
		}
	default:
		return nil
	}
}
