package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/audit"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/config"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/delegation"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/drift"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/frame"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/gatekeeper"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/hold"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/notify"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/ontology"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/policy"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/proposal"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/registry"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/validation"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "promptspeak",
		Short: "Governance gateway for tool-calling AI agents",
		Long:  "PromptSpeak — symbolic frame governance.\nParses agent frames, validates delegation chains, tracks drift, and routes risky tool calls through human holds.",
	}

	var configFile string
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: promptspeak.yaml)")

	// ─── start ───
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Run the sweepers and keep the gateway state current",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile)
		},
	}

	// ─── validate ───
	var parentFrame string
	validateCmd := &cobra.Command{
		Use:   "validate [frame]",
		Short: "Parse and validate a frame, optionally against a parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0], parentFrame)
		},
	}
	validateCmd.Flags().StringVar(&parentFrame, "parent", "", "Parent frame for chain validation")

	// ─── intercept ───
	var itcAgent, itcInstance, itcFrame, itcParent, itcTool, itcArgs string
	interceptCmd := &cobra.Command{
		Use:   "intercept",
		Short: "Run one tool call through the full decision pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntercept(configFile, itcAgent, itcInstance, itcFrame, itcParent, itcTool, itcArgs)
		},
	}
	interceptCmd.Flags().StringVar(&itcAgent, "agent", "", "Agent id")
	interceptCmd.Flags().StringVar(&itcInstance, "instance", "", "Instance id (enables scope and quota checks)")
	interceptCmd.Flags().StringVar(&itcFrame, "frame", "", "Frame the agent presents")
	interceptCmd.Flags().StringVar(&itcParent, "parent", "", "Parent frame for chain validation")
	interceptCmd.Flags().StringVar(&itcTool, "tool", "", "Tool being called")
	interceptCmd.Flags().StringVar(&itcArgs, "args", "", "Tool arguments as JSON")
	_ = interceptCmd.MarkFlagRequired("agent")
	_ = interceptCmd.MarkFlagRequired("frame")
	_ = interceptCmd.MarkFlagRequired("tool")

	// ─── delegate ───
	var dlgParent, dlgChild, dlgParentFrame, dlgChildFrame, dlgPolicy string
	delegateCmd := &cobra.Command{
		Use:   "delegate",
		Short: "Compute and validate a parent-to-child frame handoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelegate(dlgParent, dlgChild, dlgParentFrame, dlgChildFrame, dlgPolicy)
		},
	}
	delegateCmd.Flags().StringVar(&dlgParent, "parent", "", "Parent agent id")
	delegateCmd.Flags().StringVar(&dlgChild, "child", "", "Child agent id")
	delegateCmd.Flags().StringVar(&dlgParentFrame, "parent-frame", "", "Parent frame")
	delegateCmd.Flags().StringVar(&dlgChildFrame, "child-frame", "", "Child frame")
	delegateCmd.Flags().StringVar(&dlgPolicy, "inheritance", delegation.InheritStrict, "Inheritance policy: strict, relaxed, custom")
	_ = delegateCmd.MarkFlagRequired("parent-frame")
	_ = delegateCmd.MarkFlagRequired("child-frame")

	// ─── holds ───
	holdsCmd := &cobra.Command{
		Use:   "holds",
		Short: "Approval queue commands",
	}

	var holdAgent string
	holdsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHoldsList(configFile, holdAgent)
		},
	}
	holdsListCmd.Flags().StringVar(&holdAgent, "agent", "", "Filter by agent id")

	var decider, reason, overrideFrame string
	holdsApproveCmd := &cobra.Command{
		Use:   "approve [hold-id]",
		Short: "Approve a pending hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHoldDecision(configFile, args[0], hold.StateApproved, decider, reason, overrideFrame)
		},
	}
	holdsRejectCmd := &cobra.Command{
		Use:   "reject [hold-id]",
		Short: "Reject a pending hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHoldDecision(configFile, args[0], hold.StateRejected, decider, reason, "")
		},
	}
	for _, c := range []*cobra.Command{holdsApproveCmd, holdsRejectCmd} {
		c.Flags().StringVar(&decider, "by", "operator", "Operator id recorded on the decision")
		c.Flags().StringVar(&reason, "reason", "", "Decision reason")
	}
	holdsApproveCmd.Flags().StringVar(&overrideFrame, "frame", "", "Replacement frame applied on approval")

	holdsCmd.AddCommand(holdsListCmd, holdsApproveCmd, holdsRejectCmd)

	// ─── proposals ───
	proposalsCmd := &cobra.Command{
		Use:   "proposals",
		Short: "Agent proposal commands",
	}

	var propState string
	proposalsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposalsList(configFile, propState)
		},
	}
	proposalsListCmd.Flags().StringVar(&propState, "state", proposal.StatePending, "Filter by state (empty for all)")

	proposalsApproveCmd := &cobra.Command{
		Use:   "approve [proposal-id]",
		Short: "Approve a proposal and spawn the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposalDecision(configFile, args[0], true, decider, reason)
		},
	}
	proposalsRejectCmd := &cobra.Command{
		Use:   "reject [proposal-id]",
		Short: "Reject a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposalDecision(configFile, args[0], false, decider, reason)
		},
	}
	for _, c := range []*cobra.Command{proposalsApproveCmd, proposalsRejectCmd} {
		c.Flags().StringVar(&decider, "by", "operator", "Operator id recorded on the decision")
		c.Flags().StringVar(&reason, "reason", "", "Decision reason")
	}

	proposalsCmd.AddCommand(proposalsListCmd, proposalsApproveCmd, proposalsRejectCmd)

	// ─── agents ───
	agentsCmd := &cobra.Command{
		Use:   "agents",
		Short: "Registry inspection commands",
	}

	var instStatus string
	agentsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List agent instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsList(configFile, instStatus)
		},
	}
	agentsListCmd.Flags().StringVar(&instStatus, "status", "", "Filter by lifecycle status")
	agentsCmd.AddCommand(agentsListCmd)

	// ─── status ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show aggregate gateway counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(configFile)
		},
	}

	// ─── version ───
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("PromptSpeak %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	rootCmd.AddCommand(startCmd, validateCmd, interceptCmd, delegateCmd, holdsCmd, proposalsCmd, agentsCmd, statusCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// core bundles the wired components every stateful command needs.
type core struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.SQLiteStore
	auditor   *audit.Log
	holds     *hold.Manager
	registry  *registry.Registry
	proposals *proposal.Manager
	policies  *policy.Engine
	drifts    *drift.Engine
	gk        *gatekeeper.Gatekeeper
}

func openCore(configFile string) (*core, error) {
	if configFile == "" {
		configFile = findConfigFile()
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Server.LogLevel)

	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if err := st.Initialize(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	auditor := audit.New(st, logger)

	var notifier notify.Notifier = notify.Logged{Logger: logger}
	if cfg.Webhook.URL != "" {
		notifier = notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret, logger)
	}

	symbols := ontology.Default()

	drifts := drift.NewEngine(symbols, drift.Config{
		WarningThreshold:          cfg.Drift.WarningThreshold,
		CriticalThreshold:         cfg.Drift.CriticalThreshold,
		WindowSize:                cfg.Drift.WindowSize,
		Cooldown:                  cfg.CircuitCooldown(),
		ConsecutiveFailureCeiling: cfg.Drift.ConsecutiveFailureCeiling,
	}, auditor, logger)

	holds := hold.NewManager(st, notifier, auditor, hold.Config{
		DefaultTimeout: cfg.HoldTimeout(),
	}, logger)
	if err := holds.Load(); err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := registry.New(st, auditor, registry.Config{
		DefaultMaxDelegationDepth: cfg.Delegation.MaxDelegationDepth,
		CampaignFailureCeiling:    cfg.Drift.ConsecutiveFailureCeiling,
	}, logger)
	if err := reg.Load(); err != nil {
		_ = st.Close()
		return nil, err
	}

	proposals := proposal.NewManager(st, reg, holds, notifier, auditor, proposal.Config{
		DefaultTTL: cfg.ProposalTTL(),
	}, logger)
	if err := proposals.Load(); err != nil {
		_ = st.Close()
		return nil, err
	}

	policies, err := policy.NewEngine(logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if len(cfg.HoldPolicies) > 0 {
		if err := policies.SetRules(cfg.HoldPolicies); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	gk := gatekeeper.New(symbols, drifts, reg, holds, policies, auditor, gatekeeper.Config{
		HoldOnDriftPrediction:       cfg.Holds.HoldOnDriftPrediction,
		HoldOnForbiddenWithOverride: cfg.Holds.HoldOnForbiddenWithOverride,
		DriftWarningThreshold:       cfg.Drift.WarningThreshold,
		MinAllowConfidence:          cfg.Holds.MinAllowConfidence,
		ApprovalWhitelist:           cfg.Holds.ApprovalWhitelist,
	}, logger)

	return &core{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		auditor:   auditor,
		holds:     holds,
		registry:  reg,
		proposals: proposals,
		policies:  policies,
		drifts:    drifts,
		gk:        gk,
	}, nil
}

func (c *core) close() {
	_ = c.store.Close()
}

// ─── start ───

func runStart(configFile string) error {
	c, err := openCore(configFile)
	if err != nil {
		return err
	}
	defer c.close()

	// Hot reload of hold-policy rules, when a rule file is configured.
	if c.cfg.HoldPolicyPath != "" {
		pw := config.NewPolicyWatcher(c.policies, c.logger)
		if err := pw.LoadRules(c.cfg.HoldPolicyPath); err != nil {
			return err
		}
		if err := pw.Watch(c.cfg.HoldPolicyPath); err != nil {
			c.logger.Error("failed to watch hold policies", "error", err)
		} else {
			defer pw.Stop()
		}
	}

	fmt.Println()
	fmt.Printf("  PromptSpeak %s\n", version)
	fmt.Printf("  → Storage:       %s\n", c.cfg.Storage.Path)
	fmt.Printf("  → Hold policies: %d loaded\n", c.policies.RuleCount())
	fmt.Printf("  → Hold sweep:    every %s\n", c.cfg.HoldSweepInterval())
	fmt.Printf("  → Proposal sweep: every %s\n", c.cfg.ProposalSweepInterval())
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		c.logger.Info("shutting down...")
		cancel()
	}()

	holdTicker := time.NewTicker(c.cfg.HoldSweepInterval())
	defer holdTicker.Stop()
	proposalTicker := time.NewTicker(c.cfg.ProposalSweepInterval())
	defer proposalTicker.Stop()
	statsTicker := time.NewTicker(time.Minute)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-holdTicker.C:
			if n := c.holds.Sweep(now); n > 0 {
				c.logger.Info("expired holds", "count", n)
			}
		case now := <-proposalTicker.C:
			if n := c.proposals.ExpireStale(now); n > 0 {
				c.logger.Info("expired proposals", "count", n)
			}
		case <-statsTicker.C:
			stats, err := c.store.SystemStats()
			if err != nil {
				c.logger.Error("failed to read system stats", "error", err)
				continue
			}
			hs := c.holds.Stats()
			c.logger.Info("gateway stats",
				"definitions", stats.Definitions,
				"instances", stats.Instances,
				"running", stats.RunningInstances,
				"pending_holds", hs.Pending,
				"pending_proposals", stats.PendingProposals,
				"audit_events", stats.AuditEvents,
			)
		}
	}
}

// ─── validate ───

func runValidate(raw, parentRaw string) error {
	symbols := ontology.Default()
	resolver := frame.NewResolver(symbols)
	validator := validation.New(symbols)

	pf := resolver.Parse(raw)
	var parent *frame.ParsedFrame
	if parentRaw != "" {
		parent = resolver.Parse(parentRaw)
		if parent == nil {
			return fmt.Errorf("parent frame %q failed to parse", parentRaw)
		}
	}
	report := validator.Validate(pf, parent)

	out := map[string]interface{}{
		"valid":  report.Valid,
		"report": report,
	}
	if pf != nil {
		out["canonical"] = pf.String()
		out["parse_confidence"] = pf.ParseConfidence
	}
	return printJSON(out)
}

// ─── intercept ───

func runIntercept(configFile, agent, instance, frameRaw, parentRaw, tool, argsJSON string) error {
	c, err := openCore(configFile)
	if err != nil {
		return err
	}
	defer c.close()

	var args map[string]interface{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return fmt.Errorf("invalid --args: %w", err)
		}
	}

	d := c.gk.Intercept(context.Background(), gatekeeper.Request{
		AgentID:     agent,
		InstanceID:  instance,
		Frame:       frameRaw,
		ParentFrame: parentRaw,
		Tool:        tool,
		Arguments:   args,
	})
	return printJSON(d)
}

// ─── delegate ───

func runDelegate(parentID, childID, parentFrame, childFrame, inheritance string) error {
	symbols := ontology.Default()
	engine := delegation.NewEngine(symbols, nil, nil, nil, nil)

	result := engine.Delegate(delegation.Input{
		ParentID:    parentID,
		ChildID:     childID,
		ParentFrame: parentFrame,
		ChildFrame:  childFrame,
		Inheritance: inheritance,
	})
	return printJSON(result)
}

// ─── holds ───

func runHoldsList(configFile, agent string) error {
	c, err := openCore(configFile)
	if err != nil {
		return err
	}
	defer c.close()

	holds := c.holds.ListPending(agent)
	if len(holds) == 0 {
		fmt.Println("No pending holds.")
		return nil
	}

	fmt.Printf("%-30s %-20s %-10s %-18s %s\n", "ID", "AGENT", "SEVERITY", "TOOL", "REASON")
	fmt.Println(strings.Repeat("─", 100))
	for _, h := range holds {
		fmt.Printf("%-30s %-20s %-10s %-18s %s\n", h.ID, h.AgentID, h.Severity, h.Tool, truncate(h.Reason, 40))
	}
	return nil
}

func runHoldDecision(configFile, holdID, state, decider, reason, overrideFrame string) error {
	c, err := openCore(configFile)
	if err != nil {
		return err
	}
	defer c.close()

	var d *hold.Decision
	switch state {
	case hold.StateApproved:
		var overrides *hold.Overrides
		if overrideFrame != "" {
			overrides = &hold.Overrides{Frame: overrideFrame}
		}
		d = c.holds.Approve(holdID, decider, reason, overrides)
	case hold.StateRejected:
		d = c.holds.Reject(holdID, decider, reason)
	}
	if d == nil {
		return fmt.Errorf("hold %s is not pending", holdID)
	}
	fmt.Printf("✓ Hold %s %s by %s\n", holdID, d.State, d.DecidedBy)
	return nil
}

// ─── proposals ───

func runProposalsList(configFile, state string) error {
	c, err := openCore(configFile)
	if err != nil {
		return err
	}
	defer c.close()

	proposals := c.proposals.List(state)
	if len(proposals) == 0 {
		fmt.Println("No proposals found.")
		return nil
	}

	fmt.Printf("%-30s %-26s %-10s %-8s %s\n", "ID", "AGENT", "STATE", "RISK", "APPROVAL")
	fmt.Println(strings.Repeat("─", 90))
	for _, p := range proposals {
		fmt.Printf("%-30s %-26s %-10s %-8.2f %s\n", p.ID, p.Definition.ID, p.State, p.Risk.Score, p.Risk.ApprovalLevel)
	}
	return nil
}

func runProposalDecision(configFile, proposalID string, approve bool, decider, reason string) error {
	c, err := openCore(configFile)
	if err != nil {
		return err
	}
	defer c.close()

	var p *store.Proposal
	if approve {
		p, err = c.proposals.Approve(proposalID, decider, reason, nil)
	} else {
		p, err = c.proposals.Reject(proposalID, decider, reason)
	}
	if err != nil {
		return err
	}
	fmt.Printf("✓ Proposal %s %s by %s\n", p.ID, p.State, decider)
	return nil
}

// ─── agents / status ───

func runAgentsList(configFile, status string) error {
	c, err := openCore(configFile)
	if err != nil {
		return err
	}
	defer c.close()

	instances := c.registry.Instances(store.InstanceFilter{Status: status})
	if len(instances) == 0 {
		fmt.Println("No instances found.")
		return nil
	}

	fmt.Printf("%-30s %-26s %-12s %-14s %s\n", "ID", "DEFINITION", "STATUS", "CAMPAIGN", "CREATED")
	fmt.Println(strings.Repeat("─", 100))
	for _, inst := range instances {
		fmt.Printf("%-30s %-26s %-12s %-14s %s\n",
			inst.ID, inst.DefinitionID, inst.Status, inst.CampaignID, inst.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runStatus(configFile string) error {
	c, err := openCore(configFile)
	if err != nil {
		return err
	}
	defer c.close()

	stats, err := c.store.SystemStats()
	if err != nil {
		return err
	}

	fmt.Println("PromptSpeak Status")
	fmt.Println("─────────────────")
	fmt.Printf("  %-20s %d\n", "Definitions:", stats.Definitions)
	fmt.Printf("  %-20s %d\n", "Instances:", stats.Instances)
	fmt.Printf("  %-20s %d\n", "Running:", stats.RunningInstances)
	fmt.Printf("  %-20s %d\n", "Pending holds:", stats.PendingHolds)
	fmt.Printf("  %-20s %d\n", "Pending proposals:", stats.PendingProposals)
	fmt.Printf("  %-20s %d\n", "Audit events:", stats.AuditEvents)
	return nil
}

// ─── Shared helpers ───

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func findConfigFile() string {
	for _, c := range []string{"promptspeak.yaml", "promptspeak.yml"} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}
