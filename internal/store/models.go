// Package store defines the persisted data model of the gateway and its
// SQLite-backed implementation. Composite fields are stored as JSON
// blobs; every table carries a prefix-constrained primary identifier
// (camp_*, agent.*, inst_*, prop_*, src_*, evt_*, hold_*).
package store

import (
	"time"
)

// ResourceLimits caps what an instance may consume.
type ResourceLimits struct {
	RateLimitPerMinute int   `json:"rate_limit_per_minute"`
	TokenBudget        int64 `json:"token_budget"`
	TimeoutMs          int64 `json:"timeout_ms"`
	MaxSymbolsCreated  int   `json:"max_symbols_created"`
}

// AgentDefinition is the immutable, versioned specification of a
// potential agent. Definitions never run; instances do.
type AgentDefinition struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Version              string         `json:"version"`
	Purpose              string         `json:"purpose"`
	Category             string         `json:"category"` // data_acquisition, data_processing, analysis, monitoring, integration
	DataSources          []string       `json:"data_sources,omitempty"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	OptionalCapabilities []string       `json:"optional_capabilities,omitempty"`
	OutputPatterns       []string       `json:"output_patterns,omitempty"`
	ResourceLimits       ResourceLimits `json:"resource_limits"`
	SuccessCriteria      []string       `json:"success_criteria,omitempty"`
	Dependencies         []string       `json:"dependencies,omitempty"`
	Frame                string         `json:"frame"`
	RiskLevel            string         `json:"risk_level"`
	RequiresApproval     bool           `json:"requires_approval"`
	Namespace            string         `json:"namespace"`
	Template             string         `json:"template,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// Scope bounds the symbols and tools an instance may touch. A child
// scope is always a subset of its parent's.
type Scope struct {
	AllowedSymbolPatterns []string `json:"allowed_symbol_patterns,omitempty"`
	DeniedSymbolPatterns  []string `json:"denied_symbol_patterns,omitempty"`
	AllowedTools          []string `json:"allowed_tools,omitempty"`
	DeniedTools           []string `json:"denied_tools,omitempty"`
	Namespace             string   `json:"namespace"`
	MaxDelegationDepth    int      `json:"max_delegation_depth"`
}

// ResourceUsage accumulates an instance's consumption counters.
type ResourceUsage struct {
	TokensUsed     int64 `json:"tokens_used"`
	ExecutionMs    int64 `json:"execution_ms"`
	SymbolsCreated int   `json:"symbols_created"`
	OperationCount int64 `json:"operation_count"`
}

// AgentInstance is the mutable runtime actor spawned from a definition.
type AgentInstance struct {
	ID               string             `json:"id"`
	DefinitionID     string             `json:"definition_id"`
	CampaignID       string             `json:"campaign_id,omitempty"`
	ParentInstanceID string             `json:"parent_instance_id,omitempty"`
	Status           string             `json:"status"`
	Scope            Scope              `json:"scope"`
	Usage            ResourceUsage      `json:"usage"`
	DelegationChain  []string           `json:"delegation_chain,omitempty"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	Frame            string             `json:"frame"`
	Enabled          bool               `json:"enabled"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Campaign groups instances working toward one goal and carries the
// campaign-level circuit breaker.
type Campaign struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Status              string    `json:"status"`
	BreakerState        string    `json:"breaker_state"` // closed, open, half-open
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CreatedAt           time.Time `json:"created_at"`
}

// Justification records why a proposal exists.
type Justification struct {
	Trigger     string `json:"trigger"` // new_data_source, user_request, scheduled, dependency, system
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// RiskAssessment is the weighted five-category risk score of a proposal.
type RiskAssessment struct {
	DataAccess     float64  `json:"data_access"`
	ExternalCalls  float64  `json:"external_calls"`
	ResourceUsage  float64  `json:"resource_usage"`
	SymbolCreation float64  `json:"symbol_creation"`
	PrivilegeLevel float64  `json:"privilege_level"`
	Score          float64  `json:"score"`
	Factors        []string `json:"factors,omitempty"`
	ApprovalLevel  string   `json:"approval_level"` // auto, human, elevated
}

// Triplet is a min/typical/max resource estimate.
type Triplet struct {
	Min     int64 `json:"min"`
	Typical int64 `json:"typical"`
	Max     int64 `json:"max"`
}

// ResourceEstimate is the expected consumption of a proposed agent.
type ResourceEstimate struct {
	Tokens      Triplet `json:"tokens"`
	ExecutionMs Triplet `json:"execution_ms"`
	Symbols     Triplet `json:"symbols"`
}

// ProposalDecision records the terminal decision on a proposal.
type ProposalDecision struct {
	DecidedBy string    `json:"decided_by"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
	Modified  bool      `json:"modified"`
}

// Proposal is an out-of-band request to create an instance.
type Proposal struct {
	ID            string            `json:"id"`
	Definition    AgentDefinition   `json:"definition"`
	Justification Justification     `json:"justification"`
	Risk          RiskAssessment    `json:"risk"`
	Estimate      ResourceEstimate  `json:"estimate"`
	DataAccess    []string          `json:"data_access,omitempty"`
	State         string            `json:"state"` // pending, approved, rejected, expired
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	HoldID        string            `json:"hold_id,omitempty"`
	Decision      *ProposalDecision `json:"decision,omitempty"`
}

// DataSource describes an external source an agent may be proposed for.
type DataSource struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"` // web_scraping, api, database, file_feed
	URL        string            `json:"url,omitempty"`
	Auth       string            `json:"auth,omitempty"` // none, api_key, oauth2
	Discovered time.Time         `json:"discovered"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Hold is a persisted human-in-the-loop approval request.
type Hold struct {
	ID                string                 `json:"id"`
	AgentID           string                 `json:"agent_id"`
	Frame             string                 `json:"frame"`
	Tool              string                 `json:"tool"`
	Arguments         map[string]interface{} `json:"arguments,omitempty"`
	Reason            string                 `json:"reason"`
	Severity          string                 `json:"severity"` // low, medium, high, critical
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	State             string                 `json:"state"` // pending, approved, rejected, expired
	CreatedAt         time.Time              `json:"created_at"`
	ExpiresAt         *time.Time             `json:"expires_at,omitempty"`
	DecidedBy         string                 `json:"decided_by,omitempty"`
	DecisionReason    string                 `json:"decision_reason,omitempty"`
	DecidedAt         *time.Time             `json:"decided_at,omitempty"`
	ModifiedFrame     string                 `json:"modified_frame,omitempty"`
	ModifiedArguments map[string]interface{} `json:"modified_arguments,omitempty"`
}

// AuditEvent is a single append-only record. Seq is assigned by the
// audit log and totally orders all events.
type AuditEvent struct {
	Seq        uint64                 `json:"seq"`
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	AgentID    string                 `json:"agent_id,omitempty"`
	InstanceID string                 `json:"instance_id,omitempty"`
	CampaignID string                 `json:"campaign_id,omitempty"`
	ProposalID string                 `json:"proposal_id,omitempty"`
	OperatorID string                 `json:"operator_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// InstanceFilter selects instances for listing.
type InstanceFilter struct {
	DefinitionID string
	CampaignID   string
	Status       string
	Limit        int
}

// ProposalFilter selects proposals for listing.
type ProposalFilter struct {
	State        string
	Trigger      string
	ExpiredAsOf  *time.Time
	Limit        int
}

// HoldFilter selects holds for listing.
type HoldFilter struct {
	AgentID string
	State   string
	Limit   int
}

// EventFilter selects audit events for listing.
type EventFilter struct {
	AgentID    string
	InstanceID string
	CampaignID string
	Type       string
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// SystemStats holds aggregate counters for the status surface.
type SystemStats struct {
	Definitions      int64 `json:"definitions"`
	Instances        int64 `json:"instances"`
	RunningInstances int64 `json:"running_instances"`
	PendingProposals int64 `json:"pending_proposals"`
	PendingHolds     int64 `json:"pending_holds"`
	AuditEvents      int64 `json:"audit_events"`
}
