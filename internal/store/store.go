package store

// Store is the full persistence surface. Each manager writes only to its
// own tables; consumers should depend on the narrow subset they need.
type Store interface {
	// Initialize creates tables and indexes.
	Initialize() error

	// Close cleanly shuts down the store.
	Close() error

	// Definitions
	UpsertDefinition(d *AgentDefinition) error
	GetDefinition(id string) (*AgentDefinition, error)
	ListDefinitions() ([]*AgentDefinition, error)

	// Instances
	InsertInstance(i *AgentInstance) error
	GetInstance(id string) (*AgentInstance, error)
	ListInstances(filter InstanceFilter) ([]*AgentInstance, error)
	UpdateInstanceStatus(id, status string) error
	UpdateInstanceUsage(id string, usage ResourceUsage) error

	// Campaigns
	UpsertCampaign(c *Campaign) error
	GetCampaign(id string) (*Campaign, error)

	// Proposals
	InsertProposal(p *Proposal) error
	GetProposal(id string) (*Proposal, error)
	ListProposals(filter ProposalFilter) ([]*Proposal, error)
	UpdateProposal(p *Proposal) error

	// Data sources
	UpsertDataSource(s *DataSource) error
	GetDataSource(id string) (*DataSource, error)

	// Holds
	InsertHold(h *Hold) error
	GetHold(id string) (*Hold, error)
	ListHolds(filter HoldFilter) ([]*Hold, error)
	ResolveHold(h *Hold) error

	// Audit events (append-only; no deletion API exists)
	AppendEvent(e *AuditEvent) error
	ListEvents(filter EventFilter) ([]*AuditEvent, error)
	MaxEventSeq() (uint64, error)

	// Metrics
	SystemStats() (*SystemStats, error)
}
