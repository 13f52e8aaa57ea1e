// Package audit implements the append-only event log shared by every
// component. A single internal writer assigns a monotonic sequence
// number to each event, so readers always observe a consistent prefix of
// the log. There is no mutation or deletion API.
package audit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

// Event type constants. Every state transition in the gateway lands here.
const (
	EventIntercept        = "gatekeeper.intercept"
	EventOutcomeRecorded  = "gatekeeper.outcome"
	EventBreakerTripped   = "drift.breaker_tripped"
	EventBreakerReset     = "drift.breaker_reset"
	EventDriftAlert       = "drift.alert"
	EventAgentHalted      = "drift.agent_halted"
	EventHoldCreated      = "hold.created"
	EventHoldApproved     = "hold.approved"
	EventHoldRejected     = "hold.rejected"
	EventHoldExpired      = "hold.expired"
	EventProposalCreated  = "proposal.created"
	EventProposalApproved = "proposal.approved"
	EventProposalRejected = "proposal.rejected"
	EventProposalExpired  = "proposal.expired"
	EventInstanceSpawned  = "registry.instance_spawned"
	EventInstanceStatus   = "registry.instance_status"
	EventCampaignBreaker  = "registry.campaign_breaker"
	EventDelegationMade   = "delegation.created"
	EventDelegationRevoke = "delegation.revoked"
)

// Store is the persistence subset the log needs.
type Store interface {
	AppendEvent(e *store.AuditEvent) error
	ListEvents(filter store.EventFilter) ([]*store.AuditEvent, error)
	MaxEventSeq() (uint64, error)
}

// Fields carries the optional correlation ids and details of an event.
type Fields struct {
	AgentID    string
	InstanceID string
	CampaignID string
	ProposalID string
	OperatorID string
	Details    map[string]interface{}
}

// Log is the append-only audit log. Safe for concurrent use; Record
// serializes writers so sequence numbers are dense and ordered.
type Log struct {
	mu     sync.Mutex
	seq    uint64
	store  Store
	recent []*store.AuditEvent // bounded in-memory tail for storeless use
	logger *slog.Logger
}

const recentCap = 1024

// New creates a Log. The store may be nil, in which case events are kept
// only in the bounded in-memory tail (useful for tests and dry runs).
// With a store, the sequence counter resumes from the last persisted
// event.
func New(st Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{
		store:  st,
		logger: logger.With("component", "audit.Log"),
	}
	if st != nil {
		if seq, err := st.MaxEventSeq(); err == nil {
			l.seq = seq
		} else {
			l.logger.Warn("could not restore audit sequence", "error", err)
		}
	}
	return l
}

// Record appends an event and returns it with its assigned sequence
// number. Persistence failures are logged, never raised: the event stays
// in the in-memory tail and the caller's operation proceeds.
func (l *Log) Record(eventType string, fields Fields) *store.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e := &store.AuditEvent{
		Seq:        l.seq,
		ID:         "evt_" + ulid.Make().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		AgentID:    fields.AgentID,
		InstanceID: fields.InstanceID,
		CampaignID: fields.CampaignID,
		ProposalID: fields.ProposalID,
		OperatorID: fields.OperatorID,
		Details:    fields.Details,
	}

	l.recent = append(l.recent, e)
	if len(l.recent) > recentCap {
		l.recent = l.recent[len(l.recent)-recentCap:]
	}

	if l.store != nil {
		if err := l.store.AppendEvent(e); err != nil {
			l.logger.Error("failed to persist audit event",
				"event_id", e.ID,
				"event_type", e.Type,
				"error", err,
			)
		}
	}
	return e
}

// Query returns events matching the filter in sequence order. With a
// store the query runs against it; otherwise the in-memory tail is
// scanned.
func (l *Log) Query(filter store.EventFilter) ([]*store.AuditEvent, error) {
	if l.store != nil {
		return l.store.ListEvents(filter)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*store.AuditEvent
	for _, e := range l.recent {
		if filter.AgentID != "" && e.AgentID != filter.AgentID {
			continue
		}
		if filter.InstanceID != "" && e.InstanceID != filter.InstanceID {
			continue
		}
		if filter.CampaignID != "" && e.CampaignID != filter.CampaignID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && e.Timestamp.After(*filter.Until) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Seq returns the sequence number of the most recent event.
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
