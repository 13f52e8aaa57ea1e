// Package notify delivers hold and proposal notifications to external
// channels. The notifier is an injected capability: components that need
// to announce something depend on the Notifier interface, and a no-op
// implementation keeps them functional when nothing is configured.
package notify

import (
	"log/slog"
	"time"
)

// Notification is a single outbound message.
type Notification struct {
	Type      string                 `json:"type"` // hold.created, proposal.pending, drift.alert, ...
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	AgentID   string                 `json:"agent_id,omitempty"`
	RefID     string                 `json:"ref_id,omitempty"` // hold or proposal id
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Notifier is the capability components use to announce events.
// Implementations must never block the caller's decision path for long
// and must swallow delivery failures.
type Notifier interface {
	Notify(n Notification)
}

// Nop is a Notifier that drops everything.
type Nop struct{}

func (Nop) Notify(Notification) {}

// Logged wraps delivery with a slog record; useful when no webhook is
// configured but operators still want notifications in the logs.
type Logged struct {
	Logger *slog.Logger
}

func (l Logged) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"type", n.Type,
		"severity", n.Severity,
		"title", n.Title,
		"agent_id", n.AgentID,
		"ref_id", n.RefID,
	)
}
