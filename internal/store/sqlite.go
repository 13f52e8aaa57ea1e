package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_definitions (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		version    TEXT NOT NULL,
		category   TEXT NOT NULL,
		frame      TEXT,
		risk_level TEXT,
		requires_approval INTEGER NOT NULL DEFAULT 0,
		namespace  TEXT,
		created_at DATETIME NOT NULL,
		body       TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_instances (
		id                 TEXT PRIMARY KEY,
		definition_id      TEXT NOT NULL,
		campaign_id        TEXT,
		parent_instance_id TEXT,
		status             TEXT NOT NULL,
		scope              TEXT NOT NULL,
		usage              TEXT NOT NULL,
		delegation_chain   TEXT,
		metrics            TEXT,
		frame              TEXT,
		enabled            INTEGER NOT NULL DEFAULT 1,
		created_at         DATETIME NOT NULL,
		updated_at         DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id                   TEXT PRIMARY KEY,
		name                 TEXT,
		status               TEXT NOT NULL,
		breaker_state        TEXT NOT NULL DEFAULT 'closed',
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		created_at           DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS proposals (
		id         TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		trigger_type TEXT,
		hold_id    TEXT,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		body       TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS data_sources (
		id         TEXT PRIMARY KEY,
		name       TEXT,
		type       TEXT NOT NULL,
		url        TEXT,
		auth       TEXT,
		discovered DATETIME NOT NULL,
		metadata   TEXT
	);

	CREATE TABLE IF NOT EXISTS holds (
		id                 TEXT PRIMARY KEY,
		agent_id           TEXT NOT NULL,
		frame              TEXT NOT NULL,
		tool               TEXT,
		arguments          TEXT,
		reason             TEXT,
		severity           TEXT NOT NULL,
		metadata           TEXT,
		state              TEXT NOT NULL DEFAULT 'pending',
		created_at         DATETIME NOT NULL,
		expires_at         DATETIME,
		decided_by         TEXT,
		decision_reason    TEXT,
		decided_at         DATETIME,
		modified_frame     TEXT,
		modified_arguments TEXT
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		seq         INTEGER PRIMARY KEY,
		id          TEXT NOT NULL,
		type        TEXT NOT NULL,
		timestamp   DATETIME NOT NULL,
		agent_id    TEXT,
		instance_id TEXT,
		campaign_id TEXT,
		proposal_id TEXT,
		operator_id TEXT,
		details     TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_instances_status ON agent_instances(status);
	CREATE INDEX IF NOT EXISTS idx_instances_campaign ON agent_instances(campaign_id);
	CREATE INDEX IF NOT EXISTS idx_instances_definition ON agent_instances(definition_id);
	CREATE INDEX IF NOT EXISTS idx_proposals_state ON proposals(state);
	CREATE INDEX IF NOT EXISTS idx_proposals_expires ON proposals(expires_at);
	CREATE INDEX IF NOT EXISTS idx_proposals_hold ON proposals(hold_id);
	CREATE INDEX IF NOT EXISTS idx_holds_state ON holds(state);
	CREATE INDEX IF NOT EXISTS idx_holds_agent ON holds(agent_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_agent ON audit_events(agent_id);
	CREATE INDEX IF NOT EXISTS idx_events_type ON audit_events(type);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Definitions ---

func (s *SQLiteStore) UpsertDefinition(d *AgentDefinition) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO agent_definitions
		(id, name, version, category, frame, risk_level, requires_approval, namespace, created_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, version=excluded.version, category=excluded.category,
			frame=excluded.frame, risk_level=excluded.risk_level,
			requires_approval=excluded.requires_approval, namespace=excluded.namespace,
			body=excluded.body`,
		d.ID, d.Name, d.Version, d.Category, d.Frame, d.RiskLevel,
		boolInt(d.RequiresApproval), d.Namespace, d.CreatedAt, string(body),
	)
	return err
}

func (s *SQLiteStore) GetDefinition(id string) (*AgentDefinition, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM agent_definitions WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d := &AgentDefinition{}
	if err := json.Unmarshal([]byte(body), d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDefinitions() ([]*AgentDefinition, error) {
	rows, err := s.db.Query(`SELECT body FROM agent_definitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AgentDefinition
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		d := &AgentDefinition{}
		if err := json.Unmarshal([]byte(body), d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Instances ---

func (s *SQLiteStore) InsertInstance(i *AgentInstance) error {
	scope, err := json.Marshal(i.Scope)
	if err != nil {
		return fmt.Errorf("failed to marshal scope: %w", err)
	}
	usage, err := json.Marshal(i.Usage)
	if err != nil {
		return fmt.Errorf("failed to marshal usage: %w", err)
	}
	chain, _ := json.Marshal(i.DelegationChain)
	metrics, _ := json.Marshal(i.Metrics)

	_, err = s.db.Exec(`INSERT INTO agent_instances
		(id, definition_id, campaign_id, parent_instance_id, status, scope, usage,
		 delegation_chain, metrics, frame, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.DefinitionID, nullStr(i.CampaignID), nullStr(i.ParentInstanceID),
		i.Status, string(scope), string(usage), string(chain), string(metrics),
		i.Frame, boolInt(i.Enabled), i.CreatedAt, i.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetInstance(id string) (*AgentInstance, error) {
	row := s.db.QueryRow(`SELECT id, definition_id, campaign_id, parent_instance_id,
		status, scope, usage, delegation_chain, metrics, frame, enabled, created_at, updated_at
		FROM agent_instances WHERE id = ?`, id)
	return scanInstance(row)
}

func (s *SQLiteStore) ListInstances(filter InstanceFilter) ([]*AgentInstance, error) {
	query := `SELECT id, definition_id, campaign_id, parent_instance_id,
		status, scope, usage, delegation_chain, metrics, frame, enabled, created_at, updated_at
		FROM agent_instances WHERE 1=1`
	var args []interface{}
	if filter.DefinitionID != "" {
		query += " AND definition_id = ?"
		args = append(args, filter.DefinitionID)
	}
	if filter.CampaignID != "" {
		query += " AND campaign_id = ?"
		args = append(args, filter.CampaignID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AgentInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateInstanceStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE agent_instances SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) UpdateInstanceUsage(id string, usage ResourceUsage) error {
	body, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("failed to marshal usage: %w", err)
	}
	_, err = s.db.Exec(`UPDATE agent_instances SET usage = ?, updated_at = ? WHERE id = ?`,
		string(body), time.Now().UTC(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (*AgentInstance, error) {
	i := &AgentInstance{}
	var campaign, parent, chain, metrics sql.NullString
	var scope, usage string
	var enabled int
	err := row.Scan(&i.ID, &i.DefinitionID, &campaign, &parent, &i.Status,
		&scope, &usage, &chain, &metrics, &i.Frame, &enabled, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	i.CampaignID = campaign.String
	i.ParentInstanceID = parent.String
	i.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(scope), &i.Scope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scope for %s: %w", i.ID, err)
	}
	if err := json.Unmarshal([]byte(usage), &i.Usage); err != nil {
		return nil, fmt.Errorf("failed to unmarshal usage for %s: %w", i.ID, err)
	}
	if chain.Valid && chain.String != "" && chain.String != "null" {
		_ = json.Unmarshal([]byte(chain.String), &i.DelegationChain)
	}
	if metrics.Valid && metrics.String != "" && metrics.String != "null" {
		_ = json.Unmarshal([]byte(metrics.String), &i.Metrics)
	}
	return i, nil
}

// --- Campaigns ---

func (s *SQLiteStore) UpsertCampaign(c *Campaign) error {
	_, err := s.db.Exec(`INSERT INTO campaigns
		(id, name, status, breaker_state, consecutive_failures, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, status=excluded.status,
			breaker_state=excluded.breaker_state,
			consecutive_failures=excluded.consecutive_failures`,
		c.ID, c.Name, c.Status, c.BreakerState, c.ConsecutiveFailures, c.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetCampaign(id string) (*Campaign, error) {
	c := &Campaign{}
	err := s.db.QueryRow(`SELECT id, name, status, breaker_state, consecutive_failures, created_at
		FROM campaigns WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Status, &c.BreakerState, &c.ConsecutiveFailures, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// --- Proposals ---

func (s *SQLiteStore) InsertProposal(p *Proposal) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal proposal: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO proposals
		(id, state, trigger_type, hold_id, created_at, expires_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.State, p.Justification.Trigger, nullStr(p.HoldID),
		p.CreatedAt, p.ExpiresAt, string(body),
	)
	return err
}

func (s *SQLiteStore) GetProposal(id string) (*Proposal, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM proposals WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := &Proposal{}
	if err := json.Unmarshal([]byte(body), p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proposal %s: %w", id, err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProposals(filter ProposalFilter) ([]*Proposal, error) {
	query := `SELECT body FROM proposals WHERE 1=1`
	var args []interface{}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}
	if filter.Trigger != "" {
		query += " AND trigger_type = ?"
		args = append(args, filter.Trigger)
	}
	if filter.ExpiredAsOf != nil {
		query += " AND expires_at < ?"
		args = append(args, *filter.ExpiredAsOf)
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Proposal
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		p := &Proposal{}
		if err := json.Unmarshal([]byte(body), p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateProposal(p *Proposal) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal proposal: %w", err)
	}
	_, err = s.db.Exec(`UPDATE proposals SET state = ?, hold_id = ?, expires_at = ?, body = ? WHERE id = ?`,
		p.State, nullStr(p.HoldID), p.ExpiresAt, string(body), p.ID)
	return err
}

// --- Data sources ---

func (s *SQLiteStore) UpsertDataSource(src *DataSource) error {
	metadata, _ := json.Marshal(src.Metadata)
	_, err := s.db.Exec(`INSERT INTO data_sources
		(id, name, type, url, auth, discovered, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, type=excluded.type, url=excluded.url,
			auth=excluded.auth, metadata=excluded.metadata`,
		src.ID, src.Name, src.Type, nullStr(src.URL), nullStr(src.Auth),
		src.Discovered, string(metadata),
	)
	return err
}

func (s *SQLiteStore) GetDataSource(id string) (*DataSource, error) {
	src := &DataSource{}
	var url, auth, metadata sql.NullString
	err := s.db.QueryRow(`SELECT id, name, type, url, auth, discovered, metadata
		FROM data_sources WHERE id = ?`, id).
		Scan(&src.ID, &src.Name, &src.Type, &url, &auth, &src.Discovered, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	src.URL = url.String
	src.Auth = auth.String
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		_ = json.Unmarshal([]byte(metadata.String), &src.Metadata)
	}
	return src, nil
}

// --- Holds ---

func (s *SQLiteStore) InsertHold(h *Hold) error {
	args, _ := json.Marshal(h.Arguments)
	metadata, _ := json.Marshal(h.Metadata)
	_, err := s.db.Exec(`INSERT INTO holds
		(id, agent_id, frame, tool, arguments, reason, severity, metadata, state, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.AgentID, h.Frame, nullStr(h.Tool), string(args), h.Reason,
		h.Severity, string(metadata), h.State, h.CreatedAt, nullTime(h.ExpiresAt),
	)
	return err
}

func (s *SQLiteStore) GetHold(id string) (*Hold, error) {
	row := s.db.QueryRow(`SELECT id, agent_id, frame, tool, arguments, reason, severity,
		metadata, state, created_at, expires_at, decided_by, decision_reason, decided_at,
		modified_frame, modified_arguments
		FROM holds WHERE id = ?`, id)
	return scanHold(row)
}

func (s *SQLiteStore) ListHolds(filter HoldFilter) ([]*Hold, error) {
	query := `SELECT id, agent_id, frame, tool, arguments, reason, severity,
		metadata, state, created_at, expires_at, decided_by, decision_reason, decided_at,
		modified_frame, modified_arguments
		FROM holds WHERE 1=1`
	var args []interface{}
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ResolveHold writes a hold's terminal state. The WHERE clause keeps the
// write idempotent at the storage level: only a pending row transitions.
func (s *SQLiteStore) ResolveHold(h *Hold) error {
	modArgs, _ := json.Marshal(h.ModifiedArguments)
	_, err := s.db.Exec(`UPDATE holds SET state = ?, decided_by = ?, decision_reason = ?,
		decided_at = ?, modified_frame = ?, modified_arguments = ?
		WHERE id = ? AND state = 'pending'`,
		h.State, nullStr(h.DecidedBy), nullStr(h.DecisionReason), nullTime(h.DecidedAt),
		nullStr(h.ModifiedFrame), string(modArgs), h.ID,
	)
	return err
}

func scanHold(row rowScanner) (*Hold, error) {
	h := &Hold{}
	var tool, args, metadata, decidedBy, decisionReason, modFrame, modArgs sql.NullString
	var expiresAt, decidedAt sql.NullTime
	err := row.Scan(&h.ID, &h.AgentID, &h.Frame, &tool, &args, &h.Reason, &h.Severity,
		&metadata, &h.State, &h.CreatedAt, &expiresAt, &decidedBy, &decisionReason,
		&decidedAt, &modFrame, &modArgs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h.Tool = tool.String
	h.DecidedBy = decidedBy.String
	h.DecisionReason = decisionReason.String
	h.ModifiedFrame = modFrame.String
	if expiresAt.Valid {
		t := expiresAt.Time
		h.ExpiresAt = &t
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		h.DecidedAt = &t
	}
	for dst, src := range map[*map[string]interface{}]sql.NullString{
		&h.Arguments: args, &h.Metadata: metadata, &h.ModifiedArguments: modArgs,
	} {
		if src.Valid && src.String != "" && src.String != "null" {
			_ = json.Unmarshal([]byte(src.String), dst)
		}
	}
	return h, nil
}

// --- Audit events ---

func (s *SQLiteStore) AppendEvent(e *AuditEvent) error {
	details, _ := json.Marshal(e.Details)
	_, err := s.db.Exec(`INSERT INTO audit_events
		(seq, id, type, timestamp, agent_id, instance_id, campaign_id, proposal_id, operator_id, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.ID, e.Type, e.Timestamp, nullStr(e.AgentID), nullStr(e.InstanceID),
		nullStr(e.CampaignID), nullStr(e.ProposalID), nullStr(e.OperatorID), string(details),
	)
	return err
}

func (s *SQLiteStore) ListEvents(filter EventFilter) ([]*AuditEvent, error) {
	query := `SELECT seq, id, type, timestamp, agent_id, instance_id, campaign_id,
		proposal_id, operator_id, details FROM audit_events WHERE 1=1`
	var args []interface{}
	conds := []struct {
		clause string
		value  string
	}{
		{"agent_id = ?", filter.AgentID},
		{"instance_id = ?", filter.InstanceID},
		{"campaign_id = ?", filter.CampaignID},
		{"type = ?", filter.Type},
	}
	for _, c := range conds {
		if c.value != "" {
			query += " AND " + c.clause
			args = append(args, c.value)
		}
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += " AND timestamp <= ?"
		args = append(args, *filter.Until)
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditEvent
	for rows.Next() {
		e := &AuditEvent{}
		var agent, instance, campaign, proposal, operator, details sql.NullString
		if err := rows.Scan(&e.Seq, &e.ID, &e.Type, &e.Timestamp, &agent, &instance,
			&campaign, &proposal, &operator, &details); err != nil {
			return nil, err
		}
		e.AgentID = agent.String
		e.InstanceID = instance.String
		e.CampaignID = campaign.String
		e.ProposalID = proposal.String
		e.OperatorID = operator.String
		if details.Valid && details.String != "" && details.String != "null" {
			_ = json.Unmarshal([]byte(details.String), &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MaxEventSeq() (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(seq) FROM audit_events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// --- Metrics ---

func (s *SQLiteStore) SystemStats() (*SystemStats, error) {
	stats := &SystemStats{}
	queries := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM agent_definitions`, &stats.Definitions},
		{`SELECT COUNT(*) FROM agent_instances`, &stats.Instances},
		{`SELECT COUNT(*) FROM agent_instances WHERE status = 'running'`, &stats.RunningInstances},
		{`SELECT COUNT(*) FROM proposals WHERE state = 'pending'`, &stats.PendingProposals},
		{`SELECT COUNT(*) FROM holds WHERE state = 'pending'`, &stats.PendingHolds},
		{`SELECT COUNT(*) FROM audit_events`, &stats.AuditEvents},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("stats query failed: %w", err)
		}
	}
	return stats, nil
}

// --- helpers ---

func nullStr(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
