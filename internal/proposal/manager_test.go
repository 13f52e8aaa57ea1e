package proposal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/hold"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/registry"
	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

type propFixture struct {
	mgr   *Manager
	reg   *registry.Registry
	holds *hold.Manager
	clock time.Time
}

func newPropFixture(t *testing.T) *propFixture {
	t.Helper()
	f := &propFixture{
		reg:   registry.New(nil, nil, registry.DefaultConfig(), nil),
		holds: hold.NewManager(nil, nil, nil, hold.DefaultConfig(), nil),
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.mgr = NewManager(nil, f.reg, f.holds, nil, nil, DefaultConfig(), nil)
	f.mgr.now = func() time.Time { return f.clock }
	return f
}

func scrapingSource() *store.DataSource {
	return &store.DataSource{
		ID:         "src_nytimes-rss",
		Name:       "NYTimes RSS",
		Type:       "web_scraping",
		URL:        "https://rss.nytimes.com/services/xml/rss/nyt/World.xml",
		Auth:       "oauth2",
		Discovered: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Metadata:   map[string]string{"contains_pii": "true", "namespace": "news"},
	}
}

func fileFeedSource() *store.DataSource {
	return &store.DataSource{
		ID:   "src_daily-export",
		Name: "Daily Export",
		Type: "file_feed",
	}
}

func TestHighRiskProposalPendsBehindHold(t *testing.T) {
	f := newPropFixture(t)

	p, err := f.mgr.Generate(store.Justification{Trigger: "new_data_source", Reason: "new feed discovered"}, scrapingSource())
	require.NoError(t, err)

	assert.Equal(t, StatePending, p.State)
	assert.GreaterOrEqual(t, p.Risk.Score, 0.5)
	assert.Equal(t, ApprovalHuman, p.Risk.ApprovalLevel)
	assert.Equal(t, "agent.scraper.nytimes_rss", p.Definition.ID)

	// The linked hold carries the severity mapped from the risk score.
	require.NotEmpty(t, p.HoldID)
	h := f.holds.Get(p.HoldID)
	require.NotNil(t, h)
	assert.Equal(t, hold.SeverityMedium, h.Severity)
	assert.Equal(t, hold.StatePending, h.State)

	// No instance exists until a human decides.
	assert.Empty(t, f.reg.Instances(store.InstanceFilter{DefinitionID: p.Definition.ID}))
	assert.Same(t, p, f.mgr.ByHold(p.HoldID))
}

func TestLowRiskProposalAutoApprovesAndSpawns(t *testing.T) {
	f := newPropFixture(t)

	p, err := f.mgr.Generate(store.Justification{Trigger: "scheduled"}, fileFeedSource())
	require.NoError(t, err)

	assert.Equal(t, StateApproved, p.State)
	assert.Equal(t, ApprovalAuto, p.Risk.ApprovalLevel)
	// Auto-approval implies the score stayed under the review threshold.
	assert.Less(t, p.Risk.Score, humanThreshold)
	assert.False(t, p.Definition.RequiresApproval)
	require.NotNil(t, p.Decision)
	assert.Equal(t, "system", p.Decision.DecidedBy)
	assert.Empty(t, p.HoldID)

	insts := f.reg.Instances(store.InstanceFilter{DefinitionID: p.Definition.ID})
	require.Len(t, insts, 1)
	assert.Equal(t, registry.StatusSpawning, insts[0].Status)
}

func TestDeterministicAgentIDs(t *testing.T) {
	f := newPropFixture(t)

	first, err := f.mgr.Generate(store.Justification{Trigger: "new_data_source"}, scrapingSource())
	require.NoError(t, err)
	second, err := f.mgr.Generate(store.Justification{Trigger: "user_request"}, scrapingSource())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Definition.ID, second.Definition.ID)
}

func TestUnknownSourceType(t *testing.T) {
	f := newPropFixture(t)
	_, err := f.mgr.Generate(store.Justification{}, &store.DataSource{ID: "src_x", Type: "carrier_pigeon"})
	assert.ErrorContains(t, err, "no template")
}

func TestApproveSpawnsAndResolvesHold(t *testing.T) {
	f := newPropFixture(t)
	p, err := f.mgr.Generate(store.Justification{Trigger: "new_data_source"}, scrapingSource())
	require.NoError(t, err)

	limits := store.ResourceLimits{RateLimitPerMinute: 5, TokenBudget: 10_000, TimeoutMs: 60_000, MaxSymbolsCreated: 10}
	approved, err := f.mgr.Approve(p.ID, "operator.1", "tightened limits", &Modifications{ResourceLimits: &limits})
	require.NoError(t, err)

	assert.Equal(t, StateApproved, approved.State)
	assert.True(t, approved.Decision.Modified)
	assert.Equal(t, limits, approved.Definition.ResourceLimits)
	assert.Equal(t, hold.StateApproved, f.holds.Get(p.HoldID).State)

	insts := f.reg.Instances(store.InstanceFilter{DefinitionID: p.Definition.ID})
	require.Len(t, insts, 1)

	// A decided proposal cannot be decided again.
	_, err = f.mgr.Reject(p.ID, "operator.2", "changed my mind")
	assert.ErrorContains(t, err, "not pending")
}

func TestRejectResolvesHoldWithoutSpawn(t *testing.T) {
	f := newPropFixture(t)
	p, err := f.mgr.Generate(store.Justification{Trigger: "new_data_source"}, scrapingSource())
	require.NoError(t, err)

	rejected, err := f.mgr.Reject(p.ID, "operator.1", "source is untrusted")
	require.NoError(t, err)

	assert.Equal(t, StateRejected, rejected.State)
	assert.Equal(t, hold.StateRejected, f.holds.Get(p.HoldID).State)
	assert.Empty(t, f.reg.Instances(store.InstanceFilter{DefinitionID: p.Definition.ID}))
}

func TestExpireStale(t *testing.T) {
	f := newPropFixture(t)
	p, err := f.mgr.Generate(store.Justification{Trigger: "new_data_source"}, scrapingSource())
	require.NoError(t, err)

	f.clock = f.clock.Add(25 * time.Hour)
	assert.Equal(t, 1, f.mgr.ExpireStale(f.clock))
	assert.Equal(t, StateExpired, f.mgr.Get(p.ID).State)
	assert.Equal(t, 0, f.mgr.ExpireStale(f.clock))

	_, err = f.mgr.Approve(p.ID, "operator.1", "too late", nil)
	assert.ErrorContains(t, err, "not pending")
}

func TestRiskElevatedRouting(t *testing.T) {
	def := &store.AgentDefinition{
		RequiredCapabilities: []string{"web_scraping", "symbol_creation", "delegation_spawn", "database_access"},
		ResourceLimits: store.ResourceLimits{
			RateLimitPerMinute: 30,
			TokenBudget:        100_000,
			TimeoutMs:          300_000,
			MaxSymbolsCreated:  0,
		},
	}
	risk := assessRisk(def, scrapingSource())

	assert.GreaterOrEqual(t, risk.Score, elevatedThreshold)
	assert.Equal(t, ApprovalElevated, risk.ApprovalLevel)
	assert.NotEmpty(t, risk.Factors)
}

func TestSanitizeID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"src_nytimes-rss", "nytimes_rss"},
		{"SRC_Weird  Name!!", "weird_name"},
		{"plain", "plain"},
		{"trailing---", "trailing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeID(tt.in), tt.in)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := t.TempDir() + "/proposals.db"
	st, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	defer func() { _ = st.Close() }()

	mgr := NewManager(st, nil, nil, nil, nil, DefaultConfig(), nil)
	p, err := mgr.Generate(store.Justification{Trigger: "new_data_source", Reason: "feed"}, scrapingSource())
	require.NoError(t, err)

	// A fresh manager rehydrates the pending proposal from the store.
	fresh := NewManager(st, nil, nil, nil, nil, DefaultConfig(), nil)
	require.NoError(t, fresh.Load())
	got := fresh.Get(p.ID)
	require.NotNil(t, got)
	assert.Equal(t, StatePending, got.State)
	assert.Equal(t, p.Definition.ID, got.Definition.ID)
	assert.InDelta(t, p.Risk.Score, got.Risk.Score, 1e-9)
}
