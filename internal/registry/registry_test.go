package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

type regFixture struct {
	reg   *Registry
	clock time.Time
}

func newRegFixture(t *testing.T) *regFixture {
	t.Helper()
	f := &regFixture{
		reg:   New(nil, nil, DefaultConfig(), nil),
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.reg.now = func() time.Time { return f.clock }
	return f
}

func (f *regFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func scraperDefinition() *store.AgentDefinition {
	return &store.AgentDefinition{
		ID:                   "agent.scraper.news",
		Name:                 "News Scraper",
		Version:              "1.0.0",
		Category:             "data_acquisition",
		RequiredCapabilities: []string{"web_scraping", "symbol_creation"},
		OutputPatterns:       []string{"Ξ.raw.news.*"},
		Namespace:            "news",
		Frame:                "⊕◇▼",
		ResourceLimits: store.ResourceLimits{
			RateLimitPerMinute: 3,
			TokenBudget:        1000,
			TimeoutMs:          60_000,
			MaxSymbolsCreated:  5,
		},
	}
}

func (f *regFixture) mustSpawn(t *testing.T, in SpawnInput) *store.AgentInstance {
	t.Helper()
	inst, err := f.reg.Spawn(in)
	require.NoError(t, err)
	return inst
}

func TestRegisterDefinitionValidation(t *testing.T) {
	f := newRegFixture(t)

	require.NoError(t, f.reg.RegisterDefinition(scraperDefinition()))

	// Same id and version is a conflict; definitions are immutable.
	err := f.reg.RegisterDefinition(scraperDefinition())
	assert.ErrorContains(t, err, "already registered")

	// A new version of the same id is fine.
	v2 := scraperDefinition()
	v2.Version = "1.1.0"
	assert.NoError(t, f.reg.RegisterDefinition(v2))

	bad := scraperDefinition()
	bad.ID = "scraper.news"
	assert.ErrorContains(t, f.reg.RegisterDefinition(bad), "prefixed")
}

func TestSpawnBuildsScope(t *testing.T) {
	f := newRegFixture(t)
	require.NoError(t, f.reg.RegisterDefinition(scraperDefinition()))

	inst := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news"})

	assert.Regexp(t, "^inst_", inst.ID)
	assert.Equal(t, StatusSpawning, inst.Status)
	assert.Equal(t, "⊕◇▼", inst.Frame)
	assert.Contains(t, inst.Scope.AllowedSymbolPatterns, "Ξ.raw.news.*")
	assert.Contains(t, inst.Scope.AllowedSymbolPatterns, "Ξ.*.news.*")
	assert.ElementsMatch(t,
		[]string{"WebFetch", "mcp__MCP_DOCKER__browser_*", "mcp__promptspeak__define_symbol"},
		inst.Scope.AllowedTools)
	assert.Equal(t, 3, inst.Scope.MaxDelegationDepth)
}

func TestChildScopeNarrowedToParent(t *testing.T) {
	f := newRegFixture(t)
	require.NoError(t, f.reg.RegisterDefinition(scraperDefinition()))

	parent := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news"})

	// Constrain the parent so the narrowing is observable.
	f.reg.mu.Lock()
	ps := f.reg.instances[parent.ID]
	ps.inst.Scope.AllowedSymbolPatterns = []string{"Ξ.raw.news.*"}
	ps.inst.Scope.DeniedTools = []string{"Bash"}
	f.reg.mu.Unlock()

	child := f.mustSpawn(t, SpawnInput{
		DefinitionID:     "agent.scraper.news",
		ParentInstanceID: parent.ID,
	})

	// "Ξ.*.news.*" is not covered by the parent's allowance and drops
	// out; the output pattern survives because the parent holds it too.
	assert.Equal(t, []string{"Ξ.raw.news.*"}, child.Scope.AllowedSymbolPatterns)
	assert.Contains(t, child.Scope.DeniedTools, "Bash")
	assert.Equal(t, []string{parent.ID}, child.DelegationChain)
}

func TestDelegationDepthLimit(t *testing.T) {
	f := newRegFixture(t)
	require.NoError(t, f.reg.RegisterDefinition(scraperDefinition()))

	a := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news"})
	b := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news", ParentInstanceID: a.ID})
	c := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news", ParentInstanceID: b.ID})

	_, err := f.reg.Spawn(SpawnInput{DefinitionID: "agent.scraper.news", ParentInstanceID: c.ID})
	assert.ErrorContains(t, err, "delegation depth limit exceeded")
}

func TestLifecycleTransitions(t *testing.T) {
	f := newRegFixture(t)
	require.NoError(t, f.reg.RegisterDefinition(scraperDefinition()))
	inst := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news"})

	require.NoError(t, f.reg.Transition(inst.ID, StatusRunning))
	require.NoError(t, f.reg.Transition(inst.ID, StatusPaused))
	require.NoError(t, f.reg.Transition(inst.ID, StatusRunning))
	require.NoError(t, f.reg.Transition(inst.ID, StatusReporting))

	// Reporting cannot go back to running.
	assert.ErrorContains(t, f.reg.Transition(inst.ID, StatusRunning), "invalid transition")

	require.NoError(t, f.reg.Transition(inst.ID, StatusCompleted))
	// Completion statuses are terminal except for archiving.
	assert.Error(t, f.reg.Transition(inst.ID, StatusRunning))
	require.NoError(t, f.reg.Transition(inst.ID, StatusArchived))
	assert.Error(t, f.reg.Transition(inst.ID, StatusCompleted))
}

func TestCampaignBreakerLifecycle(t *testing.T) {
	f := newRegFixture(t)
	require.NoError(t, f.reg.RegisterDefinition(scraperDefinition()))
	f.reg.EnsureCampaign("camp_news", "news ingestion")

	fail := func() {
		inst := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news", CampaignID: "camp_news"})
		require.NoError(t, f.reg.Transition(inst.ID, StatusRunning))
		require.NoError(t, f.reg.Transition(inst.ID, StatusFailed))
	}

	fail()
	fail()
	assert.Equal(t, CampaignClosed, f.reg.Campaign("camp_news").BreakerState)
	fail()
	assert.Equal(t, CampaignOpen, f.reg.Campaign("camp_news").BreakerState)

	// While open no instance may be spawned for the campaign.
	_, err := f.reg.Spawn(SpawnInput{DefinitionID: "agent.scraper.news", CampaignID: "camp_news"})
	assert.ErrorContains(t, err, "breaker is open")

	// Half-open admits one probe; success closes the breaker.
	require.NoError(t, f.reg.HalfOpenCampaign("camp_news"))
	probe := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news", CampaignID: "camp_news"})
	require.NoError(t, f.reg.Transition(probe.ID, StatusRunning))
	require.NoError(t, f.reg.Transition(probe.ID, StatusCompleted))
	camp := f.reg.Campaign("camp_news")
	assert.Equal(t, CampaignClosed, camp.BreakerState)
	assert.Equal(t, 0, camp.ConsecutiveFailures)
}

func TestQuotaRateWindow(t *testing.T) {
	f := newRegFixture(t)
	require.NoError(t, f.reg.RegisterDefinition(scraperDefinition()))
	inst := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news"})

	for i := 0; i < 3; i++ {
		res := f.reg.CheckQuota(inst.ID, ResourceRate, 1)
		require.True(t, res.Allowed, "operation %d should pass", i)
		require.NoError(t, f.reg.RecordUsage(inst.ID, store.ResourceUsage{}))
	}

	res := f.reg.CheckQuota(inst.ID, ResourceRate, 1)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Equal(t, "rate limit exceeded", res.Reason)

	// The window rolls: a minute later the slots are free again.
	f.advance(61 * time.Second)
	res = f.reg.CheckQuota(inst.ID, ResourceRate, 1)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(2), res.Remaining)
}

func TestQuotaCumulativeBudgets(t *testing.T) {
	f := newRegFixture(t)
	require.NoError(t, f.reg.RegisterDefinition(scraperDefinition()))
	inst := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news"})

	require.NoError(t, f.reg.RecordUsage(inst.ID, store.ResourceUsage{TokensUsed: 900, SymbolsCreated: 5}))

	res := f.reg.CheckQuota(inst.ID, ResourceTokens, 50)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(50), res.Remaining)

	res = f.reg.CheckQuota(inst.ID, ResourceTokens, 200)
	assert.False(t, res.Allowed)
	assert.Equal(t, "token budget exhausted", res.Reason)

	res = f.reg.CheckQuota(inst.ID, ResourceSymbols, 1)
	assert.False(t, res.Allowed)
	assert.Equal(t, "symbol creation limit reached", res.Reason)

	// Unlimited resources always pass.
	unlimited := scraperDefinition()
	unlimited.ID = "agent.scraper.free"
	unlimited.ResourceLimits = store.ResourceLimits{}
	require.NoError(t, f.reg.RegisterDefinition(unlimited))
	free := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.free"})
	res = f.reg.CheckQuota(free.ID, ResourceTokens, 1_000_000)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(-1), res.Remaining)
}

func TestQuotaUnknownInstanceAndResource(t *testing.T) {
	f := newRegFixture(t)
	assert.False(t, f.reg.CheckQuota("inst_missing", ResourceTokens, 1).Allowed)

	require.NoError(t, f.reg.RegisterDefinition(scraperDefinition()))
	inst := f.mustSpawn(t, SpawnInput{DefinitionID: "agent.scraper.news"})
	res := f.reg.CheckQuota(inst.ID, "diskBytes", 1)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "unknown resource")
}

func TestLoadRehydratesFromStore(t *testing.T) {
	path := t.TempDir() + "/registry.db"
	st, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	defer func() { _ = st.Close() }()

	first := New(st, nil, DefaultConfig(), nil)
	require.NoError(t, first.RegisterDefinition(scraperDefinition()))
	inst, err := first.Spawn(SpawnInput{DefinitionID: "agent.scraper.news"})
	require.NoError(t, err)
	require.NoError(t, first.Transition(inst.ID, StatusRunning))

	second := New(st, nil, DefaultConfig(), nil)
	require.NoError(t, second.Load())
	assert.NotNil(t, second.Definition("agent.scraper.news"))
	got := second.Instance(inst.ID)
	require.NotNil(t, got)
	assert.Equal(t, StatusRunning, got.Status)
}
