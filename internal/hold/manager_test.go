package hold

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

type holdFixture struct {
	mgr   *Manager
	clock time.Time
}

func newHoldFixture(t *testing.T) *holdFixture {
	t.Helper()
	f := &holdFixture{
		mgr:   NewManager(nil, nil, nil, DefaultConfig(), nil),
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.mgr.now = func() time.Time { return f.clock }
	return f
}

func (f *holdFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *holdFixture) create(agentID, frame, tool string) *store.Hold {
	return f.mgr.Create(CreateInput{
		AgentID:  agentID,
		Frame:    frame,
		Tool:     tool,
		Reason:   "elevated risk",
		Severity: SeverityHigh,
	})
}

func TestCreateAssignsIDAndDefaults(t *testing.T) {
	f := newHoldFixture(t)
	h := f.mgr.Create(CreateInput{AgentID: "agent.a", Frame: "⊕◊▶", Tool: "transfer"})

	assert.Regexp(t, "^hold_", h.ID)
	assert.Equal(t, StatePending, h.State)
	assert.Equal(t, SeverityMedium, h.Severity)
	require.NotNil(t, h.ExpiresAt)
	assert.Equal(t, f.clock.Add(24*time.Hour), *h.ExpiresAt)
}

func TestApproveIsTerminal(t *testing.T) {
	f := newHoldFixture(t)
	h := f.create("agent.a", "⊕◊▶", "transfer")

	d := f.mgr.Approve(h.ID, "operator.1", "looks fine", nil)
	require.NotNil(t, d)
	assert.Equal(t, StateApproved, d.State)
	assert.Equal(t, "operator.1", d.DecidedBy)

	// A second terminal transition is rejected regardless of direction.
	assert.Nil(t, f.mgr.Approve(h.ID, "operator.2", "again", nil))
	assert.Nil(t, f.mgr.Reject(h.ID, "operator.2", "too late"))

	got := f.mgr.Get(h.ID)
	require.NotNil(t, got)
	assert.Equal(t, StateApproved, got.State)
	assert.Equal(t, "operator.1", got.DecidedBy)
}

func TestApproveWithOverrides(t *testing.T) {
	f := newHoldFixture(t)
	h := f.create("agent.a", "⊕◊▶", "transfer")

	d := f.mgr.Approve(h.ID, "operator.1", "narrowed scope", &Overrides{
		Frame:     "⊕◊⛔▶",
		Arguments: map[string]interface{}{"amount": 10},
	})
	require.NotNil(t, d)
	assert.Equal(t, "⊕◊⛔▶", d.ModifiedFrame)

	got := f.mgr.Get(h.ID)
	assert.Equal(t, "⊕◊⛔▶", got.ModifiedFrame)
	assert.Equal(t, map[string]interface{}{"amount": 10}, got.ModifiedArguments)
}

func TestRejectUnknownHold(t *testing.T) {
	f := newHoldFixture(t)
	assert.Nil(t, f.mgr.Reject("hold_missing", "operator.1", "no such hold"))
}

func TestConcurrentResolveAtMostOnce(t *testing.T) {
	f := newHoldFixture(t)
	h := f.create("agent.a", "⊕◊▶", "transfer")

	var wg sync.WaitGroup
	decisions := make(chan *Decision, 16)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			decisions <- f.mgr.Approve(h.ID, "racer", "", nil)
		}()
		go func() {
			defer wg.Done()
			decisions <- f.mgr.Reject(h.ID, "racer", "")
		}()
	}
	wg.Wait()
	close(decisions)

	var won int
	for d := range decisions {
		if d != nil {
			won++
		}
	}
	assert.Equal(t, 1, won)
}

func TestDedupeWindowSharesHold(t *testing.T) {
	f := newHoldFixture(t)
	first := f.create("agent.a", "⊕◊▶", "transfer")
	second := f.create("agent.a", "⊕◊▶", "transfer")
	assert.Equal(t, first.ID, second.ID)

	// Different arguments are a different request.
	third := f.mgr.Create(CreateInput{
		AgentID:   "agent.a",
		Frame:     "⊕◊▶",
		Tool:      "transfer",
		Arguments: map[string]interface{}{"amount": 5},
	})
	assert.NotEqual(t, first.ID, third.ID)

	// Outside the window the fingerprint no longer matches.
	f.advance(11 * time.Second)
	fourth := f.create("agent.a", "⊕◊▶", "transfer")
	assert.NotEqual(t, first.ID, fourth.ID)
}

func TestSweepExpiresOverdueHolds(t *testing.T) {
	f := newHoldFixture(t)
	h := f.create("agent.a", "⊕◊▶", "transfer")
	fresh := f.mgr.Create(CreateInput{AgentID: "agent.b", Frame: "⊘◇▼", Tool: "search"})

	f.advance(25 * time.Hour)
	// fresh was created at the same instant, so it is overdue too; give
	// it a later deadline to keep it alive.
	later := f.clock.Add(time.Hour)
	f.mgr.mu.Lock()
	f.mgr.pending[fresh.ID].ExpiresAt = &later
	f.mgr.mu.Unlock()

	assert.Equal(t, 1, f.mgr.Sweep(f.clock))
	assert.Equal(t, StateExpired, f.mgr.Get(h.ID).State)
	assert.Equal(t, StatePending, f.mgr.Get(fresh.ID).State)

	// Sweeping again with the same clock is a no-op.
	assert.Equal(t, 0, f.mgr.Sweep(f.clock))

	// An expired hold cannot be approved.
	assert.Nil(t, f.mgr.Approve(h.ID, "operator.1", "too late", nil))
}

func TestListPendingFiltersAndOrders(t *testing.T) {
	f := newHoldFixture(t)
	a := f.create("agent.a", "⊕◊▶", "transfer")
	f.advance(time.Second)
	b := f.create("agent.b", "⊘◇▼", "search")
	f.advance(time.Second)
	c := f.create("agent.a", "⊙◈◉", "create")

	all := f.mgr.ListPending("")
	require.Len(t, all, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	forA := f.mgr.ListPending("agent.a")
	require.Len(t, forA, 2)
	assert.Equal(t, a.ID, forA[0].ID)
	assert.Equal(t, c.ID, forA[1].ID)
}

func TestStatsCountsByState(t *testing.T) {
	f := newHoldFixture(t)
	a := f.create("agent.a", "⊕◊▶", "transfer")
	b := f.create("agent.b", "⊘◇▼", "search")
	f.create("agent.c", "⊙◈◉", "create")

	f.mgr.Approve(a.ID, "op", "", nil)
	f.mgr.Reject(b.ID, "op", "")

	stats := f.mgr.Stats()
	assert.Equal(t, Stats{Pending: 1, Approved: 1, Rejected: 1}, stats)
}

func TestStoreWriteThrough(t *testing.T) {
	path := t.TempDir() + "/holds.db"
	st, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	defer func() { _ = st.Close() }()

	mgr := NewManager(st, nil, nil, DefaultConfig(), nil)
	h := mgr.Create(CreateInput{AgentID: "agent.a", Frame: "⊕◊▶", Tool: "transfer", Reason: "risk"})
	require.NotNil(t, mgr.Approve(h.ID, "operator.1", "ok", nil))

	// A fresh manager against the same store sees the resolved hold.
	fresh := NewManager(st, nil, nil, DefaultConfig(), nil)
	got := fresh.Get(h.ID)
	require.NotNil(t, got)
	assert.Equal(t, StateApproved, got.State)
	assert.Equal(t, "operator.1", got.DecidedBy)
}

func TestLoadRehydratesPendingHolds(t *testing.T) {
	path := t.TempDir() + "/holds.db"
	st, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	defer func() { _ = st.Close() }()

	mgr := NewManager(st, nil, nil, DefaultConfig(), nil)
	h := mgr.Create(CreateInput{AgentID: "agent.a", Frame: "⊕◊▶", Tool: "transfer", Reason: "risk"})

	// A fresh process can resolve holds it did not create.
	fresh := NewManager(st, nil, nil, DefaultConfig(), nil)
	require.Nil(t, fresh.Reject(h.ID, "operator.1", "no"), "unloaded manager must not resolve")
	require.NoError(t, fresh.Load())
	assert.Len(t, fresh.ListPending(""), 1)

	d := fresh.Approve(h.ID, "operator.1", "ok", nil)
	require.NotNil(t, d)
	assert.Equal(t, StateApproved, d.State)
}
