package audit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/store"
)

func TestRecordAssignsDenseSequence(t *testing.T) {
	l := New(nil, nil)

	first := l.Record(EventIntercept, Fields{AgentID: "agent.test"})
	second := l.Record(EventOutcomeRecorded, Fields{AgentID: "agent.test"})

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Contains(t, first.ID, "evt_")
}

func TestQueryFilters(t *testing.T) {
	l := New(nil, nil)
	l.Record(EventIntercept, Fields{AgentID: "agent.a"})
	l.Record(EventHoldCreated, Fields{AgentID: "agent.b"})
	l.Record(EventIntercept, Fields{AgentID: "agent.a"})

	events, err := l.Query(store.EventFilter{AgentID: "agent.a"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = l.Query(store.EventFilter{Type: EventHoldCreated})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "agent.b", events[0].AgentID)
}

// Total-order invariant: a reader that has seen event b has also seen
// every event with a smaller sequence number.
func TestConcurrentWritersKeepTotalOrder(t *testing.T) {
	l := New(nil, nil)

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				l.Record(EventIntercept, Fields{AgentID: "agent.load"})
			}
		}()
	}
	wg.Wait()

	events, err := l.Query(store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, writers*perWriter)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Seq+1, events[i].Seq, "gap at index %d", i)
	}
	assert.Equal(t, uint64(writers*perWriter), l.Seq())
}

func TestSequenceResumesFromStore(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(dir + "/audit.db")
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	defer st.Close()

	l := New(st, nil)
	l.Record(EventIntercept, Fields{AgentID: "agent.persist"})
	l.Record(EventIntercept, Fields{AgentID: "agent.persist"})

	// A fresh log over the same store continues the sequence.
	l2 := New(st, nil)
	e := l2.Record(EventIntercept, Fields{AgentID: "agent.persist"})
	assert.Equal(t, uint64(3), e.Seq)

	events, err := l2.Query(store.EventFilter{AgentID: "agent.persist"})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
