package history

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	entries []Entry
	err     error
}

func (s *recordingSink) AppendHistory(e Entry) error {
	s.entries = append(s.entries, e)
	return s.err
}

func TestAddEntry_FillsDefaults(t *testing.T) {
	l := New(Config{}, zerolog.Nop())

	e := l.AddEntry(Entry{Content: "added node"})
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, EntryManualEdit, e.Type)
	assert.NotNil(t, e.ResultNodeIDs)
	assert.Equal(t, 1, l.Count())
}

func TestAddEntry_KeepsCallerValues(t *testing.T) {
	l := New(Config{}, zerolog.Nop())
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	e := l.AddEntry(Entry{
		ID:            "h-1",
		Timestamp:     ts,
		Type:          EntryIntentApplied,
		Content:       "create_feature",
		ResultNodeIDs: []string{"n1", "n2"},
		Actor:         "planner",
	})
	assert.Equal(t, "h-1", e.ID)
	assert.Equal(t, ts, e.Timestamp)
	assert.Equal(t, []string{"n1", "n2"}, e.ResultNodeIDs)
}

func TestGetRecentContext_ChronologicalOrder(t *testing.T) {
	l := New(Config{}, zerolog.Nop())
	for i := 1; i <= 8; i++ {
		l.AddEntry(Entry{ID: fmt.Sprintf("e%d", i), Content: fmt.Sprintf("entry %d", i)})
	}

	recent := l.GetRecentContext(5)
	require.Len(t, recent, 5)

	ids := make([]string, len(recent))
	for i, e := range recent {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"e4", "e5", "e6", "e7", "e8"}, ids)

	// Reading does not consume entries.
	assert.Equal(t, 8, l.Count())
	assert.Len(t, l.GetRecentContext(5), 5)
}

func TestGetRecentContext_Bounds(t *testing.T) {
	l := New(Config{}, zerolog.Nop())
	assert.Empty(t, l.GetRecentContext(3))

	l.AddEntry(Entry{ID: "only"})
	assert.Len(t, l.GetRecentContext(10), 1)
	assert.Empty(t, l.GetRecentContext(0))
	assert.Empty(t, l.GetRecentContext(-1))
}

func TestGetRecentContext_ReturnsCopies(t *testing.T) {
	l := New(Config{}, zerolog.Nop())
	l.AddEntry(Entry{ID: "e1", ResultNodeIDs: []string{"n1"}})

	got := l.GetRecentContext(1)
	got[0].ResultNodeIDs[0] = "mutated"

	again := l.GetRecentContext(1)
	assert.Equal(t, "n1", again[0].ResultNodeIDs[0])
}

func TestMaxEntries_EvictsOldest(t *testing.T) {
	l := New(Config{MaxEntries: 3}, zerolog.Nop())
	for i := 1; i <= 5; i++ {
		l.AddEntry(Entry{ID: fmt.Sprintf("e%d", i)})
	}

	assert.Equal(t, 3, l.Count())
	recent := l.GetRecentContext(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "e3", recent[0].ID)
	assert.Equal(t, "e5", recent[2].ID)
}

func TestEntries_NewestFirstWithFilters(t *testing.T) {
	l := New(Config{}, zerolog.Nop())
	l.AddEntry(Entry{ID: "a", Type: EntryManualEdit})
	l.AddEntry(Entry{ID: "b", Type: EntryAgentAction, Actor: "planner"})
	l.AddEntry(Entry{ID: "c", Type: EntryAgentAction, Actor: "analyst"})
	l.AddEntry(Entry{ID: "d", Type: EntryIntentApplied})

	all := l.Entries(Filter{})
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].ID)

	agents := l.Entries(Filter{Type: EntryAgentAction})
	require.Len(t, agents, 2)
	assert.Equal(t, "c", agents[0].ID)

	planner := l.Entries(Filter{Actor: "planner"})
	require.Len(t, planner, 1)
	assert.Equal(t, "b", planner[0].ID)

	limited := l.Entries(Filter{Limit: 2})
	assert.Len(t, limited, 2)
}

func TestSink_ReceivesEntriesAndErrorsAreSwallowed(t *testing.T) {
	l := New(Config{}, zerolog.Nop())
	sink := &recordingSink{err: errors.New("disk full")}
	l.SetSink(sink)

	e := l.AddEntry(Entry{Content: "x"})
	require.Len(t, sink.entries, 1)
	assert.Equal(t, e.ID, sink.entries[0].ID)
	assert.Equal(t, 1, l.Count())
}

func TestEntryType_Valid(t *testing.T) {
	assert.True(t, EntryAnalysis.Valid())
	assert.True(t, EntryAgentAction.Valid())
	assert.False(t, EntryType("deleted").Valid())
}
