// Package history implements the append-only change log of the memory graph.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EntryType classifies what produced a history entry.
type EntryType string

const (
	EntryIntentApplied EntryType = "intent_applied"
	EntryManualEdit    EntryType = "manual_edit"
	EntryAnalysis      EntryType = "analysis"
	EntryAgentAction   EntryType = "agent_action"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryIntentApplied, EntryManualEdit, EntryAnalysis, EntryAgentAction:
		return true
	}
	return false
}

// Entry is an immutable record of a graph-affecting event.
type Entry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          EntryType `json:"entryType"`
	Content       string    `json:"content"`
	ResultNodeIDs []string  `json:"resultNodeIds"`
	Actor         string    `json:"actor,omitempty"`
}

// Sink receives a copy of every appended entry, e.g. to persist it.
type Sink interface {
	AppendHistory(entry Entry) error
}

// Config controls log retention.
type Config struct {
	// MaxEntries caps the number of retained entries. Oldest entries are
	// evicted first. Zero keeps everything.
	MaxEntries int
}

// Filter narrows Entries results.
type Filter struct {
	Type  EntryType
	Actor string
	Limit int
}

// Log is the append-only history. It is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	cfg     Config
	sink    Sink
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates an empty log.
func New(cfg Config, logger zerolog.Logger) *Log {
	capHint := 256
	if cfg.MaxEntries > 0 && cfg.MaxEntries < capHint {
		capHint = cfg.MaxEntries
	}
	return &Log{
		entries: make([]Entry, 0, capHint),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With().Str("component", "history").Logger(),
	}
}

// SetSink attaches a sink that receives every new entry.
func (l *Log) SetSink(s Sink) {
	l.mu.Lock()
	l.sink = s
	l.mu.Unlock()
}

// AddEntry appends entry and returns the stored copy. It never fails:
// a missing id or timestamp is filled in, and sink errors are only logged.
func (l *Log) AddEntry(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	if entry.Type == "" {
		entry.Type = EntryManualEdit
	}
	entry.ResultNodeIDs = cloneIDs(entry.ResultNodeIDs)

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if l.cfg.MaxEntries > 0 && len(l.entries) > l.cfg.MaxEntries {
		drop := len(l.entries) - l.cfg.MaxEntries
		// Copy down so the backing array does not grow without bound.
		n := copy(l.entries, l.entries[drop:])
		clear(l.entries[n:])
		l.entries = l.entries[:n]
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		if err := sink.AppendHistory(entry); err != nil {
			l.logger.Warn().Err(err).Str("entry_id", entry.ID).Msg("history sink append failed")
		}
	}

	l.logger.Debug().
		Str("entry_id", entry.ID).
		Str("type", string(entry.Type)).
		Int("nodes", len(entry.ResultNodeIDs)).
		Msg("history entry added")

	return entry
}

// GetRecentContext returns the last n entries in chronological order
// (the oldest of the n first). It does not modify the log.
func (l *Log) GetRecentContext(n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]Entry, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		e.ResultNodeIDs = cloneIDs(e.ResultNodeIDs)
		out = append(out, e)
	}
	return out
}

// Entries returns entries newest first, filtered by f.
func (l *Log) Entries(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = len(l.entries)
	}

	var result []Entry
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := l.entries[i]
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		e.ResultNodeIDs = cloneIDs(e.ResultNodeIDs)
		result = append(result, e)
	}
	return result
}

// Count returns the number of retained entries.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
