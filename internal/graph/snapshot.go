package graph

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"lukechampine.com/blake3"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/history"
)

// FormatVersion is the snapshot layout version written by this package.
const FormatVersion = 1

// Snapshot is the serializable form of the whole graph.
type Snapshot struct {
	FormatVersion int            `json:"formatVersion"`
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Version       string         `json:"version"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
	Checksum      string         `json:"checksum,omitempty"`
}

// SnapshotStore persists snapshots outside the process.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s Snapshot) error
	LoadSnapshot(ctx context.Context, graphID string) (Snapshot, error)
}

// Checksum returns the blake3 hex digest of the canonical JSON encoding of
// nodes and relationships. encoding/json sorts map keys, so equal content
// hashes equally.
func Checksum(nodes []Node, rels []Relationship) (string, error) {
	h := blake3.New(32, nil)
	enc := json.NewEncoder(h)
	if err := enc.Encode(nodes); err != nil {
		return "", fmt.Errorf("encoding nodes: %w", err)
	}
	if err := enc.Encode(rels); err != nil {
		return "", fmt.Errorf("encoding relationships: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks the format version and, when present, the checksum.
func (s Snapshot) Verify() error {
	if s.FormatVersion > FormatVersion {
		return merrors.NewValidation("formatVersion", fmt.Sprintf("unsupported snapshot format %d", s.FormatVersion))
	}
	if s.Checksum == "" {
		return nil
	}
	sum, err := Checksum(s.Nodes, s.Relationships)
	if err != nil {
		return err
	}
	if sum != s.Checksum {
		return fmt.Errorf("%w: snapshot says %s, content hashes to %s", merrors.ErrChecksumMismatch, s.Checksum, sum)
	}
	return nil
}

// Snapshot captures the graph with a fresh checksum.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	s := Snapshot{
		FormatVersion: FormatVersion,
		ID:            e.meta.id,
		Name:          e.meta.name,
		Version:       e.meta.version,
		CreatedAt:     e.meta.createdAt,
		UpdatedAt:     e.meta.updatedAt,
		Nodes:         make([]Node, 0, len(e.nodeOrder)),
		Relationships: make([]Relationship, 0, len(e.relOrder)),
	}
	for _, id := range e.nodeOrder {
		s.Nodes = append(s.Nodes, e.nodes[id].Clone())
	}
	for _, id := range e.relOrder {
		s.Relationships = append(s.Relationships, e.rels[id].Clone())
	}
	e.mu.RUnlock()

	sum, err := Checksum(s.Nodes, s.Relationships)
	if err != nil {
		e.logger.Warn().Err(err).Msg("snapshot checksum failed")
	}
	s.Checksum = sum
	return s
}

// MarshalJSON encodes the graph as a Snapshot.
func (e *Engine) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Snapshot())
}

// ToJSON encodes the graph as indented snapshot JSON.
func (e *Engine) ToJSON() ([]byte, error) {
	return json.MarshalIndent(e.Snapshot(), "", "  ")
}

// FromSnapshot builds an engine holding s. Referential integrity is not
// checked; use ValidateGraph to inspect the result.
func FromSnapshot(s Snapshot, cfg Config, hist *history.Log, logger zerolog.Logger) (*Engine, error) {
	e := New(cfg, hist, logger)
	if err := e.Replace(s); err != nil {
		return nil, err
	}
	return e, nil
}

// DecodeSnapshot parses snapshot JSON. Metadata integers decode as int64
// rather than float64 so values above 2^53 re-encode unchanged and the
// checksum still matches.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, merrors.NewValidation("snapshot", fmt.Sprintf("invalid JSON: %v", err))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Snapshot{}, merrors.NewValidation("snapshot", "trailing data after snapshot")
	}
	for i := range s.Nodes {
		normalizeNumbers(s.Nodes[i].Metadata)
	}
	for i := range s.Relationships {
		normalizeNumbers(s.Relationships[i].Metadata)
	}
	return s, nil
}

func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeNumber(v)
	}
}

// normalizeNumber replaces json.Number with int64 or float64. Integers
// outside the int64 range stay json.Number, which encodes verbatim.
func normalizeNumber(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if strings.ContainsAny(string(val), ".eE") {
			if f, err := val.Float64(); err == nil {
				return f
			}
		}
		return val
	case map[string]any:
		normalizeNumbers(val)
	case []any:
		for i := range val {
			val[i] = normalizeNumber(val[i])
		}
	}
	return v
}

// Load decodes snapshot JSON into a new engine.
func Load(data []byte, cfg Config, hist *history.Log, logger zerolog.Logger) (*Engine, error) {
	s, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return FromSnapshot(s, cfg, hist, logger)
}

// Replace swaps the graph content for s and emits a graph_loaded event.
// Duplicate ids in s keep their first occurrence and are reported by
// ValidateGraph.
func (e *Engine) Replace(s Snapshot) error {
	if err := s.Verify(); err != nil {
		return err
	}

	nodes := make(map[string]*Node, len(s.Nodes))
	types := make(map[string]NodeType, len(s.Nodes))
	nodeOrder := make([]string, 0, len(s.Nodes))
	rels := make(map[string]*Relationship, len(s.Relationships))
	relOrder := make([]string, 0, len(s.Relationships))
	var issues []Issue

	for _, n := range s.Nodes {
		if _, dup := nodes[n.ID]; dup {
			issues = append(issues, Issue{Code: IssueDuplicateID, NodeID: n.ID, Message: fmt.Sprintf("snapshot contains node %q more than once", n.ID)})
			continue
		}
		stored := n.Clone()
		nodes[n.ID] = &stored
		types[n.ID] = n.Type
		nodeOrder = append(nodeOrder, n.ID)
	}
	for _, r := range s.Relationships {
		if _, dup := rels[r.ID]; dup {
			issues = append(issues, Issue{Code: IssueDuplicateID, RelationshipID: r.ID, Message: fmt.Sprintf("snapshot contains relationship %q more than once", r.ID)})
			continue
		}
		stored := r.Clone()
		rels[r.ID] = &stored
		relOrder = append(relOrder, r.ID)
	}

	e.mu.Lock()
	if s.ID != "" {
		e.meta.id = s.ID
	}
	if s.Name != "" {
		e.meta.name = s.Name
	}
	if s.Version != "" {
		e.meta.version = s.Version
	}
	if !s.CreatedAt.IsZero() {
		e.meta.createdAt = s.CreatedAt
	}
	e.meta.updatedAt = s.UpdatedAt
	if e.meta.updatedAt.IsZero() {
		e.meta.updatedAt = e.now()
	}
	e.nodes, e.types, e.nodeOrder = nodes, types, nodeOrder
	e.rels, e.relOrder = rels, relOrder
	e.loadIssue = issues
	e.deps.Purge()
	e.events.enqueue(Event{Kind: EventGraphLoaded, NodeIDs: append([]string(nil), nodeOrder...), At: e.now()})
	e.mu.Unlock()

	e.events.drain()
	e.logger.Info().Str("graph_id", s.ID).Int("nodes", len(nodeOrder)).Int("relationships", len(relOrder)).Msg("graph loaded")
	return nil
}

// Save hands the current snapshot to store.
func (e *Engine) Save(ctx context.Context, store SnapshotStore) error {
	s := e.Snapshot()
	if err := store.SaveSnapshot(ctx, s); err != nil {
		return fmt.Errorf("saving graph %s: %w", s.ID, err)
	}
	return nil
}

// Restore replaces the graph with the snapshot store holds for graphID.
func (e *Engine) Restore(ctx context.Context, store SnapshotStore, graphID string) error {
	s, err := store.LoadSnapshot(ctx, graphID)
	if err != nil {
		return fmt.Errorf("loading graph %s: %w", graphID, err)
	}
	return e.Replace(s)
}
