package graph

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/history"
	"github.com/p-blackswan/memgraph/internal/lru"
)

// Config holds graph identity and mutation policy.
type Config struct {
	ID      string
	Name    string
	Version string

	// RejectSelfLoops makes AddRelationship fail when from == to.
	RejectSelfLoops bool
	// RejectDuplicateEdges makes AddRelationship fail when an edge with the
	// same (from, to, type) already exists.
	RejectDuplicateEdges bool
	// DependencyCacheSize bounds the dependency-chain cache. Default 256.
	DependencyCacheSize int
}

const (
	defaultGraphName           = "memory-graph"
	defaultDependencyCacheSize = 256
)

type graphMeta struct {
	id        string
	name      string
	version   string
	createdAt time.Time
	updatedAt time.Time
}

// Info summarizes the graph identity and size.
type Info struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Version           string    `json:"version"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	NodeCount         int       `json:"nodeCount"`
	RelationshipCount int       `json:"relationshipCount"`
	LastEventSeq      uint64    `json:"lastEventSeq"`
	DependencyCache   CacheInfo `json:"dependencyCache"`
}

// CacheInfo describes the dependency-chain cache.
type CacheInfo struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Engine owns the memory graph. All methods are safe for concurrent use.
//
// Stored nodes and relationships are never modified in place: updates
// replace the stored pointer, so a shallow copy of the maps is a consistent
// snapshot (see Batch).
type Engine struct {
	mu        sync.RWMutex
	cfg       Config
	meta      graphMeta
	nodes     map[string]*Node
	nodeOrder []string
	types     map[string]NodeType // type recorded at insertion
	rels      map[string]*Relationship
	relOrder  []string
	loadIssue []Issue // integrity faults found while loading a snapshot

	history *history.Log
	events  *dispatcher
	deps    *lru.Cache[string, []string]
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates an empty graph. A nil hist gets an unbounded in-memory log.
func New(cfg Config, hist *history.Log, logger zerolog.Logger) *Engine {
	logger = logger.With().Str("component", "graph").Logger()
	if hist == nil {
		hist = history.New(history.Config{}, logger)
	}
	size := cfg.DependencyCacheSize
	if size <= 0 {
		size = defaultDependencyCacheSize
	}

	e := &Engine{
		cfg:     cfg,
		nodes:   make(map[string]*Node),
		types:   make(map[string]NodeType),
		rels:    make(map[string]*Relationship),
		history: hist,
		events:  newDispatcher(logger),
		deps:    lru.New[string, []string](size),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}

	now := e.now()
	e.meta = graphMeta{
		id:        cfg.ID,
		name:      cfg.Name,
		version:   cfg.Version,
		createdAt: now,
		updatedAt: now,
	}
	if e.meta.id == "" {
		e.meta.id = uuid.NewString()
	}
	if e.meta.name == "" {
		e.meta.name = defaultGraphName
	}
	if e.meta.version == "" {
		e.meta.version = DefaultVersion
	}
	return e
}

// History returns the change log the engine appends to.
func (e *Engine) History() *history.Log { return e.history }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Subscribe registers fn for change events and returns its disposer.
// Handlers run on the mutating goroutine after the engine lock is released;
// they may read and mutate the graph.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	return e.events.subscribe(fn)
}

// Info returns the graph identity and counters.
func (e *Engine) Info() Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cache := e.deps.Stats()
	return Info{
		ID:                e.meta.id,
		Name:              e.meta.name,
		Version:           e.meta.version,
		CreatedAt:         e.meta.createdAt,
		UpdatedAt:         e.meta.updatedAt,
		NodeCount:         len(e.nodes),
		RelationshipCount: len(e.rels),
		LastEventSeq:      e.events.lastSeq(),
		DependencyCache: CacheInfo{
			Entries:   e.deps.Len(),
			Hits:      cache.Hits,
			Misses:    cache.Misses,
			Evictions: cache.Evictions,
		},
	}
}

// AddNode inserts n. An empty id is replaced by a generated uuid.
func (e *Engine) AddNode(n Node) (Node, error) {
	var stored Node
	err := e.mutate(func() ([]Event, history.Entry, error) {
		var ev Event
		var err error
		stored, ev, err = e.addNodeLocked(n)
		if err != nil {
			return nil, history.Entry{}, err
		}
		entry := history.Entry{
			Type:          history.EntryManualEdit,
			Content:       fmt.Sprintf("added %s %q", stored.Type, stored.Name),
			ResultNodeIDs: []string{stored.ID},
		}
		return []Event{ev}, entry, nil
	})
	if err != nil {
		return Node{}, err
	}
	return stored, nil
}

// GetNode returns a copy of the node with id.
func (e *Engine) GetNode(id string) (Node, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}

// UpdateNode merges u into the node with id and bumps its updatedAt.
func (e *Engine) UpdateNode(id string, u NodeUpdate) (Node, error) {
	var stored Node
	err := e.mutate(func() ([]Event, history.Entry, error) {
		var ev Event
		var err error
		stored, ev, err = e.updateNodeLocked(id, u)
		if err != nil {
			return nil, history.Entry{}, err
		}
		entry := history.Entry{
			Type:          history.EntryManualEdit,
			Content:       fmt.Sprintf("updated %s %q", stored.Type, stored.Name),
			ResultNodeIDs: []string{stored.ID},
		}
		return []Event{ev}, entry, nil
	})
	if err != nil {
		return Node{}, err
	}
	return stored, nil
}

// RemoveNode deletes the node and every relationship touching it.
func (e *Engine) RemoveNode(id string) error {
	return e.mutate(func() ([]Event, history.Entry, error) {
		removed, ev, err := e.removeNodeLocked(id)
		if err != nil {
			return nil, history.Entry{}, err
		}
		entry := history.Entry{
			Type:          history.EntryManualEdit,
			Content:       fmt.Sprintf("removed %s %q and %d relationships", removed.Type, removed.Name, len(ev.RelationshipIDs)),
			ResultNodeIDs: []string{id},
		}
		return []Event{ev}, entry, nil
	})
}

// AddRelationship links two existing nodes.
func (e *Engine) AddRelationship(fromID, toID string, relType RelationshipType, metadata map[string]any) (Relationship, error) {
	var stored Relationship
	err := e.mutate(func() ([]Event, history.Entry, error) {
		var ev Event
		var err error
		stored, ev, err = e.addRelationshipLocked(fromID, toID, relType, metadata)
		if err != nil {
			return nil, history.Entry{}, err
		}
		entry := history.Entry{
			Type:          history.EntryManualEdit,
			Content:       fmt.Sprintf("linked %s -%s-> %s", fromID, relType, toID),
			ResultNodeIDs: []string{fromID, toID},
		}
		return []Event{ev}, entry, nil
	})
	if err != nil {
		return Relationship{}, err
	}
	return stored, nil
}

// RemoveRelationship deletes the relationship with id.
func (e *Engine) RemoveRelationship(id string) error {
	return e.mutate(func() ([]Event, history.Entry, error) {
		removed, ev, err := e.removeRelationshipLocked(id)
		if err != nil {
			return nil, history.Entry{}, err
		}
		entry := history.Entry{
			Type:          history.EntryManualEdit,
			Content:       fmt.Sprintf("unlinked %s -%s-> %s", removed.FromNodeID, removed.Type, removed.ToNodeID),
			ResultNodeIDs: []string{removed.FromNodeID, removed.ToNodeID},
		}
		return []Event{ev}, entry, nil
	})
}

// mutate runs fn under the write lock. A failed fn leaves no trace; a
// successful one is committed and its events delivered after unlock.
func (e *Engine) mutate(fn func() ([]Event, history.Entry, error)) error {
	e.mu.Lock()
	events, entry, err := fn()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.commitLocked(entry, events)
	e.mu.Unlock()

	e.events.drain()
	return nil
}

func (e *Engine) commitLocked(entry history.Entry, events []Event) {
	e.meta.updatedAt = e.now()
	e.deps.Purge()
	if entry.Type != "" {
		e.history.AddEntry(entry)
	}
	e.events.enqueue(events...)
}

func (e *Engine) addNodeLocked(n Node) (Node, Event, error) {
	n = n.Clone()
	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, exists := e.nodes[n.ID]; exists {
		return Node{}, Event{}, merrors.NewDuplicateID("node", n.ID)
	}

	now := e.now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	} else {
		n.CreatedAt = n.CreatedAt.UTC()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	} else {
		n.UpdatedAt = n.UpdatedAt.UTC()
	}
	if n.UpdatedAt.Before(n.CreatedAt) {
		n.UpdatedAt = n.CreatedAt
	}
	n.applyDefaults()
	if err := n.Validate(); err != nil {
		return Node{}, Event{}, err
	}

	stored := n
	e.nodes[n.ID] = &stored
	e.nodeOrder = append(e.nodeOrder, n.ID)
	e.types[n.ID] = n.Type

	e.logger.Debug().Str("node_id", n.ID).Str("type", string(n.Type)).Msg("node added")
	return n.Clone(), Event{Kind: EventNodeAdded, NodeIDs: []string{n.ID}, At: now}, nil
}

func (e *Engine) updateNodeLocked(id string, u NodeUpdate) (Node, Event, error) {
	current, ok := e.nodes[id]
	if !ok {
		return Node{}, Event{}, merrors.NewNotFound("node", id)
	}
	updated, err := u.apply(*current)
	if err != nil {
		return Node{}, Event{}, err
	}

	now := e.now()
	updated.UpdatedAt = now
	if updated.UpdatedAt.Before(updated.CreatedAt) {
		updated.UpdatedAt = updated.CreatedAt
	}
	if updated.Version == "" {
		updated.Version = DefaultVersion
	}
	if err := updated.Validate(); err != nil {
		return Node{}, Event{}, err
	}

	e.nodes[id] = &updated
	return updated.Clone(), Event{Kind: EventNodeUpdated, NodeIDs: []string{id}, At: now}, nil
}

func (e *Engine) removeNodeLocked(id string) (Node, Event, error) {
	current, ok := e.nodes[id]
	if !ok {
		return Node{}, Event{}, merrors.NewNotFound("node", id)
	}

	var removedRels []string
	kept := e.relOrder[:0:0]
	for _, relID := range e.relOrder {
		r := e.rels[relID]
		if r != nil && r.Touches(id) {
			removedRels = append(removedRels, relID)
			delete(e.rels, relID)
			continue
		}
		kept = append(kept, relID)
	}
	e.relOrder = kept

	delete(e.nodes, id)
	delete(e.types, id)
	e.nodeOrder = removeID(e.nodeOrder, id)

	e.logger.Debug().Str("node_id", id).Int("relationships", len(removedRels)).Msg("node removed")
	ev := Event{Kind: EventNodeRemoved, NodeIDs: []string{id}, RelationshipIDs: removedRels, At: e.now()}
	return *current, ev, nil
}

func (e *Engine) addRelationshipLocked(fromID, toID string, relType RelationshipType, metadata map[string]any) (Relationship, Event, error) {
	if strings.TrimSpace(string(relType)) == "" {
		return Relationship{}, Event{}, merrors.NewValidation("type", "relationship type is required")
	}
	if _, ok := e.nodes[fromID]; !ok {
		return Relationship{}, Event{}, merrors.NewNotFound("node", fromID)
	}
	if _, ok := e.nodes[toID]; !ok {
		return Relationship{}, Event{}, merrors.NewNotFound("node", toID)
	}
	if fromID == toID && e.cfg.RejectSelfLoops {
		return Relationship{}, Event{}, merrors.NewValidation("toNodeId", "self-referencing relationships are not allowed")
	}
	if e.cfg.RejectDuplicateEdges {
		for _, relID := range e.relOrder {
			r := e.rels[relID]
			if r.FromNodeID == fromID && r.ToNodeID == toID && r.Type == relType {
				return Relationship{}, Event{}, merrors.NewDuplicateID("relationship", tripleKey(fromID, toID, relType))
			}
		}
	}

	now := e.now()
	r := Relationship{
		ID:         uuid.NewString(),
		FromNodeID: fromID,
		ToNodeID:   toID,
		Type:       relType,
		Metadata:   cloneMap(metadata),
		CreatedAt:  now,
	}
	stored := r
	e.rels[r.ID] = &stored
	e.relOrder = append(e.relOrder, r.ID)

	ev := Event{Kind: EventRelationshipAdded, NodeIDs: []string{fromID, toID}, RelationshipIDs: []string{r.ID}, At: now}
	return r.Clone(), ev, nil
}

func (e *Engine) removeRelationshipLocked(id string) (Relationship, Event, error) {
	current, ok := e.rels[id]
	if !ok {
		return Relationship{}, Event{}, merrors.NewNotFound("relationship", id)
	}
	delete(e.rels, id)
	e.relOrder = removeID(e.relOrder, id)

	ev := Event{
		Kind:            EventRelationshipRemoved,
		NodeIDs:         []string{current.FromNodeID, current.ToNodeID},
		RelationshipIDs: []string{id},
		At:              e.now(),
	}
	return *current, ev, nil
}

func tripleKey(fromID, toID string, relType RelationshipType) string {
	return fmt.Sprintf("%s-%s->%s", fromID, relType, toID)
}

// removeID returns ids without id, in a new slice.
func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
