package graph

import (
	"github.com/p-blackswan/memgraph/internal/history"
)

// Batch applies a group of mutations under one engine lock. It is only
// valid inside the function passed to Engine.Batch.
type Batch struct {
	e       *Engine
	events  []Event
	touched []string
	seen    map[string]bool
}

type engineState struct {
	meta      graphMeta
	nodes     map[string]*Node
	nodeOrder []string
	types     map[string]NodeType
	rels      map[string]*Relationship
	relOrder  []string
}

// Batch runs fn as a single all-or-nothing change. If fn returns an error
// or panics, every step is rolled back and neither history nor events are
// produced. On success one history entry is appended (entry.ResultNodeIDs
// defaults to the nodes the batch added or updated) and the step events
// are delivered in order. A batch that changes nothing records nothing.
func (e *Engine) Batch(entry history.Entry, fn func(b *Batch) error) (err error) {
	e.mu.Lock()
	saved := e.saveLocked()
	b := &Batch{e: e, seen: make(map[string]bool)}

	done := false
	defer func() {
		if done {
			return
		}
		e.restoreLocked(saved)
		e.mu.Unlock()
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	if err := fn(b); err != nil {
		return err
	}

	done = true
	if len(b.events) == 0 {
		e.mu.Unlock()
		return nil
	}
	if entry.ResultNodeIDs == nil {
		entry.ResultNodeIDs = b.touched
	}
	e.commitLocked(entry, b.events)
	e.mu.Unlock()

	e.events.drain()
	return nil
}

func (e *Engine) saveLocked() engineState {
	s := engineState{
		meta:      e.meta,
		nodes:     make(map[string]*Node, len(e.nodes)),
		nodeOrder: append([]string(nil), e.nodeOrder...),
		types:     make(map[string]NodeType, len(e.types)),
		rels:      make(map[string]*Relationship, len(e.rels)),
		relOrder:  append([]string(nil), e.relOrder...),
	}
	for k, v := range e.nodes {
		s.nodes[k] = v
	}
	for k, v := range e.types {
		s.types[k] = v
	}
	for k, v := range e.rels {
		s.rels[k] = v
	}
	return s
}

func (e *Engine) restoreLocked(s engineState) {
	e.meta = s.meta
	e.nodes = s.nodes
	e.nodeOrder = s.nodeOrder
	e.types = s.types
	e.rels = s.rels
	e.relOrder = s.relOrder
}

func (b *Batch) touch(id string) {
	if !b.seen[id] {
		b.seen[id] = true
		b.touched = append(b.touched, id)
	}
}

// AddNode adds a node as part of the batch.
func (b *Batch) AddNode(n Node) (Node, error) {
	stored, ev, err := b.e.addNodeLocked(n)
	if err != nil {
		return Node{}, err
	}
	b.events = append(b.events, ev)
	b.touch(stored.ID)
	return stored, nil
}

// UpdateNode updates a node as part of the batch.
func (b *Batch) UpdateNode(id string, u NodeUpdate) (Node, error) {
	stored, ev, err := b.e.updateNodeLocked(id, u)
	if err != nil {
		return Node{}, err
	}
	b.events = append(b.events, ev)
	b.touch(stored.ID)
	return stored, nil
}

// RemoveNode removes a node and its relationships as part of the batch.
func (b *Batch) RemoveNode(id string) error {
	_, ev, err := b.e.removeNodeLocked(id)
	if err != nil {
		return err
	}
	b.events = append(b.events, ev)
	return nil
}

// AddRelationship links two nodes as part of the batch. Nodes added
// earlier in the same batch are visible.
func (b *Batch) AddRelationship(fromID, toID string, relType RelationshipType, metadata map[string]any) (Relationship, error) {
	r, ev, err := b.e.addRelationshipLocked(fromID, toID, relType, metadata)
	if err != nil {
		return Relationship{}, err
	}
	b.events = append(b.events, ev)
	return r, nil
}

// RemoveRelationship removes a relationship as part of the batch.
func (b *Batch) RemoveRelationship(id string) error {
	_, ev, err := b.e.removeRelationshipLocked(id)
	if err != nil {
		return err
	}
	b.events = append(b.events, ev)
	return nil
}

// GetNode reads a node, including changes made earlier in the batch.
func (b *Batch) GetNode(id string) (Node, bool) {
	n, ok := b.e.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}
