package graph

import (
	merrors "github.com/p-blackswan/memgraph/internal/errors"
)

// ListNodes returns every node in insertion order.
func (e *Engine) ListNodes() []Node {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Node, 0, len(e.nodeOrder))
	for _, id := range e.nodeOrder {
		out = append(out, e.nodes[id].Clone())
	}
	return out
}

// ListRelationships returns every relationship in insertion order.
func (e *Engine) ListRelationships() []Relationship {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Relationship, 0, len(e.relOrder))
	for _, id := range e.relOrder {
		out = append(out, e.rels[id].Clone())
	}
	return out
}

// GetRelationship returns a copy of the relationship with id.
func (e *Engine) GetRelationship(id string) (Relationship, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rels[id]
	if !ok {
		return Relationship{}, false
	}
	return r.Clone(), true
}

// GetNodesByType returns the nodes of type t in insertion order.
func (e *Engine) GetNodesByType(t NodeType) []Node {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []Node{}
	for _, id := range e.nodeOrder {
		if n := e.nodes[id]; n.Type == t {
			out = append(out, n.Clone())
		}
	}
	return out
}

// GetRelationships returns the relationships touching nodeID, in insertion
// order. Unknown ids yield an empty slice.
func (e *Engine) GetRelationships(nodeID string) []Relationship {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []Relationship{}
	for _, id := range e.relOrder {
		if r := e.rels[id]; r.Touches(nodeID) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// GetRelatedNodes returns the distinct neighbours of nodeID reached along
// relationships in dir, optionally restricted to the given types. Order
// follows relationship insertion order.
func (e *Engine) GetRelatedNodes(nodeID string, dir Direction, types ...RelationshipType) []Node {
	e.mu.RLock()
	defer e.mu.RUnlock()

	allowed := make(map[RelationshipType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	out := []Node{}
	seen := make(map[string]bool)
	add := func(id string) {
		if seen[id] {
			return
		}
		n, ok := e.nodes[id]
		if !ok {
			return
		}
		seen[id] = true
		out = append(out, n.Clone())
	}

	for _, id := range e.relOrder {
		r := e.rels[id]
		if len(allowed) > 0 && !allowed[r.Type] {
			continue
		}
		if r.FromNodeID == nodeID && dir != DirectionIncoming {
			add(r.ToNodeID)
		}
		if r.ToNodeID == nodeID && dir != DirectionOutgoing {
			add(r.FromNodeID)
		}
	}
	return out
}

// GetDependencyChain returns every node transitively reachable from nodeID
// over outgoing depends_on relationships, in depth-first discovery order,
// without duplicates and without the root itself.
func (e *Engine) GetDependencyChain(nodeID string) ([]Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.nodes[nodeID]; !ok {
		return nil, merrors.NewNotFound("node", nodeID)
	}

	ids, ok := e.deps.Get(nodeID)
	if !ok {
		var err error
		ids, err = e.dependencyChainLocked(nodeID)
		if err != nil {
			return nil, err
		}
		// Put under the read lock so a concurrent mutation purges after us.
		e.deps.Put(nodeID, ids)
	}

	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := e.nodes[id]; ok {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

// dependencyChainLocked walks depends_on edges iteratively. Nodes on the
// current path are gray; reaching a gray node is a cycle.
func (e *Engine) dependencyChainLocked(root string) ([]string, error) {
	const (
		gray  = 1
		black = 2
	)
	type frame struct {
		id   string
		deps []string
		next int
	}

	state := map[string]int{root: gray}
	stack := []frame{{id: root, deps: e.dependenciesLocked(root)}}
	order := []string{}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.deps) {
			state[top.id] = black
			stack = stack[:len(stack)-1]
			continue
		}
		dep := top.deps[top.next]
		top.next++

		switch state[dep] {
		case black:
			continue
		case gray:
			var path []string
			onPath := false
			for _, f := range stack {
				if f.id == dep {
					onPath = true
				}
				if onPath {
					path = append(path, f.id)
				}
			}
			path = append(path, dep)
			return nil, &merrors.CyclicDependencyError{Path: path}
		}

		state[dep] = gray
		order = append(order, dep)
		stack = append(stack, frame{id: dep, deps: e.dependenciesLocked(dep)})
	}
	return order, nil
}

// dependenciesLocked lists the existing targets of id's depends_on edges.
func (e *Engine) dependenciesLocked(id string) []string {
	var out []string
	for _, relID := range e.relOrder {
		r := e.rels[relID]
		if r.FromNodeID != id || r.Type != RelDependsOn {
			continue
		}
		if _, ok := e.nodes[r.ToNodeID]; ok {
			out = append(out, r.ToNodeID)
		}
	}
	return out
}
