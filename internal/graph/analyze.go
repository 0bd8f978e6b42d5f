package graph

// Analysis holds aggregate graph metrics.
type Analysis struct {
	TotalNodes                   int                      `json:"totalNodes"`
	TotalRelationships           int                      `json:"totalRelationships"`
	NodeTypeDistribution         map[NodeType]int         `json:"nodeTypeDistribution"`
	RelationshipTypeDistribution map[RelationshipType]int `json:"relationshipTypeDistribution"`
	// Complexity is relationships per node, 0 for an empty graph.
	Complexity float64 `json:"complexity"`
	// Completeness is the fraction of features linked, in either direction,
	// to at least one screen, api or data_model node. 0 without features.
	Completeness float64 `json:"completeness"`
	// OrphanNodes counts nodes with no relationships at all.
	OrphanNodes int `json:"orphanNodes"`
}

// AnalyzeGraph computes the current metrics.
func (e *Engine) AnalyzeGraph() Analysis {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a := Analysis{
		TotalNodes:                   len(e.nodeOrder),
		TotalRelationships:           len(e.relOrder),
		NodeTypeDistribution:         make(map[NodeType]int),
		RelationshipTypeDistribution: make(map[RelationshipType]int),
	}
	for _, id := range e.nodeOrder {
		a.NodeTypeDistribution[e.nodes[id].Type]++
	}

	degree := make(map[string]int, len(e.nodeOrder))
	implemented := make(map[string]bool)
	isTarget := func(id string) bool {
		n, ok := e.nodes[id]
		if !ok {
			return false
		}
		return n.Type == NodeScreen || n.Type == NodeAPI || n.Type == NodeDataModel
	}
	isFeature := func(id string) bool {
		n, ok := e.nodes[id]
		return ok && n.Type == NodeFeature
	}

	for _, id := range e.relOrder {
		r := e.rels[id]
		a.RelationshipTypeDistribution[r.Type]++
		degree[r.FromNodeID]++
		degree[r.ToNodeID]++
		if isFeature(r.FromNodeID) && isTarget(r.ToNodeID) {
			implemented[r.FromNodeID] = true
		}
		if isFeature(r.ToNodeID) && isTarget(r.FromNodeID) {
			implemented[r.ToNodeID] = true
		}
	}

	for _, id := range e.nodeOrder {
		if degree[id] == 0 {
			a.OrphanNodes++
		}
	}
	if a.TotalNodes > 0 {
		a.Complexity = float64(a.TotalRelationships) / float64(a.TotalNodes)
	}
	if features := a.NodeTypeDistribution[NodeFeature]; features > 0 {
		a.Completeness = float64(len(implemented)) / float64(features)
	}
	return a
}
