package graph

import (
	"strings"
	"time"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
)

// RelationshipType names the kind of edge. The constants are the well-known
// kinds; any non-empty string is accepted.
type RelationshipType string

const (
	RelContains   RelationshipType = "contains"
	RelUses       RelationshipType = "uses"
	RelDependsOn  RelationshipType = "depends_on"
	RelImplements RelationshipType = "implements"
	RelReferences RelationshipType = "references"
)

// Relationship is a directed, typed edge between two nodes.
type Relationship struct {
	ID         string           `json:"id"`
	FromNodeID string           `json:"fromNodeId"`
	ToNodeID   string           `json:"toNodeId"`
	Type       RelationshipType `json:"type"`
	Metadata   map[string]any   `json:"metadata"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Clone returns a deep copy of r.
func (r Relationship) Clone() Relationship {
	out := r
	out.Metadata = cloneMap(r.Metadata)
	return out
}

// Touches reports whether nodeID is either endpoint of r.
func (r Relationship) Touches(nodeID string) bool {
	return r.FromNodeID == nodeID || r.ToNodeID == nodeID
}

// Direction selects which edges GetRelatedNodes follows.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// ParseDirection maps a query value to a Direction. Empty means both.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(s)) {
	case "", DirectionBoth:
		return DirectionBoth, nil
	case DirectionOutgoing, "out":
		return DirectionOutgoing, nil
	case DirectionIncoming, "in":
		return DirectionIncoming, nil
	}
	return "", merrors.NewValidation("direction", "must be outgoing, incoming or both")
}
