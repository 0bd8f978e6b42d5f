package graph

import (
	"errors"
	"fmt"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
)

// IssueCode identifies the kind of integrity finding.
type IssueCode string

const (
	IssueDanglingReference IssueCode = "dangling_reference"
	IssueIDMismatch        IssueCode = "id_mismatch"
	IssueDuplicateID       IssueCode = "duplicate_id"
	IssueTypeChanged       IssueCode = "type_changed"
	IssueInvalidNode       IssueCode = "invalid_node"
	IssueTimestampOrder    IssueCode = "timestamp_order"
	IssueSelfLoop          IssueCode = "self_loop"
	IssueDuplicateEdge     IssueCode = "duplicate_edge"
	IssueEmptyRelType      IssueCode = "empty_relationship_type"
)

// Issue is one validation finding.
type Issue struct {
	Code           IssueCode `json:"code"`
	Message        string    `json:"message"`
	NodeID         string    `json:"nodeId,omitempty"`
	RelationshipID string    `json:"relationshipId,omitempty"`
}

// ValidationReport is the result of ValidateGraph.
type ValidationReport struct {
	IsValid  bool    `json:"isValid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// ValidateGraph checks every graph invariant and reports findings. It never
// fails; corrupt loaded data shows up as errors here.
func (e *Engine) ValidateGraph() ValidationReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	report := ValidationReport{Errors: []Issue{}, Warnings: []Issue{}}
	addErr := func(is Issue) { report.Errors = append(report.Errors, is) }
	addWarn := func(is Issue) { report.Warnings = append(report.Warnings, is) }

	report.Errors = append(report.Errors, e.loadIssue...)

	for _, id := range e.nodeOrder {
		n := e.nodes[id]
		if n.ID != id {
			addErr(Issue{Code: IssueIDMismatch, NodeID: id, Message: fmt.Sprintf("node stored under %q has id %q", id, n.ID)})
		}
		if t, ok := e.types[id]; ok && t != n.Type {
			addErr(Issue{Code: IssueTypeChanged, NodeID: id, Message: fmt.Sprintf("node type changed from %s to %s", t, n.Type)})
		}
		if n.UpdatedAt.Before(n.CreatedAt) {
			addErr(Issue{Code: IssueTimestampOrder, NodeID: id, Message: "updatedAt is before createdAt"})
		}
		if err := n.Validate(); err != nil {
			var ve *merrors.ValidationError
			if !errors.As(err, &ve) || ve.Field != "updatedAt" {
				addErr(Issue{Code: IssueInvalidNode, NodeID: id, Message: err.Error()})
			}
		}
	}

	triples := make(map[string]string)
	for _, id := range e.relOrder {
		r := e.rels[id]
		if r.ID != id {
			addErr(Issue{Code: IssueIDMismatch, RelationshipID: id, Message: fmt.Sprintf("relationship stored under %q has id %q", id, r.ID)})
		}
		if r.Type == "" {
			addErr(Issue{Code: IssueEmptyRelType, RelationshipID: id, Message: "relationship has no type"})
		}
		if _, ok := e.nodes[r.FromNodeID]; !ok {
			addErr(Issue{Code: IssueDanglingReference, RelationshipID: id, NodeID: r.FromNodeID, Message: fmt.Sprintf("source node %q does not exist", r.FromNodeID)})
		}
		if _, ok := e.nodes[r.ToNodeID]; !ok {
			addErr(Issue{Code: IssueDanglingReference, RelationshipID: id, NodeID: r.ToNodeID, Message: fmt.Sprintf("target node %q does not exist", r.ToNodeID)})
		}

		if r.FromNodeID == r.ToNodeID {
			is := Issue{Code: IssueSelfLoop, RelationshipID: id, NodeID: r.FromNodeID, Message: fmt.Sprintf("node %q references itself", r.FromNodeID)}
			if e.cfg.RejectSelfLoops {
				addErr(is)
			} else {
				addWarn(is)
			}
		}

		key := tripleKey(r.FromNodeID, r.ToNodeID, r.Type)
		if first, dup := triples[key]; dup {
			is := Issue{Code: IssueDuplicateEdge, RelationshipID: id, Message: fmt.Sprintf("duplicates relationship %q (%s)", first, key)}
			if e.cfg.RejectDuplicateEdges {
				addErr(is)
			} else {
				addWarn(is)
			}
		} else {
			triples[key] = id
		}
	}

	report.IsValid = len(report.Errors) == 0
	return report
}
