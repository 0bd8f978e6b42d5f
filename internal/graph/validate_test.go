package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueCodes(issues []Issue) []IssueCode {
	out := make([]IssueCode, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}

func TestValidateGraph_CleanGraph(t *testing.T) {
	report := populatedEngine(t).ValidateGraph()
	assert.True(t, report.IsValid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
}

func TestValidateGraph_EmptyGraph(t *testing.T) {
	report := newTestEngine(t, Config{}).ValidateGraph()
	assert.True(t, report.IsValid)
	assert.NotNil(t, report.Errors)
	assert.NotNil(t, report.Warnings)
}

func TestValidateGraph_PolicyFindings(t *testing.T) {
	build := func(e *Engine) {
		seedLogic(t, e, "a", "b")
		e.mu.Lock()
		// Bypass the policy checks to simulate data written under a looser policy.
		for _, r := range []Relationship{
			{ID: "loop", FromNodeID: "a", ToNodeID: "a", Type: RelUses},
			{ID: "r1", FromNodeID: "a", ToNodeID: "b", Type: RelUses},
			{ID: "r2", FromNodeID: "a", ToNodeID: "b", Type: RelUses},
		} {
			stored := r
			e.rels[r.ID] = &stored
			e.relOrder = append(e.relOrder, r.ID)
		}
		e.mu.Unlock()
	}

	lenient := newTestEngine(t, Config{})
	build(lenient)
	report := lenient.ValidateGraph()
	assert.True(t, report.IsValid)
	assert.Equal(t, []IssueCode{IssueSelfLoop, IssueDuplicateEdge}, issueCodes(report.Warnings))

	strict := newTestEngine(t, Config{RejectSelfLoops: true, RejectDuplicateEdges: true})
	build(strict)
	report = strict.ValidateGraph()
	assert.False(t, report.IsValid)
	assert.Equal(t, []IssueCode{IssueSelfLoop, IssueDuplicateEdge}, issueCodes(report.Errors))
	assert.Equal(t, "r2", report.Errors[1].RelationshipID)
}

func TestValidateGraph_DetectsTamperedNodes(t *testing.T) {
	e := newTestEngine(t, Config{})
	seedLogic(t, e, "a", "b", "c")

	e.mu.Lock()
	a := *e.nodes["a"]
	a.Type = NodeScreen
	a.Logic = nil
	e.nodes["a"] = &a

	b := *e.nodes["b"]
	b.ID = "not-b"
	e.nodes["b"] = &b

	c := *e.nodes["c"]
	c.UpdatedAt = c.CreatedAt.Add(-time.Hour)
	e.nodes["c"] = &c
	e.mu.Unlock()

	report := e.ValidateGraph()
	require.False(t, report.IsValid)
	assert.ElementsMatch(t, []IssueCode{IssueTypeChanged, IssueIDMismatch, IssueTimestampOrder}, issueCodes(report.Errors))
}
