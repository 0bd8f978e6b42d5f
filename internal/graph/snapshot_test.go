package graph

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
)

func populatedEngine(t *testing.T) *Engine {
	t.Helper()
	e := newTestEngine(t, Config{ID: "shop", Name: "Shop"})
	rl := 100
	mustAdd(t, e, Node{ID: "f", Name: "Checkout", Type: NodeFeature, Feature: &FeatureAttrs{
		Status: StatusInProgress, Priority: PriorityHigh, Requirements: []string{"guest checkout", "saved cards"},
	}, Metadata: map[string]any{"epic": "payments", "estimate": 5.5}})
	mustAdd(t, e, Node{ID: "s", Name: "Cart", Type: NodeScreen, Screen: &ScreenAttrs{ScreenType: "page", Route: "/cart"}})
	mustAdd(t, e, Node{ID: "a", Name: "Pay", Type: NodeAPI, API: &APIAttrs{Method: "POST", Path: "/pay", Authentication: "bearer", RateLimit: &rl}})
	mustAdd(t, e, Node{ID: "d", Name: "Order", Type: NodeDataModel, DataModel: &DataModelAttrs{ModelType: "entity", Fields: []Field{
		{Name: "id", Type: "uuid", Required: true, Unique: true},
		{Name: "total", Type: "decimal", Required: true},
	}}})
	mustAdd(t, e, Node{ID: "l", Name: "Tax", Type: NodeLogic, Logic: &LogicAttrs{LogicType: "calculation", Implementation: "rate * subtotal"}})
	mustLink(t, e, "f", "s", RelContains)
	mustLink(t, e, "f", "a", RelUses)
	_, err := e.AddRelationship("a", "d", RelReferences, map[string]any{"via": "order_id"})
	require.NoError(t, err)
	mustLink(t, e, "a", "l", RelDependsOn)
	return e
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	e := populatedEngine(t)
	before := e.Snapshot()

	data, err := e.ToJSON()
	require.NoError(t, err)

	loaded, err := Load(data, Config{}, nil, zerolog.Nop())
	require.NoError(t, err)
	after := loaded.Snapshot()

	assert.Equal(t, before, after)
	assert.Equal(t, "shop", loaded.Info().ID)
	assert.True(t, loaded.ValidateGraph().IsValid)

	chain, err := loaded.GetDependencyChain("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"l"}, nodeIDs(chain))
}

func TestSnapshot_LargeIntegerMetadata(t *testing.T) {
	e := newTestEngine(t, Config{ID: "g"})
	mustAdd(t, e, Node{ID: "n", Name: "Build", Type: NodeLogic, Metadata: map[string]any{
		"build":  int64(9007199254740993),
		"counts": []any{int64(1), 2.5},
		"nested": map[string]any{"huge": json.Number("123456789012345678901234567890")},
	}})
	_, err := e.AddRelationship("n", "n", RelReferences, map[string]any{"weight": int64(1) << 60})
	require.NoError(t, err)

	data, err := e.ToJSON()
	require.NoError(t, err)
	loaded, err := Load(data, Config{}, nil, zerolog.Nop())
	require.NoError(t, err)

	n, ok := loaded.GetNode("n")
	require.True(t, ok)
	assert.Equal(t, int64(9007199254740993), n.Metadata["build"])
	assert.Equal(t, []any{int64(1), 2.5}, n.Metadata["counts"])
	assert.Equal(t, json.Number("123456789012345678901234567890"), n.Metadata["nested"].(map[string]any)["huge"])
	assert.Equal(t, int64(1)<<60, loaded.ListRelationships()[0].Metadata["weight"])

	again, err := loaded.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestDecodeSnapshot_Rejects(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"id":"g"`))
	assert.True(t, errors.Is(err, merrors.ErrValidation))

	_, err = DecodeSnapshot([]byte(`{"id":"g"} {"id":"h"}`))
	assert.True(t, errors.Is(err, merrors.ErrValidation))
}

func TestSnapshot_JSONFieldNames(t *testing.T) {
	e := populatedEngine(t)
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, 1, raw["formatVersion"])
	assert.NotEmpty(t, raw["checksum"])

	rels := raw["relationships"].([]any)
	first := rels[0].(map[string]any)
	assert.Equal(t, "f", first["fromNodeId"])
	assert.Equal(t, "s", first["toNodeId"])

	nodes := raw["nodes"].([]any)
	dm := nodes[3].(map[string]any)
	assert.Equal(t, "data_model", dm["type"])
	assert.Contains(t, dm, "dataModel")
}

func TestSnapshot_ChecksumMismatch(t *testing.T) {
	s := populatedEngine(t).Snapshot()
	s.Nodes[0].Name = "Tampered"

	_, err := FromSnapshot(s, Config{}, nil, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, merrors.ErrChecksumMismatch))

	s.Checksum = ""
	e, err := FromSnapshot(s, Config{}, nil, zerolog.Nop())
	require.NoError(t, err)
	n, _ := e.GetNode("f")
	assert.Equal(t, "Tampered", n.Name)
}

func TestSnapshot_UnsupportedFormat(t *testing.T) {
	_, err := Load([]byte(`{"formatVersion": 99, "nodes": [], "relationships": []}`), Config{}, nil, zerolog.Nop())
	assert.True(t, errors.Is(err, merrors.ErrValidation))

	_, err = Load([]byte(`{not json`), Config{}, nil, zerolog.Nop())
	assert.True(t, errors.Is(err, merrors.ErrValidation))
}

func TestLoad_CorruptDataIsInspectable(t *testing.T) {
	data := []byte(`{
		"id": "g",
		"nodes": [
			{"id": "a", "name": "A", "type": "logic", "version": "1.0.0", "createdAt": "2025-01-01T00:00:00Z", "updatedAt": "2025-01-01T00:00:00Z"},
			{"id": "a", "name": "A again", "type": "logic"}
		],
		"relationships": [
			{"id": "r1", "fromNodeId": "a", "toNodeId": "deleted", "type": "uses", "createdAt": "2025-01-01T00:00:00Z"}
		]
	}`)

	e, err := Load(data, Config{}, nil, zerolog.Nop())
	require.NoError(t, err)

	report := e.ValidateGraph()
	assert.False(t, report.IsValid)

	var codes []IssueCode
	for _, is := range report.Errors {
		codes = append(codes, is.Code)
	}
	assert.Contains(t, codes, IssueDanglingReference)
	assert.Contains(t, codes, IssueDuplicateID)

	var dangling Issue
	for _, is := range report.Errors {
		if is.Code == IssueDanglingReference {
			dangling = is
		}
	}
	assert.Equal(t, "r1", dangling.RelationshipID)
	assert.Equal(t, "deleted", dangling.NodeID)
}

type memSnapshotStore struct {
	saved map[string]Snapshot
}

func (m *memSnapshotStore) SaveSnapshot(_ context.Context, s Snapshot) error {
	m.saved[s.ID] = s
	return nil
}

func (m *memSnapshotStore) LoadSnapshot(_ context.Context, id string) (Snapshot, error) {
	s, ok := m.saved[id]
	if !ok {
		return Snapshot{}, merrors.NewNotFound("snapshot", id)
	}
	return s, nil
}

func TestSaveRestore(t *testing.T) {
	store := &memSnapshotStore{saved: map[string]Snapshot{}}
	src := populatedEngine(t)
	require.NoError(t, src.Save(context.Background(), store))

	dst := newTestEngine(t, Config{})
	mustAdd(t, dst, Node{ID: "stale", Name: "Stale", Type: NodeLogic})

	var loaded []Event
	dst.Subscribe(func(ev Event) { loaded = append(loaded, ev) })

	require.NoError(t, dst.Restore(context.Background(), store, "shop"))
	_, ok := dst.GetNode("stale")
	assert.False(t, ok)
	assert.Len(t, dst.ListNodes(), 5)
	require.Len(t, loaded, 1)
	assert.Equal(t, EventGraphLoaded, loaded[0].Kind)

	err := dst.Restore(context.Background(), store, "missing")
	assert.True(t, errors.Is(err, merrors.ErrNotFound))
}

func TestChecksum_StableAcrossMetadataKeyOrder(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n1 := []Node{{ID: "a", Name: "A", Type: NodeLogic, CreatedAt: ts, UpdatedAt: ts, Metadata: map[string]any{"x": 1.0, "y": "z"}}}
	n2 := []Node{{ID: "a", Name: "A", Type: NodeLogic, CreatedAt: ts, UpdatedAt: ts, Metadata: map[string]any{"y": "z", "x": 1.0}}}

	s1, err := Checksum(n1, nil)
	require.NoError(t, err)
	s2, err := Checksum(n2, nil)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 64)
}
