package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/history"
	"github.com/p-blackswan/memgraph/internal/metrics"
)

func newProcessor(t *testing.T, cfg Config) (*Processor, *graph.Engine) {
	t.Helper()
	e := graph.New(graph.Config{}, nil, zerolog.Nop())
	return NewProcessor(e, cfg, zerolog.Nop()), e
}

func TestProcess_CreateFeature(t *testing.T) {
	p, e := newProcessor(t, Config{})

	nodes, err := p.Process(context.Background(), Intent{
		Type:  CreateFeature,
		Actor: "planner",
		Data: map[string]any{
			"name":         "User onboarding",
			"description":  "First-run experience",
			"priority":     "high",
			"requirements": []any{"email signup", "tutorial"},
		},
	})
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	f := nodes[0]
	assert.Equal(t, graph.NodeFeature, f.Type)
	assert.Equal(t, "User onboarding", f.Name)
	assert.Equal(t, graph.PriorityHigh, f.Feature.Priority)
	assert.Equal(t, graph.StatusPlanned, f.Feature.Status)
	assert.Equal(t, []string{"email signup", "tutorial"}, f.Feature.Requirements)

	got, ok := e.GetNode(f.ID)
	require.True(t, ok)
	assert.Equal(t, f, got)

	entries := e.History().GetRecentContext(1)
	require.Len(t, entries, 1)
	assert.Equal(t, history.EntryIntentApplied, entries[0].Type)
	assert.Equal(t, "planner", entries[0].Actor)
	assert.Equal(t, []string{f.ID}, entries[0].ResultNodeIDs)
}

func TestProcess_SingleNodeKinds(t *testing.T) {
	tests := []struct {
		kind  Kind
		data  map[string]any
		check func(t *testing.T, n graph.Node)
	}{
		{CreateScreen, map[string]any{"name": "Settings", "screenType": "page", "route": "/settings"}, func(t *testing.T, n graph.Node) {
			assert.Equal(t, graph.NodeScreen, n.Type)
			assert.Equal(t, "/settings", n.Screen.Route)
		}},
		{CreateAPI, map[string]any{"name": "List orders", "method": "get", "path": "/orders", "rateLimit": 30}, func(t *testing.T, n graph.Node) {
			assert.Equal(t, graph.NodeAPI, n.Type)
			assert.Equal(t, "GET", n.API.Method)
			require.NotNil(t, n.API.RateLimit)
			assert.Equal(t, 30, *n.API.RateLimit)
		}},
		{CreateDataModel, map[string]any{"name": "Order", "fields": []any{
			map[string]any{"name": "id", "type": "uuid", "required": true},
		}}, func(t *testing.T, n graph.Node) {
			assert.Equal(t, graph.NodeDataModel, n.Type)
			assert.Equal(t, []graph.Field{{Name: "id", Type: "uuid", Required: true}}, n.DataModel.Fields)
		}},
		{CreateLogic, map[string]any{"name": "Discounts", "logicType": "rule", "implementation": "10% over $100"}, func(t *testing.T, n graph.Node) {
			assert.Equal(t, graph.NodeLogic, n.Type)
			assert.Equal(t, "rule", n.Logic.LogicType)
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p, _ := newProcessor(t, Config{})
			nodes, err := p.Process(context.Background(), Intent{Type: tt.kind, Data: tt.data})
			require.NoError(t, err)
			require.Len(t, nodes, 1)
			tt.check(t, nodes[0])
		})
	}
}

func TestProcess_NameRequired(t *testing.T) {
	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			p, e := newProcessor(t, Config{})
			_, err := p.Process(context.Background(), Intent{Type: kind, Data: map[string]any{"description": "no name"}})
			require.Error(t, err)
			var ve *merrors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, "name", ve.Field)
			assert.Empty(t, e.ListNodes())
		})
	}
}

func TestProcess_EnumValidation(t *testing.T) {
	p, e := newProcessor(t, Config{})

	_, err := p.Process(context.Background(), Intent{Type: CreateFeature, Data: map[string]any{"name": "x", "status": "finished"}})
	assert.True(t, errors.Is(err, merrors.ErrValidation))

	_, err = p.Process(context.Background(), Intent{Type: CreateAPI, Data: map[string]any{"name": "x", "method": "TELEPORT"}})
	assert.True(t, errors.Is(err, merrors.ErrValidation))

	_, err = p.Process(context.Background(), Intent{Type: CreateAPI, Data: map[string]any{"name": 42}})
	assert.True(t, errors.Is(err, merrors.ErrValidation))

	_, err = p.Process(context.Background(), Intent{Type: "delete_everything", Data: map[string]any{"name": "x"}})
	assert.True(t, errors.Is(err, merrors.ErrValidation))

	assert.Empty(t, e.ListNodes())
}

func TestProcess_FeatureExpansion(t *testing.T) {
	p, e := newProcessor(t, Config{})
	auth, err := e.AddNode(graph.Node{ID: "auth", Name: "Auth", Type: graph.NodeFeature})
	require.NoError(t, err)

	nodes, err := p.Process(context.Background(), Intent{Type: CreateFeature, Data: map[string]any{
		"name":       "Checkout",
		"screens":    []any{map[string]any{"name": "Cart", "route": "/cart"}},
		"apis":       []any{map[string]any{"name": "Pay", "method": "POST", "path": "/pay"}},
		"dataModels": []any{map[string]any{"name": "Order"}},
		"dependsOn":  []any{auth.ID},
	}})
	require.NoError(t, err)
	require.Len(t, nodes, 4)

	feature := nodes[0]
	assert.Equal(t, graph.NodeFeature, feature.Type)
	assert.Equal(t, graph.NodeScreen, nodes[1].Type)
	assert.Equal(t, graph.NodeAPI, nodes[2].Type)
	assert.Equal(t, graph.NodeDataModel, nodes[3].Type)

	contains := e.GetRelatedNodes(feature.ID, graph.DirectionOutgoing, graph.RelContains)
	require.Len(t, contains, 1)
	assert.Equal(t, "Cart", contains[0].Name)
	assert.Len(t, e.GetRelatedNodes(feature.ID, graph.DirectionOutgoing, graph.RelUses), 2)

	chain, err := e.GetDependencyChain(feature.ID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "auth", chain[0].ID)

	assert.Equal(t, 1.0, e.AnalyzeGraph().Completeness*2) // checkout complete, auth not
	assert.Equal(t, 2, e.History().Count())
}

func TestProcess_AtomicOnChildFailure(t *testing.T) {
	p, e := newProcessor(t, Config{})
	var events int
	e.Subscribe(func(graph.Event) { events++ })

	_, err := p.Process(context.Background(), Intent{Type: CreateFeature, Data: map[string]any{
		"name":    "Checkout",
		"screens": []any{map[string]any{"name": "Cart"}},
		"apis":    []any{map[string]any{"name": "Pay", "method": "BOGUS"}},
	}})
	require.Error(t, err)
	var ve *merrors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "apis[0].api.method", ve.Field)

	assert.Empty(t, e.ListNodes())
	assert.Empty(t, e.ListRelationships())
	assert.Equal(t, 0, e.History().Count())
	assert.Equal(t, 0, events)
}

func TestProcess_AtomicOnMissingDependency(t *testing.T) {
	p, e := newProcessor(t, Config{})

	_, err := p.Process(context.Background(), Intent{Type: CreateFeature, Data: map[string]any{
		"name":      "Checkout",
		"dependsOn": []any{"does-not-exist"},
	}})
	assert.True(t, errors.Is(err, merrors.ErrNotFound))
	assert.Empty(t, e.ListNodes())
}

func TestProcess_ChildNameRequired(t *testing.T) {
	p, _ := newProcessor(t, Config{})
	_, err := p.Process(context.Background(), Intent{Type: CreateFeature, Data: map[string]any{
		"name":       "Checkout",
		"dataModels": []any{map[string]any{"modelType": "entity"}},
	}})
	var ve *merrors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "dataModels[0].name", ve.Field)
}

func TestProcess_RecordIntentNodes(t *testing.T) {
	p, e := newProcessor(t, Config{RecordIntentNodes: true})

	nodes, err := p.Process(context.Background(), Intent{Type: CreateScreen, Data: map[string]any{"name": "Home"}})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, graph.NodeScreen, nodes[0].Type)

	rec := nodes[1]
	assert.Equal(t, graph.NodeIntent, rec.Type)
	assert.Equal(t, "create_screen", rec.Metadata["intentType"])
	related := e.GetRelatedNodes(rec.ID, graph.DirectionOutgoing, graph.RelReferences)
	require.Len(t, related, 1)
	assert.Equal(t, nodes[0].ID, related[0].ID)
}

func TestProcess_CancelledContext(t *testing.T) {
	p, e := newProcessor(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, Intent{Type: CreateLogic, Data: map[string]any{"name": "x"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.ListNodes())
}

func TestProcess_RecordsMetrics(t *testing.T) {
	p, _ := newProcessor(t, Config{})
	m := metrics.New()
	p.SetMetrics(m)

	_, err := p.Process(context.Background(), Intent{Type: CreateLogic, Data: map[string]any{"name": "x"}})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), Intent{Type: CreateLogic, Data: map[string]any{}})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntentsTotal.WithLabelValues("create_logic", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntentsTotal.WithLabelValues("create_logic", "validation")))
}

func TestProcessAll(t *testing.T) {
	p, e := newProcessor(t, Config{})

	created, err := p.ProcessAll(context.Background(), []Intent{
		{Type: CreateScreen, Actor: "architect", Data: map[string]any{"name": "Home"}},
		{Type: CreateFeature, Actor: "architect", Data: map[string]any{
			"name":    "Search",
			"screens": []any{map[string]any{"name": "Results"}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Len(t, created[0], 1)
	assert.Len(t, created[1], 2)
	assert.Len(t, e.ListNodes(), 3)

	entries := e.History().GetRecentContext(5)
	require.Len(t, entries, 1)
	assert.Equal(t, "create_screen: Home; create_feature: Search", entries[0].Content)
	assert.Equal(t, "architect", entries[0].Actor)
	assert.Len(t, entries[0].ResultNodeIDs, 3)
}

func TestProcessAll_NothingAppliedOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		second Intent
		want   error
	}{
		{"invalid data", Intent{Type: CreateLogic, Data: map[string]any{}}, merrors.ErrValidation},
		{"missing dependency", Intent{Type: CreateFeature, Data: map[string]any{
			"name":      "Checkout",
			"dependsOn": []any{"does-not-exist"},
		}}, merrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, e := newProcessor(t, Config{})
			var events int
			e.Subscribe(func(graph.Event) { events++ })

			_, err := p.ProcessAll(context.Background(), []Intent{
				{Type: CreateScreen, Data: map[string]any{"name": "Home"}},
				tt.second,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "intent 1 (")

			assert.Empty(t, e.ListNodes())
			assert.Empty(t, e.ListRelationships())
			assert.Equal(t, 0, e.History().Count())
			assert.Equal(t, 0, events)
		})
	}
}

func TestProcessAll_Empty(t *testing.T) {
	p, _ := newProcessor(t, Config{})
	_, err := p.ProcessAll(context.Background(), nil)
	assert.ErrorIs(t, err, merrors.ErrValidation)
}

func TestParseIntent(t *testing.T) {
	in, err := ParseIntent([]byte(`{"type":"create_screen","data":{"name":"Home"},"actor":"ui"}`))
	require.NoError(t, err)
	assert.Equal(t, CreateScreen, in.Type)
	assert.Equal(t, "Home", in.Data["name"])
	assert.Equal(t, "ui", in.Actor)

	_, err = ParseIntent([]byte(`{"type":"create_widget","data":{}}`))
	assert.True(t, errors.Is(err, merrors.ErrValidation))

	_, err = ParseIntent([]byte(`{"type":"create_screen"}`))
	assert.True(t, errors.Is(err, merrors.ErrValidation))

	_, err = ParseIntent([]byte(`nope`))
	assert.True(t, errors.Is(err, merrors.ErrValidation))
}
