package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/history"
	"github.com/p-blackswan/memgraph/internal/intent"
)

type fixture struct {
	engine *graph.Engine
	hist   *history.Log
	added  []graph.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hist := history.New(history.Config{}, zerolog.Nop())
	f := &fixture{engine: graph.New(graph.Config{}, hist, zerolog.Nop()), hist: hist}
	f.engine.Subscribe(func(ev graph.Event) {
		if ev.Kind != graph.EventNodeAdded {
			return
		}
		for _, id := range ev.NodeIDs {
			n, ok := f.engine.GetNode(id)
			if ok {
				f.added = append(f.added, n)
			}
		}
	})
	return f
}

func (f *fixture) deps() Deps {
	return Deps{
		Graph:   f.engine,
		Intents: intent.NewProcessor(f.engine, intent.Config{}, zerolog.Nop()),
		History: f.hist,
		Logger:  zerolog.Nop(),
	}
}

func TestPlanner_CreateProjectPlan(t *testing.T) {
	f := newFixture(t)
	planner := NewPlannerAgent(AgentConfig{ID: "planner"}, f.engine, zerolog.Nop())

	task := &Task{
		ID:          "t1",
		Title:       "Create project plan",
		Description: "Plan the launch of the billing portal",
		Priority:    graph.PriorityHigh,
	}
	require.True(t, planner.CanExecuteTask(task))

	res := planner.ExecuteTask(context.Background(), task)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 100, task.Progress)
	assert.Empty(t, res.Error)

	require.NotEmpty(t, f.added)
	plan := f.added[0]
	assert.Equal(t, "Create project plan", plan.Name)
	assert.Equal(t, graph.NodeFeature, plan.Type)
	assert.Equal(t, graph.PriorityHigh, plan.Feature.Priority)
	assert.Equal(t, "t1", plan.Metadata["taskId"])
	assert.Equal(t, plan.ID, res.Outputs["planNodeId"])

	steps := f.engine.GetRelatedNodes(plan.ID, graph.DirectionOutgoing, graph.RelContains)
	assert.Len(t, steps, len(defaultPlanSteps))
	for _, s := range steps {
		assert.Equal(t, graph.NodeLogic, s.Type)
	}
	assert.Len(t, res.Outputs["nodeIds"], len(defaultPlanSteps)+1)
}

func TestPlanner_StepsFromDescription(t *testing.T) {
	f := newFixture(t)
	planner := NewPlannerAgent(AgentConfig{ID: "planner"}, f.engine, zerolog.Nop())

	task := &Task{Title: "Roadmap", Description: "Q3 roadmap:\n- Ship search\n2. Add filters\n* Polish"}
	res := planner.ExecuteTask(context.Background(), task)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"Ship search", "Add filters", "Polish"}, res.Outputs["steps"])
}

func TestPlanner_StepsInput(t *testing.T) {
	task := &Task{Inputs: map[string]any{"steps": []any{"one", " ", "two", 3}}}
	assert.Equal(t, []string{"one", "two"}, splitSteps(task))
}

func TestPlanner_EmptyTaskFails(t *testing.T) {
	f := newFixture(t)
	planner := NewPlannerAgent(AgentConfig{ID: "planner"}, f.engine, zerolog.Nop())

	res := planner.ExecuteTask(context.Background(), &Task{Title: "  ", Description: ""})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "title or description is required")
	assert.Nil(t, res.Outputs)
	assert.Empty(t, f.added)
}

func TestPlanner_CancelledContext(t *testing.T) {
	f := newFixture(t)
	planner := NewPlannerAgent(AgentConfig{ID: "planner"}, f.engine, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := planner.ExecuteTask(ctx, &Task{Title: "plan"})
	assert.False(t, res.Success)
	assert.Empty(t, f.engine.ListNodes())
}

func TestArchitect_InfersIntent(t *testing.T) {
	f := newFixture(t)
	architect := NewArchitectAgent(AgentConfig{ID: "architect"}, f.deps().Intents, zerolog.Nop())

	task := &Task{Title: "Orders endpoint", Description: "Expose an API for listing orders"}
	require.True(t, architect.CanExecuteTask(task))

	res := architect.ExecuteTask(context.Background(), task)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"create_api"}, res.Outputs["intents"])

	require.Len(t, f.added, 1)
	assert.Equal(t, graph.NodeAPI, f.added[0].Type)
	assert.Equal(t, "Orders endpoint", f.added[0].Name)

	entries := f.hist.GetRecentContext(1)
	require.Len(t, entries, 1)
	assert.Equal(t, history.EntryIntentApplied, entries[0].Type)
	assert.Equal(t, "architect", entries[0].Actor)
}

func TestArchitect_ExplicitIntents(t *testing.T) {
	f := newFixture(t)
	architect := NewArchitectAgent(AgentConfig{ID: "architect"}, f.deps().Intents, zerolog.Nop())

	task := &Task{Title: "design", Inputs: map[string]any{"intents": []any{
		map[string]any{"type": "create_feature", "data": map[string]any{
			"name":    "Checkout",
			"screens": []any{map[string]any{"name": "Cart"}},
		}},
		map[string]any{"type": "create_logic", "data": map[string]any{"name": "Tax"}},
	}}}
	res := architect.ExecuteTask(context.Background(), task)
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Outputs["nodeIds"], 3)
	assert.Len(t, f.engine.ListNodes(), 3)
}

func TestArchitect_Failures(t *testing.T) {
	f := newFixture(t)
	architect := NewArchitectAgent(AgentConfig{ID: "architect"}, f.deps().Intents, zerolog.Nop())

	res := architect.ExecuteTask(context.Background(), &Task{Title: "Make coffee"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "cannot infer")

	res = architect.ExecuteTask(context.Background(), &Task{Inputs: map[string]any{"intents": []any{
		map[string]any{"type": "create_widget", "data": map[string]any{}},
	}}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "create_widget")

	res = architect.ExecuteTask(context.Background(), &Task{Inputs: map[string]any{"intents": []any{
		map[string]any{"type": "create_screen", "data": map[string]any{}},
	}}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "name")
	assert.Empty(t, f.engine.ListNodes())
}

func TestArchitect_FailingIntentAppliesNothing(t *testing.T) {
	f := newFixture(t)
	architect := NewArchitectAgent(AgentConfig{ID: "architect"}, f.deps().Intents, zerolog.Nop())

	task := &Task{Title: "design", Inputs: map[string]any{"intents": []any{
		map[string]any{"type": "create_screen", "data": map[string]any{"name": "Home"}},
		map[string]any{"type": "create_feature", "data": map[string]any{
			"name":      "Checkout",
			"dependsOn": []any{"does-not-exist"},
		}},
	}}}
	res := architect.ExecuteTask(context.Background(), task)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "intent 1 (create_feature)")

	assert.Empty(t, f.engine.ListNodes())
	assert.Empty(t, f.added)
	assert.Equal(t, 0, f.hist.Count())
}

func TestAnalyst(t *testing.T) {
	f := newFixture(t)
	a, err := f.engine.AddNode(graph.Node{ID: "a", Name: "A", Type: graph.NodeFeature})
	require.NoError(t, err)
	_, err = f.engine.AddNode(graph.Node{ID: "b", Name: "B", Type: graph.NodeScreen})
	require.NoError(t, err)
	_, err = f.engine.AddRelationship(a.ID, "b", graph.RelContains, nil)
	require.NoError(t, err)

	analyst := NewAnalystAgent(AgentConfig{ID: "analyst"}, f.engine, f.hist, zerolog.Nop())
	task := &Task{Title: "Analyze graph health"}
	require.True(t, analyst.CanExecuteTask(task))

	res := analyst.ExecuteTask(context.Background(), task)
	require.True(t, res.Success, res.Error)

	report, ok := res.Outputs["validation"].(graph.ValidationReport)
	require.True(t, ok)
	assert.True(t, report.IsValid)
	analysis, ok := res.Outputs["analysis"].(graph.Analysis)
	require.True(t, ok)
	assert.Equal(t, 2, analysis.TotalNodes)
	assert.Equal(t, 1.0, analysis.Completeness)

	entries := f.hist.Entries(history.Filter{Type: history.EntryAnalysis})
	require.Len(t, entries, 1)
	assert.Equal(t, "analyst", entries[0].Actor)
}

func TestBuild(t *testing.T) {
	f := newFixture(t)
	for _, cfg := range DefaultRoster() {
		a, err := Build(cfg, f.deps())
		require.NoError(t, err, cfg.ID)
		assert.Equal(t, cfg.ID, a.Config().ID)
		assert.NotEmpty(t, a.Config().Keywords)
	}

	_, err := Build(AgentConfig{ID: "x", Role: RoleGeneral}, f.deps())
	assert.True(t, errors.Is(err, merrors.ErrValidation))

	_, err = Build(AgentConfig{}, f.deps())
	assert.True(t, errors.Is(err, merrors.ErrValidation))
}

func TestDefaultRoster_EndToEnd(t *testing.T) {
	f := newFixture(t)
	rt := NewRuntime(Config{}, f.hist, zerolog.Nop())
	for _, cfg := range DefaultRoster() {
		a, err := Build(cfg, f.deps())
		require.NoError(t, err)
		require.NoError(t, rt.Register(a))
	}

	task, res, err := rt.Run(context.Background(), TaskRequest{Title: "Create project plan", Description: "Launch"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "planner", task.AssignedTo)

	task, res, err = rt.Run(context.Background(), TaskRequest{Title: "Add login screen"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "architect", task.AssignedTo)

	task, res, err = rt.Run(context.Background(), TaskRequest{Title: "Validate the graph"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "analyst", task.AssignedTo)

	entries := f.hist.Entries(history.Filter{Type: history.EntryAgentAction})
	assert.Len(t, entries, 3)
}

func TestAgentConfig_Matches(t *testing.T) {
	cfg := AgentConfig{Keywords: []string{"plan", "user story"}, Capabilities: []string{"planning"}}
	assert.True(t, cfg.Matches(&Task{Title: "Two plans"}))
	assert.True(t, cfg.Matches(&Task{Description: "write a User Story"}))
	assert.False(t, cfg.Matches(&Task{Title: "airplane"}))
	assert.True(t, cfg.Matches(&Task{Title: "x", Inputs: map[string]any{"category": "PLANNING"}}))
	assert.False(t, cfg.Matches(&Task{Title: "x", Inputs: map[string]any{"category": "ops"}}))
}
