package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/intent"
)

// IntentProcessor applies a group of intents to the graph as one change.
type IntentProcessor interface {
	ProcessAll(ctx context.Context, ins []intent.Intent) ([][]graph.Node, error)
}

var architectKeywords = []string{"api", "endpoint", "screen", "page", "model", "schema", "entity", "feature", "architecture", "design"}

// kindHints maps words to the intent they imply, checked in order.
var kindHints = []struct {
	kind  intent.Kind
	words []string
}{
	{intent.CreateAPI, []string{"api", "endpoint", "route"}},
	{intent.CreateScreen, []string{"screen", "page", "view", "ui"}},
	{intent.CreateDataModel, []string{"model", "schema", "entity", "table"}},
	{intent.CreateLogic, []string{"rule", "workflow", "logic", "algorithm"}},
	{intent.CreateFeature, []string{"feature", "design", "architecture"}},
}

// ArchitectAgent turns tasks into intents. Explicit intents come from the
// "intents" input; otherwise one intent is inferred from the task text.
type ArchitectAgent struct {
	cfg       AgentConfig
	processor IntentProcessor
	logger    zerolog.Logger
}

// NewArchitectAgent creates an architect issuing intents through p.
func NewArchitectAgent(cfg AgentConfig, p IntentProcessor, logger zerolog.Logger) *ArchitectAgent {
	if cfg.Role == "" {
		cfg.Role = RoleArchitect
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = architectKeywords
	}
	return &ArchitectAgent{
		cfg:       cfg,
		processor: p,
		logger:    logger.With().Str("component", "architect").Str("agent_id", cfg.ID).Logger(),
	}
}

func (a *ArchitectAgent) Config() AgentConfig { return a.cfg }

func (a *ArchitectAgent) CanExecuteTask(t *Task) bool { return a.cfg.Matches(t) }

func (a *ArchitectAgent) ExecuteTask(ctx context.Context, t *Task) TaskResult {
	return execute(ctx, t, a.design)
}

func (a *ArchitectAgent) design(ctx context.Context, t *Task) (map[string]any, error) {
	intents, err := a.intentsFor(t)
	if err != nil {
		return nil, err
	}

	for i := range intents {
		intents[i].Actor = a.cfg.ID
	}
	// A failing intent leaves the graph as it was before the task.
	created, err := a.processor.ProcessAll(ctx, intents)
	if err != nil {
		return nil, err
	}
	t.SetProgress(90)

	var nodeIDs []string
	applied := make([]string, 0, len(intents))
	for i, nodes := range created {
		for _, n := range nodes {
			nodeIDs = append(nodeIDs, n.ID)
		}
		applied = append(applied, string(intents[i].Type))
	}

	a.logger.Info().Str("task_id", t.ID).Strs("intents", applied).Int("nodes", len(nodeIDs)).Msg("intents applied")
	return map[string]any{
		"intents": applied,
		"nodeIds": nodeIDs,
	}, nil
}

func (a *ArchitectAgent) intentsFor(t *Task) ([]intent.Intent, error) {
	if raw, ok := t.Inputs["intents"]; ok {
		list, ok := raw.([]any)
		if !ok || len(list) == 0 {
			return nil, merrors.NewValidation("inputs.intents", "must be a non-empty list")
		}
		out := make([]intent.Intent, 0, len(list))
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, merrors.NewValidation(fmt.Sprintf("inputs.intents[%d]", i), "must be an object")
			}
			kind, _ := m["type"].(string)
			data, _ := m["data"].(map[string]any)
			if !intent.Kind(kind).Valid() {
				return nil, merrors.NewValidation(fmt.Sprintf("inputs.intents[%d].type", i), fmt.Sprintf("unknown intent %q", kind))
			}
			if data == nil {
				return nil, merrors.NewValidation(fmt.Sprintf("inputs.intents[%d].data", i), "is required")
			}
			out = append(out, intent.Intent{Type: intent.Kind(kind), Data: data})
		}
		return out, nil
	}

	if err := requireText(t); err != nil {
		return nil, err
	}
	kind, ok := inferKind(t.Title + " " + t.Description)
	if !ok {
		return nil, merrors.NewValidation("task", "cannot infer what to create from the task text")
	}
	name := t.Input("name")
	if name == "" {
		name = strings.TrimSpace(t.Title)
	}
	if name == "" {
		name = firstLine(t.Description)
	}
	data := map[string]any{"name": name, "description": t.Description}
	if kind == intent.CreateFeature && t.Priority.Valid() {
		data["priority"] = string(t.Priority)
	}
	return []intent.Intent{{Type: kind, Data: data}}, nil
}

func inferKind(text string) (intent.Kind, bool) {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		words[w] = true
		words[strings.TrimSuffix(w, "s")] = true
	}
	for _, h := range kindHints {
		for _, w := range h.words {
			if words[w] {
				return h.kind, true
			}
		}
	}
	return "", false
}
