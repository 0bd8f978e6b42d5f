package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/history"
)

// GraphWriter applies grouped graph mutations atomically.
type GraphWriter interface {
	Batch(entry history.Entry, fn func(b *graph.Batch) error) error
}

var plannerKeywords = []string{"plan", "planning", "roadmap", "milestone", "strategy", "breakdown"}

var defaultPlanSteps = []string{
	"Define requirements",
	"Design solution",
	"Implement",
	"Test",
	"Release",
}

// PlannerAgent records a plan as a feature node with one logic node per
// step, each linked from the plan with a contains edge.
type PlannerAgent struct {
	cfg    AgentConfig
	graph  GraphWriter
	logger zerolog.Logger
}

// NewPlannerAgent creates a planner writing to g.
func NewPlannerAgent(cfg AgentConfig, g GraphWriter, logger zerolog.Logger) *PlannerAgent {
	if cfg.Role == "" {
		cfg.Role = RolePlanner
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = plannerKeywords
	}
	return &PlannerAgent{
		cfg:    cfg,
		graph:  g,
		logger: logger.With().Str("component", "planner").Str("agent_id", cfg.ID).Logger(),
	}
}

func (a *PlannerAgent) Config() AgentConfig { return a.cfg }

func (a *PlannerAgent) CanExecuteTask(t *Task) bool { return a.cfg.Matches(t) }

func (a *PlannerAgent) ExecuteTask(ctx context.Context, t *Task) TaskResult {
	return execute(ctx, t, a.plan)
}

func (a *PlannerAgent) plan(ctx context.Context, t *Task) (map[string]any, error) {
	if err := requireText(t); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = firstLine(t.Description)
	}
	steps := splitSteps(t)
	priority := t.Priority
	if !priority.Valid() {
		priority = graph.PriorityMedium
	}

	var planID string
	stepIDs := make([]string, 0, len(steps))
	err := a.graph.Batch(history.Entry{}, func(b *graph.Batch) error {
		plan, err := b.AddNode(graph.Node{
			Name:        title,
			Type:        graph.NodeFeature,
			Description: t.Description,
			Feature:     &graph.FeatureAttrs{Status: graph.StatusPlanned, Priority: priority, Requirements: steps},
			Metadata:    map[string]any{"taskId": t.ID, "source": a.cfg.ID},
		})
		if err != nil {
			return err
		}
		planID = plan.ID

		for i, step := range steps {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := b.AddNode(graph.Node{
				Name:     step,
				Type:     graph.NodeLogic,
				Logic:    &graph.LogicAttrs{LogicType: "plan_step"},
				Metadata: map[string]any{"taskId": t.ID, "step": i + 1},
			})
			if err != nil {
				return err
			}
			if _, err := b.AddRelationship(plan.ID, n.ID, graph.RelContains, map[string]any{"order": i + 1}); err != nil {
				return err
			}
			stepIDs = append(stepIDs, n.ID)
			t.SetProgress((i + 1) * 90 / len(steps))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording plan: %w", err)
	}

	a.logger.Info().Str("task_id", t.ID).Str("plan_node", planID).Int("steps", len(steps)).Msg("plan recorded")
	return map[string]any{
		"planNodeId":  planID,
		"stepNodeIds": stepIDs,
		"nodeIds":     append([]string{planID}, stepIDs...),
		"steps":       steps,
	}, nil
}

// splitSteps takes steps from the "steps" input, else from the list lines
// of the description, else falls back to a generic outline.
func splitSteps(t *Task) []string {
	var steps []string
	switch v := t.Inputs["steps"].(type) {
	case []string:
		steps = append(steps, v...)
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				steps = append(steps, str)
			}
		}
	}
	if len(steps) == 0 {
		for _, line := range strings.Split(t.Description, "\n") {
			if step, ok := listItem(line); ok {
				steps = append(steps, step)
			}
		}
	}

	out := steps[:0]
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultPlanSteps...)
	}
	return out
}

// listItem recognises "- x", "* x" and "1. x" / "1) x" lines.
func listItem(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if rest, ok := strings.CutPrefix(line, "- "); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(line, "* "); ok {
		return rest, true
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(line) && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		return line[i+2:], true
	}
	return "", false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
