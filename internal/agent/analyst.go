package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/history"
)

// GraphInspector is the read side the analyst needs.
type GraphInspector interface {
	ValidateGraph() graph.ValidationReport
	AnalyzeGraph() graph.Analysis
}

var analystKeywords = []string{"analyze", "analyse", "analysis", "validate", "validation", "audit", "review", "metrics", "health"}

// AnalystAgent validates and measures the graph and records the result in
// the change history.
type AnalystAgent struct {
	cfg     AgentConfig
	graph   GraphInspector
	history *history.Log
	logger  zerolog.Logger
}

// NewAnalystAgent creates an analyst. hist may be nil.
func NewAnalystAgent(cfg AgentConfig, g GraphInspector, hist *history.Log, logger zerolog.Logger) *AnalystAgent {
	if cfg.Role == "" {
		cfg.Role = RoleAnalyst
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = analystKeywords
	}
	return &AnalystAgent{
		cfg:     cfg,
		graph:   g,
		history: hist,
		logger:  logger.With().Str("component", "analyst").Str("agent_id", cfg.ID).Logger(),
	}
}

func (a *AnalystAgent) Config() AgentConfig { return a.cfg }

func (a *AnalystAgent) CanExecuteTask(t *Task) bool { return a.cfg.Matches(t) }

func (a *AnalystAgent) ExecuteTask(ctx context.Context, t *Task) TaskResult {
	return execute(ctx, t, a.analyze)
}

func (a *AnalystAgent) analyze(_ context.Context, t *Task) (map[string]any, error) {
	if err := requireText(t); err != nil {
		return nil, err
	}

	report := a.graph.ValidateGraph()
	t.SetProgress(50)
	analysis := a.graph.AnalyzeGraph()

	summary := fmt.Sprintf("valid=%t errors=%d warnings=%d nodes=%d relationships=%d completeness=%.2f",
		report.IsValid, len(report.Errors), len(report.Warnings),
		analysis.TotalNodes, analysis.TotalRelationships, analysis.Completeness)
	if a.history != nil {
		a.history.AddEntry(history.Entry{
			Type:          history.EntryAnalysis,
			Content:       summary,
			ResultNodeIDs: []string{},
			Actor:         a.cfg.ID,
		})
	}

	a.logger.Info().Str("task_id", t.ID).Bool("valid", report.IsValid).Int("errors", len(report.Errors)).Msg("graph analyzed")
	return map[string]any{
		"validation": report,
		"analysis":   analysis,
		"summary":    summary,
	}, nil
}
