// Package agent runs capability-bound agents that claim and execute tasks
// against the memory graph.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
)

// Role classifies an agent's function.
type Role string

const (
	RolePlanner   Role = "planner"   // decomposes goals into plan nodes
	RoleArchitect Role = "architect" // turns requests into intents
	RoleAnalyst   Role = "analyst"   // validates and measures the graph
	RoleGeneral   Role = "general"
)

// AgentConfig describes an agent and what it accepts.
type AgentConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Role Role   `yaml:"role" json:"role"`

	// Priority orders candidates during dispatch; higher wins.
	Priority int `yaml:"priority" json:"priority"`

	// Capabilities are task categories, matched against the "category" input.
	Capabilities []string `yaml:"capabilities" json:"capabilities"`

	// Keywords are matched as whole words against title and description.
	// Multi-word keywords match as substrings.
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Validate checks required fields and sets defaults.
func (c *AgentConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return merrors.NewValidation("id", "agent id is required")
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.Role == "" {
		c.Role = RoleGeneral
	}
	return nil
}

// Matches reports whether t is in one of c's categories or mentions one of
// its keywords.
func (c AgentConfig) Matches(t *Task) bool {
	if cat := t.Input("category"); cat != "" {
		for _, capability := range c.Capabilities {
			if strings.EqualFold(capability, cat) {
				return true
			}
		}
	}

	text := strings.ToLower(t.Title + " " + t.Description)
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}) {
		words[w] = true
	}

	for _, kw := range c.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(kw, " ") {
			if strings.Contains(text, kw) {
				return true
			}
			continue
		}
		if words[kw] || words[kw+"s"] {
			return true
		}
	}
	return false
}

// Agent executes tasks. ExecuteTask must not panic across the call
// boundary for expected failures; it reports them in the result.
type Agent interface {
	Config() AgentConfig
	CanExecuteTask(t *Task) bool
	ExecuteTask(ctx context.Context, t *Task) TaskResult
}

// work is the body of a built-in agent's task.
type work func(ctx context.Context, t *Task) (map[string]any, error)

// execute runs fn with timing and panic recovery and shapes the result.
// Success forces progress to 100.
func execute(ctx context.Context, t *Task, fn work) (res TaskResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = TaskResult{Success: false, Error: fmt.Sprintf("agent panicked: %v", r)}
		}
		res.Duration = elapsedMillis(start)
	}()

	if err := ctx.Err(); err != nil {
		return TaskResult{Success: false, Error: err.Error()}
	}
	outputs, err := fn(ctx, t)
	if err != nil {
		return TaskResult{Success: false, Error: err.Error()}
	}
	if outputs == nil {
		outputs = map[string]any{}
	}
	t.SetProgress(100)
	return TaskResult{Success: true, Outputs: outputs}
}

func elapsedMillis(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}

// requireText fails tasks that give an agent nothing to work from.
func requireText(t *Task) error {
	if strings.TrimSpace(t.Title) == "" && strings.TrimSpace(t.Description) == "" {
		return merrors.NewValidation("task", "title or description is required")
	}
	return nil
}
