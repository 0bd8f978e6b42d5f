package agent

import (
	"fmt"

	"github.com/rs/zerolog"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/history"
)

// Deps are the collaborators built-in agents are wired to.
type Deps struct {
	Graph interface {
		GraphWriter
		GraphInspector
	}
	Intents IntentProcessor
	History *history.Log
	Logger  zerolog.Logger
}

// Build constructs the built-in agent for cfg.Role.
func Build(cfg AgentConfig, deps Deps) (Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Role {
	case RolePlanner:
		return NewPlannerAgent(cfg, deps.Graph, deps.Logger), nil
	case RoleArchitect:
		if deps.Intents == nil {
			return nil, fmt.Errorf("agent %s: architect requires an intent processor", cfg.ID)
		}
		return NewArchitectAgent(cfg, deps.Intents, deps.Logger), nil
	case RoleAnalyst:
		return NewAnalystAgent(cfg, deps.Graph, deps.History, deps.Logger), nil
	}
	return nil, merrors.NewValidation("role", fmt.Sprintf("no built-in agent for role %q", cfg.Role))
}

// DefaultRoster is used when no roster file is configured.
func DefaultRoster() []AgentConfig {
	return []AgentConfig{
		{ID: "planner", Name: "Planner", Role: RolePlanner, Priority: 10, Capabilities: []string{"planning"}},
		{ID: "architect", Name: "Architect", Role: RoleArchitect, Priority: 5, Capabilities: []string{"design"}},
		{ID: "analyst", Name: "Analyst", Role: RoleAnalyst, Priority: 1, Capabilities: []string{"analysis"}},
	}
}
