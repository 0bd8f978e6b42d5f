package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/memgraph/internal/agent"
)

// Roster is the agents file:
//
//	agents:
//	  - id: planner
//	    role: planner
//	    priority: 10
//	    keywords: [plan, roadmap]
type Roster struct {
	Agents []agent.AgentConfig `yaml:"agents"`
}

// LoadRoster reads and parses a roster file, expanding env vars.
func LoadRoster(path string) (*Roster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roster: read %s: %w", path, err)
	}
	r, err := LoadRosterBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("roster: %s: %w", path, err)
	}
	return r, nil
}

// LoadRosterBytes parses a roster from bytes.
func LoadRosterBytes(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &r); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(r.Agents) == 0 {
		return nil, fmt.Errorf("no agents defined")
	}
	seen := make(map[string]bool, len(r.Agents))
	for i := range r.Agents {
		if err := r.Agents[i].Validate(); err != nil {
			return nil, fmt.Errorf("agents[%d]: %w", i, err)
		}
		if seen[r.Agents[i].ID] {
			return nil, fmt.Errorf("agents[%d]: duplicate id %q", i, r.Agents[i].ID)
		}
		seen[r.Agents[i].ID] = true
	}
	return &r, nil
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the environment value.
// Missing vars become empty strings.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
