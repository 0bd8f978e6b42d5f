// Package config loads process settings from the environment and the agent
// roster from YAML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Graph
	GraphID              string `envconfig:"GRAPH_ID" default:"default"`
	GraphName            string `envconfig:"GRAPH_NAME" default:"memory-graph"`
	RejectSelfLoops      bool   `envconfig:"REJECT_SELF_LOOPS" default:"false"`
	RejectDuplicateEdges bool   `envconfig:"REJECT_DUPLICATE_EDGES" default:"false"`
	DependencyCacheSize  int    `envconfig:"DEPENDENCY_CACHE_SIZE" default:"256"`
	HistoryMaxEntries    int    `envconfig:"HISTORY_MAX_ENTRIES" default:"0"`
	RecordIntentNodes    bool   `envconfig:"RECORD_INTENT_NODES" default:"false"`

	// Persistence. An empty DBPath keeps everything in memory.
	DBPath           string        `envconfig:"DB_PATH"`
	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"1m"`
	TaskRetention    time.Duration `envconfig:"TASK_RETENTION" default:"168h"`

	// Agents
	AgentsFile  string        `envconfig:"AGENTS_FILE"`
	Workers     int           `envconfig:"WORKERS" default:"4"`
	QueueSize   int           `envconfig:"QUEUE_SIZE" default:"100"`
	TaskTimeout time.Duration `envconfig:"TASK_TIMEOUT" default:"2m"`

	// HTTP API
	APIListenAddr  string `envconfig:"API_LISTEN_ADDR" default:":8090"`
	APIAuthMode    string `envconfig:"API_AUTH_MODE" default:"api-key"`
	APIKey         string `envconfig:"API_KEY"`
	APICORSOrigins string `envconfig:"API_CORS_ORIGINS"`

	// APIKeyRoles grants extra keys a role: "key1:readonly,key2:editor".
	APIKeyRoles map[string]string `envconfig:"API_KEY_ROLES"`

	APIRateLimitRPS   int `envconfig:"API_RATE_LIMIT_RPS" default:"50"`
	APIRateLimitBurst int `envconfig:"API_RATE_LIMIT_BURST" default:"100"`

	// Ops server: health, readiness, metrics and the event stream.
	OpsListenAddr string `envconfig:"OPS_LISTEN_ADDR" default:":8080"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.APIAuthMode {
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("API_KEY is required when API_AUTH_MODE=api-key")
		}
	case "none":
	default:
		return fmt.Errorf("unknown API_AUTH_MODE %q (want api-key or none)", c.APIAuthMode)
	}
	for key, role := range c.APIKeyRoles {
		switch role {
		case "admin", "editor", "readonly":
		default:
			return fmt.Errorf("API_KEY_ROLES: key %q has unknown role %q", key, role)
		}
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.DependencyCacheSize < 0 {
		return fmt.Errorf("DEPENDENCY_CACHE_SIZE must not be negative")
	}
	return nil
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// PersistenceEnabled returns true if a SQLite path is configured.
func (c *Config) PersistenceEnabled() bool {
	return c.DBPath != ""
}

// CORSOriginList returns the parsed list of allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	if c.APICORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.APICORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix, e.g. "MEMGRAPH" for
// MEMGRAPH_DB_PATH.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
