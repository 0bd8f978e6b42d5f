// Package graph implements the project memory graph: typed nodes, typed
// relationships, and the Engine that owns them.
package graph

import (
	"fmt"
	"strings"
	"time"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
)

// NodeType is the variant discriminant of a Node.
type NodeType string

const (
	NodeFeature   NodeType = "feature"
	NodeScreen    NodeType = "screen"
	NodeAPI       NodeType = "api"
	NodeDataModel NodeType = "data_model"
	NodeLogic     NodeType = "logic"
	NodeIntent    NodeType = "intent" // intent-derived, payload kept in metadata
)

// NodeTypes lists every known variant in a stable order.
var NodeTypes = []NodeType{NodeFeature, NodeScreen, NodeAPI, NodeDataModel, NodeLogic, NodeIntent}

// Valid reports whether t is a known variant.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// FeatureStatus is the lifecycle state of a feature.
type FeatureStatus string

const (
	StatusPlanned     FeatureStatus = "planned"
	StatusInProgress  FeatureStatus = "in_progress"
	StatusImplemented FeatureStatus = "implemented"
	StatusDeprecated  FeatureStatus = "deprecated"
)

// Valid reports whether s is a known status.
func (s FeatureStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusImplemented, StatusDeprecated:
		return true
	}
	return false
}

// Priority ranks features and tasks.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Rank orders priorities; higher is more urgent. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

// HTTP methods accepted on api nodes.
var apiMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Authentication modes accepted on api nodes.
var apiAuthModes = map[string]bool{
	"none": true, "api_key": true, "bearer": true, "oauth": true, "basic": true,
}

// Field is one column of a data model.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Unique   bool   `json:"unique"`
}

// FeatureAttrs holds the feature variant fields.
type FeatureAttrs struct {
	Status       FeatureStatus `json:"status"`
	Priority     Priority      `json:"priority"`
	Requirements []string      `json:"requirements"`
}

// ScreenAttrs holds the screen variant fields.
type ScreenAttrs struct {
	ScreenType string `json:"screenType"`
	Route      string `json:"route"`
}

// APIAttrs holds the api variant fields.
type APIAttrs struct {
	Method         string `json:"method"`
	Path           string `json:"path"`
	Authentication string `json:"authentication,omitempty"`
	RateLimit      *int   `json:"rateLimit,omitempty"` // requests per minute
}

// DataModelAttrs holds the data_model variant fields.
type DataModelAttrs struct {
	ModelType string  `json:"modelType"`
	Fields    []Field `json:"fields"`
}

// LogicAttrs holds the logic variant fields.
type LogicAttrs struct {
	LogicType      string `json:"logicType"`
	Implementation string `json:"implementation"`
}

// Node is a typed entity of the memory graph. Exactly one variant block,
// the one matching Type, may be set; intent nodes carry none.
type Node struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        NodeType       `json:"type"`
	Description string         `json:"description"`
	Version     string         `json:"version"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Metadata    map[string]any `json:"metadata"`

	Feature   *FeatureAttrs   `json:"feature,omitempty"`
	Screen    *ScreenAttrs    `json:"screen,omitempty"`
	API       *APIAttrs       `json:"api,omitempty"`
	DataModel *DataModelAttrs `json:"dataModel,omitempty"`
	Logic     *LogicAttrs     `json:"logic,omitempty"`
}

// DefaultVersion is assigned to nodes created without a version.
const DefaultVersion = "1.0.0"

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	out := n
	out.Metadata = cloneMap(n.Metadata)
	if n.Feature != nil {
		f := *n.Feature
		f.Requirements = cloneStrings(n.Feature.Requirements)
		out.Feature = &f
	}
	if n.Screen != nil {
		s := *n.Screen
		out.Screen = &s
	}
	if n.API != nil {
		a := *n.API
		if n.API.RateLimit != nil {
			rl := *n.API.RateLimit
			a.RateLimit = &rl
		}
		out.API = &a
	}
	if n.DataModel != nil {
		d := *n.DataModel
		if n.DataModel.Fields != nil {
			d.Fields = make([]Field, len(n.DataModel.Fields))
			copy(d.Fields, n.DataModel.Fields)
		}
		out.DataModel = &d
	}
	if n.Logic != nil {
		l := *n.Logic
		out.Logic = &l
	}
	return out
}

// applyDefaults fills the variant block for types that require one.
func (n *Node) applyDefaults() {
	if n.Version == "" {
		n.Version = DefaultVersion
	}
	switch n.Type {
	case NodeFeature:
		if n.Feature == nil {
			n.Feature = &FeatureAttrs{}
		}
		if n.Feature.Status == "" {
			n.Feature.Status = StatusPlanned
		}
		if n.Feature.Priority == "" {
			n.Feature.Priority = PriorityMedium
		}
	case NodeScreen:
		if n.Screen == nil {
			n.Screen = &ScreenAttrs{}
		}
	case NodeAPI:
		if n.API == nil {
			n.API = &APIAttrs{}
		}
		if n.API.Method == "" {
			n.API.Method = "GET"
		}
	case NodeDataModel:
		if n.DataModel == nil {
			n.DataModel = &DataModelAttrs{}
		}
	case NodeLogic:
		if n.Logic == nil {
			n.Logic = &LogicAttrs{}
		}
	}
}

// Validate checks the node-level invariants. It does not look at the rest
// of the graph.
func (n Node) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return merrors.NewValidation("id", "is required")
	}
	if strings.TrimSpace(n.Name) == "" {
		return merrors.NewValidation("name", "is required")
	}
	if !n.Type.Valid() {
		return merrors.NewValidation("type", fmt.Sprintf("unknown node type %q", n.Type))
	}
	if err := n.validateVariant(); err != nil {
		return err
	}
	if !n.CreatedAt.IsZero() && n.UpdatedAt.Before(n.CreatedAt) {
		return merrors.NewValidation("updatedAt", "must not be before createdAt")
	}
	return nil
}

func (n Node) validateVariant() error {
	blocks := []struct {
		t   NodeType
		set bool
	}{
		{NodeFeature, n.Feature != nil},
		{NodeScreen, n.Screen != nil},
		{NodeAPI, n.API != nil},
		{NodeDataModel, n.DataModel != nil},
		{NodeLogic, n.Logic != nil},
	}
	for _, b := range blocks {
		if b.set && b.t != n.Type {
			return merrors.NewValidation(string(b.t), fmt.Sprintf("attributes not allowed on a %s node", n.Type))
		}
	}

	switch n.Type {
	case NodeFeature:
		if n.Feature == nil {
			return nil
		}
		if !n.Feature.Status.Valid() {
			return merrors.NewValidation("feature.status", fmt.Sprintf("unknown status %q", n.Feature.Status))
		}
		if !n.Feature.Priority.Valid() {
			return merrors.NewValidation("feature.priority", fmt.Sprintf("unknown priority %q", n.Feature.Priority))
		}
	case NodeAPI:
		if n.API == nil {
			return nil
		}
		if !apiMethods[n.API.Method] {
			return merrors.NewValidation("api.method", fmt.Sprintf("unsupported method %q", n.API.Method))
		}
		if n.API.Authentication != "" && !apiAuthModes[n.API.Authentication] {
			return merrors.NewValidation("api.authentication", fmt.Sprintf("unknown mode %q", n.API.Authentication))
		}
		if n.API.RateLimit != nil && *n.API.RateLimit < 0 {
			return merrors.NewValidation("api.rateLimit", "must be >= 0")
		}
		if n.API.Path != "" && !strings.HasPrefix(n.API.Path, "/") {
			return merrors.NewValidation("api.path", "must start with /")
		}
	case NodeDataModel:
		if n.DataModel == nil {
			return nil
		}
		seen := make(map[string]bool, len(n.DataModel.Fields))
		for i, f := range n.DataModel.Fields {
			if strings.TrimSpace(f.Name) == "" {
				return merrors.NewValidation(fmt.Sprintf("dataModel.fields[%d].name", i), "is required")
			}
			if strings.TrimSpace(f.Type) == "" {
				return merrors.NewValidation(fmt.Sprintf("dataModel.fields[%d].type", i), "is required")
			}
			if seen[f.Name] {
				return merrors.NewValidation(fmt.Sprintf("dataModel.fields[%d].name", i), fmt.Sprintf("duplicate field %q", f.Name))
			}
			seen[f.Name] = true
		}
	case NodeScreen:
		if n.Screen != nil && n.Screen.Route != "" && !strings.HasPrefix(n.Screen.Route, "/") {
			return merrors.NewValidation("screen.route", "must start with /")
		}
	}
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return cloneStrings(val)
	default:
		return v
	}
}
