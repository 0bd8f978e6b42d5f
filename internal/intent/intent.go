// Package intent turns high-level instructions into atomic graph changes.
package intent

import (
	"encoding/json"
	"fmt"
	"strings"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/graph"
)

// Kind names an intent.
type Kind string

const (
	CreateFeature   Kind = "create_feature"
	CreateScreen    Kind = "create_screen"
	CreateAPI       Kind = "create_api"
	CreateDataModel Kind = "create_data_model"
	CreateLogic     Kind = "create_logic"
)

// Kinds lists every supported intent.
var Kinds = []Kind{CreateFeature, CreateScreen, CreateAPI, CreateDataModel, CreateLogic}

// Valid reports whether k is supported.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Intent is the inbound {type, data} envelope.
type Intent struct {
	Type  Kind           `json:"type"`
	Data  map[string]any `json:"data"`
	Actor string         `json:"actor,omitempty"`
}

// ParseIntent decodes and checks an intent envelope.
func ParseIntent(raw []byte) (Intent, error) {
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return Intent{}, merrors.NewValidation("intent", fmt.Sprintf("invalid JSON: %v", err))
	}
	if !in.Type.Valid() {
		return Intent{}, merrors.NewValidation("type", fmt.Sprintf("unknown intent %q", in.Type))
	}
	if in.Data == nil {
		return Intent{}, merrors.NewValidation("data", "is required")
	}
	return in, nil
}

// common holds the fields every node-creating payload accepts.
type common struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Version     string         `json:"version"`
	Metadata    map[string]any `json:"metadata"`
}

func (c common) node(t graph.NodeType) graph.Node {
	return graph.Node{
		ID:          c.ID,
		Name:        strings.TrimSpace(c.Name),
		Type:        t,
		Description: c.Description,
		Version:     c.Version,
		Metadata:    c.Metadata,
	}
}

func (c common) check(field string) error {
	if strings.TrimSpace(c.Name) == "" {
		return merrors.NewValidation(field+"name", "is required")
	}
	return nil
}

// FeatureData is the create_feature payload. Screens, APIs and DataModels
// create child nodes; DependsOn links to existing nodes.
type FeatureData struct {
	common
	Status       graph.FeatureStatus `json:"status"`
	Priority     graph.Priority      `json:"priority"`
	Requirements []string            `json:"requirements"`
	Screens      []ScreenData        `json:"screens"`
	APIs         []APIData           `json:"apis"`
	DataModels   []DataModelData     `json:"dataModels"`
	DependsOn    []string            `json:"dependsOn"`
}

// ScreenData is the create_screen payload.
type ScreenData struct {
	common
	ScreenType string `json:"screenType"`
	Route      string `json:"route"`
}

// APIData is the create_api payload.
type APIData struct {
	common
	Method         string `json:"method"`
	Path           string `json:"path"`
	Authentication string `json:"authentication"`
	RateLimit      *int   `json:"rateLimit"`
}

// DataModelData is the create_data_model payload.
type DataModelData struct {
	common
	ModelType string        `json:"modelType"`
	Fields    []graph.Field `json:"fields"`
}

// LogicData is the create_logic payload.
type LogicData struct {
	common
	LogicType      string `json:"logicType"`
	Implementation string `json:"implementation"`
}

func (d FeatureData) node() graph.Node {
	n := d.common.node(graph.NodeFeature)
	n.Feature = &graph.FeatureAttrs{Status: d.Status, Priority: d.Priority, Requirements: d.Requirements}
	return n
}

func (d ScreenData) node() graph.Node {
	n := d.common.node(graph.NodeScreen)
	n.Screen = &graph.ScreenAttrs{ScreenType: d.ScreenType, Route: d.Route}
	return n
}

func (d APIData) node() graph.Node {
	n := d.common.node(graph.NodeAPI)
	n.API = &graph.APIAttrs{
		Method:         strings.ToUpper(d.Method),
		Path:           d.Path,
		Authentication: d.Authentication,
		RateLimit:      d.RateLimit,
	}
	return n
}

func (d DataModelData) node() graph.Node {
	n := d.common.node(graph.NodeDataModel)
	n.DataModel = &graph.DataModelAttrs{ModelType: d.ModelType, Fields: d.Fields}
	return n
}

func (d LogicData) node() graph.Node {
	n := d.common.node(graph.NodeLogic)
	n.Logic = &graph.LogicAttrs{LogicType: d.LogicType, Implementation: d.Implementation}
	return n
}

// decode maps the loose data bag onto a typed payload.
func decode(data map[string]any, into any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return merrors.NewValidation("data", err.Error())
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return merrors.NewValidation("data", fmt.Sprintf("malformed payload: %v", err))
	}
	return nil
}
