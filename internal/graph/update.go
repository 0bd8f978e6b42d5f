package graph

import (
	"fmt"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
)

// NodeUpdate is a partial update. Nil fields are left unchanged. Metadata
// keys are merged; a nil value deletes the key.
type NodeUpdate struct {
	Type        *NodeType      `json:"type,omitempty"`
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Version     *string        `json:"version,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	Feature   *FeatureUpdate   `json:"feature,omitempty"`
	Screen    *ScreenUpdate    `json:"screen,omitempty"`
	API       *APIUpdate       `json:"api,omitempty"`
	DataModel *DataModelUpdate `json:"dataModel,omitempty"`
	Logic     *LogicUpdate     `json:"logic,omitempty"`
}

type FeatureUpdate struct {
	Status       *FeatureStatus `json:"status,omitempty"`
	Priority     *Priority      `json:"priority,omitempty"`
	Requirements []string       `json:"requirements,omitempty"`
}

type ScreenUpdate struct {
	ScreenType *string `json:"screenType,omitempty"`
	Route      *string `json:"route,omitempty"`
}

type APIUpdate struct {
	Method         *string `json:"method,omitempty"`
	Path           *string `json:"path,omitempty"`
	Authentication *string `json:"authentication,omitempty"`
	RateLimit      *int    `json:"rateLimit,omitempty"`
}

type DataModelUpdate struct {
	ModelType *string `json:"modelType,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
}

type LogicUpdate struct {
	LogicType      *string `json:"logicType,omitempty"`
	Implementation *string `json:"implementation,omitempty"`
}

// apply merges u into a copy of n. The result still needs Validate.
func (u NodeUpdate) apply(n Node) (Node, error) {
	if u.Type != nil && *u.Type != n.Type {
		return Node{}, merrors.NewValidation("type", fmt.Sprintf("cannot change node type from %s to %s", n.Type, *u.Type))
	}
	if err := u.checkVariant(n.Type); err != nil {
		return Node{}, err
	}

	out := n.Clone()
	if u.Name != nil {
		out.Name = *u.Name
	}
	if u.Description != nil {
		out.Description = *u.Description
	}
	if u.Version != nil {
		out.Version = *u.Version
	}
	if len(u.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			if v == nil {
				delete(out.Metadata, k)
				continue
			}
			out.Metadata[k] = cloneValue(v)
		}
	}

	switch {
	case u.Feature != nil:
		if out.Feature == nil {
			out.Feature = &FeatureAttrs{}
		}
		f := out.Feature
		if u.Feature.Status != nil {
			f.Status = *u.Feature.Status
		}
		if u.Feature.Priority != nil {
			f.Priority = *u.Feature.Priority
		}
		if u.Feature.Requirements != nil {
			f.Requirements = cloneStrings(u.Feature.Requirements)
		}
	case u.Screen != nil:
		if out.Screen == nil {
			out.Screen = &ScreenAttrs{}
		}
		s := out.Screen
		if u.Screen.ScreenType != nil {
			s.ScreenType = *u.Screen.ScreenType
		}
		if u.Screen.Route != nil {
			s.Route = *u.Screen.Route
		}
	case u.API != nil:
		if out.API == nil {
			out.API = &APIAttrs{}
		}
		a := out.API
		if u.API.Method != nil {
			a.Method = *u.API.Method
		}
		if u.API.Path != nil {
			a.Path = *u.API.Path
		}
		if u.API.Authentication != nil {
			a.Authentication = *u.API.Authentication
		}
		if u.API.RateLimit != nil {
			rl := *u.API.RateLimit
			a.RateLimit = &rl
		}
	case u.DataModel != nil:
		if out.DataModel == nil {
			out.DataModel = &DataModelAttrs{}
		}
		d := out.DataModel
		if u.DataModel.ModelType != nil {
			d.ModelType = *u.DataModel.ModelType
		}
		if u.DataModel.Fields != nil {
			d.Fields = make([]Field, len(u.DataModel.Fields))
			copy(d.Fields, u.DataModel.Fields)
		}
	case u.Logic != nil:
		if out.Logic == nil {
			out.Logic = &LogicAttrs{}
		}
		l := out.Logic
		if u.Logic.LogicType != nil {
			l.LogicType = *u.Logic.LogicType
		}
		if u.Logic.Implementation != nil {
			l.Implementation = *u.Logic.Implementation
		}
	}
	return out, nil
}

// checkVariant rejects variant fields that belong to another node type.
func (u NodeUpdate) checkVariant(t NodeType) error {
	blocks := []struct {
		t   NodeType
		set bool
	}{
		{NodeFeature, u.Feature != nil},
		{NodeScreen, u.Screen != nil},
		{NodeAPI, u.API != nil},
		{NodeDataModel, u.DataModel != nil},
		{NodeLogic, u.Logic != nil},
	}
	for _, b := range blocks {
		if b.set && b.t != t {
			return merrors.NewValidation(string(b.t), fmt.Sprintf("fields not applicable to a %s node", t))
		}
	}
	return nil
}
