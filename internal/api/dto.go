package api

import (
	"time"

	"github.com/p-blackswan/memgraph/internal/agent"
	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/history"
)

// --- Node DTOs ---

type FieldDTO struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Unique   bool   `json:"unique"`
}

type FeatureDTO struct {
	Status       string   `json:"status,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

type ScreenDTO struct {
	ScreenType string `json:"screen_type,omitempty"`
	Route      string `json:"route,omitempty"`
}

type APIDTO struct {
	Method         string `json:"method,omitempty"`
	Path           string `json:"path,omitempty"`
	Authentication string `json:"authentication,omitempty"`
	RateLimit      *int   `json:"rate_limit,omitempty"`
}

type DataModelDTO struct {
	ModelType string     `json:"model_type,omitempty"`
	Fields    []FieldDTO `json:"fields,omitempty"`
}

type LogicDTO struct {
	LogicType      string `json:"logic_type,omitempty"`
	Implementation string `json:"implementation,omitempty"`
}

// NodeDTO is the wire form of a node, used for both requests and responses.
type NodeDTO struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Version     string         `json:"version"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	Metadata    map[string]any `json:"metadata"`

	Feature   *FeatureDTO   `json:"feature,omitempty"`
	Screen    *ScreenDTO    `json:"screen,omitempty"`
	API       *APIDTO       `json:"api,omitempty"`
	DataModel *DataModelDTO `json:"data_model,omitempty"`
	Logic     *LogicDTO     `json:"logic,omitempty"`
}

func toNodeDTO(n graph.Node) NodeDTO {
	created, updated := n.CreatedAt, n.UpdatedAt
	d := NodeDTO{
		ID:          n.ID,
		Name:        n.Name,
		Type:        string(n.Type),
		Description: n.Description,
		Version:     n.Version,
		CreatedAt:   &created,
		UpdatedAt:   &updated,
		Metadata:    n.Metadata,
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	if f := n.Feature; f != nil {
		d.Feature = &FeatureDTO{Status: string(f.Status), Priority: string(f.Priority), Requirements: f.Requirements}
	}
	if s := n.Screen; s != nil {
		d.Screen = &ScreenDTO{ScreenType: s.ScreenType, Route: s.Route}
	}
	if a := n.API; a != nil {
		d.API = &APIDTO{Method: a.Method, Path: a.Path, Authentication: a.Authentication, RateLimit: a.RateLimit}
	}
	if m := n.DataModel; m != nil {
		d.DataModel = &DataModelDTO{ModelType: m.ModelType}
		for _, f := range m.Fields {
			d.DataModel.Fields = append(d.DataModel.Fields, FieldDTO(f))
		}
	}
	if l := n.Logic; l != nil {
		d.Logic = &LogicDTO{LogicType: l.LogicType, Implementation: l.Implementation}
	}
	return d
}

func toNodeDTOs(nodes []graph.Node) []NodeDTO {
	out := make([]NodeDTO, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeDTO(n))
	}
	return out
}

// node converts a create request into a graph node.
func (d NodeDTO) node() graph.Node {
	n := graph.Node{
		ID:          d.ID,
		Name:        d.Name,
		Type:        graph.NodeType(d.Type),
		Description: d.Description,
		Version:     d.Version,
		Metadata:    d.Metadata,
	}
	if d.CreatedAt != nil {
		n.CreatedAt = *d.CreatedAt
	}
	if d.UpdatedAt != nil {
		n.UpdatedAt = *d.UpdatedAt
	}
	if f := d.Feature; f != nil {
		n.Feature = &graph.FeatureAttrs{Status: graph.FeatureStatus(f.Status), Priority: graph.Priority(f.Priority), Requirements: f.Requirements}
	}
	if s := d.Screen; s != nil {
		n.Screen = &graph.ScreenAttrs{ScreenType: s.ScreenType, Route: s.Route}
	}
	if a := d.API; a != nil {
		n.API = &graph.APIAttrs{Method: a.Method, Path: a.Path, Authentication: a.Authentication, RateLimit: a.RateLimit}
	}
	if m := d.DataModel; m != nil {
		n.DataModel = &graph.DataModelAttrs{ModelType: m.ModelType, Fields: fields(m.Fields)}
	}
	if l := d.Logic; l != nil {
		n.Logic = &graph.LogicAttrs{LogicType: l.LogicType, Implementation: l.Implementation}
	}
	return n
}

func fields(in []FieldDTO) []graph.Field {
	if in == nil {
		return nil
	}
	out := make([]graph.Field, 0, len(in))
	for _, f := range in {
		out = append(out, graph.Field(f))
	}
	return out
}

// PatchNodeRequest is the payload for PATCH /api/v1/nodes/:id. Absent
// fields are unchanged; a null metadata value deletes the key.
type PatchNodeRequest struct {
	Type        *string        `json:"type,omitempty"`
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Version     *string        `json:"version,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	Feature *struct {
		Status       *string  `json:"status,omitempty"`
		Priority     *string  `json:"priority,omitempty"`
		Requirements []string `json:"requirements,omitempty"`
	} `json:"feature,omitempty"`
	Screen *struct {
		ScreenType *string `json:"screen_type,omitempty"`
		Route      *string `json:"route,omitempty"`
	} `json:"screen,omitempty"`
	API *struct {
		Method         *string `json:"method,omitempty"`
		Path           *string `json:"path,omitempty"`
		Authentication *string `json:"authentication,omitempty"`
		RateLimit      *int    `json:"rate_limit,omitempty"`
	} `json:"api,omitempty"`
	DataModel *struct {
		ModelType *string    `json:"model_type,omitempty"`
		Fields    []FieldDTO `json:"fields,omitempty"`
	} `json:"data_model,omitempty"`
	Logic *struct {
		LogicType      *string `json:"logic_type,omitempty"`
		Implementation *string `json:"implementation,omitempty"`
	} `json:"logic,omitempty"`
}

func (p PatchNodeRequest) update() graph.NodeUpdate {
	u := graph.NodeUpdate{
		Name:        p.Name,
		Description: p.Description,
		Version:     p.Version,
		Metadata:    p.Metadata,
	}
	if p.Type != nil {
		t := graph.NodeType(*p.Type)
		u.Type = &t
	}
	if f := p.Feature; f != nil {
		fu := &graph.FeatureUpdate{Requirements: f.Requirements}
		if f.Status != nil {
			s := graph.FeatureStatus(*f.Status)
			fu.Status = &s
		}
		if f.Priority != nil {
			pr := graph.Priority(*f.Priority)
			fu.Priority = &pr
		}
		u.Feature = fu
	}
	if s := p.Screen; s != nil {
		u.Screen = &graph.ScreenUpdate{ScreenType: s.ScreenType, Route: s.Route}
	}
	if a := p.API; a != nil {
		u.API = &graph.APIUpdate{Method: a.Method, Path: a.Path, Authentication: a.Authentication, RateLimit: a.RateLimit}
	}
	if m := p.DataModel; m != nil {
		u.DataModel = &graph.DataModelUpdate{ModelType: m.ModelType, Fields: fields(m.Fields)}
	}
	if l := p.Logic; l != nil {
		u.Logic = &graph.LogicUpdate{LogicType: l.LogicType, Implementation: l.Implementation}
	}
	return u
}

// --- Relationship DTOs ---

type RelationshipDTO struct {
	ID         string         `json:"id"`
	FromNodeID string         `json:"from_node_id"`
	ToNodeID   string         `json:"to_node_id"`
	Type       string         `json:"type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func toRelationshipDTO(r graph.Relationship) RelationshipDTO {
	return RelationshipDTO{
		ID:         r.ID,
		FromNodeID: r.FromNodeID,
		ToNodeID:   r.ToNodeID,
		Type:       string(r.Type),
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt,
	}
}

func toRelationshipDTOs(rels []graph.Relationship) []RelationshipDTO {
	out := make([]RelationshipDTO, 0, len(rels))
	for _, r := range rels {
		out = append(out, toRelationshipDTO(r))
	}
	return out
}

// CreateRelationshipRequest is the payload for POST /api/v1/relationships.
type CreateRelationshipRequest struct {
	FromNodeID string         `json:"from_node_id"`
	ToNodeID   string         `json:"to_node_id"`
	Type       string         `json:"type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// --- Intent DTOs ---

// IntentRequest is the payload for POST /api/v1/intents. Data keys are
// passed to the intent processor unchanged.
type IntentRequest struct {
	Type  string         `json:"type"`
	Data  map[string]any `json:"data"`
	Actor string         `json:"actor,omitempty"`
}

type IntentResponse struct {
	Nodes []NodeDTO `json:"nodes"`
}

// --- Graph DTOs ---

type GraphResponse struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	FormatVersion int               `json:"format_version"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Checksum      string            `json:"checksum"`
	Nodes         []NodeDTO         `json:"nodes"`
	Relationships []RelationshipDTO `json:"relationships"`
}

func toGraphResponse(s graph.Snapshot) GraphResponse {
	return GraphResponse{
		ID:            s.ID,
		Name:          s.Name,
		Version:       s.Version,
		FormatVersion: s.FormatVersion,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Checksum:      s.Checksum,
		Nodes:         toNodeDTOs(s.Nodes),
		Relationships: toRelationshipDTOs(s.Relationships),
	}
}

type IssueDTO struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	NodeID         string `json:"node_id,omitempty"`
	RelationshipID string `json:"relationship_id,omitempty"`
}

type ValidationResponse struct {
	IsValid  bool       `json:"is_valid"`
	Errors   []IssueDTO `json:"errors"`
	Warnings []IssueDTO `json:"warnings"`
}

func toIssueDTOs(issues []graph.Issue) []IssueDTO {
	out := make([]IssueDTO, 0, len(issues))
	for _, is := range issues {
		out = append(out, IssueDTO{Code: string(is.Code), Message: is.Message, NodeID: is.NodeID, RelationshipID: is.RelationshipID})
	}
	return out
}

type AnalysisResponse struct {
	TotalNodes                   int            `json:"total_nodes"`
	TotalRelationships           int            `json:"total_relationships"`
	NodeTypeDistribution         map[string]int `json:"node_type_distribution"`
	RelationshipTypeDistribution map[string]int `json:"relationship_type_distribution"`
	Complexity                   float64        `json:"complexity"`
	Completeness                 float64        `json:"completeness"`
	OrphanNodes                  int            `json:"orphan_nodes"`
}

func toAnalysisResponse(a graph.Analysis) AnalysisResponse {
	r := AnalysisResponse{
		TotalNodes:                   a.TotalNodes,
		TotalRelationships:           a.TotalRelationships,
		NodeTypeDistribution:         make(map[string]int, len(a.NodeTypeDistribution)),
		RelationshipTypeDistribution: make(map[string]int, len(a.RelationshipTypeDistribution)),
		Complexity:                   a.Complexity,
		Completeness:                 a.Completeness,
		OrphanNodes:                  a.OrphanNodes,
	}
	for k, v := range a.NodeTypeDistribution {
		r.NodeTypeDistribution[string(k)] = v
	}
	for k, v := range a.RelationshipTypeDistribution {
		r.RelationshipTypeDistribution[string(k)] = v
	}
	return r
}

// --- History DTOs ---

type HistoryEntryDTO struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	EntryType     string    `json:"entry_type"`
	Content       string    `json:"content"`
	ResultNodeIDs []string  `json:"result_node_ids"`
	Actor         string    `json:"actor,omitempty"`
}

type HistoryResponse struct {
	Entries []HistoryEntryDTO `json:"entries"`
	Total   int               `json:"total"`
}

func toHistoryDTOs(entries []history.Entry) []HistoryEntryDTO {
	out := make([]HistoryEntryDTO, 0, len(entries))
	for _, e := range entries {
		ids := e.ResultNodeIDs
		if ids == nil {
			ids = []string{}
		}
		out = append(out, HistoryEntryDTO{
			ID:            e.ID,
			Timestamp:     e.Timestamp,
			EntryType:     string(e.Type),
			Content:       e.Content,
			ResultNodeIDs: ids,
			Actor:         e.Actor,
		})
	}
	return out
}

// --- Task DTOs ---

// SubmitTaskRequest is the payload for POST /api/v1/tasks. Dispatch is
// "" (leave pending), "async" (queue for the worker pool) or "sync"
// (run now and wait).
type SubmitTaskRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	AgentID     string         `json:"agent_id,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Dispatch    string         `json:"dispatch,omitempty"`
}

type TaskResultDTO struct {
	Success    bool           `json:"success"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs float64        `json:"duration_ms"`
}

func toTaskResultDTO(r agent.TaskResult) *TaskResultDTO {
	return &TaskResultDTO{Success: r.Success, Outputs: r.Outputs, Error: r.Error, DurationMs: r.Duration}
}

type TaskDTO struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	AgentID     string         `json:"agent_id,omitempty"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Progress    int            `json:"progress"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      *TaskResultDTO `json:"result,omitempty"`
}

func toTaskDTO(t *agent.Task) TaskDTO {
	d := TaskDTO{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		AgentID:     t.AgentID,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		Inputs:      t.Inputs,
		Progress:    t.Progress,
		AssignedTo:  t.AssignedTo,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
	if t.Result != nil {
		d.Result = toTaskResultDTO(*t.Result)
	}
	return d
}

type TaskResponse struct {
	Task   TaskDTO        `json:"task"`
	Result *TaskResultDTO `json:"result,omitempty"`
}

type TaskListResponse struct {
	Tasks  []TaskDTO `json:"tasks"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type AgentDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Priority     int      `json:"priority"`
	Capabilities []string `json:"capabilities"`
	Keywords     []string `json:"keywords"`
}

type TaskStatsResponse struct {
	TotalTasks    int            `json:"total_tasks"`
	ByStatus      map[string]int `json:"by_status"`
	ByAgent       map[string]int `json:"by_agent"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
}
