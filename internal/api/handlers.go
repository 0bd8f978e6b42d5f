package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/memgraph/internal/agent"
	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/history"
	"github.com/p-blackswan/memgraph/internal/intent"
	"github.com/p-blackswan/memgraph/internal/requestid"
)

const defaultHistoryLimit = 50

type handlers struct {
	Deps
	syncTimeout time.Duration
	logger      zerolog.Logger
	startTime   time.Time
	// bg parents dispatch contexts so agent work is not bound to the client connection.
	bg context.Context
}

func newHandlers(deps Deps, cfg ServerConfig, logger zerolog.Logger) *handlers {
	timeout := cfg.SyncTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &handlers{
		Deps:        deps,
		syncTimeout: timeout,
		logger:      logger.With().Str("component", "handlers").Logger(),
		startTime:   time.Now(),
		bg:          context.Background(),
	}
}

func badBody(c *fiber.Ctx, err error) error {
	return problemResponse(c, fiber.StatusBadRequest,
		"invalid_body", "Bad Request",
		"Invalid request body: "+err.Error())
}

func (h *handlers) existingNode(id string) error {
	if _, ok := h.Graph.GetNode(id); !ok {
		return merrors.NewNotFound("node", id)
	}
	return nil
}

// --- Intents ---

// ApplyIntent handles POST /api/v1/intents.
func (h *handlers) ApplyIntent(c *fiber.Ctx) error {
	var req IntentRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	in := intent.Intent{Type: intent.Kind(req.Type), Data: req.Data, Actor: req.Actor}
	if !in.Type.Valid() {
		return errorResponse(c, merrors.NewValidation("type", "unknown intent "+strconv.Quote(req.Type)))
	}
	if in.Data == nil {
		return errorResponse(c, merrors.NewValidation("data", "is required"))
	}

	nodes, err := h.Intents.Process(c.UserContext(), in)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(IntentResponse{Nodes: toNodeDTOs(nodes)})
}

// --- Nodes ---

// ListNodes handles GET /api/v1/nodes?type=.
func (h *handlers) ListNodes(c *fiber.Ctx) error {
	if t := c.Query("type"); t != "" {
		nt := graph.NodeType(t)
		if !nt.Valid() {
			return errorResponse(c, merrors.NewValidation("type", "unknown node type "+strconv.Quote(t)))
		}
		return c.JSON(toNodeDTOs(h.Graph.GetNodesByType(nt)))
	}
	return c.JSON(toNodeDTOs(h.Graph.ListNodes()))
}

// CreateNode handles POST /api/v1/nodes.
func (h *handlers) CreateNode(c *fiber.Ctx) error {
	var req NodeDTO
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	n, err := h.Graph.AddNode(req.node())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toNodeDTO(n))
}

// GetNode handles GET /api/v1/nodes/:id.
func (h *handlers) GetNode(c *fiber.Ctx) error {
	n, ok := h.Graph.GetNode(c.Params("id"))
	if !ok {
		return errorResponse(c, merrors.NewNotFound("node", c.Params("id")))
	}
	return c.JSON(toNodeDTO(n))
}

// UpdateNode handles PATCH /api/v1/nodes/:id.
func (h *handlers) UpdateNode(c *fiber.Ctx) error {
	var req PatchNodeRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	n, err := h.Graph.UpdateNode(c.Params("id"), req.update())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(toNodeDTO(n))
}

// DeleteNode handles DELETE /api/v1/nodes/:id. Incident relationships go with it.
func (h *handlers) DeleteNode(c *fiber.Ctx) error {
	if err := h.Graph.RemoveNode(c.Params("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// NodeRelationships handles GET /api/v1/nodes/:id/relationships.
func (h *handlers) NodeRelationships(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.existingNode(id); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(toRelationshipDTOs(h.Graph.GetRelationships(id)))
}

// RelatedNodes handles GET /api/v1/nodes/:id/related?direction=&type=.
// type may repeat.
func (h *handlers) RelatedNodes(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.existingNode(id); err != nil {
		return errorResponse(c, err)
	}
	dir, err := graph.ParseDirection(c.Query("direction"))
	if err != nil {
		return errorResponse(c, err)
	}
	var types []graph.RelationshipType
	for _, raw := range c.Context().QueryArgs().PeekMulti("type") {
		if len(raw) > 0 {
			types = append(types, graph.RelationshipType(raw))
		}
	}
	return c.JSON(toNodeDTOs(h.Graph.GetRelatedNodes(id, dir, types...)))
}

// Dependencies handles GET /api/v1/nodes/:id/dependencies.
func (h *handlers) Dependencies(c *fiber.Ctx) error {
	nodes, err := h.Graph.GetDependencyChain(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(toNodeDTOs(nodes))
}

// --- Relationships ---

// ListRelationships handles GET /api/v1/relationships.
func (h *handlers) ListRelationships(c *fiber.Ctx) error {
	return c.JSON(toRelationshipDTOs(h.Graph.ListRelationships()))
}

// CreateRelationship handles POST /api/v1/relationships.
func (h *handlers) CreateRelationship(c *fiber.Ctx) error {
	var req CreateRelationshipRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	r, err := h.Graph.AddRelationship(req.FromNodeID, req.ToNodeID, graph.RelationshipType(req.Type), req.Metadata)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toRelationshipDTO(r))
}

// GetRelationship handles GET /api/v1/relationships/:id.
func (h *handlers) GetRelationship(c *fiber.Ctx) error {
	r, ok := h.Graph.GetRelationship(c.Params("id"))
	if !ok {
		return errorResponse(c, merrors.NewNotFound("relationship", c.Params("id")))
	}
	return c.JSON(toRelationshipDTO(r))
}

// DeleteRelationship handles DELETE /api/v1/relationships/:id.
func (h *handlers) DeleteRelationship(c *fiber.Ctx) error {
	if err := h.Graph.RemoveRelationship(c.Params("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// --- Graph ---

// GetGraph handles GET /api/v1/graph.
func (h *handlers) GetGraph(c *fiber.Ctx) error {
	return c.JSON(toGraphResponse(h.Graph.Snapshot()))
}

// GraphInfo handles GET /api/v1/graph/info.
func (h *handlers) GraphInfo(c *fiber.Ctx) error {
	info := h.Graph.Info()
	return c.JSON(fiber.Map{
		"id":                 info.ID,
		"name":               info.Name,
		"version":            info.Version,
		"created_at":         info.CreatedAt,
		"updated_at":         info.UpdatedAt,
		"node_count":         info.NodeCount,
		"relationship_count": info.RelationshipCount,
		"last_event_seq":     info.LastEventSeq,
		"dependency_cache": fiber.Map{
			"entries":   info.DependencyCache.Entries,
			"hits":      info.DependencyCache.Hits,
			"misses":    info.DependencyCache.Misses,
			"evictions": info.DependencyCache.Evictions,
		},
	})
}

// ValidateGraph handles GET /api/v1/graph/validate. An invalid graph is
// still a 200; the verdict is in the body.
func (h *handlers) ValidateGraph(c *fiber.Ctx) error {
	r := h.Graph.ValidateGraph()
	return c.JSON(ValidationResponse{
		IsValid:  r.IsValid,
		Errors:   toIssueDTOs(r.Errors),
		Warnings: toIssueDTOs(r.Warnings),
	})
}

// AnalyzeGraph handles GET /api/v1/graph/analyze.
func (h *handlers) AnalyzeGraph(c *fiber.Ctx) error {
	return c.JSON(toAnalysisResponse(h.Graph.AnalyzeGraph()))
}

// --- History ---

// ListHistory handles GET /api/v1/history?limit=&type=&actor=. Entries are
// newest first.
func (h *handlers) ListHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		return errorResponse(c, merrors.NewValidation("limit", "must be positive"))
	}
	f := history.Filter{Type: history.EntryType(c.Query("type")), Actor: c.Query("actor"), Limit: limit}
	if f.Type != "" && !f.Type.Valid() {
		return errorResponse(c, merrors.NewValidation("type", "unknown entry type "+strconv.Quote(c.Query("type"))))
	}
	entries := h.History.Entries(f)
	return c.JSON(HistoryResponse{Entries: toHistoryDTOs(entries), Total: h.History.Count()})
}

// --- Tasks ---

// SubmitTask handles POST /api/v1/tasks.
func (h *handlers) SubmitTask(c *fiber.Ctx) error {
	var req SubmitTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	switch req.Dispatch {
	case "", "async", "sync":
	default:
		return errorResponse(c, merrors.NewValidation("dispatch", "must be async or sync"))
	}

	task, err := h.Runtime.Submit(agent.TaskRequest{
		Title:       req.Title,
		Description: req.Description,
		AgentID:     req.AgentID,
		Priority:    graph.Priority(req.Priority),
		Inputs:      req.Inputs,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	switch req.Dispatch {
	case "async":
		if err := h.Runtime.Enqueue(task.ID); err != nil {
			return errorResponse(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(TaskResponse{Task: toTaskDTO(task)})
	case "sync":
		return h.dispatch(c, task.ID, h.syncTimeout)
	}
	return c.Status(fiber.StatusCreated).JSON(TaskResponse{Task: toTaskDTO(task)})
}

// DispatchTask handles POST /api/v1/tasks/:id/dispatch?timeout=30s.
func (h *handlers) DispatchTask(c *fiber.Ctx) error {
	timeout := h.syncTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return errorResponse(c, merrors.NewValidation("timeout", "must be a positive duration such as 30s"))
		}
		timeout = d
	}
	return h.dispatch(c, c.Params("id"), timeout)
}

func (h *handlers) dispatch(c *fiber.Ctx, id string, timeout time.Duration) error {
	ctx := requestid.WithRequestID(h.bg, requestid.FromContext(c.UserContext()))
	res, err := h.Runtime.DispatchWithTimeout(ctx, id, timeout)
	if err != nil {
		return errorResponse(c, err)
	}
	task, _ := h.Runtime.Get(id)
	return c.JSON(TaskResponse{Task: toTaskDTO(task), Result: toTaskResultDTO(res)})
}

// ListTasks handles GET /api/v1/tasks?status=&agent_id=&limit=&offset=.
func (h *handlers) ListTasks(c *fiber.Ctx) error {
	f := agent.TaskFilter{
		Status:  agent.TaskStatus(c.Query("status")),
		AgentID: c.Query("agent_id"),
		Limit:   c.QueryInt("limit", 50),
		Offset:  c.QueryInt("offset", 0),
	}
	switch f.Status {
	case "", agent.TaskPending, agent.TaskRunning, agent.TaskCompleted, agent.TaskFailed:
	default:
		return errorResponse(c, merrors.NewValidation("status", "unknown task status "+strconv.Quote(string(f.Status))))
	}

	tasks, total := h.Runtime.List(f)
	out := make([]TaskDTO, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskDTO(t))
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return c.JSON(TaskListResponse{Tasks: out, Total: total, Limit: limit, Offset: max(f.Offset, 0)})
}

// GetTask handles GET /api/v1/tasks/:id.
func (h *handlers) GetTask(c *fiber.Ctx) error {
	task, ok := h.Runtime.Get(c.Params("id"))
	if !ok {
		return errorResponse(c, merrors.NewNotFound("task", c.Params("id")))
	}
	return c.JSON(TaskResponse{Task: toTaskDTO(task)})
}

// TaskStats handles GET /api/v1/tasks/stats.
func (h *handlers) TaskStats(c *fiber.Ctx) error {
	s := h.Runtime.Stats()
	return c.JSON(TaskStatsResponse{
		TotalTasks:    s.TotalTasks,
		ByStatus:      s.ByStatus,
		ByAgent:       s.ByAgent,
		AvgDurationMs: s.AvgDurationMs,
	})
}

// --- Agents ---

// ListAgents handles GET /api/v1/agents, in selection order.
func (h *handlers) ListAgents(c *fiber.Ctx) error {
	cfgs := h.Runtime.Agents()
	out := make([]AgentDTO, 0, len(cfgs))
	for _, a := range cfgs {
		caps, kws := a.Capabilities, a.Keywords
		if caps == nil {
			caps = []string{}
		}
		if kws == nil {
			kws = []string{}
		}
		out = append(out, AgentDTO{ID: a.ID, Name: a.Name, Role: string(a.Role), Priority: a.Priority, Capabilities: caps, Keywords: kws})
	}
	return c.JSON(out)
}

// UnregisterAgent handles DELETE /api/v1/agents/:id.
func (h *handlers) UnregisterAgent(c *fiber.Ctx) error {
	if err := h.Runtime.Unregister(c.Params("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// --- Probes ---

// Liveness handles GET /healthz.
func (h *handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *handlers) Readiness(c *fiber.Ctx) error {
	if h.Checker == nil {
		return c.JSON(fiber.Map{"status": "ready"})
	}
	ready, checks := h.Checker.Report(c.UserContext())
	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready", "checks": checks})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": checks})
}

// MetricsSummary handles GET /api/v1/metrics/summary.
func (h *handlers) MetricsSummary(c *fiber.Ctx) error {
	info := h.Graph.Info()
	stats := h.Runtime.Stats()
	return c.JSON(fiber.Map{
		"uptime_seconds":    int(time.Since(h.startTime).Seconds()),
		"nodes":             info.NodeCount,
		"relationships":     info.RelationshipCount,
		"history_entries":   h.History.Count(),
		"tasks_total":       stats.TotalTasks,
		"tasks_by_status":   stats.ByStatus,
		"avg_task_ms":       stats.AvgDurationMs,
		"registered_agents": len(h.Runtime.Agents()),
		"last_event_seq":    info.LastEventSeq,
	})
}
