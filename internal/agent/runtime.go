package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/history"
	"github.com/p-blackswan/memgraph/internal/metrics"
)

// ErrNoCapableAgent is returned by Dispatch when no registered agent accepts
// the task. The task stays pending.
var ErrNoCapableAgent = errors.New("no capable agent")

// Config holds runtime configuration.
type Config struct {
	Workers   int
	QueueSize int
	// TaskTimeout bounds each execution. Zero means only the caller's
	// context applies.
	TaskTimeout time.Duration
}

// Runtime registers agents and drives tasks through
// pending → running → completed | failed.
type Runtime struct {
	cfg Config

	agentsMu sync.RWMutex
	agents   map[string]Agent
	order    []string // registration order, tie-breaker for equal priority

	tasksMu  sync.RWMutex
	tasks    map[string]*Task
	taskList []*Task

	queue   chan string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	history *history.Log
	store   TaskStore
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewRuntime creates a runtime. hist may be nil.
func NewRuntime(cfg Config, hist *history.Log, logger zerolog.Logger) *Runtime {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	return &Runtime{
		cfg:     cfg,
		agents:  make(map[string]Agent),
		tasks:   make(map[string]*Task),
		queue:   make(chan string, cfg.QueueSize),
		history: hist,
		logger:  logger.With().Str("component", "agent_runtime").Logger(),
	}
}

// SetStore sets the optional task persistence backend.
func (r *Runtime) SetStore(s TaskStore) {
	r.store = s
}

// SetMetrics sets the metrics collector.
func (r *Runtime) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Register adds an agent. Ids are unique.
func (r *Runtime) Register(a Agent) error {
	cfg := a.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.agentsMu.Lock()
	defer r.agentsMu.Unlock()
	if _, exists := r.agents[cfg.ID]; exists {
		return merrors.NewDuplicateID("agent", cfg.ID)
	}
	r.agents[cfg.ID] = a
	r.order = append(r.order, cfg.ID)
	r.logger.Info().Str("agent_id", cfg.ID).Str("role", string(cfg.Role)).Int("priority", cfg.Priority).Msg("agent registered")
	return nil
}

// Unregister removes an agent.
func (r *Runtime) Unregister(id string) error {
	r.agentsMu.Lock()
	defer r.agentsMu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return merrors.NewNotFound("agent", id)
	}
	delete(r.agents, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info().Str("agent_id", id).Msg("agent unregistered")
	return nil
}

// Agents returns agent configs by priority, highest first.
func (r *Runtime) Agents() []AgentConfig {
	r.agentsMu.RLock()
	defer r.agentsMu.RUnlock()
	ranked := r.rankedLocked()
	out := make([]AgentConfig, len(ranked))
	for i, a := range ranked {
		out[i] = a.Config()
	}
	return out
}

func (r *Runtime) rankedLocked() []Agent {
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Config().Priority > out[j].Config().Priority
	})
	return out
}

// Submit creates a pending task.
func (r *Runtime) Submit(req TaskRequest) (*Task, error) {
	if req.Priority == "" {
		req.Priority = graph.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, merrors.NewValidation("priority", fmt.Sprintf("unknown priority %q", req.Priority))
	}

	task := &Task{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		AgentID:     req.AgentID,
		Status:      TaskPending,
		Priority:    req.Priority,
		Inputs:      req.Inputs,
		CreatedAt:   time.Now().UTC(),
	}

	r.tasksMu.Lock()
	r.tasks[task.ID] = task
	r.taskList = append(r.taskList, task)
	r.tasksMu.Unlock()

	r.persist(task)
	r.logger.Info().Str("task_id", task.ID).Str("title", task.Title).Msg("task submitted")

	snap := task.Snapshot()
	return &snap, nil
}

// Get returns a snapshot of the task.
func (r *Runtime) Get(id string) (*Task, bool) {
	r.tasksMu.RLock()
	t, ok := r.tasks[id]
	r.tasksMu.RUnlock()
	if !ok {
		return nil, false
	}
	snap := t.Snapshot()
	return &snap, true
}

// Dispatch hands the pending task to the highest-priority capable agent and
// waits for the result. Execution failures are reported in the result, not
// as an error.
func (r *Runtime) Dispatch(ctx context.Context, taskID string) (TaskResult, error) {
	r.tasksMu.RLock()
	task, ok := r.tasks[taskID]
	r.tasksMu.RUnlock()
	if !ok {
		return TaskResult{}, merrors.NewNotFound("task", taskID)
	}

	task.RLock()
	status := task.Status
	task.RUnlock()
	if status != TaskPending {
		return TaskResult{}, merrors.NewValidation("status", fmt.Sprintf("task %s is %s, only pending tasks can be dispatched", taskID, status))
	}

	a := r.selectAgent(task)
	if a == nil {
		r.logger.Warn().Str("task_id", taskID).Msg("no capable agent")
		return TaskResult{}, fmt.Errorf("%w for task %s", ErrNoCapableAgent, taskID)
	}
	agentID := a.Config().ID

	// Claim. Another dispatcher may have won while we were selecting.
	now := time.Now().UTC()
	task.Lock()
	if task.Status != TaskPending {
		status := task.Status
		task.Unlock()
		return TaskResult{}, merrors.NewValidation("status", fmt.Sprintf("task %s is %s, only pending tasks can be dispatched", taskID, status))
	}
	task.Status = TaskRunning
	task.StartedAt = &now
	task.AssignedTo = agentID
	task.Unlock()
	r.persist(task)

	log := r.logger.With().Str("task_id", taskID).Str("agent_id", agentID).Logger()
	log.Info().Msg("executing task")

	result := r.execute(ctx, a, task)

	completed := time.Now().UTC()
	task.Lock()
	task.CompletedAt = &completed
	task.Result = &result
	if result.Success {
		task.Status = TaskCompleted
		task.Progress = 100
	} else {
		task.Status = TaskFailed
	}
	finalStatus := task.Status
	task.Unlock()
	r.persist(task)

	if r.history != nil {
		r.history.AddEntry(history.Entry{
			Type:          history.EntryAgentAction,
			Content:       fmt.Sprintf("%s %s task %q", agentID, finalStatus, task.Title),
			ResultNodeIDs: outputNodeIDs(result.Outputs),
			Actor:         agentID,
		})
	}
	if r.metrics != nil {
		r.metrics.RecordTask(agentID, string(finalStatus), result.Duration/1000)
	}

	if result.Success {
		log.Info().Float64("duration_ms", result.Duration).Msg("task completed")
	} else {
		log.Warn().Str("error", result.Error).Float64("duration_ms", result.Duration).Msg("task failed")
	}
	return result, nil
}

// DispatchWithTimeout dispatches with an execution deadline of d.
func (r *Runtime) DispatchWithTimeout(ctx context.Context, taskID string, d time.Duration) (TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return r.Dispatch(ctx, taskID)
}

// Run submits req and dispatches it.
func (r *Runtime) Run(ctx context.Context, req TaskRequest) (*Task, TaskResult, error) {
	task, err := r.Submit(req)
	if err != nil {
		return nil, TaskResult{}, err
	}
	result, err := r.Dispatch(ctx, task.ID)
	snap, _ := r.Get(task.ID)
	return snap, result, err
}

func (r *Runtime) selectAgent(t *Task) Agent {
	r.agentsMu.RLock()
	defer r.agentsMu.RUnlock()
	for _, a := range r.rankedLocked() {
		if t.AgentID != "" && a.Config().ID != t.AgentID {
			continue
		}
		if r.canExecute(a, t) {
			return a
		}
	}
	return nil
}

func (r *Runtime) canExecute(a Agent, t *Task) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Str("agent_id", a.Config().ID).Msg("CanExecuteTask panicked")
			ok = false
		}
	}()
	return a.CanExecuteTask(t)
}

// execute awaits the agent while honouring ctx and the task timeout. The
// measured duration replaces whatever the agent reported.
func (r *Runtime) execute(ctx context.Context, a Agent, t *Task) TaskResult {
	execCtx := ctx
	if r.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.cfg.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan TaskResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- TaskResult{Success: false, Error: fmt.Sprintf("agent panicked: %v", rec)}
			}
		}()
		done <- a.ExecuteTask(execCtx, t)
	}()

	var res TaskResult
	select {
	case res = <-done:
	case <-execCtx.Done():
		err := execCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			var after time.Duration
			if deadline, ok := execCtx.Deadline(); ok {
				after = deadline.Sub(start).Round(time.Millisecond)
			}
			err = &merrors.TimeoutError{Op: "task " + t.ID, After: after}
		}
		res = TaskResult{Success: false, Error: err.Error()}
	}

	res.Duration = elapsedMillis(start)
	if res.Success {
		res.Error = ""
		if res.Outputs == nil {
			res.Outputs = map[string]any{}
		}
	} else {
		res.Outputs = nil
		if res.Error == "" {
			res.Error = "task failed without an error message"
		}
	}
	return res
}

// List returns task snapshots newest first, and the filtered total.
func (r *Runtime) List(f TaskFilter) ([]*Task, int) {
	r.tasksMu.RLock()
	defer r.tasksMu.RUnlock()

	var filtered []*Task
	for _, t := range r.taskList {
		t.RLock()
		status, assigned, requested := t.Status, t.AssignedTo, t.AgentID
		t.RUnlock()
		if f.Status != "" && status != f.Status {
			continue
		}
		if f.AgentID != "" && assigned != f.AgentID && requested != f.AgentID {
			continue
		}
		filtered = append(filtered, t)
	}
	total := len(filtered)

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*Task{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]*Task, 0, end-offset)
	for i := total - 1 - offset; i >= total-end; i-- {
		snap := filtered[i].Snapshot()
		out = append(out, &snap)
	}
	return out, total
}

// Stats returns summary statistics.
func (r *Runtime) Stats() Stats {
	r.tasksMu.RLock()
	defer r.tasksMu.RUnlock()

	s := Stats{
		TotalTasks: len(r.taskList),
		ByStatus:   make(map[string]int),
		ByAgent:    make(map[string]int),
	}
	var total float64
	var finished int
	for _, t := range r.taskList {
		t.RLock()
		s.ByStatus[string(t.Status)]++
		if t.AssignedTo != "" {
			s.ByAgent[t.AssignedTo]++
		}
		if t.Result != nil {
			total += t.Result.Duration
			finished++
		}
		t.RUnlock()
	}
	if finished > 0 {
		s.AvgDurationMs = total / float64(finished)
	}
	return s
}

// Start launches the worker pool used by Enqueue.
func (r *Runtime) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.logger.Info().Int("workers", r.cfg.Workers).Msg("agent runtime started")
}

// Stop cancels in-flight work and waits for workers to exit.
func (r *Runtime) Stop() {
	if !r.running.Swap(false) {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info().Msg("agent runtime stopped")
}

// Enqueue schedules asynchronous dispatch of a pending task. A task no
// registered agent can take is rejected with ErrNoCapableAgent and stays
// pending.
func (r *Runtime) Enqueue(taskID string) error {
	task, ok := r.Get(taskID)
	if !ok {
		return merrors.NewNotFound("task", taskID)
	}
	if r.selectAgent(task) == nil {
		return fmt.Errorf("%w for task %s", ErrNoCapableAgent, taskID)
	}
	select {
	case r.queue <- taskID:
		r.logger.Debug().Str("task_id", taskID).Msg("task enqueued")
		return nil
	default:
		return fmt.Errorf("%w: task queue is full", merrors.ErrUnavailable)
	}
}

func (r *Runtime) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With().Int("worker", id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case taskID := <-r.queue:
			if _, err := r.Dispatch(ctx, taskID); err != nil {
				log.Warn().Err(err).Str("task_id", taskID).Msg("dispatch failed")
			}
		}
	}
}

func (r *Runtime) persist(t *Task) {
	if r.store == nil {
		return
	}
	snap := t.Snapshot()
	if err := r.store.SaveTask(&snap); err != nil {
		r.logger.Warn().Err(err).Str("task_id", t.ID).Msg("failed to persist task")
	}
}

// outputNodeIDs extracts node ids reported under outputs["nodeIds"].
func outputNodeIDs(outputs map[string]any) []string {
	switch ids := outputs["nodeIds"].(type) {
	case []string:
		return append([]string(nil), ids...)
	case []any:
		out := make([]string, 0, len(ids))
		for _, v := range ids {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
