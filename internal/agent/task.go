package agent

import (
	"sync"
	"time"

	"github.com/p-blackswan/memgraph/internal/graph"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskResult is the structured outcome of an execution. Outputs is set only
// on success and Error only on failure. Duration is in milliseconds.
type TaskResult struct {
	Success  bool           `json:"success"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration float64        `json:"duration"`
}

// Task is a unit of work. Title, Description, Priority and Inputs are fixed
// at submission; the rest is guarded by the task lock.
type Task struct {
	mu          sync.RWMutex
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	AgentID     string         `json:"agentId,omitempty"`
	Status      TaskStatus     `json:"status"`
	Priority    graph.Priority `json:"priority"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Progress    int            `json:"progress"`
	AssignedTo  string         `json:"assignedTo,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Result      *TaskResult    `json:"result,omitempty"`
}

// Lock locks the task for writing.
func (t *Task) Lock() { t.mu.Lock() }

// Unlock unlocks the task after writing.
func (t *Task) Unlock() { t.mu.Unlock() }

// RLock locks the task for reading.
func (t *Task) RLock() { t.mu.RLock() }

// RUnlock unlocks the task after reading.
func (t *Task) RUnlock() { t.mu.RUnlock() }

// Snapshot returns a copy of the task that is safe to read without holding locks.
func (t *Task) Snapshot() Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var result *TaskResult
	if t.Result != nil {
		r := *t.Result
		result = &r
	}
	return Task{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		AgentID:     t.AgentID,
		Status:      t.Status,
		Priority:    t.Priority,
		Inputs:      t.Inputs,
		Progress:    t.Progress,
		AssignedTo:  t.AssignedTo,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Result:      result,
	}
}

// SetProgress records progress, clamped to 0..100.
func (t *Task) SetProgress(p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	t.mu.Lock()
	t.Progress = p
	t.mu.Unlock()
}

// Input returns a string input, or "" when absent.
func (t *Task) Input(key string) string {
	s, _ := t.Inputs[key].(string)
	return s
}

// TaskRequest is the payload for submitting a task.
type TaskRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	AgentID     string         `json:"agentId,omitempty"`
	Priority    graph.Priority `json:"priority,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// TaskFilter narrows List results.
type TaskFilter struct {
	Status  TaskStatus
	AgentID string
	Limit   int
	Offset  int
}

// Stats summarizes the task table.
type Stats struct {
	TotalTasks    int            `json:"totalTasks"`
	ByStatus      map[string]int `json:"byStatus"`
	ByAgent       map[string]int `json:"byAgent"`
	AvgDurationMs float64        `json:"avgDurationMs"`
}

// TaskStore persists task state changes. Implementations upsert by id;
// t is a snapshot owned by the caller.
type TaskStore interface {
	SaveTask(t *Task) error
}
