package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/p-blackswan/memgraph/internal/agent"
	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/graph"
)

// TaskFilter for filtering stored tasks.
type TaskFilter struct {
	Status agent.TaskStatus
	Limit  int
}

const taskColumns = `id, title, description, agent_id, assigned_to, status, priority, inputs,
	progress, result, created_at, started_at, completed_at`

// SaveTask inserts or updates a task. It implements agent.TaskStore.
func (s *Store) SaveTask(t *agent.Task) error {
	inputs, err := nullJSON(t.Inputs, len(t.Inputs) > 0)
	if err != nil {
		return fmt.Errorf("encoding task inputs: %w", err)
	}
	result, err := nullJSON(t.Result, t.Result != nil)
	if err != nil {
		return fmt.Errorf("encoding task result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.exec(context.Background(), `
	INSERT OR REPLACE INTO tasks (`+taskColumns+`, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.AgentID, t.AssignedTo, string(t.Status), string(t.Priority), inputs,
		t.Progress, result, t.CreatedAt.UnixMilli(), nullTime(t.StartedAt), nullTime(t.CompletedAt),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*agent.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merrors.NewNotFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListTasks retrieves tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*agent.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*agent.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// FailStuckTasks marks tasks left running by a previous process as failed.
func (s *Store) FailStuckTasks(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	res, err := s.exec(ctx, `
	UPDATE tasks
	SET status = ?, result = ?, completed_at = ?, updated_at = ?
	WHERE status = ?`,
		string(agent.TaskFailed), `{"success":false,"error":"interrupted by restart","duration":0}`, now, now,
		string(agent.TaskRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stuck tasks: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*agent.Task, error) {
	t := &agent.Task{}
	var status, priority string
	var inputs, result sql.NullString
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.AgentID, &t.AssignedTo, &status, &priority,
		&inputs, &t.Progress, &result, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}

	t.Status = agent.TaskStatus(status)
	t.Priority = graph.Priority(priority)
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	if inputs.Valid {
		if err := json.Unmarshal([]byte(inputs.String), &t.Inputs); err != nil {
			return nil, fmt.Errorf("decoding inputs of %s: %w", t.ID, err)
		}
	}
	if result.Valid {
		t.Result = &agent.TaskResult{}
		if err := json.Unmarshal([]byte(result.String), t.Result); err != nil {
			return nil, fmt.Errorf("decoding result of %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func nullJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
