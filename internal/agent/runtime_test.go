package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/history"
	"github.com/p-blackswan/memgraph/internal/metrics"
)

// stubAgent accepts tasks whose title contains one of its keywords and runs fn.
type stubAgent struct {
	cfg   AgentConfig
	fn    func(ctx context.Context, t *Task) TaskResult
	calls atomic.Int32
}

func newStub(id string, priority int, keywords ...string) *stubAgent {
	return &stubAgent{
		cfg: AgentConfig{ID: id, Priority: priority, Keywords: keywords},
		fn: func(context.Context, *Task) TaskResult {
			return TaskResult{Success: true, Outputs: map[string]any{"by": id}}
		},
	}
}

func (s *stubAgent) Config() AgentConfig         { return s.cfg }
func (s *stubAgent) CanExecuteTask(t *Task) bool { return s.cfg.Matches(t) }
func (s *stubAgent) ExecuteTask(ctx context.Context, t *Task) TaskResult {
	s.calls.Add(1)
	return s.fn(ctx, t)
}

func newRuntime(t *testing.T, cfg Config) (*Runtime, *history.Log) {
	t.Helper()
	hist := history.New(history.Config{}, zerolog.Nop())
	return NewRuntime(cfg, hist, zerolog.Nop()), hist
}

func TestRegister_Duplicate(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	require.NoError(t, rt.Register(newStub("a", 1, "x")))

	err := rt.Register(newStub("a", 2, "y"))
	assert.True(t, errors.Is(err, merrors.ErrDuplicateID))
	assert.Len(t, rt.Agents(), 1)

	err = rt.Register(newStub("", 1))
	assert.True(t, errors.Is(err, merrors.ErrValidation))
}

func TestUnregister(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	require.NoError(t, rt.Register(newStub("a", 1, "x")))
	require.NoError(t, rt.Unregister("a"))
	assert.Empty(t, rt.Agents())
	assert.True(t, errors.Is(rt.Unregister("a"), merrors.ErrNotFound))
}

func TestAgents_PriorityOrder(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	require.NoError(t, rt.Register(newStub("low", 1)))
	require.NoError(t, rt.Register(newStub("high", 9)))
	require.NoError(t, rt.Register(newStub("mid-a", 5)))
	require.NoError(t, rt.Register(newStub("mid-b", 5)))

	var ids []string
	for _, c := range rt.Agents() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, ids)
}

func TestSubmit(t *testing.T) {
	rt, _ := newRuntime(t, Config{})

	task, err := rt.Submit(TaskRequest{Title: "  Build it  "})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Build it", task.Title)
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, graph.PriorityMedium, task.Priority)
	assert.False(t, task.CreatedAt.IsZero())

	_, err = rt.Submit(TaskRequest{Title: "x", Priority: "urgent"})
	assert.True(t, errors.Is(err, merrors.ErrValidation))
}

func TestDispatch_HighestPriorityCapableAgent(t *testing.T) {
	rt, hist := newRuntime(t, Config{})
	low := newStub("low", 1, "deploy")
	high := newStub("high", 10, "deploy")
	other := newStub("other", 100, "unrelated")
	for _, a := range []Agent{low, high, other} {
		require.NoError(t, rt.Register(a))
	}

	task, err := rt.Submit(TaskRequest{Title: "Deploy the service"})
	require.NoError(t, err)

	res, err := rt.Dispatch(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "high", res.Outputs["by"])
	assert.Empty(t, res.Error)
	assert.GreaterOrEqual(t, res.Duration, 0.0)

	assert.Equal(t, int32(1), high.calls.Load())
	assert.Zero(t, low.calls.Load())
	assert.Zero(t, other.calls.Load())

	got, ok := rt.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, TaskCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "high", got.AssignedTo)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Success)

	entries := hist.GetRecentContext(1)
	require.Len(t, entries, 1)
	assert.Equal(t, history.EntryAgentAction, entries[0].Type)
	assert.Equal(t, "high", entries[0].Actor)
}

func TestDispatch_RestrictedToAgentID(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	require.NoError(t, rt.Register(newStub("high", 10, "deploy")))
	require.NoError(t, rt.Register(newStub("low", 1, "deploy")))

	task, err := rt.Submit(TaskRequest{Title: "deploy", AgentID: "low"})
	require.NoError(t, err)
	res, err := rt.Dispatch(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "low", res.Outputs["by"])
}

func TestDispatch_CategoryInput(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	a := newStub("ops", 1)
	a.cfg.Capabilities = []string{"operations"}
	require.NoError(t, rt.Register(a))

	task, err := rt.Submit(TaskRequest{Title: "something", Inputs: map[string]any{"category": "Operations"}})
	require.NoError(t, err)
	res, err := rt.Dispatch(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestDispatch_NoCapableAgent(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	require.NoError(t, rt.Register(newStub("a", 1, "deploy")))

	task, err := rt.Submit(TaskRequest{Title: "Paint the fence"})
	require.NoError(t, err)

	_, err = rt.Dispatch(context.Background(), task.ID)
	assert.True(t, errors.Is(err, ErrNoCapableAgent))

	got, _ := rt.Get(task.ID)
	assert.Equal(t, TaskPending, got.Status)
	assert.Empty(t, got.AssignedTo)
}

func TestDispatch_UnknownAndNonPending(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	require.NoError(t, rt.Register(newStub("a", 1, "deploy")))

	_, err := rt.Dispatch(context.Background(), "missing")
	assert.True(t, errors.Is(err, merrors.ErrNotFound))

	task, _, err := rt.Run(context.Background(), TaskRequest{Title: "deploy"})
	require.NoError(t, err)
	_, err = rt.Dispatch(context.Background(), task.ID)
	assert.True(t, errors.Is(err, merrors.ErrValidation))
}

func TestDispatch_ErrorResultFailsTask(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	a := newStub("a", 1, "deploy")
	a.fn = func(context.Context, *Task) TaskResult {
		return TaskResult{Success: false, Error: "boom", Outputs: map[string]any{"junk": true}}
	}
	require.NoError(t, rt.Register(a))

	task, res, err := rt.Run(context.Background(), TaskRequest{Title: "deploy"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)
	assert.Nil(t, res.Outputs)
	assert.Equal(t, TaskFailed, task.Status)
}

func TestDispatch_PanicBecomesFailure(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	a := newStub("a", 1, "deploy")
	a.fn = func(context.Context, *Task) TaskResult { panic("kaboom") }
	require.NoError(t, rt.Register(a))

	task, res, err := rt.Run(context.Background(), TaskRequest{Title: "deploy"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "kaboom")
	assert.Equal(t, TaskFailed, task.Status)
}

func TestDispatchWithTimeout(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	a := newStub("slow", 1, "deploy")
	a.fn = func(ctx context.Context, _ *Task) TaskResult {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return TaskResult{Success: true}
	}
	require.NoError(t, rt.Register(a))

	task, err := rt.Submit(TaskRequest{Title: "deploy"})
	require.NoError(t, err)

	res, err := rt.DispatchWithTimeout(context.Background(), task.ID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")

	got, _ := rt.Get(task.ID)
	assert.Equal(t, TaskFailed, got.Status)
}

func TestDispatch_ConfigTaskTimeout(t *testing.T) {
	rt, _ := newRuntime(t, Config{TaskTimeout: 20 * time.Millisecond})
	a := newStub("stuck", 1, "deploy")
	a.fn = func(context.Context, *Task) TaskResult {
		time.Sleep(200 * time.Millisecond)
		return TaskResult{Success: true}
	}
	require.NoError(t, rt.Register(a))

	_, res, err := rt.Run(context.Background(), TaskRequest{Title: "deploy"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
	assert.Less(t, res.Duration, 200.0)
}

func TestDispatch_ConcurrentClaimOnce(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	a := newStub("a", 1, "deploy")
	require.NoError(t, rt.Register(a))
	task, err := rt.Submit(TaskRequest{Title: "deploy"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rt.Dispatch(context.Background(), task.ID); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestDispatch_RecordsMetricsAndPersists(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	m := metrics.New()
	rt.SetMetrics(m)
	store := &memTaskStore{}
	rt.SetStore(store)
	require.NoError(t, rt.Register(newStub("a", 1, "deploy")))

	task, _, err := rt.Run(context.Background(), TaskRequest{Title: "deploy"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("a", "completed")))
	statuses := store.statuses(task.ID)
	assert.Equal(t, []TaskStatus{TaskPending, TaskRunning, TaskCompleted}, statuses)
}

func TestWorkerPool(t *testing.T) {
	rt, _ := newRuntime(t, Config{Workers: 2, QueueSize: 4})
	require.NoError(t, rt.Register(newStub("a", 1, "deploy")))
	rt.Start(context.Background())
	defer rt.Stop()

	var ids []string
	for i := 0; i < 3; i++ {
		task, err := rt.Submit(TaskRequest{Title: "deploy"})
		require.NoError(t, err)
		require.NoError(t, rt.Enqueue(task.ID))
		ids = append(ids, task.ID)
	}

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			if got, _ := rt.Get(id); got.Status != TaskCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, errors.Is(rt.Enqueue("missing"), merrors.ErrNotFound))
}

func TestEnqueue_QueueFull(t *testing.T) {
	rt, _ := newRuntime(t, Config{QueueSize: 1})
	require.NoError(t, rt.Register(newStub("a", 1, "deploy")))
	a, err := rt.Submit(TaskRequest{Title: "deploy a"})
	require.NoError(t, err)
	b, err := rt.Submit(TaskRequest{Title: "deploy b"})
	require.NoError(t, err)

	// Not started: nothing drains the queue.
	require.NoError(t, rt.Enqueue(a.ID))
	assert.True(t, errors.Is(rt.Enqueue(b.ID), merrors.ErrUnavailable))
}

func TestEnqueue_NoCapableAgent(t *testing.T) {
	rt, _ := newRuntime(t, Config{QueueSize: 4})
	require.NoError(t, rt.Register(newStub("a", 1, "deploy")))

	task, err := rt.Submit(TaskRequest{Title: "make coffee"})
	require.NoError(t, err)
	assert.True(t, errors.Is(rt.Enqueue(task.ID), ErrNoCapableAgent))

	pinned, err := rt.Submit(TaskRequest{Title: "deploy", AgentID: "b"})
	require.NoError(t, err)
	assert.True(t, errors.Is(rt.Enqueue(pinned.ID), ErrNoCapableAgent))

	got, _ := rt.Get(task.ID)
	assert.Equal(t, TaskPending, got.Status)
	assert.Empty(t, rt.queue)
}

func TestListAndStats(t *testing.T) {
	rt, _ := newRuntime(t, Config{})
	require.NoError(t, rt.Register(newStub("a", 1, "deploy")))

	first, _, err := rt.Run(context.Background(), TaskRequest{Title: "deploy one"})
	require.NoError(t, err)
	second, err := rt.Submit(TaskRequest{Title: "idle"})
	require.NoError(t, err)

	all, total := rt.List(TaskFilter{})
	assert.Equal(t, 2, total)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	pending, total := rt.List(TaskFilter{Status: TaskPending})
	assert.Equal(t, 1, total)
	assert.Equal(t, second.ID, pending[0].ID)

	byAgent, _ := rt.List(TaskFilter{AgentID: "a"})
	require.Len(t, byAgent, 1)
	assert.Equal(t, first.ID, byAgent[0].ID)

	page, total := rt.List(TaskFilter{Limit: 1, Offset: 1})
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)

	empty, _ := rt.List(TaskFilter{Offset: 10})
	assert.Empty(t, empty)

	stats := rt.Stats()
	assert.Equal(t, 2, stats.TotalTasks)
	assert.Equal(t, 1, stats.ByStatus["completed"])
	assert.Equal(t, 1, stats.ByStatus["pending"])
	assert.Equal(t, 1, stats.ByAgent["a"])
}

func TestOutputNodeIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, outputNodeIDs(map[string]any{"nodeIds": []string{"a", "b"}}))
	assert.Equal(t, []string{"a"}, outputNodeIDs(map[string]any{"nodeIds": []any{"a", 3}}))
	assert.Nil(t, outputNodeIDs(nil))
}

type memTaskStore struct {
	mu    sync.Mutex
	saved []Task
}

func (s *memTaskStore) SaveTask(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, t.Snapshot())
	return nil
}

func (s *memTaskStore) statuses(id string) []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskStatus
	for i := range s.saved {
		if s.saved[i].ID == id {
			out = append(out, s.saved[i].Status)
		}
	}
	return out
}
