// Package health reports whether the memgraph process can serve traffic.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/memgraph/internal/graph"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Result is the outcome of one check.
type Result struct {
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Duration string `json:"duration"`
}

// CheckFunc checks one dependency. The detail explains a non-ok status.
type CheckFunc func(ctx context.Context) (Status, string)

// Checker runs named checks and remembers the last results.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	last    map[string]Result
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a checker with a 5s per-check timeout.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		last:    make(map[string]Result),
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named check, replacing any check with the same name.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	c.checks[name] = fn
	c.mu.Unlock()
}

// Report runs every check concurrently. The process is ready unless some
// check is down; degraded dependencies still serve.
func (c *Checker) Report(ctx context.Context) (bool, map[string]Result) {
	c.mu.RLock()
	checks := maps.Clone(c.checks)
	c.mu.RUnlock()

	results := make(map[string]Result, len(checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := c.run(ctx, name, fn)
			mu.Lock()
			results[name] = r
			mu.Unlock()
		}()
	}
	wg.Wait()

	c.mu.Lock()
	c.last = results
	c.mu.Unlock()

	ready := true
	for _, r := range results {
		if r.Status == StatusDown {
			ready = false
		}
	}
	return ready, results
}

func (c *Checker) run(ctx context.Context, name string, fn CheckFunc) Result {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	status, detail := fn(checkCtx)
	r := Result{Status: status, Detail: detail, Duration: time.Since(start).String()}
	if status != StatusOK {
		c.logger.Warn().Str("check", name).Str("status", string(status)).Str("detail", detail).Msg("health check not ok")
	}
	return r
}

// Last returns the results of the most recent Report.
func (c *Checker) Last() map[string]Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.last)
}

// Pinger is satisfied by the SQLite store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports down when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) (Status, string) {
		if err := p.Ping(ctx); err != nil {
			return StatusDown, err.Error()
		}
		return StatusOK, ""
	}
}

// GraphValidator is satisfied by the graph engine.
type GraphValidator interface {
	ValidateGraph() graph.ValidationReport
}

// GraphCheck reports degraded while the graph has integrity errors. An
// invalid graph can still serve reads and repairs, so it is never down.
func GraphCheck(g GraphValidator) CheckFunc {
	return func(ctx context.Context) (Status, string) {
		report := g.ValidateGraph()
		if !report.IsValid {
			return StatusDegraded, fmt.Sprintf("%d integrity error(s), first: %s", len(report.Errors), report.Errors[0].Message)
		}
		return StatusOK, ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// LivenessHandler serves /health on the ops listener.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessHandler serves /ready on the ops listener.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready, results := c.Report(r.Context())
		if !ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": results})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": results})
	}
}
