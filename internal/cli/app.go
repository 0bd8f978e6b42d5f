package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/memgraph/internal/agent"
	"github.com/p-blackswan/memgraph/internal/api"
	"github.com/p-blackswan/memgraph/internal/config"
	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/events"
	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/health"
	"github.com/p-blackswan/memgraph/internal/history"
	"github.com/p-blackswan/memgraph/internal/intent"
	"github.com/p-blackswan/memgraph/internal/metrics"
	"github.com/p-blackswan/memgraph/internal/store"
)

const retentionInterval = time.Hour

// app is the fully wired service.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	store   *store.Store // nil without DBPath
	history *history.Log
	engine  *graph.Engine
	intents *intent.Processor
	runtime *agent.Runtime
	metrics *metrics.Metrics
	checker *health.Checker
	hub     *events.Hub
	api     *api.Server
	ops     *http.Server

	unsubscribe []func()

	saveMu    sync.Mutex
	savedSeq  uint64
	savedOnce bool
}

// newLogger builds the process logger: JSON by default, console output in
// development.
func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	return logger
}

// newApp constructs every component and restores persisted state. Nothing
// is listening until run.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger.With().Str("component", "app").Logger()}

	a.history = history.New(history.Config{MaxEntries: cfg.HistoryMaxEntries}, logger)
	if cfg.PersistenceEnabled() {
		st, err := store.New(cfg.DBPath, logger)
		if err != nil {
			return nil, err
		}
		a.store = st
		entries, err := st.LoadHistory(ctx, cfg.HistoryMaxEntries)
		if err != nil {
			st.Close()
			return nil, err
		}
		for _, e := range entries {
			a.history.AddEntry(e)
		}
		// Attached after the replay so restored entries are not written back.
		a.history.SetSink(st)
	}

	a.engine = graph.New(graph.Config{
		ID:                   cfg.GraphID,
		Name:                 cfg.GraphName,
		RejectSelfLoops:      cfg.RejectSelfLoops,
		RejectDuplicateEdges: cfg.RejectDuplicateEdges,
		DependencyCacheSize:  cfg.DependencyCacheSize,
	}, a.history, logger)

	if a.store != nil {
		if err := a.restore(ctx); err != nil {
			a.store.Close()
			return nil, err
		}
	}

	a.metrics = metrics.New()
	a.intents = intent.NewProcessor(a.engine, intent.Config{RecordIntentNodes: cfg.RecordIntentNodes}, logger)
	a.intents.SetMetrics(a.metrics)

	a.runtime = agent.NewRuntime(agent.Config{
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
		TaskTimeout: cfg.TaskTimeout,
	}, a.history, logger)
	a.runtime.SetMetrics(a.metrics)
	if a.store != nil {
		a.runtime.SetStore(a.store)
		n, err := a.store.FailStuckTasks(ctx)
		if err != nil {
			a.close()
			return nil, err
		}
		if n > 0 {
			a.logger.Warn().Int64("tasks", n).Msg("marked tasks interrupted by restart as failed")
		}
	}
	if err := a.registerAgents(); err != nil {
		a.close()
		return nil, err
	}

	a.checker = health.NewChecker(logger)
	a.checker.Register("graph", health.GraphCheck(a.engine))
	if a.store != nil {
		a.checker.Register("store", health.PingCheck(a.store))
	}

	a.hub = events.NewHub(events.Config{}, logger)
	a.hub.SetMetrics(a.metrics)
	a.unsubscribe = append(a.unsubscribe, a.hub.Attach(a.engine))
	a.unsubscribe = append(a.unsubscribe, a.engine.Subscribe(a.observe))
	info := a.engine.Info()
	a.metrics.SetGraphSize(info.NodeCount, info.RelationshipCount)

	a.api = api.NewServer(api.ServerConfig{
		ListenAddr: cfg.APIListenAddr,
		AuthConfig: api.AuthConfig{
			Mode:   cfg.APIAuthMode,
			APIKey: cfg.APIKey,
			Roles:  apiRoles(cfg.APIKeyRoles),
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.APIRateLimitRPS,
			Burst: cfg.APIRateLimitBurst,
		},
		CORSOrigins: strings.Join(cfg.CORSOriginList(), ","),
		SyncTimeout: cfg.TaskTimeout,
	}, api.Deps{
		Graph:   a.engine,
		Intents: a.intents,
		History: a.history,
		Runtime: a.runtime,
		Checker: a.checker,
		Metrics: a.metrics,
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.LivenessHandler())
	mux.HandleFunc("/ready", a.checker.ReadinessHandler())
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/events", a.hub)
	a.ops = &http.Server{
		Addr:        cfg.OpsListenAddr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	return a, nil
}

func apiRoles(in map[string]string) map[string]api.Role {
	out := make(map[string]api.Role, len(in))
	for key, role := range in {
		out[key] = api.Role(role)
	}
	return out
}

// restore loads the persisted graph. A missing snapshot means a fresh graph.
func (a *app) restore(ctx context.Context) error {
	err := a.engine.Restore(ctx, a.store, a.cfg.GraphID)
	switch {
	case err == nil:
		info := a.engine.Info()
		a.savedSeq, a.savedOnce = info.LastEventSeq, true
		a.logger.Info().Str("graph_id", info.ID).Int("nodes", info.NodeCount).Msg("graph restored")
		if report := a.engine.ValidateGraph(); !report.IsValid {
			a.logger.Warn().Int("errors", len(report.Errors)).Msg("restored graph has integrity errors")
		}
		return nil
	case errors.Is(err, merrors.ErrNotFound):
		a.logger.Info().Str("graph_id", a.cfg.GraphID).Msg("no stored snapshot, starting empty")
		return nil
	}
	return err
}

func (a *app) registerAgents() error {
	roster := agent.DefaultRoster()
	if a.cfg.AgentsFile != "" {
		r, err := config.LoadRoster(a.cfg.AgentsFile)
		if err != nil {
			return err
		}
		roster = r.Agents
	}
	deps := agent.Deps{Graph: a.engine, Intents: a.intents, History: a.history, Logger: a.logger}
	for _, cfg := range roster {
		ag, err := agent.Build(cfg, deps)
		if err != nil {
			return fmt.Errorf("agent %s: %w", cfg.ID, err)
		}
		if err := a.runtime.Register(ag); err != nil {
			return err
		}
	}
	return nil
}

// observe keeps the graph metrics current.
func (a *app) observe(ev graph.Event) {
	a.metrics.RecordMutation(string(ev.Kind))
	info := a.engine.Info()
	a.metrics.SetGraphSize(info.NodeCount, info.RelationshipCount)
}

// saveSnapshot persists the graph if it changed since the last save.
func (a *app) saveSnapshot(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	seq := a.engine.Info().LastEventSeq
	if a.savedOnce && seq == a.savedSeq {
		return nil
	}
	if err := a.engine.Save(ctx, a.store); err != nil {
		return err
	}
	a.savedSeq, a.savedOnce = seq, true
	a.logger.Debug().Uint64("seq", seq).Msg("snapshot saved")
	return nil
}

func (a *app) runRetention(ctx context.Context) {
	if a.store == nil || a.cfg.TaskRetention <= 0 {
		return
	}
	n, err := a.store.RunRetention(ctx, a.cfg.TaskRetention)
	if err != nil {
		a.logger.Warn().Err(err).Msg("task retention failed")
		return
	}
	if n > 0 {
		a.logger.Info().Int64("deleted", n).Msg("old tasks removed")
	}
}

// run serves until ctx is cancelled, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.runtime.Start(ctx)

	errCh := make(chan error, 2)
	go func() {
		if err := a.api.Start(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		a.logger.Info().Str("addr", a.ops.Addr).Msg("ops server starting")
		if err := a.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.background(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("shutting down gracefully")
	case runErr = <-errCh:
		a.logger.Error().Err(runErr).Msg("server failed, shutting down")
	}

	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := a.api.Shutdown(); err != nil {
		a.logger.Error().Err(err).Msg("API server shutdown error")
	}
	if err := a.ops.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("ops server shutdown error")
	}
	a.runtime.Stop()
	wg.Wait()

	if err := a.saveSnapshot(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("final snapshot failed")
	}
	a.close()
	return runErr
}

// background runs the snapshot and retention tickers until ctx ends.
func (a *app) background(ctx context.Context) {
	if a.store == nil {
		<-ctx.Done()
		return
	}
	a.runRetention(ctx)

	interval := a.cfg.SnapshotInterval
	if interval <= 0 {
		interval = time.Minute
	}
	snapshots := time.NewTicker(interval)
	defer snapshots.Stop()
	retention := time.NewTicker(retentionInterval)
	defer retention.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-snapshots.C:
			if err := a.saveSnapshot(ctx); err != nil {
				a.logger.Error().Err(err).Msg("periodic snapshot failed")
			}
		case <-retention.C:
			a.runRetention(ctx)
		}
	}
}

func (a *app) close() {
	for _, fn := range a.unsubscribe {
		fn()
	}
	a.unsubscribe = nil
	if a.hub != nil {
		a.hub.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error().Err(err).Msg("closing store")
		}
		a.store = nil
	}
}
