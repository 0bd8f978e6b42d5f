// Package api serves the memory graph, intents and agent tasks over HTTP.
package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/memgraph/internal/agent"
	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/health"
	"github.com/p-blackswan/memgraph/internal/history"
	"github.com/p-blackswan/memgraph/internal/intent"
	"github.com/p-blackswan/memgraph/internal/metrics"
	"github.com/p-blackswan/memgraph/internal/requestid"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
	// SyncTimeout bounds synchronous dispatches that give no ?timeout=.
	SyncTimeout time.Duration
}

// Deps are the components the API exposes.
type Deps struct {
	Graph   *graph.Engine
	Intents *intent.Processor
	History *history.Log
	Runtime *agent.Runtime
	Checker *health.Checker
	Metrics *metrics.Metrics
}

// Server is the API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "api_server").Logger(),
		config: cfg,
	}
	s.setupMiddleware(cfg, deps.Metrics, logger)
	s.setupRoutes(newHandlers(deps, cfg, logger))
	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	// Request ID: honour the caller's header, expose it on the response and
	// carry it in the user context for handlers and agents.
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.Accept(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, logger))

	s.app.Use(func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		reqLogger := requestid.Logger(c.UserContext(), s.logger)
		reqLogger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Msg("api request")
		err := c.Next()
		if status := c.Response().StatusCode(); m != nil && status >= fiber.StatusBadRequest {
			m.RecordError("api", strconv.Itoa(status))
		}
		return err
	})
}

func (s *Server) setupRoutes(h *handlers) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	v1 := s.app.Group("/api/v1")
	edit := requireRole(RoleEditor)

	v1.Post("/intents", edit, h.ApplyIntent)

	v1.Get("/nodes", h.ListNodes)
	v1.Post("/nodes", edit, h.CreateNode)
	v1.Get("/nodes/:id", h.GetNode)
	v1.Patch("/nodes/:id", edit, h.UpdateNode)
	v1.Delete("/nodes/:id", edit, h.DeleteNode)
	v1.Get("/nodes/:id/relationships", h.NodeRelationships)
	v1.Get("/nodes/:id/related", h.RelatedNodes)
	v1.Get("/nodes/:id/dependencies", h.Dependencies)

	v1.Get("/relationships", h.ListRelationships)
	v1.Post("/relationships", edit, h.CreateRelationship)
	v1.Get("/relationships/:id", h.GetRelationship)
	v1.Delete("/relationships/:id", edit, h.DeleteRelationship)

	v1.Get("/graph", h.GetGraph)
	v1.Get("/graph/info", h.GraphInfo)
	v1.Get("/graph/validate", h.ValidateGraph)
	v1.Get("/graph/analyze", h.AnalyzeGraph)

	v1.Get("/history", h.ListHistory)

	v1.Post("/tasks", edit, h.SubmitTask)
	v1.Get("/tasks", h.ListTasks)
	v1.Get("/tasks/stats", h.TaskStats)
	v1.Get("/tasks/:id", h.GetTask)
	v1.Post("/tasks/:id/dispatch", edit, h.DispatchTask)

	v1.Get("/agents", h.ListAgents)
	v1.Delete("/agents/:id", requireRole(RoleAdmin), h.UnregisterAgent)

	v1.Get("/metrics/summary", h.MetricsSummary)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors handlers return without writing a
// response, including Fiber's own routing errors.
func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			title := utils.StatusMessage(fe.Code)
			errType := strings.ToLower(strings.ReplaceAll(title, " ", "_"))
			return problemResponse(c, fe.Code, errType, title, fe.Message)
		}

		status, _ := classify(err)
		if status == fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
		}
		return errorResponse(c, err)
	}
}
