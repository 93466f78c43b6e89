// Package http exposes the workflow engine to upstream handlers over HTTP.
// It is a thin adapter that translates requests into engine and definition
// service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/workflow-engine/internal/application/service"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/infrastructure/tracing"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthChecker reports overall health and a JSON-serializable detail payload
type HealthChecker func(ctx context.Context) (bool, interface{})

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		MetricsPath:  "/metrics",
	}
}

// Deps are the application components the server routes to. Health and
// Metrics are optional.
type Deps struct {
	Engine      workflow.WorkflowEngine
	Definitions service.DefinitionService
	Health      HealthChecker
	Metrics     http.Handler
	Logger      Logger
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Deps
	logger     Logger
}

// NewServer creates a new HTTP server
func NewServer(config ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	if config.MetricsPath == "" {
		config.MetricsPath = DefaultServerConfig().MetricsPath
	}

	server := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: deps.Logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(tracing.Middleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"tenant_id", c.GetHeader(HeaderTenantID),
			"client_ip", c.ClientIP(),
		)
	}
}

func (s *Server) setupRoutes() {
	h := NewHandlers(s.deps.Engine, s.deps.Definitions, s.deps.Health, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.deps.Metrics != nil {
		s.router.GET(s.config.MetricsPath, gin.WrapH(s.deps.Metrics))
	}

	api := s.router.Group("/api/v1", requireTenant())
	{
		api.POST("/instances", h.StartInstance)
		api.GET("/instances/:id", h.GetInstance)
		api.GET("/instances/:id/state", h.CurrentState)
		api.GET("/instances/:id/history", h.History)
		api.GET("/instances/:id/events", h.AvailableEvents)
		api.POST("/instances/:id/events", h.FireEvent)
		api.GET("/instances/:id/approvals", h.PendingApprovals)
		api.POST("/instances/:id/cancel", h.CancelInstance)
		api.POST("/instances/:id/fail", h.FailInstance)

		api.POST("/approvals/:id/approve", h.Approve)
		api.POST("/approvals/:id/reject", h.Reject)
		api.POST("/approvals/:id/delegate", h.Delegate)

		api.GET("/definitions", h.ListDefinitions)
		api.POST("/definitions", h.CreateDefinition)
		api.GET("/definitions/:id", h.GetDefinition)
		api.POST("/definitions/:id/activate", h.ActivateDefinition)
		api.POST("/definitions/:id/deactivate", h.DeactivateDefinition)
		api.PUT("/definitions/:id/transitions", h.ReplaceTransitions)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
