package container

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/application/service"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/domain/action"
	"github.com/garyjia/workflow-engine/internal/infrastructure/definitionfile"
	"github.com/garyjia/workflow-engine/internal/infrastructure/metrics"
	"github.com/garyjia/workflow-engine/internal/infrastructure/worker"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	stores *StoreBundle

	metrics     *metrics.Collector
	dispatcher  dispatcher.Dispatcher
	workflow    workflow.WorkflowEngine
	definitions service.DefinitionService

	workers *worker.Manager

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
	Workers    []worker.Stats             `json:"workers,omitempty"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components:
// 1. Stores and schema
// 2. Metrics and dispatcher
// 3. Workflow engine and definition service
// 4. Definition seeding
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization",
		zap.String("database_driver", c.config.Database.Driver))

	stores, err := ProvideStores(c.ctx, &c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.stores = stores
	c.logger.Info("Database initialized")

	c.metrics = ProvideMetrics(&c.config.Metrics)
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.dispatcher = disp

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Stores:     c.stores,
		Dispatcher: c.dispatcher,
		Metrics:    c.metricsPort(),
		EngineCfg:  &c.config.Engine,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workflow engine: %w", err)
	}
	c.workflow = engine

	defs, err := ProvideDefinitionService(c.stores, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize definition service: %w", err)
	}
	c.definitions = defs
	c.logger.Info("Workflow engine initialized")

	if path := c.config.Engine.DefinitionsFile; path != "" {
		n, err := definitionfile.NewSeeder(c.definitions, c.logger).SeedFile(c.ctx, path)
		if err != nil {
			return fmt.Errorf("failed to seed definitions from %s: %w", path, err)
		}
		c.logger.Info("Definitions seeded", zap.String("file", path), zap.Int("created", n))
	}

	workers, err := ProvideWorkers(&WorkerDeps{
		Stores:     c.stores,
		Dispatcher: c.dispatcher,
		Metrics:    c.metricsPort(),
		WorkerCfg:  &c.config.Worker,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.workers = workers
	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.stores != nil && c.stores.Close != nil {
		if err := c.stores.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.stores != nil && c.stores.Ping != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.stores.Ping(pingCtx); err != nil {
			status.Components["database"] = ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.workflow != nil {
		status.Components["engine"] = ComponentHealth{Healthy: true}
	} else {
		status.Components["engine"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.dispatcher != nil {
		status.Components["executors"] = executorHealth(c.dispatcher)
	}

	if c.workers != nil {
		status.Workers = c.workers.Stats()
		status.Components["workers"] = ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", len(status.Workers)),
		}
		if !c.workers.IsRunning() {
			status.Overall = false
		}
	}

	return status
}

// executorHealth reports which action types have no executor. Records of
// those types stay in the outbox for redelivery, so this never fails health.
func executorHealth(d dispatcher.Dispatcher) ComponentHealth {
	var missing []string
	for _, t := range action.AllTypes {
		if len(d.ListHandlers(t)) == 0 {
			missing = append(missing, t.String())
		}
	}

	msg := fmt.Sprintf("executors for %d of %d action types", len(action.AllTypes)-len(missing), len(action.AllTypes))
	if len(missing) > 0 {
		msg += "; missing: " + strings.Join(missing, ", ")
	}
	return ComponentHealth{Healthy: true, Message: msg}
}

// metricsPort avoids handing a typed nil collector to the engine
func (c *Container) metricsPort() port.Metrics {
	if c.metrics == nil {
		return port.NopMetrics{}
	}
	return c.metrics
}

// Stores returns the persistence ports.
func (c *Container) Stores() *StoreBundle {
	return c.stores
}

// Dispatcher returns the action dispatcher executors subscribe to.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// Definitions returns the definition service.
func (c *Container) Definitions() service.DefinitionService {
	return c.definitions
}

// Metrics returns the Prometheus collector, nil when metrics are disabled.
func (c *Container) Metrics() *metrics.Collector {
	return c.metrics
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
