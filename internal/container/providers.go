package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/application/service"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/infrastructure/metrics"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/workflow-engine/internal/infrastructure/worker"
	"github.com/garyjia/workflow-engine/pkg/database"
)

// StoreBundle groups the persistence ports the engine depends on, whichever
// driver backs them.
type StoreBundle struct {
	Definitions port.DefinitionRepository
	Instances   port.InstanceStore
	Logs        port.TransitionLog
	Approvals   port.ApprovalStore
	Outbox      port.ActionOutbox
	TxManager   port.TransactionManager

	// Ping checks connectivity for the health endpoint
	Ping func(ctx context.Context) error
	// Close releases the connection pool
	Close func() error
}

// ProvideSQLiteStores opens the SQLite file, applies the bundled schema and
// builds the database/sql repositories.
func ProvideSQLiteStores(cfg *DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Run(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &StoreBundle{
		Definitions: repository.NewDefinitionRepository(db.DB, logger),
		Instances:   repository.NewInstanceRepository(db.DB, logger),
		Logs:        repository.NewTransitionLogRepository(db.DB, logger),
		Approvals:   repository.NewApprovalRepository(db.DB, logger),
		Outbox:      repository.NewActionRepository(db.DB, logger),
		TxManager:   sqlite.NewDB(db.DB, logger),
		Ping:        db.PingContext,
		Close:       db.Close,
	}, nil
}

// ProvidePostgresStores connects to PostgreSQL, applies the bundled schema
// and builds the pgx stores.
func ProvidePostgresStores(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.DSN,
		MaxConns:        int32(cfg.MaxOpenConns),
		MinConns:        int32(cfg.MaxIdleConns),
		MaxConnIdleTime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &StoreBundle{
		Definitions: postgres.NewDefinitionStore(db, logger),
		Instances:   postgres.NewInstanceStore(db, logger),
		Logs:        postgres.NewLogStore(db, logger),
		Approvals:   postgres.NewApprovalStore(db, logger),
		Outbox:      postgres.NewActionStore(db, logger),
		TxManager:   db,
		Ping:        db.Pool().Ping,
		Close: func() error {
			db.Close()
			return nil
		},
	}, nil
}

// ProvideStores picks the store implementation for the configured driver
func ProvideStores(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return ProvidePostgresStores(ctx, cfg, logger)
	case DriverSQLite, "":
		return ProvideSQLiteStores(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// ProvideMetrics creates the Prometheus collector, or nil when disabled
func ProvideMetrics(cfg *MetricsConfig) *metrics.Collector {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return metrics.NewCollector(metrics.Config{
		Namespace: cfg.Namespace,
		Path:      cfg.Path,
	})
}

// ProvideDispatcher creates the action dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&ZapLoggerAdapter{logger: logger})), nil
}

// WorkflowDeps holds dependencies for the workflow engine.
type WorkflowDeps struct {
	Stores     *StoreBundle
	Dispatcher dispatcher.Dispatcher
	Metrics    port.Metrics
	EngineCfg  *EngineConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.WorkflowEngine, error) {
	if deps == nil || deps.Stores == nil {
		return nil, fmt.Errorf("stores are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []workflow.EngineOption{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithLogger(&ZapLoggerAdapter{logger: deps.Logger}),
	}
	if deps.EngineCfg != nil {
		opts = append(opts, workflow.WithMaxConflictRetries(deps.EngineCfg.MaxConflictRetries))
	}

	return workflow.NewEngine(workflow.Dependencies{
		Definitions: deps.Stores.Definitions,
		Instances:   deps.Stores.Instances,
		Logs:        deps.Stores.Logs,
		Approvals:   deps.Stores.Approvals,
		Outbox:      deps.Stores.Outbox,
		TxManager:   deps.Stores.TxManager,
	}, opts...), nil
}

// ProvideDefinitionService creates the definition authoring service.
func ProvideDefinitionService(stores *StoreBundle, logger *zap.Logger) (service.DefinitionService, error) {
	if stores == nil {
		return nil, fmt.Errorf("stores are required")
	}
	return service.NewDefinitionService(
		stores.Definitions,
		stores.Instances,
		stores.TxManager,
		&ZapLoggerAdapter{logger: logger},
	), nil
}

// WorkerDeps holds dependencies for background workers.
type WorkerDeps struct {
	Stores     *StoreBundle
	Dispatcher dispatcher.Dispatcher
	Metrics    port.Metrics
	WorkerCfg  *WorkerConfig
	Logger     *zap.Logger
}

// ProvideWorkers creates the worker manager with the action retry worker
// registered when enabled.
func ProvideWorkers(deps *WorkerDeps) (*worker.Manager, error) {
	if deps == nil || deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewManager(deps.Logger)
	if deps.WorkerCfg == nil || !deps.WorkerCfg.Enabled {
		return manager, nil
	}

	manager.Register(worker.NewActionRetryWorker(
		worker.ActionRetryConfig{
			PollInterval: deps.WorkerCfg.PollInterval,
			BatchSize:    deps.WorkerCfg.BatchSize,
			MaxAttempts:  deps.WorkerCfg.MaxAttempts,
		},
		deps.Stores.Outbox,
		deps.Dispatcher,
		deps.Metrics,
		deps.Logger,
	))
	return manager, nil
}

// ZapLoggerAdapter adapts zap.Logger to the Info/Error logger interfaces of
// the application and interface layers.
type ZapLoggerAdapter struct {
	logger *zap.Logger
}

// NewZapLoggerAdapter wraps logger
func NewZapLoggerAdapter(logger *zap.Logger) *ZapLoggerAdapter {
	return &ZapLoggerAdapter{logger: logger}
}

func (a *ZapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *ZapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
