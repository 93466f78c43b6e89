package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/config"
	"github.com/garyjia/workflow-engine/internal/container"
	"github.com/garyjia/workflow-engine/internal/domain/action"
	"github.com/garyjia/workflow-engine/internal/infrastructure/tracing"
	httpserver "github.com/garyjia/workflow-engine/internal/interfaces/http"
	"github.com/garyjia/workflow-engine/pkg/utils"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "workflow-engine",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting workflow engine",
		zap.String("version", version),
		zap.String("database_driver", cfg.Database.Driver),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		provider, err := tracing.NewProvider(ctx, cfg.ToTracingConfig())
		if err != nil {
			logger.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to flush traces", zap.Error(err))
			}
		}()
		logger.Info("Tracing enabled", zap.String("endpoint", cfg.Tracing.Endpoint))
	}

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close container", zap.Error(err))
		}
	}()

	// Until real executors are registered, every action is acknowledged by
	// logging it so the outbox does not fill with undeliverable records.
	subscribeLoggingExecutor(c.Dispatcher(), logger)

	var metricsHandler http.Handler
	if collector := c.Metrics(); collector != nil {
		metricsHandler = collector.Handler()
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MetricsPath:  cfg.Metrics.Path,
	}, httpserver.Deps{
		Engine:      c.WorkflowEngine(),
		Definitions: c.Definitions(),
		Health: func(ctx context.Context) (bool, interface{}) {
			status := c.Health(ctx)
			return status.Overall, status
		},
		Metrics: metricsHandler,
		Logger:  container.NewZapLoggerAdapter(logger),
	})

	if err := server.Start(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return
	}
	logger.Info("Workflow engine stopped")
}

func subscribeLoggingExecutor(d dispatcher.Dispatcher, logger *zap.Logger) {
	for _, t := range action.AllTypes {
		d.SubscribeNamed(t, "log", func(ctx context.Context, req *action.Request) error {
			fields := []zap.Field{
				zap.String("action_id", req.ID),
				zap.String("type", req.Type.String()),
				zap.String("tenant_id", req.TenantID),
				zap.String("instance_id", req.InstanceID),
				zap.String("transition_id", req.TransitionID),
				zap.Any("config", req.Config),
			}
			if req.DeferredToken != nil {
				fields = append(fields,
					zap.String("deferred_token", req.DeferredToken.Token),
					zap.Time("resume_at", req.DeferredToken.ResumeAt))
			}
			logger.Info("Action executed", fields...)
			return nil
		})
	}
}
