package config

import (
	"github.com/garyjia/workflow-engine/internal/container"
	"github.com/garyjia/workflow-engine/internal/infrastructure/tracing"
)

// ToContainerConfig converts the application Config to a container.Config.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Engine: container.EngineConfig{
			MaxConflictRetries: c.Engine.MaxConflictRetries,
			DefinitionsFile:    c.Engine.DefinitionsFile,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Worker: container.WorkerConfig{
			Enabled:      c.Worker.Enabled,
			PollInterval: c.Worker.PollInterval,
			BatchSize:    c.Worker.BatchSize,
			MaxAttempts:  c.Worker.MaxAttempts,
		},
		Metrics: container.MetricsConfig{
			Enabled:   c.Metrics.Enabled,
			Namespace: c.Metrics.Namespace,
			Path:      c.Metrics.Path,
		},
	}
}

// ToTracingConfig converts the tracing section for tracing.NewProvider
func (c *Config) ToTracingConfig() tracing.Config {
	return tracing.Config{
		Endpoint:    c.Tracing.Endpoint,
		ServiceName: c.Tracing.ServiceName,
		Insecure:    c.Tracing.Insecure,
		SampleRate:  c.Tracing.SampleRate,
	}
}
