package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/workflow.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.Engine.MaxConflictRetries)
	assert.Equal(t, 15*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "workflow-engine", cfg.ToTracingConfig().ServiceName)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  dsn: postgres://file/workflow
engine:
  max_conflict_retries: 7
  definitions_file: configs/definitions.yaml
worker:
  poll_interval: 2s
  batch_size: 50
`)
	t.Setenv("WORKFLOW_DATABASE_DSN", "postgres://env/workflow")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://env/workflow", cfg.Database.DSN)
	assert.Equal(t, 7, cfg.Engine.MaxConflictRetries)
	assert.Equal(t, "configs/definitions.yaml", cfg.Engine.DefinitionsFile)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 50, cfg.Worker.BatchSize)

	cc := cfg.ToContainerConfig()
	assert.Equal(t, "postgres://env/workflow", cc.Database.DSN)
	assert.Equal(t, 7, cc.Engine.MaxConflictRetries)
	assert.Equal(t, 50, cc.Worker.BatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Driver: "sqlite", Path: "wf.db"},
			Worker:   WorkerConfig{Enabled: true, PollInterval: time.Second},
			Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative retries", func(c *Config) { c.Engine.MaxConflictRetries = -1 }, "max_conflict_retries"},
		{"zero poll interval", func(c *Config) { c.Worker.PollInterval = 0 }, "poll_interval"},
		{"disabled worker ignores interval", func(c *Config) { c.Worker = WorkerConfig{} }, ""},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
		{"tracing without endpoint", func(c *Config) { c.Tracing = TracingConfig{Enabled: true, SampleRate: 1} }, "tracing.endpoint"},
		{"sample rate above one", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
