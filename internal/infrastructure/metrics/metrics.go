package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/workflow-engine/internal/application/port"
)

// Config holds metrics settings
type Config struct {
	Namespace string
	Path      string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "workflow",
		Path:      "/metrics",
	}
}

// Collector implements port.Metrics on its own Prometheus registry
type Collector struct {
	config   Config
	registry *prometheus.Registry

	transitions       *prometheus.CounterVec
	approvals         *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	actions           *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

var _ port.Metrics = (*Collector)(nil)

// NewCollector creates a Collector and registers its vectors
func NewCollector(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	ns := cfg.Namespace
	reg := prometheus.NewRegistry()

	c := &Collector{
		config:   cfg,
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "transitions_total",
			Help:      "Total number of transition log rows written",
		}, []string{"tenant_id", "kind"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "approvals_resolved_total",
			Help:      "Total number of approvals resolved",
		}, []string{"tenant_id", "status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_rejected_total",
			Help:      "Total number of engine operations refused with a business error",
		}, []string{"operation", "code"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "actions_total",
			Help:      "Total number of action hand-offs by outcome",
		}, []string{"type", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(c.transitions, c.approvals, c.rejections, c.actions, c.operationDuration)
	return c
}

func (c *Collector) TransitionApplied(tenantID, kind string) {
	c.transitions.WithLabelValues(tenantID, kind).Inc()
}

func (c *Collector) ApprovalResolved(tenantID, status string) {
	c.approvals.WithLabelValues(tenantID, status).Inc()
}

func (c *Collector) OperationRejected(operation, code string) {
	c.rejections.WithLabelValues(operation, code).Inc()
}

func (c *Collector) ActionDispatched(actionType, outcome string) {
	c.actions.WithLabelValues(actionType, outcome).Inc()
}

func (c *Collector) ObserveOperation(operation string, d time.Duration) {
	c.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Path returns the configured metrics endpoint path.
func (c *Collector) Path() string { return c.config.Path }

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
