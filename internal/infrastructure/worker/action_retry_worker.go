package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
)

// ActionRetryConfig holds configuration for the action retry worker
type ActionRetryConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// DefaultActionRetryConfig returns default configuration
func DefaultActionRetryConfig() ActionRetryConfig {
	return ActionRetryConfig{
		PollInterval: 15 * time.Second,
		BatchSize:    20,
		MaxAttempts:  5,
	}
}

// ActionRetryWorker redelivers outbox records that were never dispatched,
// failed, or were deferred until a resume time that has now passed
type ActionRetryWorker struct {
	config     ActionRetryConfig
	outbox     port.ActionOutbox
	dispatcher dispatcher.Dispatcher
	metrics    port.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu             sync.RWMutex
	cancel         context.CancelFunc
	done           chan struct{}
	isRunning      bool
	processedCount int
	failedCount    int
	lastError      error
}

// NewActionRetryWorker creates a new action retry worker
func NewActionRetryWorker(
	config ActionRetryConfig,
	outbox port.ActionOutbox,
	d dispatcher.Dispatcher,
	metrics port.Metrics,
	logger *zap.Logger,
) *ActionRetryWorker {
	defaults := DefaultActionRetryConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &ActionRetryWorker{
		config:     config,
		outbox:     outbox,
		dispatcher: d,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Start begins the polling loop
func (w *ActionRetryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("action retry worker already running")
	}

	var runCtx context.Context
	runCtx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("ActionRetryWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Int("max_attempts", w.config.MaxAttempts))

	go w.pollLoop(runCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for the current batch to finish
func (w *ActionRetryWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.Stats()
	w.logger.Info("ActionRetryWorker stopped",
		zap.Int("processed_count", stats.Processed),
		zap.Int("failed_count", stats.Failed))
	return nil
}

// Name returns the worker name for identification
func (w *ActionRetryWorker) Name() string {
	return "ActionRetryWorker"
}

// Stats reports counters since construction
func (w *ActionRetryWorker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Stats{
		Name:      w.Name(),
		Running:   w.isRunning,
		Processed: w.processedCount,
		Failed:    w.failedCount,
	}
	if w.lastError != nil {
		s.LastError = w.lastError.Error()
	}
	return s
}

func (w *ActionRetryWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.mu.Lock()
				w.lastError = err
				w.mu.Unlock()
				w.logger.Error("Failed to process action outbox", zap.Error(err))
			}
		}
	}
}

// ProcessBatch dispatches one batch of retryable records and returns how many
// were handed off successfully
func (w *ActionRetryWorker) ProcessBatch(ctx context.Context) (int, error) {
	records, err := w.outbox.ListRetryable(ctx, w.now(), w.config.MaxAttempts, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable actions: %w", err)
	}

	dispatched := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}

		// deferred records keep their token so the handler can tell a resume
		// from a first delivery
		req := dispatcher.FromRecord(rec)
		if err := w.dispatcher.Dispatch(ctx, req); err != nil {
			w.metrics.ActionDispatched(rec.Type, "failed")
			w.logger.Warn("Action redelivery failed",
				zap.String("action_id", rec.ID),
				zap.String("action_type", rec.Type),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err))
			if markErr := w.outbox.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
				return dispatched, fmt.Errorf("failed to mark action %s failed: %w", rec.ID, markErr)
			}
			w.mu.Lock()
			w.failedCount++
			w.mu.Unlock()
			continue
		}

		w.metrics.ActionDispatched(rec.Type, "dispatched")
		if err := w.outbox.MarkDispatched(ctx, rec.ID); err != nil {
			return dispatched, fmt.Errorf("failed to mark action %s dispatched: %w", rec.ID, err)
		}
		dispatched++
		w.mu.Lock()
		w.processedCount++
		w.mu.Unlock()
	}

	if len(records) > 0 {
		w.logger.Info("Action outbox batch processed",
			zap.Int("records", len(records)),
			zap.Int("dispatched", dispatched))
	}
	return dispatched, nil
}
