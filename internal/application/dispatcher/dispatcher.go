package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/workflow-engine/internal/domain/action"
)

// ErrNoHandler is returned by Dispatch when no executor is subscribed to the request's type
var ErrNoHandler = errors.New("no executor registered for action type")

// ErrClosed is returned by Dispatch after Close
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher routes action requests to registered executors
type Dispatcher interface {
	// Subscribe registers a handler for an action type
	Subscribe(actionType action.Type, handler Handler)

	// SubscribeNamed registers a handler with a name for debugging
	SubscribeNamed(actionType action.Type, name string, handler Handler)

	// Dispatch sends the request to all registered handlers synchronously
	// Returns first error encountered (handlers run in order)
	Dispatch(ctx context.Context, req *action.Request) error

	// ListHandlers returns registered handlers for an action type
	ListHandlers(actionType action.Type) []HandlerInfo

	// Close stops the dispatcher; later Dispatch calls return ErrClosed
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type actionDispatcher struct {
	mu       sync.RWMutex
	handlers map[action.Type][]HandlerInfo
	logger   Logger

	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*actionDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *actionDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new action dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &actionDispatcher{
		handlers: make(map[action.Type][]HandlerInfo),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers a handler for an action type with an auto-generated name
func (d *actionDispatcher) Subscribe(actionType action.Type, handler Handler) {
	d.mu.RLock()
	name := fmt.Sprintf("handler-%d", len(d.handlers[actionType]))
	d.mu.RUnlock()
	d.SubscribeNamed(actionType, name, handler)
}

// SubscribeNamed registers a handler with a specific name for debugging
func (d *actionDispatcher) SubscribeNamed(actionType action.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[actionType] = append(d.handlers[actionType], HandlerInfo{
		Name:       name,
		ActionType: actionType,
		Handler:    handler,
	})

	if d.logger != nil {
		d.logger.Info("Handler registered",
			"action_type", actionType,
			"handler_name", name,
		)
	}
}

// Dispatch sends the request to all registered handlers synchronously
func (d *actionDispatcher) Dispatch(ctx context.Context, req *action.Request) error {
	if d.closed.Load() {
		return ErrClosed
	}

	d.mu.RLock()
	handlers := d.handlers[req.Type]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return fmt.Errorf("%w: %s", ErrNoHandler, req.Type)
	}

	if d.logger != nil {
		d.logger.Info("Dispatching action",
			"action_type", req.Type,
			"request_id", req.ID,
			"instance_id", req.InstanceID,
			"handler_count", len(handlers),
		)
	}

	for _, info := range handlers {
		if err := d.safeExecute(ctx, req, info); err != nil {
			if d.logger != nil {
				d.logger.Error("Handler error",
					"action_type", req.Type,
					"request_id", req.ID,
					"handler_name", info.Name,
					"error", err,
				)
			}
			return fmt.Errorf("handler %s failed: %w", info.Name, err)
		}
	}

	return nil
}

// ListHandlers returns registered handlers for an action type
func (d *actionDispatcher) ListHandlers(actionType action.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[actionType]
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		result[i] = HandlerInfo{
			Name:       h.Name,
			ActionType: h.ActionType,
		}
	}

	return result
}

// Close shuts down the dispatcher
func (d *actionDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}

	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}

	return nil
}

// safeExecute runs a handler with panic recovery
func (d *actionDispatcher) safeExecute(ctx context.Context, req *action.Request, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			if d.logger != nil {
				d.logger.Error("Handler panic recovered",
					"action_type", req.Type,
					"request_id", req.ID,
					"handler_name", info.Name,
					"panic", r,
				)
			}
		}
	}()

	return info.Handler(ctx, req)
}
