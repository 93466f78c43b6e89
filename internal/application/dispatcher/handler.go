package dispatcher

import (
	"context"

	"github.com/garyjia/workflow-engine/internal/domain/action"
)

// Handler hands an action request to an external executor
type Handler func(ctx context.Context, req *action.Request) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name       string
	ActionType action.Type
	Handler    Handler
}
