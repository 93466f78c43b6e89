package workflow

import (
	"context"

	"github.com/garyjia/workflow-engine/internal/domain/action"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// WorkflowEngine drives business entities through tenant-defined state machines
type WorkflowEngine interface {
	// Start attaches the entity to a definition and places it at the initial state
	Start(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error)

	// Fire selects and applies the transition for an event, or opens an
	// approval when the transition requires one
	Fire(ctx context.Context, req FireRequest) (*Result, error)

	// Approve resolves a pending approval and applies its transition
	Approve(ctx context.Context, approvalID, actorID, comment string) (*Result, error)

	// Reject resolves a pending approval without moving the instance
	Reject(ctx context.Context, approvalID, actorID, reason string) (*entity.WorkflowInstance, error)

	// Delegate hands a pending approval to another actor
	Delegate(ctx context.Context, approvalID, actorID, delegateTo, comment string) (*entity.Approval, error)

	// Cancel stops an active instance
	Cancel(ctx context.Context, instanceID, actorID, reason string) (*entity.WorkflowInstance, error)

	// Fail marks an active instance as failed
	Fail(ctx context.Context, instanceID, actorID, reason string) (*entity.WorkflowInstance, error)

	// CurrentState returns the state the instance is in
	CurrentState(ctx context.Context, instanceID string) (*entity.WorkflowState, error)

	// History returns the instance's transition log in order
	History(ctx context.Context, instanceID string) ([]*entity.TransitionLog, error)

	GetInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error)
	GetApproval(ctx context.Context, approvalID string) (*entity.Approval, error)
	PendingApprovals(ctx context.Context, instanceID string) ([]*entity.Approval, error)

	// AvailableEvents lists the events that would select exactly one transition
	AvailableEvents(ctx context.Context, instanceID string, fireCtx map[string]interface{}) ([]string, error)
}

// StartRequest identifies the entity to attach. DefinitionID is optional;
// when empty the tenant's active definition for EntityType is used.
type StartRequest struct {
	TenantID     string `json:"tenant_id"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	DefinitionID string `json:"definition_id,omitempty"`
	ActorID      string `json:"actor_id"`
}

// FireRequest asks the engine to apply an event to an instance
type FireRequest struct {
	InstanceID string                 `json:"instance_id"`
	EventName  string                 `json:"event_name"`
	ActorID    string                 `json:"actor_id"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
	// AssignTo is recorded on the approval when the transition is gated
	AssignTo string `json:"assign_to,omitempty"`
}

// Result is the outcome of a Fire or Approve call. Approval is set when an
// approval was opened or resolved; Action when the transition emitted one.
type Result struct {
	Instance   *entity.WorkflowInstance   `json:"instance"`
	Transition *entity.WorkflowTransition `json:"transition"`
	Approval   *entity.Approval           `json:"approval,omitempty"`
	Action     *action.Request            `json:"action,omitempty"`
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
