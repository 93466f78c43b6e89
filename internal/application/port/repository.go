package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// ErrVersionConflict is returned by InstanceStore.Save when the stored version
// no longer matches the one the caller loaded
var ErrVersionConflict = errors.New("instance version conflict")

// ErrDuplicateActive is returned by InstanceStore.Create when the entity
// already has an active instance
var ErrDuplicateActive = errors.New("entity already has an active instance")

// DefinitionRepository loads and stores workflow definitions with their states
// and transitions. Lookups return nil, nil when nothing matches.
type DefinitionRepository interface {
	// LoadActiveDefinition returns the most recently activated active
	// definition for the tenant and entity type
	LoadActiveDefinition(ctx context.Context, tenantID, entityType string) (*entity.DefinitionBundle, error)
	LoadDefinition(ctx context.Context, id string) (*entity.DefinitionBundle, error)
	CreateDefinition(ctx context.Context, bundle *entity.DefinitionBundle) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	// ReplaceTransitions swaps the full transition table of a definition
	ReplaceTransitions(ctx context.Context, definitionID string, transitions []*entity.WorkflowTransition) error
	ListDefinitions(ctx context.Context, tenantID, entityType string) ([]*entity.WorkflowDefinition, error)
}

// InstanceStore persists workflow instances
type InstanceStore interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	// LoadForUpdate reads the instance and locks its row for the enclosing transaction
	LoadForUpdate(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	Get(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	// Save writes state, status and completion time when instance.Version still
	// matches the stored row, then increments instance.Version
	Save(ctx context.Context, instance *entity.WorkflowInstance) error
	FindActiveByEntity(ctx context.Context, tenantID, entityType, entityID string) (*entity.WorkflowInstance, error)
	CountByDefinition(ctx context.Context, definitionID string) (int64, error)
}

// TransitionLog is the append-only audit trail of an instance
type TransitionLog interface {
	// Append assigns the next per-instance sequence number and stores the row
	Append(ctx context.Context, log *entity.TransitionLog) error
	// ListByInstance returns rows ordered by sequence
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.TransitionLog, error)
}

// ApprovalStore persists approval records
type ApprovalStore interface {
	Create(ctx context.Context, approval *entity.Approval) error
	Get(ctx context.Context, id string) (*entity.Approval, error)
	ListPendingByInstance(ctx context.Context, instanceID string) ([]*entity.Approval, error)
	// Resolve moves a pending approval to a terminal status. It returns false
	// when the approval was no longer pending.
	Resolve(ctx context.Context, id string, resolution entity.ApprovalResolution) (bool, error)
}

// ActionOutbox records action requests handed to external executors
type ActionOutbox interface {
	Record(ctx context.Context, record *entity.ActionRecord) error
	MarkDispatched(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	// ListRetryable returns pending or failed records below maxAttempts whose
	// resume time has passed, oldest first
	ListRetryable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*entity.ActionRecord, error)
	Get(ctx context.Context, id string) (*entity.ActionRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
