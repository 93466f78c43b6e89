package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DefinitionService authors workflow definitions
type DefinitionService interface {
	Create(ctx context.Context, tenantID string, spec DefinitionSpec) (*entity.DefinitionBundle, error)
	Get(ctx context.Context, id string) (*entity.DefinitionBundle, error)
	List(ctx context.Context, tenantID, entityType string) ([]*entity.WorkflowDefinition, error)
	Activate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	// ReplaceTransitions swaps the transition table of a definition no
	// instance has used yet
	ReplaceTransitions(ctx context.Context, id string, transitions []TransitionSpec) (*entity.DefinitionBundle, error)
}

type definitionServiceImpl struct {
	definitions port.DefinitionRepository
	instances   port.InstanceStore
	txManager   port.TransactionManager
	logger      Logger
	now         func() time.Time
}

// NewDefinitionService creates a new DefinitionService
func NewDefinitionService(
	definitions port.DefinitionRepository,
	instances port.InstanceStore,
	txManager port.TransactionManager,
	logger Logger,
) DefinitionService {
	return &definitionServiceImpl{
		definitions: definitions,
		instances:   instances,
		txManager:   txManager,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the spec as a graph and stores it
func (s *definitionServiceImpl) Create(ctx context.Context, tenantID string, spec DefinitionSpec) (*entity.DefinitionBundle, error) {
	bundle, err := spec.compile(tenantID, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := domainwf.NewGraph(bundle); err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.definitions.CreateDefinition(txCtx, bundle)
	})
	if err != nil {
		s.logger.Error("Failed to create definition", "definition", spec.String(), "error", err)
		return nil, fmt.Errorf("failed to create definition: %w", err)
	}

	s.logger.Info("Definition created",
		"definition_id", bundle.Definition.ID,
		"tenant_id", tenantID,
		"entity_type", spec.EntityType,
		"active", bundle.Definition.IsActive,
	)
	return bundle, nil
}

// Get returns a definition or ErrNotFound
func (s *definitionServiceImpl) Get(ctx context.Context, id string) (*entity.DefinitionBundle, error) {
	bundle, err := s.definitions.LoadDefinition(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	if bundle == nil {
		return nil, domainwf.Errorf(domainwf.ErrNotFound, "definition %s not found", id)
	}
	return bundle, nil
}

// List returns the tenant's definitions
func (s *definitionServiceImpl) List(ctx context.Context, tenantID, entityType string) ([]*entity.WorkflowDefinition, error) {
	defs, err := s.definitions.ListDefinitions(ctx, tenantID, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	return defs, nil
}

// Activate marks the definition active. The most recently activated
// definition of an entity type is the one new instances attach to.
func (s *definitionServiceImpl) Activate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

// Deactivate stops new instances from attaching; running ones are unaffected
func (s *definitionServiceImpl) Deactivate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

func (s *definitionServiceImpl) setActive(ctx context.Context, id string, active bool) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.Get(txCtx, id); err != nil {
			return err
		}
		if err := s.definitions.SetActive(txCtx, id, active, s.now()); err != nil {
			return fmt.Errorf("failed to update definition: %w", err)
		}
		s.logger.Info("Definition activation changed", "definition_id", id, "active", active)
		return nil
	})
}

// ReplaceTransitions rejects definitions already referenced by an instance
func (s *definitionServiceImpl) ReplaceTransitions(ctx context.Context, id string, specs []TransitionSpec) (*entity.DefinitionBundle, error) {
	var updated *entity.DefinitionBundle
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		bundle, err := s.Get(txCtx, id)
		if err != nil {
			return err
		}

		used, err := s.instances.CountByDefinition(txCtx, id)
		if err != nil {
			return fmt.Errorf("failed to count instances: %w", err)
		}
		if used > 0 {
			return domainwf.Errorf(domainwf.ErrDefinitionInUse, "definition %s is referenced by %d instances", id, used)
		}

		transitions, err := compileTransitions(id, bundle.States, specs)
		if err != nil {
			return err
		}
		bundle.Transitions = transitions
		if _, err := domainwf.NewGraph(bundle); err != nil {
			return err
		}

		if err := s.definitions.ReplaceTransitions(txCtx, id, transitions); err != nil {
			return fmt.Errorf("failed to replace transitions: %w", err)
		}
		updated = bundle
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
