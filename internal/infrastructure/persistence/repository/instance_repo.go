package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
)

// InstanceRepository implements port.InstanceStore
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceStore {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `id, tenant_id, workflow_definition_id, entity_type, entity_id,
	current_state_id, status, version, started_at, completed_at, updated_at`

// Create inserts a new instance at version 1
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	instance.Version = 1
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO workflow_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		instance.ID, instance.TenantID, instance.DefinitionID, instance.EntityType, instance.EntityID,
		instance.CurrentStateID, string(instance.Status), instance.Version,
		instance.StartedAt, nullTime(instance.CompletedAt), instance.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", port.ErrDuplicateActive, instance.EntityType, instance.EntityID)
		}
		r.logger.Error("Failed to create instance",
			zap.String("instance_id", instance.ID),
			zap.String("entity_id", instance.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	r.logger.Debug("Instance created",
		zap.String("instance_id", instance.ID),
		zap.String("status", string(instance.Status)))
	return nil
}

// LoadForUpdate reads the instance. Write transactions are opened with
// BEGIN IMMEDIATE, so holding one already serializes writers.
func (r *InstanceRepository) LoadForUpdate(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	return r.Get(ctx, id)
}

// Get retrieves an instance by ID
func (r *InstanceRepository) Get(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?
	`, id)

	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.String("instance_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

// Save writes the mutable fields when the stored version matches
func (r *InstanceRepository) Save(ctx context.Context, instance *entity.WorkflowInstance) error {
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE workflow_instances
		SET current_state_id = ?, status = ?, completed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		instance.CurrentStateID, string(instance.Status), nullTime(instance.CompletedAt),
		instance.UpdatedAt, instance.ID, instance.Version,
	)
	if err != nil {
		r.logger.Error("Failed to save instance", zap.String("instance_id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to save instance: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: instance %s at version %d", port.ErrVersionConflict, instance.ID, instance.Version)
	}

	instance.Version++
	return nil
}

// FindActiveByEntity returns the entity's pending, running or waiting instance
func (r *InstanceRepository) FindActiveByEntity(ctx context.Context, tenantID, entityType, entityID string) (*entity.WorkflowInstance, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
			AND status IN ('pending', 'running', 'waiting')
		LIMIT 1
	`, tenantID, entityType, entityID)

	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find active instance",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to find active instance: %w", err)
	}
	return inst, nil
}

// CountByDefinition counts instances of any status using a definition
func (r *InstanceRepository) CountByDefinition(ctx context.Context, definitionID string) (int64, error) {
	var count int64
	err := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_instances WHERE workflow_definition_id = ?
	`, definitionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var inst entity.WorkflowInstance
	var status string
	var completedAt sql.NullTime
	err := row.Scan(
		&inst.ID, &inst.TenantID, &inst.DefinitionID, &inst.EntityType, &inst.EntityID,
		&inst.CurrentStateID, &status, &inst.Version, &inst.StartedAt, &completedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.Status = entity.InstanceStatus(status)
	inst.CompletedAt = timePtr(completedAt)
	return &inst, nil
}

func (r *InstanceRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

// Verify interface compliance
var _ port.InstanceStore = (*InstanceRepository)(nil)
