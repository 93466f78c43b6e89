package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// InstanceStore implements port.InstanceStore on PostgreSQL
type InstanceStore struct {
	db     *DB
	logger *zap.Logger
}

// NewInstanceStore creates an instance store
func NewInstanceStore(db *DB, logger *zap.Logger) *InstanceStore {
	return &InstanceStore{db: db, logger: logger}
}

const instanceColumns = `id, tenant_id, workflow_definition_id, entity_type, entity_id,
	current_state_id, status, version, started_at, completed_at, updated_at`

func (s *InstanceStore) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	inst.Version = 1
	_, err := s.db.querier(ctx).Exec(ctx, `
		INSERT INTO workflow_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inst.ID, inst.TenantID, inst.DefinitionID, inst.EntityType, inst.EntityID,
		inst.CurrentStateID, string(inst.Status), inst.Version, inst.StartedAt, inst.CompletedAt, inst.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", port.ErrDuplicateActive, inst.EntityType, inst.EntityID)
		}
		s.logger.Error("Failed to create instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// LoadForUpdate locks the instance row until the enclosing transaction ends
func (s *InstanceStore) LoadForUpdate(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	return s.get(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1 FOR UPDATE`, id)
}

func (s *InstanceStore) Get(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	return s.get(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id)
}

func (s *InstanceStore) get(ctx context.Context, query string, args ...any) (*entity.WorkflowInstance, error) {
	inst, err := scanInstance(s.db.querier(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

func (s *InstanceStore) Save(ctx context.Context, inst *entity.WorkflowInstance) error {
	tag, err := s.db.querier(ctx).Exec(ctx, `
		UPDATE workflow_instances
		SET current_state_id = $3, status = $4, completed_at = $5, updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $2`,
		inst.ID, inst.Version, inst.CurrentStateID, string(inst.Status), inst.CompletedAt, inst.UpdatedAt)
	if err != nil {
		s.logger.Error("Failed to save instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: instance %s at version %d", port.ErrVersionConflict, inst.ID, inst.Version)
	}
	inst.Version++
	return nil
}

func (s *InstanceStore) FindActiveByEntity(ctx context.Context, tenantID, entityType, entityID string) (*entity.WorkflowInstance, error) {
	return s.get(ctx, `
		SELECT `+instanceColumns+` FROM workflow_instances
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
			AND status IN ('pending', 'running', 'waiting')`, tenantID, entityType, entityID)
}

func (s *InstanceStore) CountByDefinition(ctx context.Context, definitionID string) (int64, error) {
	var n int64
	err := s.db.querier(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM workflow_instances WHERE workflow_definition_id = $1`, definitionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

func scanInstance(row pgx.Row) (*entity.WorkflowInstance, error) {
	var inst entity.WorkflowInstance
	var status string
	err := row.Scan(&inst.ID, &inst.TenantID, &inst.DefinitionID, &inst.EntityType, &inst.EntityID,
		&inst.CurrentStateID, &status, &inst.Version, &inst.StartedAt, &inst.CompletedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.Status = entity.InstanceStatus(status)
	return &inst, nil
}

var _ port.InstanceStore = (*InstanceStore)(nil)
