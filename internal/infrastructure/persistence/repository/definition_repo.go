package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
)

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sql.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

const definitionColumns = `id, tenant_id, name, entity_type, description, is_active, activated_at, created_at, updated_at`

// CreateDefinition inserts a definition with its states and transitions
func (r *DefinitionRepository) CreateDefinition(ctx context.Context, bundle *entity.DefinitionBundle) error {
	def := bundle.Definition
	exec := r.getExecutor(ctx)

	_, err := exec.ExecContext(ctx, `
		INSERT INTO workflow_definitions (`+definitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		def.ID, def.TenantID, def.Name, def.EntityType, def.Description,
		def.IsActive, nullTime(def.ActivatedAt), def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create definition", zap.String("definition_id", def.ID), zap.Error(err))
		return fmt.Errorf("failed to create definition: %w", err)
	}

	for _, s := range bundle.States {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO workflow_states (id, workflow_definition_id, name, label, is_initial, is_final, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.DefinitionID, s.Name, s.Label, s.IsInitial, s.IsFinal, s.SortOrder)
		if err != nil {
			return fmt.Errorf("failed to create state %s: %w", s.Name, err)
		}
	}

	return r.insertTransitions(ctx, exec, bundle.Transitions)
}

func (r *DefinitionRepository) insertTransitions(ctx context.Context, exec sqlite.Executor, transitions []*entity.WorkflowTransition) error {
	for _, t := range transitions {
		guard, err := marshalJSON(t.Guard)
		if err != nil {
			return err
		}
		act, err := marshalJSON(t.Action)
		if err != nil {
			return err
		}
		_, err = exec.ExecContext(ctx, `
			INSERT INTO workflow_transitions (
				id, workflow_definition_id, from_state_id, to_state_id,
				event_name, guard, action, requires_approval
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.DefinitionID, t.FromStateID, t.ToStateID, t.EventName, guard, act, t.RequiresApproval)
		if err != nil {
			return fmt.Errorf("failed to create transition %s: %w", t.ID, err)
		}
	}
	return nil
}

// ReplaceTransitions deletes and re-inserts a definition's transitions
func (r *DefinitionRepository) ReplaceTransitions(ctx context.Context, definitionID string, transitions []*entity.WorkflowTransition) error {
	exec := r.getExecutor(ctx)
	if _, err := exec.ExecContext(ctx, `DELETE FROM workflow_transitions WHERE workflow_definition_id = ?`, definitionID); err != nil {
		r.logger.Error("Failed to delete transitions", zap.String("definition_id", definitionID), zap.Error(err))
		return fmt.Errorf("failed to delete transitions: %w", err)
	}
	return r.insertTransitions(ctx, exec, transitions)
}

// SetActive flips is_active; activating stamps activated_at
func (r *DefinitionRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	query := `UPDATE workflow_definitions SET is_active = ?, updated_at = ? WHERE id = ?`
	args := []interface{}{active, at, id}
	if active {
		query = `UPDATE workflow_definitions SET is_active = ?, activated_at = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{active, at, at, id}
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to set definition active flag", zap.String("definition_id", id), zap.Error(err))
		return fmt.Errorf("failed to update definition: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("definition %s not found", id)
	}
	return nil
}

// LoadActiveDefinition returns the most recently activated active definition
func (r *DefinitionRepository) LoadActiveDefinition(ctx context.Context, tenantID, entityType string) (*entity.DefinitionBundle, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE tenant_id = ? AND entity_type = ? AND is_active = 1
		ORDER BY activated_at DESC, created_at DESC
		LIMIT 1
	`, tenantID, entityType)

	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to load active definition",
			zap.String("tenant_id", tenantID),
			zap.String("entity_type", entityType),
			zap.Error(err))
		return nil, fmt.Errorf("failed to load active definition: %w", err)
	}
	return r.loadBundle(ctx, def)
}

// LoadDefinition returns a definition with its states and transitions
func (r *DefinitionRepository) LoadDefinition(ctx context.Context, id string) (*entity.DefinitionBundle, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = ?
	`, id)

	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to load definition", zap.String("definition_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	return r.loadBundle(ctx, def)
}

// ListDefinitions lists a tenant's definitions, optionally for one entity type
func (r *DefinitionRepository) ListDefinitions(ctx context.Context, tenantID, entityType string) ([]*entity.WorkflowDefinition, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE tenant_id = ? AND (? = '' OR entity_type = ?)
		ORDER BY entity_type, created_at
	`, tenantID, entityType, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (r *DefinitionRepository) loadBundle(ctx context.Context, def *entity.WorkflowDefinition) (*entity.DefinitionBundle, error) {
	exec := r.getExecutor(ctx)
	bundle := &entity.DefinitionBundle{Definition: def}

	rows, err := exec.QueryContext(ctx, `
		SELECT id, workflow_definition_id, name, label, is_initial, is_final, sort_order
		FROM workflow_states
		WHERE workflow_definition_id = ?
		ORDER BY sort_order, name
	`, def.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load states: %w", err)
	}
	for rows.Next() {
		var s entity.WorkflowState
		if err := rows.Scan(&s.ID, &s.DefinitionID, &s.Name, &s.Label, &s.IsInitial, &s.IsFinal, &s.SortOrder); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		bundle.States = append(bundle.States, &s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = exec.QueryContext(ctx, `
		SELECT id, workflow_definition_id, from_state_id, to_state_id,
			event_name, guard, action, requires_approval
		FROM workflow_transitions
		WHERE workflow_definition_id = ?
		ORDER BY id
	`, def.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transitions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t entity.WorkflowTransition
		var guard, act sql.NullString
		if err := rows.Scan(&t.ID, &t.DefinitionID, &t.FromStateID, &t.ToStateID,
			&t.EventName, &guard, &act, &t.RequiresApproval); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		if guard.Valid {
			t.Guard = &entity.Guard{}
			if err := unmarshalJSON(guard, t.Guard); err != nil {
				return nil, err
			}
		}
		if act.Valid {
			t.Action = &entity.ActionSpec{}
			if err := unmarshalJSON(act, t.Action); err != nil {
				return nil, err
			}
		}
		bundle.Transitions = append(bundle.Transitions, &t)
	}
	return bundle, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	var activatedAt sql.NullTime
	err := row.Scan(
		&def.ID, &def.TenantID, &def.Name, &def.EntityType, &def.Description,
		&def.IsActive, &activatedAt, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	def.ActivatedAt = timePtr(activatedAt)
	return &def, nil
}

func (r *DefinitionRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

// Verify interface compliance
var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
