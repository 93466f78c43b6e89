package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// DefinitionStore implements port.DefinitionRepository on PostgreSQL
type DefinitionStore struct {
	db     *DB
	logger *zap.Logger
}

// NewDefinitionStore creates a definition store
func NewDefinitionStore(db *DB, logger *zap.Logger) *DefinitionStore {
	return &DefinitionStore{db: db, logger: logger}
}

const definitionColumns = `id, tenant_id, name, entity_type, description, is_active, activated_at, created_at, updated_at`

func (s *DefinitionStore) CreateDefinition(ctx context.Context, bundle *entity.DefinitionBundle) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context) error {
		q := s.db.querier(ctx)
		def := bundle.Definition
		_, err := q.Exec(ctx, `
			INSERT INTO workflow_definitions (`+definitionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			def.ID, def.TenantID, def.Name, def.EntityType, def.Description,
			def.IsActive, def.ActivatedAt, def.CreatedAt, def.UpdatedAt)
		if err != nil {
			s.logger.Error("Failed to create definition", zap.String("definition_id", def.ID), zap.Error(err))
			return fmt.Errorf("insert definition: %w", err)
		}

		for _, st := range bundle.States {
			_, err := q.Exec(ctx, `
				INSERT INTO workflow_states (id, workflow_definition_id, name, label, is_initial, is_final, sort_order)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				st.ID, st.DefinitionID, st.Name, st.Label, st.IsInitial, st.IsFinal, st.SortOrder)
			if err != nil {
				return fmt.Errorf("insert state %s: %w", st.Name, err)
			}
		}
		return insertTransitions(ctx, q, bundle.Transitions)
	})
}

func insertTransitions(ctx context.Context, q querier, transitions []*entity.WorkflowTransition) error {
	for _, t := range transitions {
		guard, err := toJSONB(t.Guard)
		if err != nil {
			return err
		}
		act, err := toJSONB(t.Action)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, `
			INSERT INTO workflow_transitions (id, workflow_definition_id, from_state_id, to_state_id,
				event_name, guard, action, requires_approval)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.DefinitionID, t.FromStateID, t.ToStateID, t.EventName, guard, act, t.RequiresApproval)
		if err != nil {
			return fmt.Errorf("insert transition %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *DefinitionStore) ReplaceTransitions(ctx context.Context, definitionID string, transitions []*entity.WorkflowTransition) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context) error {
		q := s.db.querier(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM workflow_transitions WHERE workflow_definition_id = $1`, definitionID); err != nil {
			return fmt.Errorf("delete transitions: %w", err)
		}
		return insertTransitions(ctx, q, transitions)
	})
}

func (s *DefinitionStore) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	tag, err := s.db.querier(ctx).Exec(ctx, `
		UPDATE workflow_definitions
		SET is_active = $2::boolean,
			activated_at = CASE WHEN $2::boolean THEN $3::timestamptz ELSE activated_at END,
			updated_at = $3::timestamptz
		WHERE id = $1`, id, active, at)
	if err != nil {
		s.logger.Error("Failed to set definition active flag", zap.String("definition_id", id), zap.Error(err))
		return fmt.Errorf("update definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("definition %s not found", id)
	}
	return nil
}

func (s *DefinitionStore) LoadActiveDefinition(ctx context.Context, tenantID, entityType string) (*entity.DefinitionBundle, error) {
	row := s.db.querier(ctx).QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE tenant_id = $1 AND entity_type = $2 AND is_active
		ORDER BY activated_at DESC NULLS LAST, created_at DESC
		LIMIT 1`, tenantID, entityType)
	def, err := scanDefinition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active definition: %w", err)
	}
	return s.loadBundle(ctx, def)
}

func (s *DefinitionStore) LoadDefinition(ctx context.Context, id string) (*entity.DefinitionBundle, error) {
	row := s.db.querier(ctx).QueryRow(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = $1`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}
	return s.loadBundle(ctx, def)
}

func (s *DefinitionStore) ListDefinitions(ctx context.Context, tenantID, entityType string) ([]*entity.WorkflowDefinition, error) {
	rows, err := s.db.querier(ctx).Query(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE tenant_id = $1 AND ($2 = '' OR entity_type = $2)
		ORDER BY entity_type, created_at`, tenantID, entityType)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *DefinitionStore) loadBundle(ctx context.Context, def *entity.WorkflowDefinition) (*entity.DefinitionBundle, error) {
	q := s.db.querier(ctx)
	bundle := &entity.DefinitionBundle{Definition: def}

	states, err := q.Query(ctx, `
		SELECT id, workflow_definition_id, name, label, is_initial, is_final, sort_order
		FROM workflow_states WHERE workflow_definition_id = $1
		ORDER BY sort_order, name`, def.ID)
	if err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}
	bundle.States, err = pgx.CollectRows(states, func(row pgx.CollectableRow) (*entity.WorkflowState, error) {
		var st entity.WorkflowState
		err := row.Scan(&st.ID, &st.DefinitionID, &st.Name, &st.Label, &st.IsInitial, &st.IsFinal, &st.SortOrder)
		return &st, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan states: %w", err)
	}

	transitions, err := q.Query(ctx, `
		SELECT id, workflow_definition_id, from_state_id, to_state_id, event_name, guard, action, requires_approval
		FROM workflow_transitions WHERE workflow_definition_id = $1
		ORDER BY id`, def.ID)
	if err != nil {
		return nil, fmt.Errorf("load transitions: %w", err)
	}
	bundle.Transitions, err = pgx.CollectRows(transitions, func(row pgx.CollectableRow) (*entity.WorkflowTransition, error) {
		var t entity.WorkflowTransition
		var guard, act []byte
		if err := row.Scan(&t.ID, &t.DefinitionID, &t.FromStateID, &t.ToStateID, &t.EventName, &guard, &act, &t.RequiresApproval); err != nil {
			return nil, err
		}
		if len(guard) > 0 {
			t.Guard = &entity.Guard{}
			if err := fromJSONB(guard, t.Guard); err != nil {
				return nil, err
			}
		}
		if len(act) > 0 {
			t.Action = &entity.ActionSpec{}
			if err := fromJSONB(act, t.Action); err != nil {
				return nil, err
			}
		}
		return &t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan transitions: %w", err)
	}
	return bundle, nil
}

func scanDefinition(row pgx.Row) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	err := row.Scan(&def.ID, &def.TenantID, &def.Name, &def.EntityType, &def.Description,
		&def.IsActive, &def.ActivatedAt, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

var _ port.DefinitionRepository = (*DefinitionStore)(nil)
