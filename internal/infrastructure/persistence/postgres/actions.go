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

// ActionStore implements port.ActionOutbox on PostgreSQL
type ActionStore struct {
	db     *DB
	logger *zap.Logger
}

// NewActionStore creates an action outbox store
func NewActionStore(db *DB, logger *zap.Logger) *ActionStore {
	return &ActionStore{db: db, logger: logger}
}

const actionColumns = `id, tenant_id, workflow_instance_id, transition_id, type, config, status,
	attempts, last_error, resume_at, deferred_token, created_at, updated_at`

func (s *ActionStore) Record(ctx context.Context, r *entity.ActionRecord) error {
	config, err := toJSONB(r.Config)
	if err != nil {
		return err
	}
	_, err = s.db.querier(ctx).Exec(ctx, `
		INSERT INTO workflow_actions (`+actionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.TenantID, r.InstanceID, r.TransitionID, r.Type, config, string(r.Status),
		r.Attempts, r.LastError, r.ResumeAt, r.DeferredToken, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		s.logger.Error("Failed to record action", zap.String("action_id", r.ID), zap.Error(err))
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *ActionStore) MarkDispatched(ctx context.Context, id string) error {
	_, err := s.db.querier(ctx).Exec(ctx, `
		UPDATE workflow_actions
		SET status = 'dispatched', attempts = attempts + 1, last_error = '', updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark action dispatched: %w", err)
	}
	return nil
}

func (s *ActionStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := s.db.querier(ctx).Exec(ctx, `
		UPDATE workflow_actions
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark action failed: %w", err)
	}
	return nil
}

func (s *ActionStore) ListRetryable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*entity.ActionRecord, error) {
	rows, err := s.db.querier(ctx).Query(ctx, `
		SELECT `+actionColumns+` FROM workflow_actions
		WHERE status IN ('pending', 'failed')
			AND attempts < $1
			AND (resume_at IS NULL OR resume_at <= $2)
		ORDER BY created_at
		LIMIT $3`, maxAttempts, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable actions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*entity.ActionRecord, error) {
		return scanAction(row)
	})
}

func (s *ActionStore) Get(ctx context.Context, id string) (*entity.ActionRecord, error) {
	r, err := scanAction(s.db.querier(ctx).QueryRow(ctx, `SELECT `+actionColumns+` FROM workflow_actions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return r, nil
}

func scanAction(row pgx.Row) (*entity.ActionRecord, error) {
	var r entity.ActionRecord
	var status string
	var config []byte
	err := row.Scan(&r.ID, &r.TenantID, &r.InstanceID, &r.TransitionID, &r.Type, &config, &status,
		&r.Attempts, &r.LastError, &r.ResumeAt, &r.DeferredToken, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = entity.ActionStatus(status)
	if err := fromJSONB(config, &r.Config); err != nil {
		return nil, err
	}
	return &r, nil
}

var _ port.ActionOutbox = (*ActionStore)(nil)
