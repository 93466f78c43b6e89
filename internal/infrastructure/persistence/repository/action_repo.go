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

// ActionRepository implements port.ActionOutbox
type ActionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewActionRepository creates a new action outbox repository
func NewActionRepository(db *sql.DB, logger *zap.Logger) port.ActionOutbox {
	return &ActionRepository{
		db:     db,
		logger: logger,
	}
}

const actionColumns = `id, tenant_id, workflow_instance_id, transition_id, type, config, status,
	attempts, last_error, resume_at, deferred_token, created_at, updated_at`

// Record inserts an outbox row
func (r *ActionRepository) Record(ctx context.Context, record *entity.ActionRecord) error {
	config, err := marshalJSON(record.Config)
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO workflow_actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, record.TenantID, record.InstanceID, record.TransitionID, record.Type, config,
		string(record.Status), record.Attempts, record.LastError, nullTime(record.ResumeAt),
		record.DeferredToken, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to record action",
			zap.String("action_id", record.ID),
			zap.String("type", record.Type),
			zap.Error(err))
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// MarkDispatched records a successful hand-off
func (r *ActionRepository) MarkDispatched(ctx context.Context, id string) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE workflow_actions
		SET status = 'dispatched', attempts = attempts + 1, last_error = '', updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to mark action dispatched", zap.String("action_id", id), zap.Error(err))
		return fmt.Errorf("failed to mark action dispatched: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt
func (r *ActionRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE workflow_actions
		SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?
	`, errMsg, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to mark action failed", zap.String("action_id", id), zap.Error(err))
		return fmt.Errorf("failed to mark action failed: %w", err)
	}
	return nil
}

// ListRetryable returns pending or failed rows that are due
func (r *ActionRepository) ListRetryable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*entity.ActionRecord, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM workflow_actions
		WHERE status IN ('pending', 'failed')
			AND attempts < ?
			AND (resume_at IS NULL OR resume_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?
	`, maxAttempts, now.UTC(), limit)
	if err != nil {
		r.logger.Error("Failed to list retryable actions", zap.Error(err))
		return nil, fmt.Errorf("failed to list retryable actions: %w", err)
	}
	defer rows.Close()

	var records []*entity.ActionRecord
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get retrieves an outbox row by ID
func (r *ActionRepository) Get(ctx context.Context, id string) (*entity.ActionRecord, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT `+actionColumns+` FROM workflow_actions WHERE id = ?
	`, id)

	rec, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return rec, nil
}

func scanAction(row rowScanner) (*entity.ActionRecord, error) {
	var rec entity.ActionRecord
	var status string
	var config sql.NullString
	var resumeAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.InstanceID, &rec.TransitionID, &rec.Type, &config, &status,
		&rec.Attempts, &rec.LastError, &resumeAt, &rec.DeferredToken, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = entity.ActionStatus(status)
	rec.ResumeAt = timePtr(resumeAt)
	if err := unmarshalJSON(config, &rec.Config); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ActionRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

// Verify interface compliance
var _ port.ActionOutbox = (*ActionRepository)(nil)
