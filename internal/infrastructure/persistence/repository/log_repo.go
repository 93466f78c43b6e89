package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
)

// TransitionLogRepository implements port.TransitionLog
type TransitionLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransitionLogRepository creates a new transition log repository
func NewTransitionLogRepository(db *sql.DB, logger *zap.Logger) port.TransitionLog {
	return &TransitionLogRepository{
		db:     db,
		logger: logger,
	}
}

// Append stores the row with the instance's next sequence number
func (r *TransitionLogRepository) Append(ctx context.Context, log *entity.TransitionLog) error {
	exec := r.getExecutor(ctx)
	if log.ID == "" {
		log.ID = uuid.NewString()
	}

	var seq int64
	err := exec.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM workflow_transition_logs WHERE workflow_instance_id = ?
	`, log.InstanceID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to compute log sequence: %w", err)
	}
	log.Sequence = seq

	var from sql.NullString
	if log.FromStateID != nil {
		from = sql.NullString{String: *log.FromStateID, Valid: true}
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO workflow_transition_logs (
			id, tenant_id, workflow_instance_id, sequence, from_state_id, to_state_id,
			event_name, kind, triggered_by, transitioned_at, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		log.ID, log.TenantID, log.InstanceID, log.Sequence, from, log.ToStateID,
		log.EventName, string(log.Kind), log.TriggeredBy, log.TransitionedAt, log.Notes,
	)
	if err != nil {
		r.logger.Error("Failed to append transition log",
			zap.String("instance_id", log.InstanceID),
			zap.Int64("sequence", log.Sequence),
			zap.Error(err))
		return fmt.Errorf("failed to append transition log: %w", err)
	}
	return nil
}

// ListByInstance returns the instance's rows in sequence order
func (r *TransitionLogRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.TransitionLog, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, workflow_instance_id, sequence, from_state_id, to_state_id,
			event_name, kind, triggered_by, transitioned_at, notes
		FROM workflow_transition_logs
		WHERE workflow_instance_id = ?
		ORDER BY sequence ASC
	`, instanceID)
	if err != nil {
		r.logger.Error("Failed to list transition logs", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list transition logs: %w", err)
	}
	defer rows.Close()

	var logs []*entity.TransitionLog
	for rows.Next() {
		var l entity.TransitionLog
		var from sql.NullString
		var kind string
		if err := rows.Scan(
			&l.ID, &l.TenantID, &l.InstanceID, &l.Sequence, &from, &l.ToStateID,
			&l.EventName, &kind, &l.TriggeredBy, &l.TransitionedAt, &l.Notes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transition log: %w", err)
		}
		if from.Valid {
			s := from.String
			l.FromStateID = &s
		}
		l.Kind = entity.LogKind(kind)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (r *TransitionLogRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

// Verify interface compliance
var _ port.TransitionLog = (*TransitionLogRepository)(nil)
