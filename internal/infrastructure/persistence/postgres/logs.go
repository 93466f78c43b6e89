package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// LogStore implements port.TransitionLog on PostgreSQL
type LogStore struct {
	db     *DB
	logger *zap.Logger
}

// NewLogStore creates a transition log store
func NewLogStore(db *DB, logger *zap.Logger) *LogStore {
	return &LogStore{db: db, logger: logger}
}

// Append numbers the row after the instance's last one. Callers hold the
// instance row lock, so the sequence cannot race.
func (s *LogStore) Append(ctx context.Context, log *entity.TransitionLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	q := s.db.querier(ctx)
	if err := q.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM workflow_transition_logs WHERE workflow_instance_id = $1`,
		log.InstanceID).Scan(&log.Sequence); err != nil {
		return fmt.Errorf("next log sequence: %w", err)
	}

	_, err := q.Exec(ctx, `
		INSERT INTO workflow_transition_logs (id, tenant_id, workflow_instance_id, sequence, from_state_id,
			to_state_id, event_name, kind, triggered_by, transitioned_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		log.ID, log.TenantID, log.InstanceID, log.Sequence, log.FromStateID, log.ToStateID,
		log.EventName, string(log.Kind), log.TriggeredBy, log.TransitionedAt, log.Notes)
	if err != nil {
		s.logger.Error("Failed to append transition log", zap.String("instance_id", log.InstanceID), zap.Error(err))
		return fmt.Errorf("append transition log: %w", err)
	}
	return nil
}

func (s *LogStore) ListByInstance(ctx context.Context, instanceID string) ([]*entity.TransitionLog, error) {
	rows, err := s.db.querier(ctx).Query(ctx, `
		SELECT id, tenant_id, workflow_instance_id, sequence, from_state_id, to_state_id,
			event_name, kind, triggered_by, transitioned_at, notes
		FROM workflow_transition_logs
		WHERE workflow_instance_id = $1
		ORDER BY sequence`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list transition logs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*entity.TransitionLog, error) {
		var l entity.TransitionLog
		var kind string
		err := row.Scan(&l.ID, &l.TenantID, &l.InstanceID, &l.Sequence, &l.FromStateID, &l.ToStateID,
			&l.EventName, &kind, &l.TriggeredBy, &l.TransitionedAt, &l.Notes)
		l.Kind = entity.LogKind(kind)
		return &l, err
	})
}

var _ port.TransitionLog = (*LogStore)(nil)
