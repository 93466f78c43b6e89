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

// ApprovalStore implements port.ApprovalStore on PostgreSQL
type ApprovalStore struct {
	db     *DB
	logger *zap.Logger
}

// NewApprovalStore creates an approval store
func NewApprovalStore(db *DB, logger *zap.Logger) *ApprovalStore {
	return &ApprovalStore{db: db, logger: logger}
}

const approvalColumns = `id, tenant_id, workflow_instance_id, transition_id, requested_by, requested_at,
	assigned_to, status, resolved_by, resolved_at, comment, delegated_to, context`

func (s *ApprovalStore) Create(ctx context.Context, a *entity.Approval) error {
	fireCtx, err := toJSONB(a.Context)
	if err != nil {
		return err
	}
	_, err = s.db.querier(ctx).Exec(ctx, `
		INSERT INTO workflow_approvals (`+approvalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.TenantID, a.InstanceID, a.TransitionID, a.RequestedBy, a.RequestedAt,
		a.AssignedTo, string(a.Status), a.ResolvedBy, a.ResolvedAt, a.Comment, a.DelegatedTo, fireCtx)
	if err != nil {
		s.logger.Error("Failed to create approval", zap.String("approval_id", a.ID), zap.Error(err))
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (*entity.Approval, error) {
	a, err := scanApproval(s.db.querier(ctx).QueryRow(ctx, `SELECT `+approvalColumns+` FROM workflow_approvals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

func (s *ApprovalStore) ListPendingByInstance(ctx context.Context, instanceID string) ([]*entity.Approval, error) {
	rows, err := s.db.querier(ctx).Query(ctx, `
		SELECT `+approvalColumns+` FROM workflow_approvals
		WHERE workflow_instance_id = $1 AND status = 'pending'
		ORDER BY requested_at`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*entity.Approval, error) {
		return scanApproval(row)
	})
}

// Resolve only touches a row that is still pending
func (s *ApprovalStore) Resolve(ctx context.Context, id string, res entity.ApprovalResolution) (bool, error) {
	tag, err := s.db.querier(ctx).Exec(ctx, `
		UPDATE workflow_approvals
		SET status = $2, resolved_by = $3, resolved_at = $4, comment = $5, delegated_to = $6
		WHERE id = $1 AND status = 'pending'`,
		id, string(res.Status), res.ResolvedBy, res.ResolvedAt, res.Comment, res.DelegatedTo)
	if err != nil {
		s.logger.Error("Failed to resolve approval", zap.String("approval_id", id), zap.Error(err))
		return false, fmt.Errorf("resolve approval: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanApproval(row pgx.Row) (*entity.Approval, error) {
	var a entity.Approval
	var status string
	var fireCtx []byte
	err := row.Scan(&a.ID, &a.TenantID, &a.InstanceID, &a.TransitionID, &a.RequestedBy, &a.RequestedAt,
		&a.AssignedTo, &status, &a.ResolvedBy, &a.ResolvedAt, &a.Comment, &a.DelegatedTo, &fireCtx)
	if err != nil {
		return nil, err
	}
	a.Status = entity.ApprovalStatus(status)
	if err := fromJSONB(fireCtx, &a.Context); err != nil {
		return nil, err
	}
	return &a, nil
}

var _ port.ApprovalStore = (*ApprovalStore)(nil)
