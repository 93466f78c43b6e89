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

// ApprovalRepository implements port.ApprovalStore
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) port.ApprovalStore {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

const approvalColumns = `id, tenant_id, workflow_instance_id, transition_id, requested_by, requested_at,
	assigned_to, status, resolved_by, resolved_at, comment, delegated_to, context`

// Create inserts a new approval
func (r *ApprovalRepository) Create(ctx context.Context, approval *entity.Approval) error {
	fireCtx, err := marshalJSON(approval.Context)
	if err != nil {
		return err
	}

	_, err = r.getExecutor(ctx).ExecContext(ctx, `
		INSERT INTO workflow_approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		approval.ID, approval.TenantID, approval.InstanceID, approval.TransitionID,
		approval.RequestedBy, approval.RequestedAt, approval.AssignedTo, string(approval.Status),
		approval.ResolvedBy, nullTime(approval.ResolvedAt), approval.Comment, approval.DelegatedTo, fireCtx,
	)
	if err != nil {
		r.logger.Error("Failed to create approval",
			zap.String("approval_id", approval.ID),
			zap.String("instance_id", approval.InstanceID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// Get retrieves an approval by ID
func (r *ApprovalRepository) Get(ctx context.Context, id string) (*entity.Approval, error) {
	row := r.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT `+approvalColumns+` FROM workflow_approvals WHERE id = ?
	`, id)

	approval, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval", zap.String("approval_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return approval, nil
}

// ListPendingByInstance returns the instance's pending approvals, oldest first
func (r *ApprovalRepository) ListPendingByInstance(ctx context.Context, instanceID string) ([]*entity.Approval, error) {
	rows, err := r.getExecutor(ctx).QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM workflow_approvals
		WHERE workflow_instance_id = ? AND status = 'pending'
		ORDER BY requested_at ASC
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*entity.Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, approval)
	}
	return approvals, rows.Err()
}

// Resolve updates the approval only while it is still pending
func (r *ApprovalRepository) Resolve(ctx context.Context, id string, res entity.ApprovalResolution) (bool, error) {
	result, err := r.getExecutor(ctx).ExecContext(ctx, `
		UPDATE workflow_approvals
		SET status = ?, resolved_by = ?, resolved_at = ?, comment = ?, delegated_to = ?
		WHERE id = ? AND status = 'pending'
	`, string(res.Status), res.ResolvedBy, res.ResolvedAt, res.Comment, res.DelegatedTo, id)
	if err != nil {
		r.logger.Error("Failed to resolve approval", zap.String("approval_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to resolve approval: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func scanApproval(row rowScanner) (*entity.Approval, error) {
	var a entity.Approval
	var status string
	var resolvedAt sql.NullTime
	var fireCtx sql.NullString
	err := row.Scan(
		&a.ID, &a.TenantID, &a.InstanceID, &a.TransitionID, &a.RequestedBy, &a.RequestedAt,
		&a.AssignedTo, &status, &a.ResolvedBy, &resolvedAt, &a.Comment, &a.DelegatedTo, &fireCtx,
	)
	if err != nil {
		return nil, err
	}
	a.Status = entity.ApprovalStatus(status)
	a.ResolvedAt = timePtr(resolvedAt)
	if err := unmarshalJSON(fireCtx, &a.Context); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *ApprovalRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

// Verify interface compliance
var _ port.ApprovalStore = (*ApprovalRepository)(nil)
