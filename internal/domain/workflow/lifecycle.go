package workflow

import (
	"context"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

var (
	instanceLifecycle = newInstanceLifecycleBuilder()
	approvalLifecycle = newApprovalLifecycleBuilder()
)

// newInstanceLifecycleBuilder wires the instance status table:
//
//	pending  --activate-->       running
//	running  --await_approval--> waiting
//	waiting  --resume-->         running
//	running  --complete-->       completed
//	any active --fail/cancel-->  failed/cancelled
func newInstanceLifecycleBuilder() StateMachineBuilder[entity.InstanceStatus, Trigger] {
	b := NewBuilder[entity.InstanceStatus, Trigger](entity.InstanceStatus.IsValid)

	b.Configure(entity.InstanceStatusPending).
		Permit(TriggerActivate, entity.InstanceStatusRunning).
		Permit(TriggerFail, entity.InstanceStatusFailed).
		Permit(TriggerCancel, entity.InstanceStatusCancelled)

	b.Configure(entity.InstanceStatusRunning).
		Permit(TriggerAwaitApproval, entity.InstanceStatusWaiting).
		Permit(TriggerComplete, entity.InstanceStatusCompleted).
		Permit(TriggerFail, entity.InstanceStatusFailed).
		Permit(TriggerCancel, entity.InstanceStatusCancelled)

	b.Configure(entity.InstanceStatusWaiting).
		Permit(TriggerResume, entity.InstanceStatusRunning).
		Permit(TriggerFail, entity.InstanceStatusFailed).
		Permit(TriggerCancel, entity.InstanceStatusCancelled)

	return b
}

func newApprovalLifecycleBuilder() StateMachineBuilder[entity.ApprovalStatus, Trigger] {
	b := NewBuilder[entity.ApprovalStatus, Trigger](entity.ApprovalStatus.IsValid)

	b.Configure(entity.ApprovalStatusPending).
		Permit(TriggerApprove, entity.ApprovalStatusApproved).
		Permit(TriggerReject, entity.ApprovalStatusRejected).
		Permit(TriggerCancel, entity.ApprovalStatusCancelled).
		Permit(TriggerDelegate, entity.ApprovalStatusDelegated)

	return b
}

// InstanceLifecycle returns a machine positioned at the given instance status
func InstanceLifecycle(status entity.InstanceStatus) StateMachine[entity.InstanceStatus, Trigger] {
	return instanceLifecycle.Build(status)
}

// ApprovalLifecycle returns a machine positioned at the given approval status
func ApprovalLifecycle(status entity.ApprovalStatus) StateMachine[entity.ApprovalStatus, Trigger] {
	return approvalLifecycle.Build(status)
}

// Advance applies triggers to an instance status in order and returns the
// resulting status. Terminal instances report ErrInstanceTerminated.
func Advance(ctx context.Context, status entity.InstanceStatus, triggers ...Trigger) (entity.InstanceStatus, error) {
	if status.IsTerminal() {
		return status, Errorf(ErrInstanceTerminated, "instance is %s", status)
	}
	if !status.IsValid() {
		return status, Errorf(ErrInvalidTransition, "unknown instance status %q", status)
	}
	m := InstanceLifecycle(status)
	for _, trigger := range triggers {
		if err := m.Fire(ctx, trigger); err != nil {
			return status, err
		}
	}
	return m.State(), nil
}
