package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// openApproval parks the instance in waiting behind a new pending approval.
// The state does not change and no log row is written.
func (e *engineImpl) openApproval(ctx context.Context, inst *entity.WorkflowInstance, transition *entity.WorkflowTransition, actor, assignTo string, fireCtx map[string]interface{}) (*entity.Approval, error) {
	status, err := domainwf.Advance(ctx, inst.Status, domainwf.TriggerAwaitApproval)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	approval := &entity.Approval{
		ID:           uuid.NewString(),
		TenantID:     inst.TenantID,
		InstanceID:   inst.ID,
		TransitionID: transition.ID,
		RequestedBy:  actor,
		RequestedAt:  now,
		AssignedTo:   assignTo,
		Status:       entity.ApprovalStatusPending,
		Context:      fireCtx,
	}
	if err := e.approvals.Create(ctx, approval); err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	inst.Status = status
	inst.UpdatedAt = now
	if err := e.instances.Save(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	e.logInfo("Approval requested",
		"approval_id", approval.ID,
		"instance_id", inst.ID,
		"transition_id", transition.ID,
	)
	return approval, nil
}

// gate is a pending approval together with the locked instance and graph it applies to
type gate struct {
	approval   *entity.Approval
	instance   *entity.WorkflowInstance
	graph      *domainwf.Graph
	transition *entity.WorkflowTransition
}

// loadGate locks the approval's instance and checks that the approval can
// still be acted on: it is pending, the instance is waiting, and the instance
// has not left the transition's source state. A resolved approval is stale
// even when its instance has since terminated.
func (e *engineImpl) loadGate(ctx context.Context, approvalID string) (*gate, error) {
	approval, err := e.approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	if approval == nil {
		return nil, domainwf.Errorf(domainwf.ErrNotFound, "approval %s not found", approvalID)
	}

	inst, err := e.instances.LoadForUpdate(ctx, approval.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	if inst == nil {
		return nil, domainwf.Errorf(domainwf.ErrNotFound, "instance %s not found", approval.InstanceID)
	}

	// re-read under the instance lock
	approval, err = e.approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	if approval.Status != entity.ApprovalStatusPending {
		return nil, domainwf.Errorf(domainwf.ErrStaleApproval, "approval %s is already %s", approval.ID, approval.Status)
	}
	if inst.Status.IsTerminal() {
		return nil, domainwf.Errorf(domainwf.ErrInstanceTerminated, "instance %s is %s", inst.ID, inst.Status)
	}

	graph, err := e.loadGraph(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	transition, ok := graph.Transition(approval.TransitionID)
	if !ok {
		return nil, domainwf.Errorf(domainwf.ErrStaleApproval, "approval %s references unknown transition %s", approval.ID, approval.TransitionID)
	}
	if inst.Status != entity.InstanceStatusWaiting || inst.CurrentStateID != transition.FromStateID {
		return nil, domainwf.Errorf(domainwf.ErrStaleApproval, "instance %s moved since approval %s was requested", inst.ID, approval.ID)
	}

	return &gate{approval: approval, instance: inst, graph: graph, transition: transition}, nil
}

// resolve moves the gate's approval out of pending; losing a race is ErrStaleApproval
func (e *engineImpl) resolve(ctx context.Context, g *gate, res entity.ApprovalResolution) error {
	m := domainwf.ApprovalLifecycle(g.approval.Status)
	if err := m.Fire(ctx, approvalTrigger(res.Status)); err != nil {
		return domainwf.Errorf(domainwf.ErrStaleApproval, "approval %s cannot become %s", g.approval.ID, res.Status)
	}

	ok, err := e.approvals.Resolve(ctx, g.approval.ID, res)
	if err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}
	if !ok {
		return domainwf.Errorf(domainwf.ErrStaleApproval, "approval %s was resolved concurrently", g.approval.ID)
	}

	resolvedAt := res.ResolvedAt
	g.approval.Status = m.State()
	g.approval.ResolvedBy = res.ResolvedBy
	g.approval.ResolvedAt = &resolvedAt
	g.approval.Comment = res.Comment
	g.approval.DelegatedTo = res.DelegatedTo
	tenantID, status := g.approval.TenantID, string(res.Status)
	e.afterCommit(ctx, func(m port.Metrics) {
		m.ApprovalResolved(tenantID, status)
	})
	return nil
}

// Approve resolves a pending approval and applies its transition
func (e *engineImpl) Approve(ctx context.Context, approvalID, actorID, comment string) (*Result, error) {
	actor := actorOrSystem(actorID)

	var result *Result
	err := e.run(ctx, "approve", []attribute.KeyValue{
		attribute.String("workflow.approval_id", approvalID),
	}, func(txCtx context.Context) error {
		result = nil

		g, err := e.loadGate(txCtx, approvalID)
		if err != nil {
			return err
		}
		if err := e.resolve(txCtx, g, entity.ApprovalResolution{
			Status:     entity.ApprovalStatusApproved,
			ResolvedBy: actor,
			ResolvedAt: e.clock(),
			Comment:    comment,
		}); err != nil {
			return err
		}

		actionReq, err := e.apply(txCtx, g.instance, g.graph, g.transition, actor, comment)
		if err != nil {
			return err
		}
		result = &Result{Instance: g.instance, Transition: g.transition, Approval: g.approval, Action: actionReq}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Action != nil {
		e.publish(ctx, result.Action)
	}
	return result, nil
}

// Reject resolves a pending approval without moving the instance. The
// rejection is kept in history as a row whose from and to state are both the
// current state.
func (e *engineImpl) Reject(ctx context.Context, approvalID, actorID, reason string) (*entity.WorkflowInstance, error) {
	actor := actorOrSystem(actorID)

	var rejected *entity.WorkflowInstance
	err := e.run(ctx, "reject", []attribute.KeyValue{
		attribute.String("workflow.approval_id", approvalID),
	}, func(txCtx context.Context) error {
		rejected = nil

		g, err := e.loadGate(txCtx, approvalID)
		if err != nil {
			return err
		}
		now := e.clock()
		if err := e.resolve(txCtx, g, entity.ApprovalResolution{
			Status:     entity.ApprovalStatusRejected,
			ResolvedBy: actor,
			ResolvedAt: now,
			Comment:    reason,
		}); err != nil {
			return err
		}

		inst := g.instance
		status, err := domainwf.Advance(txCtx, inst.Status, domainwf.TriggerResume)
		if err != nil {
			return err
		}
		inst.Status = status
		inst.UpdatedAt = now
		if err := e.instances.Save(txCtx, inst); err != nil {
			return fmt.Errorf("failed to save instance: %w", err)
		}

		current := inst.CurrentStateID
		if err := e.appendLog(txCtx, inst, &current, current, g.transition.EventName, entity.LogKindRejection, actor, reason); err != nil {
			return err
		}

		rejected = inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// Delegate marks the approval delegated and opens a new pending approval for
// the same transition assigned to delegateTo. The instance keeps waiting.
func (e *engineImpl) Delegate(ctx context.Context, approvalID, actorID, delegateTo, comment string) (*entity.Approval, error) {
	if delegateTo == "" {
		return nil, domainwf.Errorf(domainwf.ErrInvalidRequest, "delegate_to is required")
	}
	actor := actorOrSystem(actorID)

	var delegated *entity.Approval
	err := e.run(ctx, "delegate", []attribute.KeyValue{
		attribute.String("workflow.approval_id", approvalID),
	}, func(txCtx context.Context) error {
		delegated = nil

		g, err := e.loadGate(txCtx, approvalID)
		if err != nil {
			return err
		}
		now := e.clock()
		if err := e.resolve(txCtx, g, entity.ApprovalResolution{
			Status:      entity.ApprovalStatusDelegated,
			ResolvedBy:  actor,
			ResolvedAt:  now,
			Comment:     comment,
			DelegatedTo: delegateTo,
		}); err != nil {
			return err
		}

		next := &entity.Approval{
			ID:           uuid.NewString(),
			TenantID:     g.approval.TenantID,
			InstanceID:   g.approval.InstanceID,
			TransitionID: g.approval.TransitionID,
			RequestedBy:  g.approval.RequestedBy,
			RequestedAt:  now,
			AssignedTo:   delegateTo,
			Status:       entity.ApprovalStatusPending,
			Context:      g.approval.Context,
		}
		if err := e.approvals.Create(txCtx, next); err != nil {
			return fmt.Errorf("failed to create delegated approval: %w", err)
		}

		delegated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return delegated, nil
}

func approvalTrigger(status entity.ApprovalStatus) domainwf.Trigger {
	switch status {
	case entity.ApprovalStatusApproved:
		return domainwf.TriggerApprove
	case entity.ApprovalStatusRejected:
		return domainwf.TriggerReject
	case entity.ApprovalStatusDelegated:
		return domainwf.TriggerDelegate
	default:
		return domainwf.TriggerCancel
	}
}
