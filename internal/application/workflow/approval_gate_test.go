package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// openReviewApproval starts an instance, submits it and fires the gated approve event
func openReviewApproval(t *testing.T, h *harness) (*entity.WorkflowInstance, *entity.Approval) {
	t.Helper()
	inst := h.start(t, "exp-1")
	_, err := h.fire(inst.ID, "submit", nil)
	require.NoError(t, err)
	res, err := h.fire(inst.ID, "approve", map[string]interface{}{"amount": 250})
	require.NoError(t, err)
	require.NotNil(t, res.Approval)
	return res.Instance, res.Approval
}

func TestApproval_WaitingInstanceRejectsFire(t *testing.T) {
	h := newHarness(t, expenseDefinition())
	ctx := context.Background()
	inst, approval := openReviewApproval(t, h)

	_, err := h.fire(inst.ID, "decline", nil)
	assert.ErrorIs(t, err, domainwf.ErrApprovalPending)

	events, err := h.engine.AvailableEvents(ctx, inst.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, events)

	pending, err := h.engine.PendingApprovals(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, approval.ID, pending[0].ID)
	assert.Equal(t, "t-approve", pending[0].TransitionID)
	assert.Equal(t, "alice", pending[0].RequestedBy)
	assert.EqualValues(t, 250, pending[0].Context["amount"])
}

func TestApproval_ConcurrentApproveAppliesOnce(t *testing.T) {
	h := newHarness(t, expenseDefinition())
	ctx := context.Background()
	inst, approval := openReviewApproval(t, h)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Approve(ctx, approval.ID, "manager", "")
		}(i)
	}
	wg.Wait()

	var ok, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domainwf.ErrStaleApproval):
			stale++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, stale)

	logs := h.history(t, inst.ID)
	assert.Len(t, logs, 3)

	final, err := h.engine.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "s-approved", final.CurrentStateID)
	assert.Equal(t, entity.InstanceStatusCompleted, final.Status)
}

func TestApproval_ResolvedApprovalOnCompletedInstanceIsStale(t *testing.T) {
	h := newHarness(t, expenseDefinition())
	ctx := context.Background()
	inst, approval := openReviewApproval(t, h)

	res, err := h.engine.Approve(ctx, approval.ID, "manager", "")
	require.NoError(t, err)
	require.Equal(t, entity.InstanceStatusCompleted, res.Instance.Status)

	for _, act := range []func() error{
		func() error { _, err := h.engine.Approve(ctx, approval.ID, "manager", ""); return err },
		func() error { _, err := h.engine.Reject(ctx, approval.ID, "manager", "late"); return err },
		func() error { _, err := h.engine.Delegate(ctx, approval.ID, "manager", "director", ""); return err },
	} {
		err := act()
		assert.ErrorIs(t, err, domainwf.ErrStaleApproval)
		assert.NotErrorIs(t, err, domainwf.ErrInstanceTerminated)
	}
	assert.Len(t, h.history(t, inst.ID), 3)
}

func TestApproval_RejectKeepsState(t *testing.T) {
	h := newHarness(t, expenseDefinition())
	ctx := context.Background()
	inst, approval := openReviewApproval(t, h)

	rejected, err := h.engine.Reject(ctx, approval.ID, "manager", "missing receipt")
	require.NoError(t, err)
	assert.Equal(t, "s-review", rejected.CurrentStateID)
	assert.Equal(t, entity.InstanceStatusRunning, rejected.Status)

	logs := h.history(t, inst.ID)
	require.Len(t, logs, 3)
	last := logs[2]
	assert.Equal(t, entity.LogKindRejection, last.Kind)
	require.NotNil(t, last.FromStateID)
	assert.Equal(t, "s-review", *last.FromStateID)
	assert.Equal(t, "s-review", last.ToStateID)
	assert.Equal(t, "missing receipt", last.Notes)

	_, err = h.engine.Approve(ctx, approval.ID, "manager", "")
	assert.ErrorIs(t, err, domainwf.ErrStaleApproval)

	// the instance can move again
	res, err := h.fire(inst.ID, "decline", nil)
	require.NoError(t, err)
	assert.Equal(t, "s-rejected", res.Instance.CurrentStateID)
}

func TestApproval_Delegate(t *testing.T) {
	h := newHarness(t, expenseDefinition())
	ctx := context.Background()
	inst, approval := openReviewApproval(t, h)

	_, err := h.engine.Delegate(ctx, approval.ID, "manager", "", "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidRequest)

	next, err := h.engine.Delegate(ctx, approval.ID, "manager", "director", "over my limit")
	require.NoError(t, err)
	assert.NotEqual(t, approval.ID, next.ID)
	assert.Equal(t, "director", next.AssignedTo)
	assert.Equal(t, entity.ApprovalStatusPending, next.Status)

	current, err := h.engine.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusWaiting, current.Status)

	_, err = h.engine.Approve(ctx, approval.ID, "manager", "")
	assert.ErrorIs(t, err, domainwf.ErrStaleApproval)

	res, err := h.engine.Approve(ctx, next.ID, "director", "fine")
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusCompleted, res.Instance.Status)
	assert.Len(t, h.history(t, inst.ID), 3)
}

func TestApproval_CancelResolvesPendingApprovals(t *testing.T) {
	h := newHarness(t, expenseDefinition())
	ctx := context.Background()
	inst, approval := openReviewApproval(t, h)

	cancelled, err := h.engine.Cancel(ctx, inst.ID, "alice", "withdrawn")
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	pending, err := h.engine.PendingApprovals(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = h.engine.Approve(ctx, approval.ID, "manager", "")
	assert.ErrorIs(t, err, domainwf.ErrStaleApproval)

	logs := h.history(t, inst.ID)
	require.Len(t, logs, 3)
	assert.Equal(t, entity.LogKindCancellation, logs[2].Kind)
	assert.Equal(t, "cancel", logs[2].EventName)
}

func TestApproval_Fail(t *testing.T) {
	h := newHarness(t, expenseDefinition())
	ctx := context.Background()
	inst := h.start(t, "exp-1")

	failed, err := h.engine.Fail(ctx, inst.ID, "", "upstream error")
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusFailed, failed.Status)

	logs := h.history(t, inst.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, entity.LogKindFailure, logs[1].Kind)
	assert.Equal(t, entity.SystemActor, logs[1].TriggeredBy)
}

func TestApproval_UnknownApproval(t *testing.T) {
	h := newHarness(t, expenseDefinition())
	_, err := h.engine.Approve(context.Background(), "missing", "manager", "")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
}

func TestApproval_MetricsCountCommitsOnly(t *testing.T) {
	metrics := newCountingMetrics()
	h := newHarness(t, expenseDefinition(), WithMetrics(metrics))
	ctx := context.Background()
	_, approval := openReviewApproval(t, h)
	require.Equal(t, 1, metrics.count("transition:start"))
	require.Equal(t, 1, metrics.count("transition:transition"))

	h.logs.fail.Store(true)
	_, err := h.engine.Approve(ctx, approval.ID, "manager", "")
	require.ErrorIs(t, err, errInjected)
	h.logs.fail.Store(false)
	assert.Zero(t, metrics.count("approval:approved"))
	assert.Equal(t, 1, metrics.count("transition:transition"))

	h.instances.conflicts.Store(1)
	_, err = h.engine.Approve(ctx, approval.ID, "manager", "")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.count("approval:approved"))
	assert.Equal(t, 2, metrics.count("transition:transition"))

	_, err = h.engine.Approve(ctx, approval.ID, "manager", "")
	require.ErrorIs(t, err, domainwf.ErrStaleApproval)
	assert.Equal(t, 1, metrics.count("approval:approved"))
	assert.Equal(t, 1, metrics.count("rejected:approve:STALE_APPROVAL"))
}
