package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

func TestInstanceLifecycle_Paths(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		from     entity.InstanceStatus
		triggers []Trigger
		want     entity.InstanceStatus
	}{
		{"start", entity.InstanceStatusPending, []Trigger{TriggerActivate}, entity.InstanceStatusRunning},
		{"start into final state", entity.InstanceStatusPending, []Trigger{TriggerActivate, TriggerComplete}, entity.InstanceStatusCompleted},
		{"gate", entity.InstanceStatusRunning, []Trigger{TriggerAwaitApproval}, entity.InstanceStatusWaiting},
		{"approve to final", entity.InstanceStatusWaiting, []Trigger{TriggerResume, TriggerComplete}, entity.InstanceStatusCompleted},
		{"cancel while waiting", entity.InstanceStatusWaiting, []Trigger{TriggerCancel}, entity.InstanceStatusCancelled},
		{"fail while running", entity.InstanceStatusRunning, []Trigger{TriggerFail}, entity.InstanceStatusFailed},
		{"no triggers", entity.InstanceStatusRunning, nil, entity.InstanceStatusRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Advance(ctx, tt.from, tt.triggers...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInstanceLifecycle_TerminalStatusesRejectEverything(t *testing.T) {
	for _, status := range []entity.InstanceStatus{
		entity.InstanceStatusCompleted,
		entity.InstanceStatusFailed,
		entity.InstanceStatusCancelled,
	} {
		t.Run(status.String(), func(t *testing.T) {
			got, err := Advance(context.Background(), status, TriggerCancel)
			assert.True(t, errors.Is(err, ErrInstanceTerminated))
			assert.Equal(t, status, got)
			assert.Empty(t, InstanceLifecycle(status).PermittedTriggers())
		})
	}
}

func TestInstanceLifecycle_IllegalTriggerKeepsStatus(t *testing.T) {
	got, err := Advance(context.Background(), entity.InstanceStatusRunning, TriggerAwaitApproval, TriggerComplete)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidTransition, CodeOf(err))
	assert.Equal(t, entity.InstanceStatusRunning, got)
}

func TestApprovalLifecycle(t *testing.T) {
	ctx := context.Background()

	m := ApprovalLifecycle(entity.ApprovalStatusPending)
	assert.Equal(t, []Trigger{TriggerApprove, TriggerCancel, TriggerDelegate, TriggerReject}, m.PermittedTriggers())
	require.NoError(t, m.Fire(ctx, TriggerApprove))
	assert.Equal(t, entity.ApprovalStatusApproved, m.State())

	// resolved approvals cannot move again
	err := m.Fire(ctx, TriggerReject)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, entity.ApprovalStatusApproved, m.State())
}
