package dispatcher

import (
	"fmt"
	"time"

	"github.com/garyjia/workflow-engine/internal/domain/action"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// ActionDispatcher turns a taken transition's action spec into an execution
// request. It performs no side effects.
type ActionDispatcher struct {
	now func() time.Time
}

// NewActionDispatcher creates an ActionDispatcher. A nil clock uses time.Now.
func NewActionDispatcher(now func() time.Time) *ActionDispatcher {
	if now == nil {
		now = time.Now
	}
	return &ActionDispatcher{now: now}
}

// Dispatch packages spec for the external executor. A nil spec yields a nil request.
func (a *ActionDispatcher) Dispatch(spec *entity.ActionSpec, instance *entity.WorkflowInstance, transition *entity.WorkflowTransition) (*action.Request, error) {
	if spec == nil {
		return nil, nil
	}
	req, err := action.NewRequest(action.Type(spec.Type), spec.Config, instance.TenantID, instance.ID, transition.ID, a.now())
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", transition.ID, err)
	}
	return req, nil
}

// Record converts a request into its outbox row
func Record(req *action.Request) *entity.ActionRecord {
	rec := &entity.ActionRecord{
		ID:           req.ID,
		TenantID:     req.TenantID,
		InstanceID:   req.InstanceID,
		TransitionID: req.TransitionID,
		Type:         req.Type.String(),
		Config:       req.Config,
		Status:       entity.ActionStatusPending,
		CreatedAt:    req.CreatedAt,
		UpdatedAt:    req.CreatedAt,
	}
	if req.DeferredToken != nil {
		resumeAt := req.DeferredToken.ResumeAt
		rec.ResumeAt = &resumeAt
		rec.DeferredToken = req.DeferredToken.Token
	}
	return rec
}

// FromRecord rebuilds a request from an outbox row for redelivery
func FromRecord(rec *entity.ActionRecord) *action.Request {
	req := &action.Request{
		ID:           rec.ID,
		Type:         action.Type(rec.Type),
		Config:       rec.Config,
		TenantID:     rec.TenantID,
		InstanceID:   rec.InstanceID,
		TransitionID: rec.TransitionID,
		CreatedAt:    rec.CreatedAt,
	}
	if rec.ResumeAt != nil {
		req.DeferredToken = &action.DeferredToken{
			Token:     rec.DeferredToken,
			ResumeAt:  *rec.ResumeAt,
			Condition: req.GetConfigString("condition"),
		}
	}
	return req
}
