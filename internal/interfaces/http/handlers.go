package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/workflow-engine/internal/application/service"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine      workflow.WorkflowEngine
	definitions service.DefinitionService
	health      HealthChecker
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	engine workflow.WorkflowEngine,
	definitions service.DefinitionService,
	health HealthChecker,
	logger Logger,
) *Handlers {
	return &Handlers{
		engine:      engine,
		definitions: definitions,
		health:      health,
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Details   interface{} `json:"details,omitempty"`
}

// StartInstanceRequest is the body of POST /instances
type StartInstanceRequest struct {
	EntityType   string `json:"entity_type" binding:"required"`
	EntityID     string `json:"entity_id" binding:"required"`
	DefinitionID string `json:"definition_id"`
}

// FireEventRequest is the body of POST /instances/:id/events
type FireEventRequest struct {
	Event    string                 `json:"event" binding:"required"`
	Context  map[string]interface{} `json:"context"`
	Notes    string                 `json:"notes"`
	AssignTo string                 `json:"assign_to"`
}

// ReasonRequest carries a free-text reason or comment
type ReasonRequest struct {
	Reason  string `json:"reason"`
	Comment string `json:"comment"`
}

// DelegateRequest is the body of POST /approvals/:id/delegate
type DelegateRequest struct {
	DelegateTo string `json:"delegate_to" binding:"required"`
	Comment    string `json:"comment"`
}

// ReplaceTransitionsRequest is the body of PUT /definitions/:id/transitions
type ReplaceTransitionsRequest struct {
	Transitions []service.TransitionSpec `json:"transitions"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, details := true, interface{}(nil)
	if h.health != nil {
		healthy, details = h.health(c.Request.Context())
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   details,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, Response{Success: healthy, Data: response})
}

// StartInstance handles POST /api/v1/instances
func (h *Handlers) StartInstance(c *gin.Context) {
	var req StartInstanceRequest
	if !h.bind(c, &req) {
		return
	}

	inst, err := h.engine.Start(c.Request.Context(), workflow.StartRequest{
		TenantID:     tenantID(c),
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		DefinitionID: req.DefinitionID,
		ActorID:      actorID(c),
	})
	if err != nil {
		h.fail(c, "Failed to start instance", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: inst})
}

// GetInstance handles GET /api/v1/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// CurrentState handles GET /api/v1/instances/:id/state
func (h *Handlers) CurrentState(c *gin.Context) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}

	state, err := h.engine.CurrentState(c.Request.Context(), inst.ID)
	if err != nil {
		h.fail(c, "Failed to get current state", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: state})
}

// History handles GET /api/v1/instances/:id/history
func (h *Handlers) History(c *gin.Context) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}

	logs, err := h.engine.History(c.Request.Context(), inst.ID)
	if err != nil {
		h.fail(c, "Failed to get history", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: logs})
}

// AvailableEvents handles GET /api/v1/instances/:id/events. Query parameters
// form the guard context.
func (h *Handlers) AvailableEvents(c *gin.Context) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}

	fireCtx := make(map[string]interface{})
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			fireCtx[key] = values[0]
		}
	}

	events, err := h.engine.AvailableEvents(c.Request.Context(), inst.ID, fireCtx)
	if err != nil {
		h.fail(c, "Failed to list available events", err)
		return
	}
	if events == nil {
		events = []string{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: events})
}

// FireEvent handles POST /api/v1/instances/:id/events
func (h *Handlers) FireEvent(c *gin.Context) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}
	var req FireEventRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.engine.Fire(c.Request.Context(), workflow.FireRequest{
		InstanceID: inst.ID,
		EventName:  req.Event,
		ActorID:    actorID(c),
		Context:    req.Context,
		Notes:      req.Notes,
		AssignTo:   req.AssignTo,
	})
	if err != nil {
		h.fail(c, "Failed to fire event", err)
		return
	}

	status := http.StatusOK
	if result.Approval != nil && result.Approval.Status == entity.ApprovalStatusPending {
		status = http.StatusAccepted
	}
	c.JSON(status, Response{Success: true, Data: result})
}

// PendingApprovals handles GET /api/v1/instances/:id/approvals
func (h *Handlers) PendingApprovals(c *gin.Context) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}

	approvals, err := h.engine.PendingApprovals(c.Request.Context(), inst.ID)
	if err != nil {
		h.fail(c, "Failed to list approvals", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: approvals})
}

// CancelInstance handles POST /api/v1/instances/:id/cancel
func (h *Handlers) CancelInstance(c *gin.Context) {
	h.stopInstance(c, h.engine.Cancel)
}

// FailInstance handles POST /api/v1/instances/:id/fail
func (h *Handlers) FailInstance(c *gin.Context) {
	h.stopInstance(c, h.engine.Fail)
}

func (h *Handlers) stopInstance(c *gin.Context, stop func(ctx context.Context, instanceID, actorID, reason string) (*entity.WorkflowInstance, error)) {
	inst, ok := h.ownedInstance(c)
	if !ok {
		return
	}
	var req ReasonRequest
	if !h.bindOptional(c, &req) {
		return
	}

	stopped, err := stop(c.Request.Context(), inst.ID, actorID(c), req.Reason)
	if err != nil {
		h.fail(c, "Failed to stop instance", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stopped})
}

// Approve handles POST /api/v1/approvals/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	approval, ok := h.ownedApproval(c)
	if !ok {
		return
	}
	var req ReasonRequest
	if !h.bindOptional(c, &req) {
		return
	}

	result, err := h.engine.Approve(c.Request.Context(), approval.ID, actorID(c), req.Comment)
	if err != nil {
		h.fail(c, "Failed to approve", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// Reject handles POST /api/v1/approvals/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	approval, ok := h.ownedApproval(c)
	if !ok {
		return
	}
	var req ReasonRequest
	if !h.bindOptional(c, &req) {
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = req.Comment
	}
	inst, err := h.engine.Reject(c.Request.Context(), approval.ID, actorID(c), reason)
	if err != nil {
		h.fail(c, "Failed to reject", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// Delegate handles POST /api/v1/approvals/:id/delegate
func (h *Handlers) Delegate(c *gin.Context) {
	approval, ok := h.ownedApproval(c)
	if !ok {
		return
	}
	var req DelegateRequest
	if !h.bind(c, &req) {
		return
	}

	next, err := h.engine.Delegate(c.Request.Context(), approval.ID, actorID(c), req.DelegateTo, req.Comment)
	if err != nil {
		h.fail(c, "Failed to delegate", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: next})
}

// ListDefinitions handles GET /api/v1/definitions
func (h *Handlers) ListDefinitions(c *gin.Context) {
	defs, err := h.definitions.List(c.Request.Context(), tenantID(c), c.Query("entity_type"))
	if err != nil {
		h.fail(c, "Failed to list definitions", err)
		return
	}
	if defs == nil {
		defs = []*entity.WorkflowDefinition{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: defs})
}

// CreateDefinition handles POST /api/v1/definitions
func (h *Handlers) CreateDefinition(c *gin.Context) {
	var spec service.DefinitionSpec
	if !h.bind(c, &spec) {
		return
	}

	bundle, err := h.definitions.Create(c.Request.Context(), tenantID(c), spec)
	if err != nil {
		h.fail(c, "Failed to create definition", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: bundle})
}

// GetDefinition handles GET /api/v1/definitions/:id
func (h *Handlers) GetDefinition(c *gin.Context) {
	bundle, ok := h.ownedDefinition(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: bundle})
}

// ActivateDefinition handles POST /api/v1/definitions/:id/activate
func (h *Handlers) ActivateDefinition(c *gin.Context) {
	h.setActive(c, h.definitions.Activate)
}

// DeactivateDefinition handles POST /api/v1/definitions/:id/deactivate
func (h *Handlers) DeactivateDefinition(c *gin.Context) {
	h.setActive(c, h.definitions.Deactivate)
}

func (h *Handlers) setActive(c *gin.Context, set func(ctx context.Context, id string) error) {
	bundle, ok := h.ownedDefinition(c)
	if !ok {
		return
	}
	if err := set(c.Request.Context(), bundle.Definition.ID); err != nil {
		h.fail(c, "Failed to change definition activation", err)
		return
	}

	updated, err := h.definitions.Get(c.Request.Context(), bundle.Definition.ID)
	if err != nil {
		h.fail(c, "Failed to reload definition", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated.Definition})
}

// ReplaceTransitions handles PUT /api/v1/definitions/:id/transitions
func (h *Handlers) ReplaceTransitions(c *gin.Context) {
	bundle, ok := h.ownedDefinition(c)
	if !ok {
		return
	}
	var req ReplaceTransitionsRequest
	if !h.bind(c, &req) {
		return
	}

	updated, err := h.definitions.ReplaceTransitions(c.Request.Context(), bundle.Definition.ID, req.Transitions)
	if err != nil {
		h.fail(c, "Failed to replace transitions", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// ownedInstance loads the :id instance and hides instances of other tenants
func (h *Handlers) ownedInstance(c *gin.Context) (*entity.WorkflowInstance, bool) {
	inst, err := h.engine.GetInstance(c.Request.Context(), c.Param("id"))
	if err == nil && inst.TenantID != tenantID(c) {
		err = domainwf.Errorf(domainwf.ErrNotFound, "instance %s not found", c.Param("id"))
	}
	if err != nil {
		h.fail(c, "Failed to get instance", err)
		return nil, false
	}
	return inst, true
}

func (h *Handlers) ownedApproval(c *gin.Context) (*entity.Approval, bool) {
	approval, err := h.engine.GetApproval(c.Request.Context(), c.Param("id"))
	if err == nil && approval.TenantID != tenantID(c) {
		err = domainwf.Errorf(domainwf.ErrNotFound, "approval %s not found", c.Param("id"))
	}
	if err != nil {
		h.fail(c, "Failed to get approval", err)
		return nil, false
	}
	return approval, true
}

func (h *Handlers) ownedDefinition(c *gin.Context) (*entity.DefinitionBundle, bool) {
	bundle, err := h.definitions.Get(c.Request.Context(), c.Param("id"))
	if err == nil && bundle.Definition.TenantID != tenantID(c) {
		err = domainwf.Errorf(domainwf.ErrNotFound, "definition %s not found", c.Param("id"))
	}
	if err != nil {
		h.fail(c, "Failed to get definition", err)
		return nil, false
	}
	return bundle, true
}

func (h *Handlers) bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
			Code:    string(domainwf.CodeInvalidRequest),
		})
		return false
	}
	return true
}

// bindOptional accepts an empty body
func (h *Handlers) bindOptional(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return h.bind(c, v)
}

// fail writes err with the status its business code maps to
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.FullPath(), "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}

	c.JSON(status, Response{
		Success: false,
		Error:   err.Error(),
		Code:    string(domainwf.CodeOf(err)),
	})
}
