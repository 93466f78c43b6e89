package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/action"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

const tracerName = "github.com/garyjia/workflow-engine/internal/application/workflow"

// Dependencies are the stores the engine reads and writes. Outbox is optional;
// without it emitted actions are published but not recorded.
type Dependencies struct {
	Definitions port.DefinitionRepository
	Instances   port.InstanceStore
	Logs        port.TransitionLog
	Approvals   port.ApprovalStore
	Outbox      port.ActionOutbox
	TxManager   port.TransactionManager
}

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	definitions port.DefinitionRepository
	instances   port.InstanceStore
	logs        port.TransitionLog
	approvals   port.ApprovalStore
	outbox      port.ActionOutbox
	txManager   port.TransactionManager

	dispatcher dispatcher.Dispatcher
	actions    *dispatcher.ActionDispatcher
	metrics    port.Metrics
	tracer     trace.Tracer
	logger     Logger
	now        func() time.Time

	maxConflictRetries int
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the dispatcher that hands action requests to executors
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m port.Metrics) EngineOption {
	return func(e *engineImpl) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *engineImpl) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithLogger sets a logger for the engine
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMaxConflictRetries bounds how often an operation is re-run after an
// optimistic version conflict
func WithMaxConflictRetries(n int) EngineOption {
	return func(e *engineImpl) {
		if n >= 0 {
			e.maxConflictRetries = n
		}
	}
}

// NewEngine creates a new workflow engine
func NewEngine(deps Dependencies, opts ...EngineOption) WorkflowEngine {
	e := &engineImpl{
		definitions:        deps.Definitions,
		instances:          deps.Instances,
		logs:               deps.Logs,
		approvals:          deps.Approvals,
		outbox:             deps.Outbox,
		txManager:          deps.TxManager,
		metrics:            port.NopMetrics{},
		tracer:             otel.Tracer(tracerName),
		now:                time.Now,
		maxConflictRetries: 3,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.actions = dispatcher.NewActionDispatcher(e.clock)
	return e
}

func (e *engineImpl) clock() time.Time {
	return e.now().UTC()
}

// run executes fn in a transaction, re-running it on version conflicts, and
// records the outcome on the span and in metrics
func (e *engineImpl) run(ctx context.Context, operation string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "workflow."+operation, trace.WithAttributes(attrs...))
	defer span.End()

	started := time.Now()
	var (
		err       error
		committed *commitHooks
	)
	for attempt := 0; ; attempt++ {
		committed = &commitHooks{}
		err = e.txManager.WithTransaction(context.WithValue(ctx, commitHooksKey{}, committed), fn)
		if !errors.Is(err, port.ErrVersionConflict) || attempt >= e.maxConflictRetries {
			break
		}
		e.logInfo("Version conflict, retrying operation", "operation", operation, "attempt", attempt+1)
	}
	if err == nil {
		committed.run(e.metrics)
	}
	e.metrics.ObserveOperation(operation, time.Since(started))

	if err != nil {
		if code := domainwf.CodeOf(err); code != "" {
			e.metrics.OperationRejected(operation, string(code))
			span.SetAttributes(attribute.String("workflow.error_code", string(code)))
		} else {
			e.logError("Workflow operation failed", "operation", operation, "error", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// commitHooks collects metric updates made inside one transaction attempt.
// They are applied only when that attempt commits.
type commitHooks struct {
	hooks []func(port.Metrics)
}

type commitHooksKey struct{}

func (c *commitHooks) run(m port.Metrics) {
	for _, h := range c.hooks {
		h(m)
	}
}

// afterCommit defers fn until the transaction carried by ctx commits. Outside
// run it applies fn immediately.
func (e *engineImpl) afterCommit(ctx context.Context, fn func(port.Metrics)) {
	if c, ok := ctx.Value(commitHooksKey{}).(*commitHooks); ok {
		c.hooks = append(c.hooks, fn)
		return
	}
	fn(e.metrics)
}

// Start attaches the entity to a definition and places it at the initial state
func (e *engineImpl) Start(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error) {
	if req.TenantID == "" || req.EntityType == "" || req.EntityID == "" {
		return nil, domainwf.Errorf(domainwf.ErrInvalidRequest, "tenant_id, entity_type and entity_id are required")
	}
	actor := actorOrSystem(req.ActorID)

	var created *entity.WorkflowInstance
	err := e.run(ctx, "start", []attribute.KeyValue{
		attribute.String("workflow.tenant_id", req.TenantID),
		attribute.String("workflow.entity_type", req.EntityType),
		attribute.String("workflow.entity_id", req.EntityID),
	}, func(txCtx context.Context) error {
		graph, err := e.resolveDefinition(txCtx, req)
		if err != nil {
			return err
		}

		existing, err := e.instances.FindActiveByEntity(txCtx, req.TenantID, req.EntityType, req.EntityID)
		if err != nil {
			return fmt.Errorf("failed to check active instance: %w", err)
		}
		if existing != nil {
			return domainwf.Errorf(domainwf.ErrDuplicateInstance, "%s %s already has active instance %s", req.EntityType, req.EntityID, existing.ID)
		}

		now := e.clock()
		initial := graph.InitialState()
		inst := &entity.WorkflowInstance{
			ID:             uuid.NewString(),
			TenantID:       req.TenantID,
			DefinitionID:   graph.Definition().ID,
			EntityType:     req.EntityType,
			EntityID:       req.EntityID,
			CurrentStateID: initial.ID,
			Status:         entity.InstanceStatusPending,
			StartedAt:      now,
			UpdatedAt:      now,
		}

		triggers := []domainwf.Trigger{domainwf.TriggerActivate}
		if initial.IsFinal {
			triggers = append(triggers, domainwf.TriggerComplete)
		}
		status, err := domainwf.Advance(txCtx, inst.Status, triggers...)
		if err != nil {
			return err
		}
		inst.Status = status
		if status.IsTerminal() {
			inst.CompletedAt = &now
		}

		if err := e.instances.Create(txCtx, inst); err != nil {
			if errors.Is(err, port.ErrDuplicateActive) {
				return domainwf.Errorf(domainwf.ErrDuplicateInstance, "%s %s already has an active instance", req.EntityType, req.EntityID)
			}
			return fmt.Errorf("failed to create instance: %w", err)
		}

		if err := e.appendLog(txCtx, inst, nil, initial.ID, "start", entity.LogKindStart, actor, ""); err != nil {
			return err
		}

		created = inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logInfo("Workflow instance started",
		"instance_id", created.ID,
		"definition_id", created.DefinitionID,
		"entity_type", created.EntityType,
		"entity_id", created.EntityID,
	)
	return created, nil
}

// Fire selects and applies the transition for an event
func (e *engineImpl) Fire(ctx context.Context, req FireRequest) (*Result, error) {
	if req.InstanceID == "" || req.EventName == "" {
		return nil, domainwf.Errorf(domainwf.ErrInvalidRequest, "instance_id and event_name are required")
	}
	actor := actorOrSystem(req.ActorID)

	var result *Result
	err := e.run(ctx, "fire", []attribute.KeyValue{
		attribute.String("workflow.instance_id", req.InstanceID),
		attribute.String("workflow.event", req.EventName),
	}, func(txCtx context.Context) error {
		result = nil

		inst, err := e.lockActive(txCtx, req.InstanceID)
		if err != nil {
			return err
		}
		if inst.Status == entity.InstanceStatusWaiting {
			return domainwf.Errorf(domainwf.ErrApprovalPending, "instance %s is waiting for an approval", inst.ID)
		}

		graph, err := e.loadGraph(txCtx, inst.DefinitionID)
		if err != nil {
			return err
		}

		transition, err := graph.Select(inst.CurrentStateID, req.EventName, req.Context)
		if err != nil {
			return err
		}

		if transition.RequiresApproval {
			approval, err := e.openApproval(txCtx, inst, transition, actor, req.AssignTo, req.Context)
			if err != nil {
				return err
			}
			result = &Result{Instance: inst, Transition: transition, Approval: approval}
			return nil
		}

		actionReq, err := e.apply(txCtx, inst, graph, transition, actor, req.Notes)
		if err != nil {
			return err
		}
		result = &Result{Instance: inst, Transition: transition, Action: actionReq}
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

// CurrentState returns the state the instance is in
func (e *engineImpl) CurrentState(ctx context.Context, instanceID string) (*entity.WorkflowState, error) {
	inst, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	graph, err := e.loadGraph(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	state, ok := graph.State(inst.CurrentStateID)
	if !ok {
		return nil, fmt.Errorf("instance %s references unknown state %s", inst.ID, inst.CurrentStateID)
	}
	return state, nil
}

// History returns the instance's transition log in order
func (e *engineImpl) History(ctx context.Context, instanceID string) ([]*entity.TransitionLog, error) {
	if _, err := e.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	logs, err := e.logs.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transition log: %w", err)
	}
	return logs, nil
}

// GetInstance returns an instance without locking it
func (e *engineImpl) GetInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error) {
	inst, err := e.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	if inst == nil {
		return nil, domainwf.Errorf(domainwf.ErrNotFound, "instance %s not found", instanceID)
	}
	return inst, nil
}

// GetApproval returns an approval in any status
func (e *engineImpl) GetApproval(ctx context.Context, approvalID string) (*entity.Approval, error) {
	approval, err := e.approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	if approval == nil {
		return nil, domainwf.Errorf(domainwf.ErrNotFound, "approval %s not found", approvalID)
	}
	return approval, nil
}

// PendingApprovals lists the open approvals of an instance
func (e *engineImpl) PendingApprovals(ctx context.Context, instanceID string) ([]*entity.Approval, error) {
	if _, err := e.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	approvals, err := e.approvals.ListPendingByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	return approvals, nil
}

// AvailableEvents lists the events that would select exactly one transition.
// Terminal and waiting instances have none.
func (e *engineImpl) AvailableEvents(ctx context.Context, instanceID string, fireCtx map[string]interface{}) ([]string, error) {
	inst, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status.IsTerminal() || inst.Status == entity.InstanceStatusWaiting {
		return []string{}, nil
	}
	graph, err := e.loadGraph(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	return graph.AvailableEvents(inst.CurrentStateID, fireCtx), nil
}

// Cancel stops an active instance
func (e *engineImpl) Cancel(ctx context.Context, instanceID, actorID, reason string) (*entity.WorkflowInstance, error) {
	return e.stop(ctx, "cancel", instanceID, actorID, reason, domainwf.TriggerCancel, entity.LogKindCancellation)
}

// Fail marks an active instance as failed
func (e *engineImpl) Fail(ctx context.Context, instanceID, actorID, reason string) (*entity.WorkflowInstance, error) {
	return e.stop(ctx, "fail", instanceID, actorID, reason, domainwf.TriggerFail, entity.LogKindFailure)
}

// stop moves an active instance to a terminal status without changing its
// state. Pending approvals are cancelled.
func (e *engineImpl) stop(ctx context.Context, operation, instanceID, actorID, reason string, trigger domainwf.Trigger, kind entity.LogKind) (*entity.WorkflowInstance, error) {
	actor := actorOrSystem(actorID)

	var stopped *entity.WorkflowInstance
	err := e.run(ctx, operation, []attribute.KeyValue{
		attribute.String("workflow.instance_id", instanceID),
	}, func(txCtx context.Context) error {
		stopped = nil

		inst, err := e.lockActive(txCtx, instanceID)
		if err != nil {
			return err
		}

		status, err := domainwf.Advance(txCtx, inst.Status, trigger)
		if err != nil {
			return err
		}

		now := e.clock()
		pending, err := e.approvals.ListPendingByInstance(txCtx, inst.ID)
		if err != nil {
			return fmt.Errorf("failed to list approvals: %w", err)
		}
		for _, ap := range pending {
			if _, err := e.approvals.Resolve(txCtx, ap.ID, entity.ApprovalResolution{
				Status:     entity.ApprovalStatusCancelled,
				ResolvedBy: actor,
				ResolvedAt: now,
				Comment:    reason,
			}); err != nil {
				return fmt.Errorf("failed to cancel approval %s: %w", ap.ID, err)
			}
			tenantID := inst.TenantID
			e.afterCommit(txCtx, func(m port.Metrics) {
				m.ApprovalResolved(tenantID, string(entity.ApprovalStatusCancelled))
			})
		}

		inst.Status = status
		inst.UpdatedAt = now
		inst.CompletedAt = &now
		if err := e.instances.Save(txCtx, inst); err != nil {
			return fmt.Errorf("failed to save instance: %w", err)
		}

		current := inst.CurrentStateID
		if err := e.appendLog(txCtx, inst, &current, current, operation, kind, actor, reason); err != nil {
			return err
		}

		stopped = inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logInfo("Workflow instance stopped", "instance_id", stopped.ID, "status", stopped.Status)
	return stopped, nil
}

// lockActive loads the instance with a write lock and rejects terminal instances
func (e *engineImpl) lockActive(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error) {
	inst, err := e.instances.LoadForUpdate(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	if inst == nil {
		return nil, domainwf.Errorf(domainwf.ErrNotFound, "instance %s not found", instanceID)
	}
	if inst.Status.IsTerminal() {
		return nil, domainwf.Errorf(domainwf.ErrInstanceTerminated, "instance %s is %s", inst.ID, inst.Status)
	}
	return inst, nil
}

// apply moves the instance along transition, appends its log row and records
// the emitted action in the outbox. The caller holds the instance lock.
func (e *engineImpl) apply(ctx context.Context, inst *entity.WorkflowInstance, graph *domainwf.Graph, transition *entity.WorkflowTransition, actor, notes string) (*action.Request, error) {
	to, ok := graph.State(transition.ToStateID)
	if !ok {
		return nil, fmt.Errorf("transition %s targets unknown state %s", transition.ID, transition.ToStateID)
	}

	var triggers []domainwf.Trigger
	switch inst.Status {
	case entity.InstanceStatusPending:
		triggers = append(triggers, domainwf.TriggerActivate)
	case entity.InstanceStatusWaiting:
		triggers = append(triggers, domainwf.TriggerResume)
	}
	if to.IsFinal {
		triggers = append(triggers, domainwf.TriggerComplete)
	}
	status, err := domainwf.Advance(ctx, inst.Status, triggers...)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	from := inst.CurrentStateID
	inst.CurrentStateID = to.ID
	inst.Status = status
	inst.UpdatedAt = now
	if status.IsTerminal() {
		inst.CompletedAt = &now
	}
	if err := e.instances.Save(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	if err := e.appendLog(ctx, inst, &from, to.ID, transition.EventName, entity.LogKindTransition, actor, notes); err != nil {
		return nil, err
	}

	req, err := e.actions.Dispatch(transition.Action, inst, transition)
	if err != nil {
		return nil, err
	}
	if req != nil && e.outbox != nil {
		if err := e.outbox.Record(ctx, dispatcher.Record(req)); err != nil {
			return nil, fmt.Errorf("failed to record action: %w", err)
		}
	}
	return req, nil
}

func (e *engineImpl) appendLog(ctx context.Context, inst *entity.WorkflowInstance, from *string, to, eventName string, kind entity.LogKind, actor, notes string) error {
	entry := &entity.TransitionLog{
		ID:             uuid.NewString(),
		TenantID:       inst.TenantID,
		InstanceID:     inst.ID,
		FromStateID:    from,
		ToStateID:      to,
		EventName:      eventName,
		Kind:           kind,
		TriggeredBy:    actor,
		TransitionedAt: e.clock(),
		Notes:          notes,
	}
	if err := e.logs.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append transition log: %w", err)
	}
	tenantID := inst.TenantID
	e.afterCommit(ctx, func(m port.Metrics) {
		m.TransitionApplied(tenantID, kind.String())
	})
	return nil
}

// publish hands a committed action to the executors. Failures are recorded on
// the outbox row for redelivery and never undo the transition. Deferred
// requests stay pending until their resume time.
func (e *engineImpl) publish(ctx context.Context, req *action.Request) {
	if req.IsDeferred() || e.dispatcher == nil {
		return
	}

	if err := e.dispatcher.Dispatch(ctx, req); err != nil {
		e.metrics.ActionDispatched(req.Type.String(), "failed")
		e.logError("Action dispatch failed",
			"request_id", req.ID,
			"action_type", req.Type,
			"instance_id", req.InstanceID,
			"error", err,
		)
		if e.outbox != nil {
			if markErr := e.outbox.MarkFailed(ctx, req.ID, err.Error()); markErr != nil {
				e.logError("Failed to mark action failed", "request_id", req.ID, "error", markErr)
			}
		}
		return
	}

	e.metrics.ActionDispatched(req.Type.String(), "dispatched")
	if e.outbox != nil {
		if err := e.outbox.MarkDispatched(ctx, req.ID); err != nil {
			e.logError("Failed to mark action dispatched", "request_id", req.ID, "error", err)
		}
	}
}

func (e *engineImpl) logInfo(msg string, keysAndValues ...interface{}) {
	if e.logger != nil {
		e.logger.Info(msg, keysAndValues...)
	}
}

func (e *engineImpl) logError(msg string, keysAndValues ...interface{}) {
	if e.logger != nil {
		e.logger.Error(msg, keysAndValues...)
	}
}

func actorOrSystem(actorID string) string {
	if actorID == "" {
		return entity.SystemActor
	}
	return actorID
}
