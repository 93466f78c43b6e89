package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/action"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/workflow-engine/pkg/database"
)

var errInjected = errors.New("injected failure")

// harness wires the engine to sqlite stores in a temp dir
type harness struct {
	engine     WorkflowEngine
	db         *database.DB
	logs       *flakyLog
	instances  *flakyInstances
	outbox     port.ActionOutbox
	dispatcher dispatcher.Dispatcher
	recorder   *recordingLogger
}

func newHarness(t *testing.T, bundle *entity.DefinitionBundle, opts ...EngineOption) *harness {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "engine.db")}, logger)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.NewMigrator(db, logger).Run(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	defs := repository.NewDefinitionRepository(db.DB, logger)
	if bundle != nil {
		if err := defs.CreateDefinition(context.Background(), bundle); err != nil {
			t.Fatalf("seed definition: %v", err)
		}
	}

	h := &harness{
		db:         db,
		logs:       &flakyLog{TransitionLog: repository.NewTransitionLogRepository(db.DB, logger)},
		instances:  &flakyInstances{InstanceStore: repository.NewInstanceRepository(db.DB, logger)},
		outbox:     repository.NewActionRepository(db.DB, logger),
		dispatcher: dispatcher.NewDispatcher(),
		recorder:   &recordingLogger{},
	}
	t.Cleanup(func() { _ = h.dispatcher.Close() })

	deps := Dependencies{
		Definitions: defs,
		Instances:   h.instances,
		Logs:        h.logs,
		Approvals:   repository.NewApprovalRepository(db.DB, logger),
		Outbox:      h.outbox,
		TxManager:   sqlite.NewDB(db.DB, logger),
	}
	all := append([]EngineOption{WithDispatcher(h.dispatcher), WithLogger(h.recorder)}, opts...)
	h.engine = NewEngine(deps, all...)
	return h
}

func (h *harness) start(t *testing.T, entityID string) *entity.WorkflowInstance {
	t.Helper()
	inst, err := h.engine.Start(context.Background(), StartRequest{
		TenantID:   "t1",
		EntityType: "expense",
		EntityID:   entityID,
		ActorID:    "alice",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return inst
}

func (h *harness) fire(instanceID, event string, fireCtx map[string]interface{}) (*Result, error) {
	return h.engine.Fire(context.Background(), FireRequest{
		InstanceID: instanceID,
		EventName:  event,
		ActorID:    "alice",
		Context:    fireCtx,
	})
}

func (h *harness) history(t *testing.T, instanceID string) []*entity.TransitionLog {
	t.Helper()
	logs, err := h.engine.History(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return logs
}

// expenseDefinition is draft -> review -> approved with an approval-gated
// approve edge, a terminal rejected state and a notification on submit.
func expenseDefinition() *entity.DefinitionBundle {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	def := &entity.WorkflowDefinition{
		ID:          "def-expense",
		TenantID:    "t1",
		Name:        "Expense approval",
		EntityType:  "expense",
		IsActive:    true,
		ActivatedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return &entity.DefinitionBundle{
		Definition: def,
		States: []*entity.WorkflowState{
			{ID: "s-draft", DefinitionID: def.ID, Name: "draft", IsInitial: true, SortOrder: 1},
			{ID: "s-review", DefinitionID: def.ID, Name: "review", SortOrder: 2},
			{ID: "s-approved", DefinitionID: def.ID, Name: "approved", IsFinal: true, SortOrder: 3},
			{ID: "s-rejected", DefinitionID: def.ID, Name: "rejected", IsFinal: true, SortOrder: 4},
		},
		Transitions: []*entity.WorkflowTransition{
			{
				ID: "t-submit", DefinitionID: def.ID, FromStateID: "s-draft", ToStateID: "s-review", EventName: "submit",
				Action: &entity.ActionSpec{Type: "send_notification", Config: map[string]interface{}{"channel": "finance"}},
			},
			{ID: "t-approve", DefinitionID: def.ID, FromStateID: "s-review", ToStateID: "s-approved", EventName: "approve", RequiresApproval: true},
			{ID: "t-decline", DefinitionID: def.ID, FromStateID: "s-review", ToStateID: "s-rejected", EventName: "decline"},
			{
				ID: "t-route-small", DefinitionID: def.ID, FromStateID: "s-draft", ToStateID: "s-review", EventName: "route",
				Guard: &entity.Guard{Field: "amount", Condition: "greater_than", Value: float64(10)},
			},
			{
				ID: "t-route-large", DefinitionID: def.ID, FromStateID: "s-draft", ToStateID: "s-approved", EventName: "route",
				Guard: &entity.Guard{Field: "amount", Condition: "greater_than", Value: float64(100)},
			},
			{
				ID: "t-hold", DefinitionID: def.ID, FromStateID: "s-draft", ToStateID: "s-review", EventName: "hold",
				Action: &entity.ActionSpec{Type: "wait", Config: map[string]interface{}{"duration": "1h"}},
			},
		},
	}
}

// flakyLog fails Append while fail is set
type flakyLog struct {
	port.TransitionLog
	fail atomic.Bool
}

func (f *flakyLog) Append(ctx context.Context, log *entity.TransitionLog) error {
	if f.fail.Load() {
		return errInjected
	}
	return f.TransitionLog.Append(ctx, log)
}

// flakyInstances reports a version conflict on the next conflicts Save calls
type flakyInstances struct {
	port.InstanceStore
	conflicts atomic.Int32
	saves     atomic.Int32
}

func (f *flakyInstances) Save(ctx context.Context, inst *entity.WorkflowInstance) error {
	f.saves.Add(1)
	if f.conflicts.Load() > 0 {
		f.conflicts.Add(-1)
		return port.ErrVersionConflict
	}
	return f.InstanceStore.Save(ctx, inst)
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *recordingLogger) Error(msg string, keysAndValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// captured collects dispatched requests
type captured struct {
	mu   sync.Mutex
	reqs []*action.Request
}

func (c *captured) handle(ctx context.Context, req *action.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return nil
}

func (c *captured) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

// countingMetrics tallies metric calls by name and label
type countingMetrics struct {
	port.NopMetrics
	mu     sync.Mutex
	counts map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]int)}
}

func (m *countingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *countingMetrics) TransitionApplied(_, kind string)  { m.inc("transition:" + kind) }
func (m *countingMetrics) ApprovalResolved(_, status string) { m.inc("approval:" + status) }
func (m *countingMetrics) OperationRejected(op, code string) { m.inc("rejected:" + op + ":" + code) }

func (m *countingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}
