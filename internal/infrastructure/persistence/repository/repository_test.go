package repository

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/workflow-engine/pkg/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zap.NewNop()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "repo.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).Run())
	return db
}

func fixtureBundle(now time.Time) *entity.DefinitionBundle {
	def := &entity.WorkflowDefinition{
		ID:          "def-1",
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
			{ID: "s-done", DefinitionID: def.ID, Name: "done", IsFinal: true, SortOrder: 3},
		},
		Transitions: []*entity.WorkflowTransition{
			{ID: "t-submit", DefinitionID: def.ID, FromStateID: "s-draft", ToStateID: "s-review", EventName: "submit"},
			{
				ID: "t-approve", DefinitionID: def.ID, FromStateID: "s-review", ToStateID: "s-done", EventName: "approve",
				Guard:            &entity.Guard{Field: "amount", Condition: "less_than", Value: float64(1000)},
				Action:           &entity.ActionSpec{Type: "send_email", Config: map[string]interface{}{"to": "finance"}},
				RequiresApproval: true,
			},
		},
	}
}

func seedInstance(t *testing.T, ctx context.Context, store port.InstanceStore, id, entityID string, now time.Time) *entity.WorkflowInstance {
	t.Helper()
	inst := &entity.WorkflowInstance{
		ID:             id,
		TenantID:       "t1",
		DefinitionID:   "def-1",
		EntityType:     "expense",
		EntityID:       entityID,
		CurrentStateID: "s-draft",
		Status:         entity.InstanceStatusRunning,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.Create(ctx, inst))
	return inst
}

func TestDefinitionRepository_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewDefinitionRepository(db.DB, zap.NewNop())
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.CreateDefinition(ctx, fixtureBundle(now)))

	bundle, err := repo.LoadActiveDefinition(ctx, "t1", "expense")
	require.NoError(t, err)
	require.NotNil(t, bundle)
	assert.Equal(t, "def-1", bundle.Definition.ID)
	assert.True(t, bundle.Definition.IsActive)
	require.Len(t, bundle.States, 3)
	assert.Equal(t, "s-draft", bundle.States[0].ID)
	assert.True(t, bundle.States[0].IsInitial)
	require.Len(t, bundle.Transitions, 2)

	approve := bundle.Transitions[0]
	assert.Equal(t, "t-approve", approve.ID)
	require.NotNil(t, approve.Guard)
	assert.Equal(t, "less_than", approve.Guard.Condition)
	assert.Equal(t, float64(1000), approve.Guard.Value)
	require.NotNil(t, approve.Action)
	assert.Equal(t, "finance", approve.Action.Config["to"])
	assert.True(t, approve.RequiresApproval)
	assert.Nil(t, bundle.Transitions[1].Guard)
	assert.Nil(t, bundle.Transitions[1].Action)

	missing, err := repo.LoadActiveDefinition(ctx, "t2", "expense")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDefinitionRepository_ActivationAndReplace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewDefinitionRepository(db.DB, zap.NewNop())
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.CreateDefinition(ctx, fixtureBundle(now)))
	require.NoError(t, repo.SetActive(ctx, "def-1", false, now.Add(time.Minute)))

	bundle, err := repo.LoadActiveDefinition(ctx, "t1", "expense")
	require.NoError(t, err)
	assert.Nil(t, bundle)

	require.NoError(t, repo.ReplaceTransitions(ctx, "def-1", []*entity.WorkflowTransition{
		{ID: "t-finish", DefinitionID: "def-1", FromStateID: "s-draft", ToStateID: "s-done", EventName: "finish"},
	}))
	loaded, err := repo.LoadDefinition(ctx, "def-1")
	require.NoError(t, err)
	require.Len(t, loaded.Transitions, 1)
	assert.Equal(t, "finish", loaded.Transitions[0].EventName)

	defs, err := repo.ListDefinitions(ctx, "t1", "")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.False(t, defs[0].IsActive)

	assert.Error(t, repo.SetActive(ctx, "nope", true, now))
}

func TestInstanceRepository_VersionAndUniqueness(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	logger := zap.NewNop()
	require.NoError(t, NewDefinitionRepository(db.DB, logger).CreateDefinition(ctx, fixtureBundle(time.Now().UTC())))
	store := NewInstanceRepository(db.DB, logger)
	now := time.Now().UTC()

	inst := seedInstance(t, ctx, store, "i-1", "e-1", now)
	assert.Equal(t, int64(1), inst.Version)

	dup := &entity.WorkflowInstance{
		ID: "i-2", TenantID: "t1", DefinitionID: "def-1", EntityType: "expense", EntityID: "e-1",
		CurrentStateID: "s-draft", Status: entity.InstanceStatusPending, StartedAt: now, UpdatedAt: now,
	}
	err := store.Create(ctx, dup)
	assert.ErrorIs(t, err, port.ErrDuplicateActive)

	stale := inst.Clone()
	inst.CurrentStateID = "s-review"
	require.NoError(t, store.Save(ctx, inst))
	assert.Equal(t, int64(2), inst.Version)

	stale.CurrentStateID = "s-done"
	assert.ErrorIs(t, store.Save(ctx, stale), port.ErrVersionConflict)

	got, err := store.Get(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "s-review", got.CurrentStateID)
	assert.Equal(t, int64(2), got.Version)

	// a terminal instance frees the entity for a new one
	inst.Status = entity.InstanceStatusCompleted
	completed := now
	inst.CompletedAt = &completed
	require.NoError(t, store.Save(ctx, inst))
	require.NoError(t, store.Create(ctx, dup))

	active, err := store.FindActiveByEntity(ctx, "t1", "expense", "e-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "i-2", active.ID)

	count, err := store.CountByDefinition(ctx, "def-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	missing, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTransitionLogRepository_SequenceAndAppendOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	logger := zap.NewNop()
	require.NoError(t, NewDefinitionRepository(db.DB, logger).CreateDefinition(ctx, fixtureBundle(time.Now().UTC())))
	seedInstance(t, ctx, NewInstanceRepository(db.DB, logger), "i-1", "e-1", time.Now().UTC())
	logs := NewTransitionLogRepository(db.DB, logger)

	from := "s-draft"
	entries := []*entity.TransitionLog{
		{TenantID: "t1", InstanceID: "i-1", ToStateID: "s-draft", EventName: "start", Kind: entity.LogKindStart, TriggeredBy: "u1", TransitionedAt: time.Now().UTC()},
		{TenantID: "t1", InstanceID: "i-1", FromStateID: &from, ToStateID: "s-review", EventName: "submit", Kind: entity.LogKindTransition, TriggeredBy: "u1", TransitionedAt: time.Now().UTC()},
	}
	for _, e := range entries {
		require.NoError(t, logs.Append(ctx, e))
	}
	assert.Equal(t, int64(1), entries[0].Sequence)
	assert.Equal(t, int64(2), entries[1].Sequence)

	listed, err := logs.ListByInstance(ctx, "i-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Nil(t, listed[0].FromStateID)
	require.NotNil(t, listed[1].FromStateID)
	assert.Equal(t, "s-draft", *listed[1].FromStateID)
	assert.Equal(t, entity.LogKindTransition, listed[1].Kind)

	_, err = db.Exec(`DELETE FROM workflow_transition_logs`)
	assert.Error(t, err)
	_, err = db.Exec(`UPDATE workflow_transition_logs SET notes = 'x'`)
	assert.Error(t, err)
}

func TestApprovalRepository_ResolveOnlyOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	logger := zap.NewNop()
	require.NoError(t, NewDefinitionRepository(db.DB, logger).CreateDefinition(ctx, fixtureBundle(time.Now().UTC())))
	seedInstance(t, ctx, NewInstanceRepository(db.DB, logger), "i-1", "e-1", time.Now().UTC())
	approvals := NewApprovalRepository(db.DB, logger)

	require.NoError(t, approvals.Create(ctx, &entity.Approval{
		ID: "a-1", TenantID: "t1", InstanceID: "i-1", TransitionID: "t-approve",
		RequestedBy: "u1", RequestedAt: time.Now().UTC(), Status: entity.ApprovalStatusPending,
		Context: map[string]interface{}{"amount": float64(500)},
	}))

	pending, err := approvals.ListPendingByInstance(ctx, "i-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, float64(500), pending[0].Context["amount"])

	res := entity.ApprovalResolution{Status: entity.ApprovalStatusApproved, ResolvedBy: "mgr", ResolvedAt: time.Now().UTC()}
	ok, err := approvals.Resolve(ctx, "a-1", res)
	require.NoError(t, err)
	assert.True(t, ok)

	res.Status = entity.ApprovalStatusRejected
	ok, err = approvals.Resolve(ctx, "a-1", res)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := approvals.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ApprovalStatusApproved, got.Status)
	assert.Equal(t, "mgr", got.ResolvedBy)
	assert.NotNil(t, got.ResolvedAt)

	pending, err = approvals.ListPendingByInstance(ctx, "i-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestActionRepository_RetryWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	logger := zap.NewNop()
	require.NoError(t, NewDefinitionRepository(db.DB, logger).CreateDefinition(ctx, fixtureBundle(time.Now().UTC())))
	seedInstance(t, ctx, NewInstanceRepository(db.DB, logger), "i-1", "e-1", time.Now().UTC())
	outbox := NewActionRepository(db.DB, logger)

	now := time.Now().UTC()
	later := now.Add(time.Hour)
	records := []*entity.ActionRecord{
		{ID: "act-1", TenantID: "t1", InstanceID: "i-1", TransitionID: "t-approve", Type: "send_email",
			Config: map[string]interface{}{"to": "finance"}, Status: entity.ActionStatusPending, CreatedAt: now, UpdatedAt: now},
		{ID: "act-2", TenantID: "t1", InstanceID: "i-1", TransitionID: "t-approve", Type: "wait",
			Status: entity.ActionStatusPending, ResumeAt: &later, DeferredToken: "tok", CreatedAt: now.Add(time.Second), UpdatedAt: now},
		{ID: "act-3", TenantID: "t1", InstanceID: "i-1", TransitionID: "t-approve", Type: "webhook",
			Status: entity.ActionStatusPending, CreatedAt: now.Add(2 * time.Second), UpdatedAt: now},
	}
	for _, r := range records {
		require.NoError(t, outbox.Record(ctx, r))
	}
	require.NoError(t, outbox.MarkDispatched(ctx, "act-3"))
	require.NoError(t, outbox.MarkFailed(ctx, "act-1", "smtp down"))

	due, err := outbox.ListRetryable(ctx, now, 3, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "act-1", due[0].ID)
	assert.Equal(t, entity.ActionStatusFailed, due[0].Status)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "smtp down", due[0].LastError)
	assert.Equal(t, "finance", due[0].Config["to"])

	due, err = outbox.ListRetryable(ctx, later.Add(time.Second), 3, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "tok", due[1].DeferredToken)

	due, err = outbox.ListRetryable(ctx, later.Add(time.Second), 1, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "act-2", due[0].ID)
}

func TestRepositories_JoinTransaction(t *testing.T) {
	db := newTestDB(t)
	logger := zap.NewNop()
	tx := sqlite.NewDB(db.DB, logger)
	defs := NewDefinitionRepository(db.DB, logger)
	ctx := context.Background()

	err := tx.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, defs.CreateDefinition(txCtx, fixtureBundle(time.Now().UTC())))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	bundle, err := defs.LoadDefinition(ctx, "def-1")
	require.NoError(t, err)
	assert.Nil(t, bundle)
}

func TestActionRepository_StampsUTC(t *testing.T) {
	prev := time.Local
	time.Local = time.FixedZone("UTC+8", 8*60*60)
	t.Cleanup(func() { time.Local = prev })

	db := newTestDB(t)
	ctx := context.Background()
	logger := zap.NewNop()
	require.NoError(t, NewDefinitionRepository(db.DB, logger).CreateDefinition(ctx, fixtureBundle(time.Now().UTC())))
	seedInstance(t, ctx, NewInstanceRepository(db.DB, logger), "i-1", "e-1", time.Now().UTC())
	outbox := NewActionRepository(db.DB, logger)

	now := time.Now().UTC()
	for _, id := range []string{"act-1", "act-2"} {
		require.NoError(t, outbox.Record(ctx, &entity.ActionRecord{
			ID: id, TenantID: "t1", InstanceID: "i-1", TransitionID: "t-approve", Type: "webhook",
			Status: entity.ActionStatusPending, CreatedAt: now, UpdatedAt: now,
		}))
	}
	require.NoError(t, outbox.MarkDispatched(ctx, "act-1"))
	require.NoError(t, outbox.MarkFailed(ctx, "act-2", "timeout"))

	rows, err := db.QueryContext(ctx, `SELECT CAST(updated_at AS TEXT) FROM workflow_actions ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var stamps []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		stamps = append(stamps, s)
	}
	require.NoError(t, rows.Err())
	require.Len(t, stamps, 2)
	for _, s := range stamps {
		assert.True(t, strings.HasSuffix(s, "+00:00") || strings.HasSuffix(s, "Z"), "updated_at %q is not UTC", s)
	}
}
