package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// expenseBundle is draft -> submitted -> approved|rejected with a high-amount branch
func expenseBundle() *entity.DefinitionBundle {
	def := &entity.WorkflowDefinition{ID: "def-1", TenantID: "t1", Name: "expense", EntityType: "expense", IsActive: true}
	state := func(id, name string, initial, final bool, order int) *entity.WorkflowState {
		return &entity.WorkflowState{ID: id, DefinitionID: def.ID, Name: name, IsInitial: initial, IsFinal: final, SortOrder: order}
	}
	return &entity.DefinitionBundle{
		Definition: def,
		States: []*entity.WorkflowState{
			state("s-draft", "draft", true, false, 0),
			state("s-submitted", "submitted", false, false, 1),
			state("s-review", "director_review", false, false, 2),
			state("s-approved", "approved", false, true, 3),
			state("s-rejected", "rejected", false, true, 3),
		},
		Transitions: []*entity.WorkflowTransition{
			{ID: "t-submit", DefinitionID: def.ID, FromStateID: "s-draft", ToStateID: "s-submitted", EventName: "submit"},
			{ID: "t-approve-small", DefinitionID: def.ID, FromStateID: "s-submitted", ToStateID: "s-approved", EventName: "approve",
				Guard: &entity.Guard{Field: "amount", Condition: "less_than", Value: 1000}},
			{ID: "t-approve-large", DefinitionID: def.ID, FromStateID: "s-submitted", ToStateID: "s-review", EventName: "approve",
				Guard: &entity.Guard{Field: "amount", Condition: "greater_than", Value: 999}},
			{ID: "t-reject", DefinitionID: def.ID, FromStateID: "s-submitted", ToStateID: "s-rejected", EventName: "reject"},
			{ID: "t-director", DefinitionID: def.ID, FromStateID: "s-review", ToStateID: "s-approved", EventName: "approve", RequiresApproval: true},
		},
	}
}

func TestNewGraph_IndexesBundle(t *testing.T) {
	g, err := NewGraph(expenseBundle())
	require.NoError(t, err)

	assert.Equal(t, "def-1", g.Definition().ID)
	assert.Equal(t, "draft", g.InitialState().Name)

	s, ok := g.StateByName("director_review")
	require.True(t, ok)
	assert.Equal(t, "s-review", s.ID)

	_, ok = g.State("missing")
	assert.False(t, ok)

	tr, ok := g.Transition("t-director")
	require.True(t, ok)
	assert.True(t, tr.RequiresApproval)

	assert.Len(t, g.Outgoing("s-submitted"), 3)
	assert.Empty(t, g.Outgoing("s-approved"))

	names := make([]string, 0)
	for _, s := range g.States() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"draft", "submitted", "director_review", "approved", "rejected"}, names)
}

func TestNewGraph_RejectsMalformedDefinitions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *entity.DefinitionBundle)
	}{
		{"nil definition", func(b *entity.DefinitionBundle) { b.Definition = nil }},
		{"no initial state", func(b *entity.DefinitionBundle) { b.States[0].IsInitial = false }},
		{"two initial states", func(b *entity.DefinitionBundle) { b.States[1].IsInitial = true }},
		{"duplicate state name", func(b *entity.DefinitionBundle) { b.States[1].Name = "draft" }},
		{"duplicate state id", func(b *entity.DefinitionBundle) { b.States[1].ID = "s-draft" }},
		{"foreign state", func(b *entity.DefinitionBundle) { b.States[2].DefinitionID = "def-2" }},
		{"foreign transition", func(b *entity.DefinitionBundle) { b.Transitions[0].DefinitionID = "def-2" }},
		{"unknown target", func(b *entity.DefinitionBundle) { b.Transitions[0].ToStateID = "s-nowhere" }},
		{"unknown source", func(b *entity.DefinitionBundle) { b.Transitions[0].FromStateID = "s-nowhere" }},
		{"empty event", func(b *entity.DefinitionBundle) { b.Transitions[0].EventName = "" }},
		{"leaves final state", func(b *entity.DefinitionBundle) { b.Transitions[3].FromStateID = "s-approved" }},
		{"bad guard condition", func(b *entity.DefinitionBundle) { b.Transitions[1].Guard.Condition = "between" }},
		{"unknown action type", func(b *entity.DefinitionBundle) { b.Transitions[0].Action = &entity.ActionSpec{Type: "print"} }},
		{"bad wait duration", func(b *entity.DefinitionBundle) {
			b.Transitions[0].Action = &entity.ActionSpec{Type: "wait", Config: map[string]interface{}{"duration": "later"}}
		}},
		{"duplicate transition id", func(b *entity.DefinitionBundle) { b.Transitions[3].ID = "t-submit" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := expenseBundle()
			tt.mutate(b)
			_, err := NewGraph(b)
			require.Error(t, err)
			assert.Equal(t, CodeInvalidDefinition, CodeOf(err))
		})
	}
}
