package workflow

import (
	"sort"

	"github.com/garyjia/workflow-engine/internal/domain/action"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// Graph is an immutable, indexed view of one definition's states and transitions.
// It is built once per engine call from the flat tables the repository returns.
type Graph struct {
	definition  *entity.WorkflowDefinition
	states      map[string]*entity.WorkflowState
	byName      map[string]*entity.WorkflowState
	transitions map[string]*entity.WorkflowTransition
	outgoing    map[string][]*entity.WorkflowTransition
	initial     *entity.WorkflowState
}

// NewGraph indexes a definition bundle and checks its structural invariants:
// exactly one initial state, unique state names, transitions whose endpoints
// belong to the definition, and no transition leaving a final state.
func NewGraph(bundle *entity.DefinitionBundle) (*Graph, error) {
	if bundle == nil || bundle.Definition == nil {
		return nil, Errorf(ErrInvalidDefinition, "definition is required")
	}
	def := bundle.Definition

	g := &Graph{
		definition:  def,
		states:      make(map[string]*entity.WorkflowState, len(bundle.States)),
		byName:      make(map[string]*entity.WorkflowState, len(bundle.States)),
		transitions: make(map[string]*entity.WorkflowTransition, len(bundle.Transitions)),
		outgoing:    make(map[string][]*entity.WorkflowTransition),
	}

	for _, s := range bundle.States {
		if s.DefinitionID != def.ID {
			return nil, Errorf(ErrInvalidDefinition, "state %q belongs to definition %q", s.Name, s.DefinitionID)
		}
		if _, dup := g.states[s.ID]; dup {
			return nil, Errorf(ErrInvalidDefinition, "duplicate state id %q", s.ID)
		}
		if _, dup := g.byName[s.Name]; dup {
			return nil, Errorf(ErrInvalidDefinition, "duplicate state name %q", s.Name)
		}
		if s.IsInitial {
			if g.initial != nil {
				return nil, Errorf(ErrInvalidDefinition, "definition %q has more than one initial state", def.ID)
			}
			g.initial = s
		}
		g.states[s.ID] = s
		g.byName[s.Name] = s
	}
	if g.initial == nil {
		return nil, Errorf(ErrInvalidDefinition, "definition %q has no initial state", def.ID)
	}

	for _, t := range bundle.Transitions {
		if t.DefinitionID != def.ID {
			return nil, Errorf(ErrInvalidDefinition, "transition %q belongs to definition %q", t.ID, t.DefinitionID)
		}
		if t.EventName == "" {
			return nil, Errorf(ErrInvalidDefinition, "transition %q has no event name", t.ID)
		}
		from, ok := g.states[t.FromStateID]
		if !ok {
			return nil, Errorf(ErrInvalidDefinition, "transition %q starts at unknown state %q", t.ID, t.FromStateID)
		}
		if _, ok := g.states[t.ToStateID]; !ok {
			return nil, Errorf(ErrInvalidDefinition, "transition %q ends at unknown state %q", t.ID, t.ToStateID)
		}
		if from.IsFinal {
			return nil, Errorf(ErrInvalidDefinition, "final state %q has outgoing transition %q", from.Name, t.EventName)
		}
		if t.Guard != nil && !ConditionType(t.Guard.Condition).IsValid() {
			return nil, Errorf(ErrInvalidDefinition, "transition %q has unknown guard condition %q", t.ID, t.Guard.Condition)
		}
		if t.Action != nil {
			if err := validateAction(t); err != nil {
				return nil, err
			}
		}
		if _, dup := g.transitions[t.ID]; dup {
			return nil, Errorf(ErrInvalidDefinition, "duplicate transition id %q", t.ID)
		}
		g.transitions[t.ID] = t
		g.outgoing[t.FromStateID] = append(g.outgoing[t.FromStateID], t)
	}

	return g, nil
}

func validateAction(t *entity.WorkflowTransition) error {
	typ := action.Type(t.Action.Type)
	if !typ.IsValid() {
		return Errorf(ErrInvalidDefinition, "transition %q has unknown action type %q", t.ID, t.Action.Type)
	}
	if typ == action.TypeWait {
		if _, err := action.WaitDuration(t.Action.Config); err != nil {
			return Errorf(ErrInvalidDefinition, "transition %q: %v", t.ID, err)
		}
	}
	return nil
}

// Definition returns the definition the graph was built from
func (g *Graph) Definition() *entity.WorkflowDefinition {
	return g.definition
}

// InitialState returns the definition's unique initial state
func (g *Graph) InitialState() *entity.WorkflowState {
	return g.initial
}

// State looks a state up by id
func (g *Graph) State(id string) (*entity.WorkflowState, bool) {
	s, ok := g.states[id]
	return s, ok
}

// StateByName looks a state up by its machine name
func (g *Graph) StateByName(name string) (*entity.WorkflowState, bool) {
	s, ok := g.byName[name]
	return s, ok
}

// Transition looks a transition up by id
func (g *Graph) Transition(id string) (*entity.WorkflowTransition, bool) {
	t, ok := g.transitions[id]
	return t, ok
}

// Outgoing returns the transitions leaving a state
func (g *Graph) Outgoing(stateID string) []*entity.WorkflowTransition {
	return g.outgoing[stateID]
}

// States returns all states ordered by SortOrder, then name
func (g *Graph) States() []*entity.WorkflowState {
	out := make([]*entity.WorkflowState, 0, len(g.states))
	for _, s := range g.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out
}
