package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// DefinitionSpec is the authoring form of a definition. States are referenced
// by name; ids are assigned when the spec is compiled.
type DefinitionSpec struct {
	Name        string           `json:"name" yaml:"name"`
	EntityType  string           `json:"entity_type" yaml:"entity_type"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Active      bool             `json:"active" yaml:"active"`
	States      []StateSpec      `json:"states" yaml:"states"`
	Transitions []TransitionSpec `json:"transitions" yaml:"transitions"`
}

// StateSpec describes one state
type StateSpec struct {
	Name    string `json:"name" yaml:"name"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
	Initial bool   `json:"initial,omitempty" yaml:"initial,omitempty"`
	Final   bool   `json:"final,omitempty" yaml:"final,omitempty"`
}

// TransitionSpec describes one edge between two named states
type TransitionSpec struct {
	From             string             `json:"from" yaml:"from"`
	To               string             `json:"to" yaml:"to"`
	Event            string             `json:"event" yaml:"event"`
	Guard            *entity.Guard      `json:"guard,omitempty" yaml:"guard,omitempty"`
	Action           *entity.ActionSpec `json:"action,omitempty" yaml:"action,omitempty"`
	RequiresApproval bool               `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
}

// compile turns the spec into a bundle with fresh ids
func (s DefinitionSpec) compile(tenantID string, now time.Time) (*entity.DefinitionBundle, error) {
	if tenantID == "" || s.Name == "" || s.EntityType == "" {
		return nil, domainwf.Errorf(domainwf.ErrInvalidDefinition, "tenant, name and entity_type are required")
	}

	def := &entity.WorkflowDefinition{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        s.Name,
		EntityType:  s.EntityType,
		Description: s.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.Active {
		def.IsActive = true
		def.ActivatedAt = &now
	}

	bundle := &entity.DefinitionBundle{Definition: def}
	for i, st := range s.States {
		bundle.States = append(bundle.States, &entity.WorkflowState{
			ID:           uuid.NewString(),
			DefinitionID: def.ID,
			Name:         st.Name,
			Label:        st.Label,
			IsInitial:    st.Initial,
			IsFinal:      st.Final,
			SortOrder:    i,
		})
	}

	transitions, err := compileTransitions(def.ID, bundle.States, s.Transitions)
	if err != nil {
		return nil, err
	}
	bundle.Transitions = transitions
	return bundle, nil
}

func compileTransitions(definitionID string, states []*entity.WorkflowState, specs []TransitionSpec) ([]*entity.WorkflowTransition, error) {
	byName := make(map[string]string, len(states))
	for _, st := range states {
		byName[st.Name] = st.ID
	}

	transitions := make([]*entity.WorkflowTransition, 0, len(specs))
	for _, ts := range specs {
		from, ok := byName[ts.From]
		if !ok {
			return nil, domainwf.Errorf(domainwf.ErrInvalidDefinition, "transition %q starts at unknown state %q", ts.Event, ts.From)
		}
		to, ok := byName[ts.To]
		if !ok {
			return nil, domainwf.Errorf(domainwf.ErrInvalidDefinition, "transition %q ends at unknown state %q", ts.Event, ts.To)
		}
		transitions = append(transitions, &entity.WorkflowTransition{
			ID:               uuid.NewString(),
			DefinitionID:     definitionID,
			FromStateID:      from,
			ToStateID:        to,
			EventName:        ts.Event,
			Guard:            ts.Guard,
			Action:           ts.Action,
			RequiresApproval: ts.RequiresApproval,
		})
	}
	return transitions, nil
}

func (s DefinitionSpec) String() string {
	return fmt.Sprintf("%s/%s", s.EntityType, s.Name)
}
