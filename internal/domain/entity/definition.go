package entity

import "time"

// WorkflowDefinition is a tenant's named workflow template for one entity type
type WorkflowDefinition struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Name        string     `json:"name"`
	EntityType  string     `json:"entity_type"`
	Description string     `json:"description,omitempty"`
	IsActive    bool       `json:"is_active"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// WorkflowState is one node of a definition's machine
type WorkflowState struct {
	ID           string `json:"id"`
	DefinitionID string `json:"workflow_definition_id"`
	Name         string `json:"name"`
	Label        string `json:"label"`
	IsInitial    bool   `json:"is_initial"`
	IsFinal      bool   `json:"is_final"`
	SortOrder    int    `json:"sort_order"`
}

// WorkflowTransition is a directed edge between two states of the same definition,
// triggered by EventName.
type WorkflowTransition struct {
	ID               string      `json:"id"`
	DefinitionID     string      `json:"workflow_definition_id"`
	FromStateID      string      `json:"from_state_id"`
	ToStateID        string      `json:"to_state_id"`
	EventName        string      `json:"event_name"`
	Guard            *Guard      `json:"guard,omitempty"`
	Action           *ActionSpec `json:"action,omitempty"`
	RequiresApproval bool        `json:"requires_approval"`
}

// Guard is a single condition checked against the fire-time context.
// Field is a dot-separated path into the context map.
type Guard struct {
	Field     string      `json:"field" yaml:"field"`
	Condition string      `json:"condition" yaml:"condition"`
	Value     interface{} `json:"value" yaml:"value"`
}

// ActionSpec is the action configured on a transition. Config is carried verbatim.
type ActionSpec struct {
	Type   string                 `json:"type" yaml:"type"`
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// DefinitionBundle is a definition together with its flat state and transition tables
type DefinitionBundle struct {
	Definition  *WorkflowDefinition   `json:"definition"`
	States      []*WorkflowState      `json:"states"`
	Transitions []*WorkflowTransition `json:"transitions"`
}
