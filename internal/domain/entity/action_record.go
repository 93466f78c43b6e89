package entity

import "time"

// ActionRecord is the outbox row kept for every action request the engine emits
type ActionRecord struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenant_id"`
	InstanceID    string                 `json:"workflow_instance_id"`
	TransitionID  string                 `json:"transition_id"`
	Type          string                 `json:"type"`
	Config        map[string]interface{} `json:"config,omitempty"`
	Status        ActionStatus           `json:"status"`
	Attempts      int                    `json:"attempts"`
	LastError     string                 `json:"last_error,omitempty"`
	ResumeAt      *time.Time             `json:"resume_at,omitempty"`
	DeferredToken string                 `json:"deferred_token,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// ActionStatus is the delivery status of an ActionRecord
type ActionStatus string

// Action outbox status constants
const (
	ActionStatusPending    ActionStatus = "pending"
	ActionStatusDispatched ActionStatus = "dispatched"
	ActionStatusFailed     ActionStatus = "failed"
)

// Actor used for log rows written by the engine itself
const SystemActor = "system"
