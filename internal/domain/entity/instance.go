package entity

import "time"

// WorkflowInstance is one running attachment of a definition to one business entity
type WorkflowInstance struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	DefinitionID   string         `json:"workflow_definition_id"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	CurrentStateID string         `json:"current_state_id"`
	Status         InstanceStatus `json:"status"`
	Version        int64          `json:"version"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a copy that can be mutated without touching the original
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}
	c := *i
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// InstanceStatus is the lifecycle status of a workflow instance
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusWaiting   InstanceStatus = "waiting"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// ActiveInstanceStatuses are the statuses that count towards the
// one-active-instance-per-entity rule
var ActiveInstanceStatuses = []InstanceStatus{
	InstanceStatusPending,
	InstanceStatusRunning,
	InstanceStatusWaiting,
}

// IsValid returns true if the status is a known instance status
func (s InstanceStatus) IsValid() bool {
	switch s {
	case InstanceStatusPending, InstanceStatusRunning, InstanceStatusWaiting,
		InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for completed, failed and cancelled
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive returns true for pending, running and waiting
func (s InstanceStatus) IsActive() bool {
	return s.IsValid() && !s.IsTerminal()
}

// String returns the string representation of the status
func (s InstanceStatus) String() string {
	return string(s)
}
