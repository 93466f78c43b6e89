package entity

import "time"

// Approval is a pending or resolved request to apply an approval-gated transition.
// Once Status leaves pending the record is never modified again.
type Approval struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	InstanceID   string                 `json:"workflow_instance_id"`
	TransitionID string                 `json:"transition_id"`
	RequestedBy  string                 `json:"requested_by"`
	RequestedAt  time.Time              `json:"requested_at"`
	AssignedTo   string                 `json:"assigned_to,omitempty"`
	Status       ApprovalStatus         `json:"status"`
	ResolvedBy   string                 `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time             `json:"resolved_at,omitempty"`
	Comment      string                 `json:"comment,omitempty"`
	DelegatedTo  string                 `json:"delegated_to,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

// ApprovalStatus is the status of an approval record
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusRejected  ApprovalStatus = "rejected"
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
	ApprovalStatusDelegated ApprovalStatus = "delegated"
)

// IsValid returns true if the status is a known approval status
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected,
		ApprovalStatusCancelled, ApprovalStatusDelegated:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for every status except pending
func (s ApprovalStatus) IsTerminal() bool {
	return s.IsValid() && s != ApprovalStatusPending
}

// String returns the string representation of the status
func (s ApprovalStatus) String() string {
	return string(s)
}

// ApprovalResolution carries the fields written when an approval leaves pending
type ApprovalResolution struct {
	Status      ApprovalStatus
	ResolvedBy  string
	ResolvedAt  time.Time
	Comment     string
	DelegatedTo string
}
