package entity

import "time"

// TransitionLog is the immutable audit row written for every executed transition.
// FromStateID is nil only for the entry written by Start.
type TransitionLog struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	InstanceID     string    `json:"workflow_instance_id"`
	Sequence       int64     `json:"sequence"`
	FromStateID    *string   `json:"from_state_id"`
	ToStateID      string    `json:"to_state_id"`
	EventName      string    `json:"event_name"`
	Kind           LogKind   `json:"kind"`
	TriggeredBy    string    `json:"triggered_by"`
	TransitionedAt time.Time `json:"transitioned_at"`
	Notes          string    `json:"notes,omitempty"`
}

// LogKind classifies a log row. Only start and transition rows move the state;
// the others record decisions against the unchanged current state.
type LogKind string

const (
	LogKindStart        LogKind = "start"
	LogKindTransition   LogKind = "transition"
	LogKindRejection    LogKind = "rejection"
	LogKindCancellation LogKind = "cancellation"
	LogKindFailure      LogKind = "failure"
)

// String returns the string representation of the kind
func (k LogKind) String() string {
	return string(k)
}
