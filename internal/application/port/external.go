package port

import "time"

// Metrics records engine activity. Implementations must be safe for concurrent use.
type Metrics interface {
	// TransitionApplied counts a state change or audit row written by the engine
	TransitionApplied(tenantID, kind string)
	// ApprovalResolved counts an approval leaving pending
	ApprovalResolved(tenantID, status string)
	// OperationRejected counts an engine operation refused with a business error code
	OperationRejected(operation, code string)
	// ActionDispatched counts an action hand-off by outcome (dispatched, failed)
	ActionDispatched(actionType, outcome string)
	// ObserveOperation records how long an engine operation took
	ObserveOperation(operation string, d time.Duration)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) TransitionApplied(string, string)       {}
func (NopMetrics) ApprovalResolved(string, string)        {}
func (NopMetrics) OperationRejected(string, string)       {}
func (NopMetrics) ActionDispatched(string, string)        {}
func (NopMetrics) ObserveOperation(string, time.Duration) {}
