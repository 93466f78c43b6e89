package workflow

// Trigger moves an instance or approval between lifecycle statuses.
// These are engine-internal and unrelated to the event names in a definition.
type Trigger string

const (
	TriggerActivate      Trigger = "activate"
	TriggerAwaitApproval Trigger = "await_approval"
	TriggerResume        Trigger = "resume"
	TriggerComplete      Trigger = "complete"
	TriggerFail          Trigger = "fail"
	TriggerCancel        Trigger = "cancel"

	TriggerApprove  Trigger = "approve"
	TriggerReject   Trigger = "reject"
	TriggerDelegate Trigger = "delegate"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
