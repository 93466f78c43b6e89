package action

// Type identifies the kind of side effect a transition asks an external executor to perform
type Type string

const (
	TypeCreateRecord     Type = "create_record"
	TypeUpdateRecord     Type = "update_record"
	TypeDeleteRecord     Type = "delete_record"
	TypeSendNotification Type = "send_notification"
	TypeSendEmail        Type = "send_email"
	TypeWebhook          Type = "webhook"
	TypeScript           Type = "script"
	TypeWait             Type = "wait"
)

// AllTypes lists every known action type
var AllTypes = []Type{
	TypeCreateRecord,
	TypeUpdateRecord,
	TypeDeleteRecord,
	TypeSendNotification,
	TypeSendEmail,
	TypeWebhook,
	TypeScript,
	TypeWait,
}

// String returns the string representation of the action type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the action type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeCreateRecord,
		TypeUpdateRecord,
		TypeDeleteRecord,
		TypeSendNotification,
		TypeSendEmail,
		TypeWebhook,
		TypeScript,
		TypeWait:
		return true
	default:
		return false
	}
}
