package event

// Type identifies the type of domain event
type Type string

const (
	TypeSubmitted Type = "request.submitted"
	TypeApproved  Type = "request.approved"
	TypeRejected  Type = "request.rejected"
	TypeCancelled Type = "request.cancelled"
	TypeEscalated Type = "request.escalated"
	TypeOverdue   Type = "request.overdue"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeSubmitted,
		TypeApproved,
		TypeRejected,
		TypeCancelled,
		TypeEscalated,
		TypeOverdue:
		return true
	default:
		return false
	}
}
