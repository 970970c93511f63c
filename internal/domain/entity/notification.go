package entity

import "time"

// Notification is a recorded delivery intent for an emitted engine event.
// Actual delivery is an external collaborator's concern; rows here give the
// delivery layer a durable queue and operators an audit trail.
type Notification struct {
	ID             int64     `json:"id"`
	RequestID      string    `json:"request_id"`
	EventType      string    `json:"event_type"`
	StepID         string    `json:"step_id,omitempty"`
	RecipientRoles string    `json:"recipient_roles"` // comma-separated role list
	Message        string    `json:"message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
