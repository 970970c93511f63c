package entity

import "time"

// StepAction is a decision a reviewer can take on a step
type StepAction string

const (
	ActionApprove StepAction = "approve"
	ActionReject  StepAction = "reject"
)

// IsValid returns true if the action is one of the defined constants
func (a StepAction) IsValid() bool {
	return a == ActionApprove || a == ActionReject
}

// String returns the string representation of the action
func (a StepAction) String() string {
	return string(a)
}

// StepDefinition is one stage of a workflow template
type StepDefinition struct {
	StepID           string       `json:"step_id"`
	Order            int          `json:"order"`
	RequiredRole     string       `json:"required_role"`
	PermittedActions []StepAction `json:"permitted_actions"`
	// SLAHours bounds how long the step may stay current; 0 means no deadline.
	SLAHours int `json:"sla_hours,omitempty"`
	// Required steps block on a decision even after timeout; optional steps
	// are skipped when their deadline lapses unattended.
	Required bool `json:"required"`
	// EscalateTo is the role the step is reassigned to on timeout; empty means
	// no escalation target is configured.
	EscalateTo string `json:"escalate_to,omitempty"`
}

// HasSLA returns true if the step defines a deadline
func (s *StepDefinition) HasSLA() bool {
	return s.SLAHours > 0
}

// Permits returns true if the action is in the step's permitted set
func (s *StepDefinition) Permits(action StepAction) bool {
	for _, a := range s.PermittedActions {
		if a == action {
			return true
		}
	}
	return false
}

// WorkflowTemplate is a named, ordered list of approval step definitions,
// reusable across many requests. Requests take their own snapshot of Steps at
// submission time; editing a template never affects in-flight requests.
type WorkflowTemplate struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Steps  []StepDefinition `json:"steps"`
	Active bool             `json:"active"`
	// NotificationRoles maps an event name to extra recipient roles beyond the
	// roles the engine derives from the step itself.
	NotificationRoles map[string][]string `json:"notification_roles,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}
