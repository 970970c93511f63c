package workflow

// Trigger represents an input that can cause a state transition
type Trigger string

const (
	// TriggerApprove is a human approval of the current step.
	TriggerApprove Trigger = "APPROVE"

	// TriggerReject is a human rejection; terminal at any step.
	TriggerReject Trigger = "REJECT"

	// TriggerCancel withdraws the request before completion.
	TriggerCancel Trigger = "CANCEL"

	// TriggerEscalate reassigns the current step after its deadline lapses.
	TriggerEscalate Trigger = "ESCALATE"

	// TriggerSkip auto-advances past an unattended optional step on timeout.
	TriggerSkip Trigger = "SKIP"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
