package workflow

import (
	"time"

	"github.com/danyuan/approvalflow/internal/domain/entity"
)

// ResolutionKind classifies what a lapsed deadline means for the current step
type ResolutionKind string

const (
	// ResolutionReassign reassigns the step to its escalation target and
	// re-arms the deadline once.
	ResolutionReassign ResolutionKind = "reassign"

	// ResolutionSkip advances past an unattended optional step as a synthetic
	// approval would.
	ResolutionSkip ResolutionKind = "skip"

	// ResolutionOverdue leaves the step untouched; the lapse is surfaced to
	// the notification layer for human intervention.
	ResolutionOverdue ResolutionKind = "overdue"
)

// Resolution is the outcome of resolving a lapsed deadline
type Resolution struct {
	Kind        ResolutionKind
	NewRole     string
	NewDeadline *time.Time
}

// ResolveEscalation maps a timed-out current step to its escalation outcome.
// Pure: no I/O, no side effects.
//
// A step escalates at most once per step instance. Once the Escalated marker
// is set, a second lapse is reported as overdue rather than re-escalated.
func ResolveEscalation(step entity.StepSnapshot, now time.Time) Resolution {
	if step.EscalateTo != "" && !step.Escalated {
		deadline := now.Add(time.Duration(step.SLAHours) * time.Hour)
		return Resolution{
			Kind:        ResolutionReassign,
			NewRole:     step.EscalateTo,
			NewDeadline: &deadline,
		}
	}

	if !step.Required && !step.Escalated {
		return Resolution{Kind: ResolutionSkip}
	}

	return Resolution{Kind: ResolutionOverdue}
}
