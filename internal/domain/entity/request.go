package entity

import (
	"encoding/json"
	"time"

	"github.com/danyuan/approvalflow/internal/domain/workflow"
)

// StepSnapshot is one step of a request's frozen step list plus its per-request
// runtime state. EffectiveRole starts as the definition's RequiredRole and only
// changes when the step is escalated.
type StepSnapshot struct {
	StepDefinition

	EffectiveRole string `json:"effective_role"`
	// Escalated marks that the single permitted escalation for this step
	// instance has already fired.
	Escalated bool `json:"escalated"`
}

// RequestInstance is a submitted request moving through its step snapshot.
// Mutated exclusively by the transition engine; immutable once terminal.
type RequestInstance struct {
	ID               string          `json:"id"`
	RequestType      string          `json:"request_type"`
	TemplateID       string          `json:"template_id"`
	SubmitterID      string          `json:"submitter_id"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Status           workflow.State  `json:"status"`
	CurrentStepIndex int             `json:"current_step_index"`
	StepsSnapshot    []StepSnapshot  `json:"steps_snapshot"`
	SubmittedAt      time.Time       `json:"submitted_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	// SLADeadline is the active deadline of the current step; nil when the
	// current step defines no SLA or the request is terminal.
	SLADeadline *time.Time `json:"sla_deadline,omitempty"`
	// Version guards concurrent writes; every persisted update increments it.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotSteps deep-copies a template's step list into snapshot form with
// 0-based contiguous indices and effective roles seeded from the definitions.
func SnapshotSteps(steps []StepDefinition) []StepSnapshot {
	snapshot := make([]StepSnapshot, len(steps))
	for i, def := range steps {
		copied := def
		copied.Order = i
		copied.PermittedActions = append([]StepAction{}, def.PermittedActions...)
		snapshot[i] = StepSnapshot{
			StepDefinition: copied,
			EffectiveRole:  def.RequiredRole,
		}
	}
	return snapshot
}

// CurrentStep returns the step the request is waiting on, or nil if the
// request is terminal or the snapshot is malformed.
func (r *RequestInstance) CurrentStep() *StepSnapshot {
	if r.Status.IsTerminal() {
		return nil
	}
	if r.CurrentStepIndex < 0 || r.CurrentStepIndex >= len(r.StepsSnapshot) {
		return nil
	}
	return &r.StepsSnapshot[r.CurrentStepIndex]
}

// OnLastStep returns true if the current step is the final one
func (r *RequestInstance) OnLastStep() bool {
	return r.CurrentStepIndex == len(r.StepsSnapshot)-1
}

// DeadlineLapsed returns true if the request has an active deadline in the past
func (r *RequestInstance) DeadlineLapsed(now time.Time) bool {
	return r.SLADeadline != nil && r.SLADeadline.Before(now)
}
