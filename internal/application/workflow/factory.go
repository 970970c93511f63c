package workflow

import (
	"context"

	"github.com/danyuan/approvalflow/internal/domain/entity"
	domainwf "github.com/danyuan/approvalflow/internal/domain/workflow"
)

// BuildRequestStateMachine creates a state machine configured for the approval
// request lifecycle, with guards bound to the given request. Approve and Skip
// only terminate the request on its last step; every other pending transition
// keeps the request in flight or ends it outright. Terminal states are
// configured with no outgoing transitions, so firing any trigger on them fails.
func BuildRequestStateMachine(request *entity.RequestInstance) domainwf.StateMachine {
	onLastStep := func(ctx context.Context) bool {
		return request.OnLastStep()
	}
	notOnLastStep := func(ctx context.Context) bool {
		return !request.OnLastStep()
	}

	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StatePending).
		PermitIf(domainwf.TriggerApprove, domainwf.StateApproved, onLastStep).
		PermitIf(domainwf.TriggerApprove, domainwf.StatePending, notOnLastStep).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled).
		Permit(domainwf.TriggerEscalate, domainwf.StatePending).
		PermitIf(domainwf.TriggerSkip, domainwf.StateApproved, onLastStep).
		PermitIf(domainwf.TriggerSkip, domainwf.StatePending, notOnLastStep)

	// APPROVED, REJECTED and CANCELLED are terminal - no outgoing transitions

	return builder.Build(request.Status)
}
