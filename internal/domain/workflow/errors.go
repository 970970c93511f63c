package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrNotFound is returned when a request does not exist
	ErrNotFound = errors.New("request not found")

	// ErrInvalidState is returned when a transition targets a non-pending request
	ErrInvalidState = errors.New("request is not in a state that permits this transition")

	// ErrForbidden is returned when the acting role does not match the current step's required role
	ErrForbidden = errors.New("acting role does not match the required role for this step")

	// ErrActionNotPermitted is returned when the action is not in the step's permitted set
	ErrActionNotPermitted = errors.New("action is not permitted at this step")

	// ErrTemplateNotFound is returned when submitting against an unknown template
	ErrTemplateNotFound = errors.New("workflow template not found")

	// ErrTemplateInactive is returned when submitting against a deactivated template
	ErrTemplateInactive = errors.New("workflow template is not active")

	// ErrVersionConflict is returned when an optimistic write loses a race
	ErrVersionConflict = errors.New("request was modified concurrently")
)
