package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danyuan/approvalflow/internal/application/dispatcher"
	"github.com/danyuan/approvalflow/internal/application/port"
	"github.com/danyuan/approvalflow/internal/domain/entity"
	"github.com/danyuan/approvalflow/internal/domain/event"
	domainwf "github.com/danyuan/approvalflow/internal/domain/workflow"
)

// DefaultAdminRole may cancel any pending request in addition to the submitter
const DefaultAdminRole = "admin"

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	requestRepo  port.RequestRepository
	templateRepo port.TemplateRepository
	historyRepo  port.HistoryRepository
	txManager    port.TransactionManager
	dispatcher   dispatcher.Dispatcher
	logger       Logger
	adminRole    string
	now          func() time.Time
}

// EngineOption configures the engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithAdminRole overrides the administrative role allowed to cancel requests
func WithAdminRole(role string) EngineOption {
	return func(e *engineImpl) {
		e.adminRole = role
	}
}

// WithClock overrides the engine's time source (used by tests)
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new step transition engine
func NewEngine(
	requestRepo port.RequestRepository,
	templateRepo port.TemplateRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		requestRepo:  requestRepo,
		templateRepo: templateRepo,
		historyRepo:  historyRepo,
		txManager:    txManager,
		logger:       nopLogger{},
		adminRole:    DefaultAdminRole,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Submit creates a pending request from a frozen snapshot of the template's
// step list. The snapshot is never re-read from the template store afterward,
// so later template edits cannot affect the request.
func (e *engineImpl) Submit(ctx context.Context, input SubmitInput) (*entity.RequestInstance, error) {
	template, err := e.templateRepo.GetByID(ctx, input.TemplateID)
	if err != nil {
		return nil, err
	}
	if !template.Active {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrTemplateInactive, template.ID)
	}
	if len(template.Steps) == 0 {
		return nil, fmt.Errorf("template %s has no steps", template.ID)
	}

	now := e.now()
	snapshot := entity.SnapshotSteps(template.Steps)

	request := &entity.RequestInstance{
		ID:               uuid.NewString(),
		RequestType:      input.RequestType,
		TemplateID:       template.ID,
		SubmitterID:      input.SubmitterID,
		Payload:          input.Payload,
		Status:           domainwf.StatePending,
		CurrentStepIndex: 0,
		StepsSnapshot:    snapshot,
		SubmittedAt:      now,
		SLADeadline:      deadlineFor(&snapshot[0], now),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.requestRepo.Create(txCtx, request); err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		return e.historyRepo.Create(txCtx, &entity.ApprovalHistory{
			RequestID:      request.ID,
			ActorUserID:    input.SubmitterID,
			StepIndex:      0,
			StepID:         snapshot[0].StepID,
			PreviousStatus: "",
			NewStatus:      request.Status.String(),
			ActionType:     entity.HistoryActionSubmit,
			Timestamp:      now,
		})
	})
	if err != nil {
		e.logger.Error("Failed to submit request", "error", err, "template_id", input.TemplateID)
		return nil, err
	}

	e.logger.Info("Request submitted",
		"request_id", request.ID,
		"template_id", template.ID,
		"steps", len(snapshot))

	e.emit(ctx, event.NewEvent(event.TypeSubmitted, request.ID, snapshot[0].StepID,
		[]string{snapshot[0].EffectiveRole}))

	return request, nil
}

// Decide applies a human approve/reject decision to the current step
func (e *engineImpl) Decide(ctx context.Context, requestID string, action entity.StepAction, actor Actor) (*entity.RequestInstance, error) {
	request, err := e.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != domainwf.StatePending {
		return nil, fmt.Errorf("%w: request %s is %s", domainwf.ErrInvalidState, requestID, request.Status)
	}

	step := request.CurrentStep()
	if step == nil {
		return nil, fmt.Errorf("%w: request %s has no current step", domainwf.ErrInvalidState, requestID)
	}
	if actor.Role != step.EffectiveRole {
		return nil, fmt.Errorf("%w: step %s requires role %s, got %s",
			domainwf.ErrForbidden, step.StepID, step.EffectiveRole, actor.Role)
	}
	if !step.Permits(action) {
		return nil, fmt.Errorf("%w: action %s at step %s", domainwf.ErrActionNotPermitted, action, step.StepID)
	}

	// Capture the decided step before any index mutation
	decidedIndex := request.CurrentStepIndex
	decidedStepID := step.StepID
	previousStatus := request.Status
	now := e.now()

	machine := BuildRequestStateMachine(request)
	trigger := domainwf.TriggerApprove
	if action == entity.ActionReject {
		trigger = domainwf.TriggerReject
	}
	if err := machine.Fire(ctx, trigger); err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrInvalidState, err)
	}

	var eventType event.Type
	var recipients []string

	switch machine.State() {
	case domainwf.StateRejected:
		request.Status = domainwf.StateRejected
		request.CompletedAt = &now
		request.SLADeadline = nil
		eventType = event.TypeRejected

	case domainwf.StateApproved:
		request.Status = domainwf.StateApproved
		request.CompletedAt = &now
		request.SLADeadline = nil
		eventType = event.TypeApproved

	default:
		// Approved a non-final step: advance and re-arm the deadline clock
		request.CurrentStepIndex++
		next := request.CurrentStep()
		request.SLADeadline = deadlineFor(next, now)
		eventType = event.TypeApproved
		recipients = []string{next.EffectiveRole}
	}
	request.UpdatedAt = now

	historyAction := entity.HistoryActionApprove
	if action == entity.ActionReject {
		historyAction = entity.HistoryActionReject
	}

	if err := e.persistTransition(ctx, request, &entity.ApprovalHistory{
		RequestID:      request.ID,
		ActorUserID:    actor.UserID,
		ActorRole:      actor.Role,
		StepIndex:      decidedIndex,
		StepID:         decidedStepID,
		PreviousStatus: previousStatus.String(),
		NewStatus:      request.Status.String(),
		ActionType:     historyAction,
		Timestamp:      now,
	}); err != nil {
		return nil, err
	}

	e.logger.Info("Decision applied",
		"request_id", request.ID,
		"action", action.String(),
		"step_id", decidedStepID,
		"status", request.Status.String())

	e.emit(ctx, event.NewEvent(eventType, request.ID, decidedStepID, recipients))

	return request, nil
}

// Cancel withdraws a pending request
func (e *engineImpl) Cancel(ctx context.Context, requestID string, actor Actor) (*entity.RequestInstance, error) {
	request, err := e.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != domainwf.StatePending {
		return nil, fmt.Errorf("%w: request %s is %s", domainwf.ErrInvalidState, requestID, request.Status)
	}
	if actor.UserID != request.SubmitterID && actor.Role != e.adminRole {
		return nil, fmt.Errorf("%w: only the submitter or %s role may cancel", domainwf.ErrForbidden, e.adminRole)
	}

	step := request.CurrentStep()
	stepIndex := request.CurrentStepIndex
	stepID := ""
	if step != nil {
		stepID = step.StepID
	}
	previousStatus := request.Status
	now := e.now()

	machine := BuildRequestStateMachine(request)
	if err := machine.Fire(ctx, domainwf.TriggerCancel); err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrInvalidState, err)
	}

	request.Status = domainwf.StateCancelled
	request.CompletedAt = &now
	request.SLADeadline = nil
	request.UpdatedAt = now

	if err := e.persistTransition(ctx, request, &entity.ApprovalHistory{
		RequestID:      request.ID,
		ActorUserID:    actor.UserID,
		ActorRole:      actor.Role,
		StepIndex:      stepIndex,
		StepID:         stepID,
		PreviousStatus: previousStatus.String(),
		NewStatus:      request.Status.String(),
		ActionType:     entity.HistoryActionCancel,
		Timestamp:      now,
	}); err != nil {
		return nil, err
	}

	e.logger.Info("Request cancelled", "request_id", request.ID, "actor", actor.UserID)

	e.emit(ctx, event.NewEvent(event.TypeCancelled, request.ID, stepID, nil))

	return request, nil
}

// Escalate handles a lapsed deadline on the current step. Races with a
// concurrent human decision are resolved by the version check: if the human
// won, the write fails and the lapse is treated as already handled.
func (e *engineImpl) Escalate(ctx context.Context, requestID string) (*entity.RequestInstance, error) {
	request, err := e.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	// Defensive re-check: the request may have been resolved between the
	// scheduler's query and this call
	now := e.now()
	if request.Status != domainwf.StatePending || !request.DeadlineLapsed(now) {
		return request, nil
	}

	step := request.CurrentStep()
	if step == nil {
		return request, nil
	}
	stepIndex := request.CurrentStepIndex
	stepID := step.StepID
	previousRole := step.EffectiveRole
	previousStatus := request.Status

	resolution := ResolveEscalation(*step, now)

	switch resolution.Kind {
	case ResolutionOverdue:
		// Policy gap: no escalation target on a required step (or the single
		// re-arm is already spent). Surface it, change nothing.
		e.logger.Warn("Request overdue with no escalation path",
			"request_id", request.ID,
			"step_id", stepID,
			"deadline", request.SLADeadline)
		e.emit(ctx, event.NewEvent(event.TypeOverdue, request.ID, stepID,
			[]string{step.EffectiveRole}))
		return request, nil

	case ResolutionReassign:
		machine := BuildRequestStateMachine(request)
		if err := machine.Fire(ctx, domainwf.TriggerEscalate); err != nil {
			return nil, fmt.Errorf("%w: %v", domainwf.ErrInvalidState, err)
		}

		step.EffectiveRole = resolution.NewRole
		step.Escalated = true
		request.SLADeadline = resolution.NewDeadline
		request.UpdatedAt = now

		err = e.persistTransition(ctx, request, &entity.ApprovalHistory{
			RequestID:      request.ID,
			StepIndex:      stepIndex,
			StepID:         stepID,
			PreviousStatus: previousStatus.String(),
			NewStatus:      request.Status.String(),
			ActionType:     entity.HistoryActionEscalate,
			Detail:         fmt.Sprintf("reassigned from %s to %s", previousRole, resolution.NewRole),
			Timestamp:      now,
		})
		if errors.Is(err, domainwf.ErrInvalidState) {
			// A human decision landed first; their transition stands
			e.logger.Info("Escalation lost race to a concurrent decision", "request_id", request.ID)
			return e.requestRepo.GetByID(ctx, requestID)
		}
		if err != nil {
			return nil, err
		}

		e.logger.Info("Step escalated",
			"request_id", request.ID,
			"step_id", stepID,
			"from_role", previousRole,
			"to_role", resolution.NewRole)

		e.emit(ctx, event.NewEvent(event.TypeEscalated, request.ID, stepID,
			[]string{resolution.NewRole}))

		return request, nil

	case ResolutionSkip:
		// Unattended optional step: advance exactly as a synthetic approval
		machine := BuildRequestStateMachine(request)
		if err := machine.Fire(ctx, domainwf.TriggerSkip); err != nil {
			return nil, fmt.Errorf("%w: %v", domainwf.ErrInvalidState, err)
		}

		var recipients []string
		if machine.State() == domainwf.StateApproved {
			request.Status = domainwf.StateApproved
			request.CompletedAt = &now
			request.SLADeadline = nil
		} else {
			request.CurrentStepIndex++
			next := request.CurrentStep()
			request.SLADeadline = deadlineFor(next, now)
			recipients = []string{next.EffectiveRole}
		}
		request.UpdatedAt = now

		err = e.persistTransition(ctx, request, &entity.ApprovalHistory{
			RequestID:      request.ID,
			StepIndex:      stepIndex,
			StepID:         stepID,
			PreviousStatus: previousStatus.String(),
			NewStatus:      request.Status.String(),
			ActionType:     entity.HistoryActionSkip,
			Detail:         "optional step skipped on timeout",
			Timestamp:      now,
		})
		if errors.Is(err, domainwf.ErrInvalidState) {
			e.logger.Info("Skip lost race to a concurrent decision", "request_id", request.ID)
			return e.requestRepo.GetByID(ctx, requestID)
		}
		if err != nil {
			return nil, err
		}

		e.logger.Info("Optional step skipped on timeout",
			"request_id", request.ID,
			"step_id", stepID,
			"status", request.Status.String())

		evt := event.NewEvent(event.TypeApproved, request.ID, stepID, recipients).
			WithPayload("skipped", true)
		e.emit(ctx, evt)

		return request, nil
	}

	return request, nil
}

// Get returns the request without side effects
func (e *engineImpl) Get(ctx context.Context, requestID string) (*entity.RequestInstance, error) {
	return e.requestRepo.GetByID(ctx, requestID)
}

// persistTransition writes the mutated request and its history row in one
// transaction. A version conflict means a concurrent writer applied a
// transition first; it surfaces as ErrInvalidState so callers on both the
// human and scheduler paths observe the same contract.
func (e *engineImpl) persistTransition(ctx context.Context, request *entity.RequestInstance, history *entity.ApprovalHistory) error {
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.requestRepo.Update(txCtx, request); err != nil {
			return err
		}
		return e.historyRepo.Create(txCtx, history)
	})
	if errors.Is(err, domainwf.ErrVersionConflict) {
		return fmt.Errorf("%w: %v", domainwf.ErrInvalidState, err)
	}
	if err != nil {
		e.logger.Error("Failed to persist transition", "error", err, "request_id", request.ID)
	}
	return err
}

// emit dispatches a domain event; delivery failures are logged, never
// propagated into the transition result
func (e *engineImpl) emit(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.Dispatch(ctx, evt); err != nil {
		e.logger.Error("Event dispatch failed",
			"event_type", evt.Type,
			"request_id", evt.RequestID,
			"error", err)
	}
}

// deadlineFor computes the SLA deadline for a step becoming current at now
func deadlineFor(step *entity.StepSnapshot, now time.Time) *time.Time {
	if step == nil || !step.HasSLA() {
		return nil
	}
	deadline := now.Add(time.Duration(step.SLAHours) * time.Hour)
	return &deadline
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
