package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danyuan/approvalflow/internal/application/dispatcher"
	"github.com/danyuan/approvalflow/internal/domain/entity"
	"github.com/danyuan/approvalflow/internal/domain/event"
	domainwf "github.com/danyuan/approvalflow/internal/domain/workflow"
)

// --- mocks ---

type mockRequestRepo struct {
	requests map[string]*entity.RequestInstance
	// failUpdateWith forces the next Update call to fail with this error
	failUpdateWith error
	updateCalls    int
}

func newMockRequestRepo() *mockRequestRepo {
	return &mockRequestRepo{requests: make(map[string]*entity.RequestInstance)}
}

func (m *mockRequestRepo) Create(ctx context.Context, request *entity.RequestInstance) error {
	request.Version = 1
	m.requests[request.ID] = request
	return nil
}

func (m *mockRequestRepo) GetByID(ctx context.Context, id string) (*entity.RequestInstance, error) {
	request, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: request %s", domainwf.ErrNotFound, id)
	}
	return request, nil
}

func (m *mockRequestRepo) Update(ctx context.Context, request *entity.RequestInstance) error {
	m.updateCalls++
	if m.failUpdateWith != nil {
		err := m.failUpdateWith
		m.failUpdateWith = nil
		return err
	}
	stored, ok := m.requests[request.ID]
	if !ok {
		return fmt.Errorf("%w: request %s", domainwf.ErrNotFound, request.ID)
	}
	if stored.Version != request.Version {
		return fmt.Errorf("%w: request %s", domainwf.ErrVersionConflict, request.ID)
	}
	request.Version++
	m.requests[request.ID] = request
	return nil
}

func (m *mockRequestRepo) List(ctx context.Context, limit, offset int) ([]*entity.RequestInstance, error) {
	result := make([]*entity.RequestInstance, 0, len(m.requests))
	for _, r := range m.requests {
		result = append(result, r)
	}
	return result, nil
}

func (m *mockRequestRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.RequestInstance, error) {
	var result []*entity.RequestInstance
	for _, r := range m.requests {
		if r.Status == domainwf.StatePending && r.DeadlineLapsed(now) {
			result = append(result, r)
		}
	}
	return result, nil
}

type mockTemplateRepo struct {
	templates map[string]*entity.WorkflowTemplate
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{templates: make(map[string]*entity.WorkflowTemplate)}
}

func (m *mockTemplateRepo) Create(ctx context.Context, template *entity.WorkflowTemplate) error {
	m.templates[template.ID] = template
	return nil
}

func (m *mockTemplateRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	template, ok := m.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrTemplateNotFound, id)
	}
	return template, nil
}

func (m *mockTemplateRepo) List(ctx context.Context) ([]*entity.WorkflowTemplate, error) {
	result := make([]*entity.WorkflowTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		result = append(result, t)
	}
	return result, nil
}

func (m *mockTemplateRepo) SetActive(ctx context.Context, id string, active bool) error {
	template, ok := m.templates[id]
	if !ok {
		return fmt.Errorf("%w: %s", domainwf.ErrTemplateNotFound, id)
	}
	template.Active = active
	return nil
}

type mockHistoryRepo struct {
	records []*entity.ApprovalHistory
}

func (m *mockHistoryRepo) Create(ctx context.Context, history *entity.ApprovalHistory) error {
	m.records = append(m.records, history)
	return nil
}

func (m *mockHistoryRepo) ListByRequestID(ctx context.Context, requestID string) ([]*entity.ApprovalHistory, error) {
	var result []*entity.ApprovalHistory
	for _, h := range m.records {
		if h.RequestID == requestID {
			result = append(result, h)
		}
	}
	return result, nil
}

type mockTxManager struct{}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type mockDispatcher struct {
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}
func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}
func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.events = append(m.events, evt)
	return nil
}
func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.events = append(m.events, evt)
}
func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo { return nil }
func (m *mockDispatcher) Close() error                                               { return nil }

func (m *mockDispatcher) lastEvent() *event.Event {
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

// --- fixtures ---

type engineFixture struct {
	engine       Engine
	requestRepo  *mockRequestRepo
	templateRepo *mockTemplateRepo
	historyRepo  *mockHistoryRepo
	dispatcher   *mockDispatcher
	clock        *fakeClock
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		requestRepo:  newMockRequestRepo(),
		templateRepo: newMockTemplateRepo(),
		historyRepo:  &mockHistoryRepo{},
		dispatcher:   &mockDispatcher{},
		clock:        &fakeClock{current: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
	}
	f.engine = NewEngine(
		f.requestRepo,
		f.templateRepo,
		f.historyRepo,
		&mockTxManager{},
		WithDispatcher(f.dispatcher),
		WithClock(f.clock.Now),
	)
	return f
}

func bothActions() []entity.StepAction {
	return []entity.StepAction{entity.ActionApprove, entity.ActionReject}
}

// singleStepTemplate: one manager step, 48h SLA, escalates to admin on timeout
func singleStepTemplate() *entity.WorkflowTemplate {
	return &entity.WorkflowTemplate{
		ID:   "tpl-single",
		Name: "Single manager approval",
		Steps: []entity.StepDefinition{
			{
				StepID:           "manager-review",
				Order:            0,
				RequiredRole:     "manager",
				PermittedActions: bothActions(),
				SLAHours:         48,
				Required:         true,
				EscalateTo:       "admin",
			},
		},
		Active: true,
	}
}

// twoStepTemplate: required manager step with SLA, then optional finance step
// without one
func twoStepTemplate() *entity.WorkflowTemplate {
	return &entity.WorkflowTemplate{
		ID:   "tpl-two",
		Name: "Manager then finance",
		Steps: []entity.StepDefinition{
			{
				StepID:           "manager-review",
				Order:            0,
				RequiredRole:     "manager",
				PermittedActions: bothActions(),
				SLAHours:         24,
				Required:         true,
			},
			{
				StepID:           "finance-review",
				Order:            1,
				RequiredRole:     "finance",
				PermittedActions: []entity.StepAction{entity.ActionApprove},
				Required:         false,
			},
		},
		Active: true,
	}
}

func (f *engineFixture) submit(t *testing.T, template *entity.WorkflowTemplate) *entity.RequestInstance {
	t.Helper()
	f.templateRepo.Create(context.Background(), template)
	request, err := f.engine.Submit(context.Background(), SubmitInput{
		TemplateID:  template.ID,
		RequestType: "expense",
		SubmitterID: "user-1",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return request
}

// --- Submit ---

func TestEngine_Submit(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	if request.Status != domainwf.StatePending {
		t.Errorf("Status = %v, want %v", request.Status, domainwf.StatePending)
	}
	if request.CurrentStepIndex != 0 {
		t.Errorf("CurrentStepIndex = %d, want 0", request.CurrentStepIndex)
	}
	if len(request.StepsSnapshot) != 1 {
		t.Fatalf("StepsSnapshot has %d steps, want 1", len(request.StepsSnapshot))
	}
	if request.StepsSnapshot[0].EffectiveRole != "manager" {
		t.Errorf("EffectiveRole = %q, want %q", request.StepsSnapshot[0].EffectiveRole, "manager")
	}
	if request.SLADeadline == nil {
		t.Fatal("SLADeadline = nil, want 48h from submission")
	}
	wantDeadline := f.clock.Now().Add(48 * time.Hour)
	if !request.SLADeadline.Equal(wantDeadline) {
		t.Errorf("SLADeadline = %v, want %v", request.SLADeadline, wantDeadline)
	}
	if request.Version != 1 {
		t.Errorf("Version = %d, want 1", request.Version)
	}

	if len(f.historyRepo.records) != 1 || f.historyRepo.records[0].ActionType != entity.HistoryActionSubmit {
		t.Errorf("expected a single SUBMIT history record, got %+v", f.historyRepo.records)
	}

	evt := f.dispatcher.lastEvent()
	if evt == nil || evt.Type != event.TypeSubmitted {
		t.Fatalf("expected %s event, got %+v", event.TypeSubmitted, evt)
	}
	if len(evt.RecipientRoles) != 1 || evt.RecipientRoles[0] != "manager" {
		t.Errorf("RecipientRoles = %v, want [manager]", evt.RecipientRoles)
	}
}

func TestEngine_SubmitInactiveTemplate(t *testing.T) {
	f := newEngineFixture()
	template := singleStepTemplate()
	template.Active = false
	f.templateRepo.Create(context.Background(), template)

	_, err := f.engine.Submit(context.Background(), SubmitInput{TemplateID: template.ID, SubmitterID: "user-1"})
	if !errors.Is(err, domainwf.ErrTemplateInactive) {
		t.Errorf("Submit() error = %v, want ErrTemplateInactive", err)
	}
}

func TestEngine_SubmitUnknownTemplate(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.Submit(context.Background(), SubmitInput{TemplateID: "nope", SubmitterID: "user-1"})
	if !errors.Is(err, domainwf.ErrTemplateNotFound) {
		t.Errorf("Submit() error = %v, want ErrTemplateNotFound", err)
	}
}

func TestEngine_SubmitSnapshotIsFrozen(t *testing.T) {
	f := newEngineFixture()
	template := singleStepTemplate()
	request := f.submit(t, template)

	// Editing the template after submission must not reach the snapshot
	template.Steps[0].RequiredRole = "director"
	template.Steps[0].PermittedActions[0] = entity.ActionReject

	if request.StepsSnapshot[0].RequiredRole != "manager" {
		t.Error("snapshot role changed after template edit")
	}
	if request.StepsSnapshot[0].PermittedActions[0] != entity.ActionApprove {
		t.Error("snapshot actions changed after template edit")
	}
}

// --- Decide ---

func TestEngine_ApproveFinalStep(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	updated, err := f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "mgr-1", Role: "manager"})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	if updated.Status != domainwf.StateApproved {
		t.Errorf("Status = %v, want %v", updated.Status, domainwf.StateApproved)
	}
	if updated.CompletedAt == nil {
		t.Error("CompletedAt = nil, want set")
	}
	if updated.SLADeadline != nil {
		t.Errorf("SLADeadline = %v, want nil after completion", updated.SLADeadline)
	}

	evt := f.dispatcher.lastEvent()
	if evt == nil || evt.Type != event.TypeApproved {
		t.Fatalf("expected %s event, got %+v", event.TypeApproved, evt)
	}
}

func TestEngine_ApproveIntermediateStepAdvances(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, twoStepTemplate())

	f.clock.Advance(2 * time.Hour)
	updated, err := f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "mgr-1", Role: "manager"})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	if updated.Status != domainwf.StatePending {
		t.Errorf("Status = %v, want %v", updated.Status, domainwf.StatePending)
	}
	if updated.CurrentStepIndex != 1 {
		t.Errorf("CurrentStepIndex = %d, want 1", updated.CurrentStepIndex)
	}
	// Step 2 defines no SLA, so the deadline clears
	if updated.SLADeadline != nil {
		t.Errorf("SLADeadline = %v, want nil for step without SLA", updated.SLADeadline)
	}

	evt := f.dispatcher.lastEvent()
	if evt == nil || evt.Type != event.TypeApproved {
		t.Fatalf("expected %s event, got %+v", event.TypeApproved, evt)
	}
	if len(evt.RecipientRoles) != 1 || evt.RecipientRoles[0] != "finance" {
		t.Errorf("RecipientRoles = %v, want [finance] (next step's role)", evt.RecipientRoles)
	}

	// A step without an SLA never times out, no matter how long it waits
	f.clock.Advance(1000 * time.Hour)
	after, err := f.engine.Escalate(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if after.Status != domainwf.StatePending || after.CurrentStepIndex != 1 {
		t.Errorf("step without SLA auto-resolved: status=%v index=%d", after.Status, after.CurrentStepIndex)
	}
}

func TestEngine_RejectIsTerminalAtAnyStep(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, twoStepTemplate())

	updated, err := f.engine.Decide(context.Background(), request.ID, entity.ActionReject,
		Actor{UserID: "mgr-1", Role: "manager"})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	if updated.Status != domainwf.StateRejected {
		t.Errorf("Status = %v, want %v", updated.Status, domainwf.StateRejected)
	}
	if updated.CompletedAt == nil {
		t.Error("CompletedAt = nil, want set")
	}
	if evt := f.dispatcher.lastEvent(); evt == nil || evt.Type != event.TypeRejected {
		t.Fatalf("expected %s event, got %+v", event.TypeRejected, evt)
	}

	// Nothing moves a rejected request
	_, err = f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "mgr-1", Role: "manager"})
	if !errors.Is(err, domainwf.ErrInvalidState) {
		t.Errorf("Decide() on rejected request: error = %v, want ErrInvalidState", err)
	}
}

func TestEngine_DecideWrongRole(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	_, err := f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "user-2", Role: "finance"})
	if !errors.Is(err, domainwf.ErrForbidden) {
		t.Errorf("Decide() error = %v, want ErrForbidden", err)
	}

	stored, _ := f.requestRepo.GetByID(context.Background(), request.ID)
	if stored.Status != domainwf.StatePending {
		t.Errorf("request mutated by forbidden decision: %v", stored.Status)
	}
}

func TestEngine_DecideActionNotPermitted(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, twoStepTemplate())

	// Advance to the finance step, which only permits approve
	if _, err := f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "mgr-1", Role: "manager"}); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	_, err := f.engine.Decide(context.Background(), request.ID, entity.ActionReject,
		Actor{UserID: "fin-1", Role: "finance"})
	if !errors.Is(err, domainwf.ErrActionNotPermitted) {
		t.Errorf("Decide() error = %v, want ErrActionNotPermitted", err)
	}
}

func TestEngine_DecideVersionConflict(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	f.requestRepo.failUpdateWith = fmt.Errorf("%w: stale write", domainwf.ErrVersionConflict)

	_, err := f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "mgr-1", Role: "manager"})
	if !errors.Is(err, domainwf.ErrInvalidState) {
		t.Errorf("Decide() error = %v, want ErrInvalidState on version conflict", err)
	}
}

func TestEngine_DecideUnknownRequest(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.Decide(context.Background(), "missing", entity.ActionApprove,
		Actor{UserID: "mgr-1", Role: "manager"})
	if !errors.Is(err, domainwf.ErrNotFound) {
		t.Errorf("Decide() error = %v, want ErrNotFound", err)
	}
}

// --- Cancel ---

func TestEngine_CancelBySubmitter(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	updated, err := f.engine.Cancel(context.Background(), request.ID,
		Actor{UserID: "user-1", Role: "employee"})
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if updated.Status != domainwf.StateCancelled {
		t.Errorf("Status = %v, want %v", updated.Status, domainwf.StateCancelled)
	}
	if updated.SLADeadline != nil {
		t.Error("SLADeadline should clear on cancellation")
	}
	if evt := f.dispatcher.lastEvent(); evt == nil || evt.Type != event.TypeCancelled {
		t.Fatalf("expected %s event, got %+v", event.TypeCancelled, evt)
	}
}

func TestEngine_CancelByAdmin(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	if _, err := f.engine.Cancel(context.Background(), request.ID,
		Actor{UserID: "admin-1", Role: "admin"}); err != nil {
		t.Fatalf("Cancel() by admin: error = %v", err)
	}
}

func TestEngine_CancelByStrangerForbidden(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	_, err := f.engine.Cancel(context.Background(), request.ID,
		Actor{UserID: "user-2", Role: "manager"})
	if !errors.Is(err, domainwf.ErrForbidden) {
		t.Errorf("Cancel() error = %v, want ErrForbidden", err)
	}
}

func TestEngine_CancelTerminalRequest(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	if _, err := f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "mgr-1", Role: "manager"}); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	_, err := f.engine.Cancel(context.Background(), request.ID,
		Actor{UserID: "user-1", Role: "employee"})
	if !errors.Is(err, domainwf.ErrInvalidState) {
		t.Errorf("Cancel() error = %v, want ErrInvalidState", err)
	}
}

// --- Escalate ---

func TestEngine_EscalateReassignsOnce(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	f.clock.Advance(49 * time.Hour)
	updated, err := f.engine.Escalate(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}

	step := updated.CurrentStep()
	if step.EffectiveRole != "admin" {
		t.Errorf("EffectiveRole = %q, want %q", step.EffectiveRole, "admin")
	}
	if !step.Escalated {
		t.Error("Escalated marker not set")
	}
	wantDeadline := f.clock.Now().Add(48 * time.Hour)
	if updated.SLADeadline == nil || !updated.SLADeadline.Equal(wantDeadline) {
		t.Errorf("SLADeadline = %v, want re-armed to %v", updated.SLADeadline, wantDeadline)
	}
	if evt := f.dispatcher.lastEvent(); evt == nil || evt.Type != event.TypeEscalated {
		t.Fatalf("expected %s event, got %+v", event.TypeEscalated, evt)
	} else if len(evt.RecipientRoles) != 1 || evt.RecipientRoles[0] != "admin" {
		t.Errorf("RecipientRoles = %v, want [admin]", evt.RecipientRoles)
	}

	// The original role lost authority with the reassignment
	_, err = f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "mgr-1", Role: "manager"})
	if !errors.Is(err, domainwf.ErrForbidden) {
		t.Errorf("Decide() by original role after escalation: error = %v, want ErrForbidden", err)
	}

	// The escalation target can now decide
	final, err := f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "admin-1", Role: "admin"})
	if err != nil {
		t.Fatalf("Decide() by escalation target: error = %v", err)
	}
	if final.Status != domainwf.StateApproved {
		t.Errorf("Status = %v, want %v", final.Status, domainwf.StateApproved)
	}
}

func TestEngine_SecondLapseGoesOverdue(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	f.clock.Advance(49 * time.Hour)
	if _, err := f.engine.Escalate(context.Background(), request.ID); err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	updatesBefore := f.requestRepo.updateCalls

	// Re-armed deadline lapses with the escalation already spent
	f.clock.Advance(49 * time.Hour)
	updated, err := f.engine.Escalate(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}

	if updated.Status != domainwf.StatePending {
		t.Errorf("Status = %v, want still %v", updated.Status, domainwf.StatePending)
	}
	if f.requestRepo.updateCalls != updatesBefore {
		t.Error("overdue resolution must not write the request")
	}
	if evt := f.dispatcher.lastEvent(); evt == nil || evt.Type != event.TypeOverdue {
		t.Fatalf("expected %s event, got %+v", event.TypeOverdue, evt)
	}

	// The overdue request stays decidable by its effective role
	if _, err := f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "admin-1", Role: "admin"}); err != nil {
		t.Errorf("Decide() on overdue request: error = %v", err)
	}
}

func TestEngine_EscalateSkipsOptionalStep(t *testing.T) {
	template := &entity.WorkflowTemplate{
		ID:   "tpl-optional-first",
		Name: "Optional then required",
		Steps: []entity.StepDefinition{
			{
				StepID:           "courtesy-review",
				Order:            0,
				RequiredRole:     "finance",
				PermittedActions: bothActions(),
				SLAHours:         4,
				Required:         false,
			},
			{
				StepID:           "manager-review",
				Order:            1,
				RequiredRole:     "manager",
				PermittedActions: bothActions(),
				Required:         true,
			},
		},
		Active: true,
	}

	f := newEngineFixture()
	request := f.submit(t, template)

	f.clock.Advance(5 * time.Hour)
	updated, err := f.engine.Escalate(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}

	if updated.CurrentStepIndex != 1 {
		t.Errorf("CurrentStepIndex = %d, want 1 after skip", updated.CurrentStepIndex)
	}
	if updated.Status != domainwf.StatePending {
		t.Errorf("Status = %v, want %v", updated.Status, domainwf.StatePending)
	}

	evt := f.dispatcher.lastEvent()
	if evt == nil || evt.Type != event.TypeApproved {
		t.Fatalf("expected %s event for skip, got %+v", event.TypeApproved, evt)
	}
	if !evt.GetPayloadBool("skipped") {
		t.Error("skip event should carry skipped=true payload")
	}
}

func TestEngine_EscalateSkipsOptionalFinalStep(t *testing.T) {
	template := &entity.WorkflowTemplate{
		ID:   "tpl-optional-last",
		Name: "Required then optional",
		Steps: []entity.StepDefinition{
			{
				StepID:           "manager-review",
				Order:            0,
				RequiredRole:     "manager",
				PermittedActions: bothActions(),
				Required:         true,
			},
			{
				StepID:           "courtesy-review",
				Order:            1,
				RequiredRole:     "finance",
				PermittedActions: []entity.StepAction{entity.ActionApprove},
				SLAHours:         4,
				Required:         false,
			},
		},
		Active: true,
	}

	f := newEngineFixture()
	request := f.submit(t, template)

	if _, err := f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "mgr-1", Role: "manager"}); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	f.clock.Advance(5 * time.Hour)
	updated, err := f.engine.Escalate(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}

	if updated.Status != domainwf.StateApproved {
		t.Errorf("Status = %v, want %v after final optional step skipped", updated.Status, domainwf.StateApproved)
	}
	if updated.CompletedAt == nil {
		t.Error("CompletedAt = nil, want set")
	}
}

func TestEngine_EscalateIsNoOpWhenNotLapsed(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())
	eventsBefore := len(f.dispatcher.events)

	updated, err := f.engine.Escalate(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}

	if updated.CurrentStep().EffectiveRole != "manager" {
		t.Error("escalation fired before the deadline lapsed")
	}
	if len(f.dispatcher.events) != eventsBefore {
		t.Error("no events expected for a non-lapsed request")
	}
}

func TestEngine_EscalateIsNoOpOnResolvedRequest(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	if _, err := f.engine.Decide(context.Background(), request.ID, entity.ActionApprove,
		Actor{UserID: "mgr-1", Role: "manager"}); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	f.clock.Advance(72 * time.Hour)
	updated, err := f.engine.Escalate(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Escalate() on resolved request: error = %v", err)
	}
	if updated.Status != domainwf.StateApproved {
		t.Errorf("Status = %v, want %v", updated.Status, domainwf.StateApproved)
	}
}

func TestEngine_EscalateLostRaceIsBenign(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	f.clock.Advance(49 * time.Hour)
	f.requestRepo.failUpdateWith = fmt.Errorf("%w: stale write", domainwf.ErrVersionConflict)

	updated, err := f.engine.Escalate(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Escalate() losing the race should not error, got %v", err)
	}
	if updated == nil {
		t.Fatal("Escalate() returned nil request")
	}
}

// --- Get ---

func TestEngine_Get(t *testing.T) {
	f := newEngineFixture()
	request := f.submit(t, singleStepTemplate())

	got, err := f.engine.Get(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != request.ID {
		t.Errorf("Get() returned %s, want %s", got.ID, request.ID)
	}

	if _, err := f.engine.Get(context.Background(), "missing"); !errors.Is(err, domainwf.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}
