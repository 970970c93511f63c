package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danyuan/approvalflow/internal/domain/entity"
	"github.com/danyuan/approvalflow/internal/domain/workflow"
)

type stubTemplateRepo struct {
	templates map[string]*entity.WorkflowTemplate
	createErr error
}

func newStubTemplateRepo() *stubTemplateRepo {
	return &stubTemplateRepo{templates: make(map[string]*entity.WorkflowTemplate)}
}

func (s *stubTemplateRepo) Create(ctx context.Context, template *entity.WorkflowTemplate) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.templates[template.ID] = template
	return nil
}

func (s *stubTemplateRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	template, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrTemplateNotFound, id)
	}
	return template, nil
}

func (s *stubTemplateRepo) List(ctx context.Context) ([]*entity.WorkflowTemplate, error) {
	result := make([]*entity.WorkflowTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		result = append(result, t)
	}
	return result, nil
}

func (s *stubTemplateRepo) SetActive(ctx context.Context, id string, active bool) error {
	template, ok := s.templates[id]
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrTemplateNotFound, id)
	}
	template.Active = active
	return nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

func validSteps() []entity.StepDefinition {
	return []entity.StepDefinition{
		{
			StepID:           "manager-review",
			Order:            0,
			RequiredRole:     "manager",
			PermittedActions: []entity.StepAction{entity.ActionApprove, entity.ActionReject},
			SLAHours:         48,
			Required:         true,
			EscalateTo:       "admin",
		},
		{
			StepID:           "finance-review",
			Order:            1,
			RequiredRole:     "finance",
			PermittedActions: []entity.StepAction{entity.ActionApprove},
			Required:         false,
		},
	}
}

func TestTemplateService_Create(t *testing.T) {
	repo := newStubTemplateRepo()
	svc := NewTemplateService(repo, nopLogger{})

	template, err := svc.Create(context.Background(), CreateTemplateInput{
		Name:   "Expense approval",
		Steps:  validSteps(),
		Active: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, template.ID)
	assert.Equal(t, "Expense approval", template.Name)
	assert.True(t, template.Active)
	assert.Len(t, template.Steps, 2)
	assert.Equal(t, 0, template.Steps[0].Order)
	assert.Equal(t, 1, template.Steps[1].Order)

	stored, err := svc.Get(context.Background(), template.ID)
	require.NoError(t, err)
	assert.Equal(t, template.ID, stored.ID)
}

func TestTemplateService_CreateNormalizesOneBasedOrder(t *testing.T) {
	steps := validSteps()
	steps[0].Order = 1
	steps[1].Order = 2

	repo := newStubTemplateRepo()
	svc := NewTemplateService(repo, nopLogger{})

	template, err := svc.Create(context.Background(), CreateTemplateInput{Name: "One-based", Steps: steps})
	require.NoError(t, err)
	assert.Equal(t, 0, template.Steps[0].Order)
	assert.Equal(t, 1, template.Steps[1].Order)
	assert.Equal(t, "manager-review", template.Steps[0].StepID)
}

func TestTemplateService_CreateSortsByOrder(t *testing.T) {
	steps := validSteps()
	steps[0], steps[1] = steps[1], steps[0]

	repo := newStubTemplateRepo()
	svc := NewTemplateService(repo, nopLogger{})

	template, err := svc.Create(context.Background(), CreateTemplateInput{Name: "Unsorted", Steps: steps})
	require.NoError(t, err)
	assert.Equal(t, "manager-review", template.Steps[0].StepID)
	assert.Equal(t, "finance-review", template.Steps[1].StepID)
}

func TestTemplateService_CreateValidation(t *testing.T) {
	mutate := func(fn func(steps []entity.StepDefinition)) []entity.StepDefinition {
		steps := validSteps()
		fn(steps)
		return steps
	}

	tests := []struct {
		name  string
		input CreateTemplateInput
	}{
		{
			name:  "missing name",
			input: CreateTemplateInput{Steps: validSteps()},
		},
		{
			name:  "no steps",
			input: CreateTemplateInput{Name: "Empty"},
		},
		{
			name: "order starts past one",
			input: CreateTemplateInput{Name: "Bad order", Steps: mutate(func(s []entity.StepDefinition) {
				s[0].Order = 2
				s[1].Order = 3
			})},
		},
		{
			name: "non-contiguous order",
			input: CreateTemplateInput{Name: "Gap", Steps: mutate(func(s []entity.StepDefinition) {
				s[1].Order = 5
			})},
		},
		{
			name: "duplicate order",
			input: CreateTemplateInput{Name: "Dup order", Steps: mutate(func(s []entity.StepDefinition) {
				s[1].Order = 0
			})},
		},
		{
			name: "missing step id",
			input: CreateTemplateInput{Name: "No id", Steps: mutate(func(s []entity.StepDefinition) {
				s[0].StepID = ""
			})},
		},
		{
			name: "duplicate step id",
			input: CreateTemplateInput{Name: "Dup id", Steps: mutate(func(s []entity.StepDefinition) {
				s[1].StepID = s[0].StepID
			})},
		},
		{
			name: "missing role",
			input: CreateTemplateInput{Name: "No role", Steps: mutate(func(s []entity.StepDefinition) {
				s[0].RequiredRole = ""
			})},
		},
		{
			name: "no permitted actions",
			input: CreateTemplateInput{Name: "No actions", Steps: mutate(func(s []entity.StepDefinition) {
				s[0].PermittedActions = nil
			})},
		},
		{
			name: "unknown action",
			input: CreateTemplateInput{Name: "Bad action", Steps: mutate(func(s []entity.StepDefinition) {
				s[0].PermittedActions = []entity.StepAction{"defer"}
			})},
		},
		{
			name: "negative sla",
			input: CreateTemplateInput{Name: "Bad SLA", Steps: mutate(func(s []entity.StepDefinition) {
				s[0].SLAHours = -1
			})},
		},
		{
			name: "escalation target without sla",
			input: CreateTemplateInput{Name: "Target no SLA", Steps: mutate(func(s []entity.StepDefinition) {
				s[1].EscalateTo = "admin"
			})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubTemplateRepo()
			svc := NewTemplateService(repo, nopLogger{})

			_, err := svc.Create(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrInvalidTemplate)
			assert.Empty(t, repo.templates, "invalid template must not be persisted")
		})
	}
}

func TestTemplateService_SetActive(t *testing.T) {
	repo := newStubTemplateRepo()
	svc := NewTemplateService(repo, nopLogger{})

	template, err := svc.Create(context.Background(), CreateTemplateInput{
		Name:   "Toggle me",
		Steps:  validSteps(),
		Active: true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(context.Background(), template.ID, false))
	stored, err := svc.Get(context.Background(), template.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	err = svc.SetActive(context.Background(), "missing", true)
	assert.ErrorIs(t, err, workflow.ErrTemplateNotFound)
}

func TestTemplateService_List(t *testing.T) {
	repo := newStubTemplateRepo()
	svc := NewTemplateService(repo, nopLogger{})

	for _, name := range []string{"A", "B"} {
		_, err := svc.Create(context.Background(), CreateTemplateInput{Name: name, Steps: validSteps()})
		require.NoError(t, err)
	}

	templates, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, templates, 2)
}
