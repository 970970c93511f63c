package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/danyuan/approvalflow/internal/application/port"
	"github.com/danyuan/approvalflow/internal/domain/entity"
)

// ErrInvalidTemplate is returned when a template definition fails validation
var ErrInvalidTemplate = errors.New("invalid template definition")

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// CreateTemplateInput carries a new template definition
type CreateTemplateInput struct {
	Name              string                  `json:"name"`
	Steps             []entity.StepDefinition `json:"steps"`
	Active            bool                    `json:"active"`
	NotificationRoles map[string][]string     `json:"notification_roles,omitempty"`
}

// TemplateService manages workflow templates. Step shape is validated once
// here, at creation time, so the transition engine's hot path never
// re-validates template structure.
type TemplateService interface {
	Create(ctx context.Context, input CreateTemplateInput) (*entity.WorkflowTemplate, error)
	Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error)
	List(ctx context.Context) ([]*entity.WorkflowTemplate, error)
	SetActive(ctx context.Context, id string, active bool) error
}

type templateServiceImpl struct {
	templateRepo port.TemplateRepository
	logger       Logger
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(templateRepo port.TemplateRepository, logger Logger) TemplateService {
	return &templateServiceImpl{
		templateRepo: templateRepo,
		logger:       logger,
	}
}

// Create validates and persists a new workflow template
func (s *templateServiceImpl) Create(ctx context.Context, input CreateTemplateInput) (*entity.WorkflowTemplate, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}

	steps, err := normalizeSteps(input.Steps)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &entity.WorkflowTemplate{
		ID:                uuid.NewString(),
		Name:              input.Name,
		Steps:             steps,
		Active:            input.Active,
		NotificationRoles: input.NotificationRoles,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.templateRepo.Create(ctx, template); err != nil {
		s.logger.Error("Failed to create template", "error", err, "name", input.Name)
		return nil, err
	}

	s.logger.Info("Template created", "template_id", template.ID, "name", template.Name, "steps", len(steps))
	return template, nil
}

// Get retrieves a template by ID
func (s *templateServiceImpl) Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	return s.templateRepo.GetByID(ctx, id)
}

// List retrieves all templates
func (s *templateServiceImpl) List(ctx context.Context) ([]*entity.WorkflowTemplate, error) {
	return s.templateRepo.List(ctx)
}

// SetActive flips a template's active flag. Requests already holding a
// snapshot are unaffected.
func (s *templateServiceImpl) SetActive(ctx context.Context, id string, active bool) error {
	if _, err := s.templateRepo.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.templateRepo.SetActive(ctx, id, active); err != nil {
		s.logger.Error("Failed to update template active flag", "error", err, "template_id", id)
		return err
	}
	s.logger.Info("Template active flag updated", "template_id", id, "active", active)
	return nil
}

// normalizeSteps validates a step list and rewrites it with 0-based
// contiguous order indices. Accepts definitions starting at 0 or 1.
func normalizeSteps(steps []entity.StepDefinition) ([]entity.StepDefinition, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: at least one step is required", ErrInvalidTemplate)
	}

	normalized := make([]entity.StepDefinition, len(steps))
	copy(normalized, steps)
	sort.SliceStable(normalized, func(i, j int) bool {
		return normalized[i].Order < normalized[j].Order
	})

	base := normalized[0].Order
	if base != 0 && base != 1 {
		return nil, fmt.Errorf("%w: step order must start at 0 or 1, got %d", ErrInvalidTemplate, base)
	}

	seen := make(map[string]bool, len(normalized))
	for i := range normalized {
		step := &normalized[i]

		if step.Order != base+i {
			return nil, fmt.Errorf("%w: step order must be contiguous, expected %d got %d",
				ErrInvalidTemplate, base+i, step.Order)
		}
		if step.StepID == "" {
			return nil, fmt.Errorf("%w: step %d has no step_id", ErrInvalidTemplate, i)
		}
		if seen[step.StepID] {
			return nil, fmt.Errorf("%w: duplicate step_id %s", ErrInvalidTemplate, step.StepID)
		}
		seen[step.StepID] = true

		if step.RequiredRole == "" {
			return nil, fmt.Errorf("%w: step %s has no required_role", ErrInvalidTemplate, step.StepID)
		}
		if len(step.PermittedActions) == 0 {
			return nil, fmt.Errorf("%w: step %s permits no actions", ErrInvalidTemplate, step.StepID)
		}
		for _, action := range step.PermittedActions {
			if !action.IsValid() {
				return nil, fmt.Errorf("%w: step %s has unknown action %q", ErrInvalidTemplate, step.StepID, action)
			}
		}
		if step.SLAHours < 0 {
			return nil, fmt.Errorf("%w: step %s has negative sla_hours", ErrInvalidTemplate, step.StepID)
		}
		if step.EscalateTo != "" && !step.HasSLA() {
			return nil, fmt.Errorf("%w: step %s has an escalation target but no SLA", ErrInvalidTemplate, step.StepID)
		}

		step.Order = i
	}

	return normalized, nil
}
