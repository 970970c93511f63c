package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danyuan/approvalflow/internal/application/port"
	"github.com/danyuan/approvalflow/internal/domain/entity"
	"github.com/danyuan/approvalflow/internal/domain/workflow"
)

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow template
func (r *TemplateRepository) Create(ctx context.Context, template *entity.WorkflowTemplate) error {
	steps, err := json.Marshal(template.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	var notificationRoles interface{}
	if len(template.NotificationRoles) > 0 {
		encoded, err := json.Marshal(template.NotificationRoles)
		if err != nil {
			return fmt.Errorf("failed to marshal notification roles: %w", err)
		}
		notificationRoles = string(encoded)
	}

	query := `
		INSERT INTO workflow_templates (id, name, steps, active, notification_roles, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = executorFrom(ctx, r.db).ExecContext(ctx, query,
		template.ID,
		template.Name,
		string(steps),
		template.Active,
		notificationRoles,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create template", zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}

	return nil
}

// GetByID retrieves a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	query := `
		SELECT id, name, steps, active, notification_roles, created_at, updated_at
		FROM workflow_templates
		WHERE id = ?
	`

	template, err := scanTemplate(executorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", workflow.ErrTemplateNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return template, nil
}

// List retrieves all templates ordered by creation time
func (r *TemplateRepository) List(ctx context.Context) ([]*entity.WorkflowTemplate, error) {
	query := `
		SELECT id, name, steps, active, notification_roles, created_at, updated_at
		FROM workflow_templates
		ORDER BY created_at DESC
	`

	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*entity.WorkflowTemplate
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, template)
	}
	return templates, rows.Err()
}

// SetActive flips the template's active flag
func (r *TemplateRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE workflow_templates SET active = ?, updated_at = ? WHERE id = ?`

	result, err := executorFrom(ctx, r.db).ExecContext(ctx, query, active, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to set template active flag", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to set active flag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", workflow.ErrTemplateNotFound, id)
	}

	return nil
}

func scanTemplate(row rowScanner) (*entity.WorkflowTemplate, error) {
	var template entity.WorkflowTemplate
	var steps string
	var notificationRoles sql.NullString

	err := row.Scan(
		&template.ID,
		&template.Name,
		&steps,
		&template.Active,
		&notificationRoles,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(steps), &template.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	if notificationRoles.Valid {
		if err := json.Unmarshal([]byte(notificationRoles.String), &template.NotificationRoles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification roles: %w", err)
		}
	}

	return &template, nil
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateRepository)(nil)
