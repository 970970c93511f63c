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

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sql.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `
	id, request_type, template_id, submitter_id, payload, status,
	current_step_index, steps_snapshot, submitted_at, completed_at,
	sla_deadline, version, created_at, updated_at
`

// Create inserts a new request with Version = 1
func (r *RequestRepository) Create(ctx context.Context, request *entity.RequestInstance) error {
	snapshot, err := json.Marshal(request.StepsSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal steps snapshot: %w", err)
	}

	query := `
		INSERT INTO approval_requests (
			id, request_type, template_id, submitter_id, payload, status,
			current_step_index, steps_snapshot, submitted_at, completed_at,
			sla_deadline, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`

	_, err = executorFrom(ctx, r.db).ExecContext(ctx, query,
		request.ID,
		request.RequestType,
		request.TemplateID,
		request.SubmitterID,
		nullableString(request.Payload),
		request.Status.String(),
		request.CurrentStepIndex,
		string(snapshot),
		request.SubmittedAt,
		request.CompletedAt,
		request.SLADeadline,
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}

	request.Version = 1
	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*entity.RequestInstance, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = ?`

	request, err := scanRequest(executorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get request", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	return request, nil
}

// Update writes the request back with an optimistic version check
func (r *RequestRepository) Update(ctx context.Context, request *entity.RequestInstance) error {
	snapshot, err := json.Marshal(request.StepsSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal steps snapshot: %w", err)
	}

	query := `
		UPDATE approval_requests
		SET status = ?, current_step_index = ?, steps_snapshot = ?,
			completed_at = ?, sla_deadline = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		request.Status.String(),
		request.CurrentStepIndex,
		string(snapshot),
		request.CompletedAt,
		request.SLADeadline,
		request.UpdatedAt,
		request.ID,
		request.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update request", zap.String("id", request.ID), zap.Error(err))
		return fmt.Errorf("failed to update request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: request %s version %d", workflow.ErrVersionConflict, request.ID, request.Version)
	}

	request.Version++
	return nil
}

// List retrieves requests ordered by creation time, newest first
func (r *RequestRepository) List(ctx context.Context, limit, offset int) ([]*entity.RequestInstance, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// ListOverdue retrieves pending requests whose deadline lapsed before now,
// oldest deadline first
func (r *RequestRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.RequestInstance, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE status = ? AND sla_deadline IS NOT NULL AND sla_deadline < ?
		ORDER BY sla_deadline ASC
		LIMIT ?
	`

	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query, workflow.StatePending.String(), now, limit)
	if err != nil {
		r.logger.Error("Failed to list overdue requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list overdue requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*entity.RequestInstance, error) {
	var request entity.RequestInstance
	var payload sql.NullString
	var status string
	var snapshot string
	var completedAt, slaDeadline sql.NullTime

	err := row.Scan(
		&request.ID,
		&request.RequestType,
		&request.TemplateID,
		&request.SubmitterID,
		&payload,
		&status,
		&request.CurrentStepIndex,
		&snapshot,
		&request.SubmittedAt,
		&completedAt,
		&slaDeadline,
		&request.Version,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	request.Status = workflow.State(status)
	if payload.Valid {
		request.Payload = json.RawMessage(payload.String)
	}
	if completedAt.Valid {
		request.CompletedAt = &completedAt.Time
	}
	if slaDeadline.Valid {
		request.SLADeadline = &slaDeadline.Time
	}
	if err := json.Unmarshal([]byte(snapshot), &request.StepsSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps snapshot: %w", err)
	}

	return &request, nil
}

func collectRequests(rows *sql.Rows) ([]*entity.RequestInstance, error) {
	var requests []*entity.RequestInstance
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Verify interface compliance
var _ port.RequestRepository = (*RequestRepository)(nil)
