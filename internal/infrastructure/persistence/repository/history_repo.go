package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/danyuan/approvalflow/internal/application/port"
	"github.com/danyuan/approvalflow/internal/domain/entity"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a history entry
func (r *HistoryRepository) Create(ctx context.Context, history *entity.ApprovalHistory) error {
	query := `
		INSERT INTO approval_history (
			request_id, actor_user_id, actor_role, step_index, step_id,
			previous_status, new_status, action_type, detail, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := executorFrom(ctx, r.db).ExecContext(ctx, query,
		history.RequestID,
		history.ActorUserID,
		history.ActorRole,
		history.StepIndex,
		history.StepID,
		history.PreviousStatus,
		history.NewStatus,
		history.ActionType,
		history.Detail,
		history.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create history entry", zap.Error(err))
		return fmt.Errorf("failed to create history entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history.ID = id
	return nil
}

// ListByRequestID retrieves history entries for a request in insertion order
func (r *HistoryRepository) ListByRequestID(ctx context.Context, requestID string) ([]*entity.ApprovalHistory, error) {
	query := `
		SELECT id, request_id, actor_user_id, actor_role, step_index, step_id,
			previous_status, new_status, action_type, detail, timestamp
		FROM approval_history
		WHERE request_id = ?
		ORDER BY id ASC
	`

	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to list history", zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*entity.ApprovalHistory
	for rows.Next() {
		var entry entity.ApprovalHistory
		err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.ActorUserID,
			&entry.ActorRole,
			&entry.StepIndex,
			&entry.StepID,
			&entry.PreviousStatus,
			&entry.NewStatus,
			&entry.ActionType,
			&entry.Detail,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
