package port

import (
	"context"
	"time"

	"github.com/danyuan/approvalflow/internal/domain/entity"
)

// RequestRepository persists approval requests
type RequestRepository interface {
	// Create inserts a new request with Version = 1
	Create(ctx context.Context, request *entity.RequestInstance) error

	// GetByID returns the request, or workflow.ErrNotFound if it does not exist
	GetByID(ctx context.Context, id string) (*entity.RequestInstance, error)

	// Update writes the request back, matching on the Version the caller read
	// and incrementing it. Returns workflow.ErrVersionConflict if another
	// writer got there first.
	Update(ctx context.Context, request *entity.RequestInstance) error

	// List returns requests ordered by creation time, newest first
	List(ctx context.Context, limit, offset int) ([]*entity.RequestInstance, error)

	// ListOverdue returns pending requests whose deadline is before now,
	// oldest deadline first, capped at limit
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.RequestInstance, error)
}

// TemplateRepository persists workflow templates
type TemplateRepository interface {
	Create(ctx context.Context, template *entity.WorkflowTemplate) error

	// GetByID returns the template, or workflow.ErrTemplateNotFound
	GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error)

	List(ctx context.Context) ([]*entity.WorkflowTemplate, error)

	// SetActive flips the template's active flag
	SetActive(ctx context.Context, id string, active bool) error
}

// HistoryRepository persists per-request transition history
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.ApprovalHistory) error
	ListByRequestID(ctx context.Context, requestID string) ([]*entity.ApprovalHistory, error)
}

// NotificationRepository persists recorded notification intents
type NotificationRepository interface {
	Create(ctx context.Context, notification *entity.Notification) error
	ListByRequestID(ctx context.Context, requestID string) ([]*entity.Notification, error)
}

// TransactionManager runs a function inside a storage transaction. The
// context passed to fn carries the transaction; repositories detect it and
// route their statements through it.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}
