package workflow

import (
	"context"
	"encoding/json"

	"github.com/danyuan/approvalflow/internal/domain/entity"
)

// Actor is the acting identity supplied by the trust boundary in front of the
// engine. The engine never authenticates; it only checks the role against the
// current step.
type Actor struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// SubmitInput carries everything needed to create a request from a template
type SubmitInput struct {
	TemplateID  string          `json:"template_id"`
	RequestType string          `json:"request_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SubmitterID string          `json:"submitter_id"`
}

// Engine is the step transition engine. Human decisions and scheduler-driven
// timeouts both funnel through it so transition legality is enforced uniformly
// regardless of the trigger source.
type Engine interface {
	// Submit creates a pending request from a frozen snapshot of the
	// template's step list
	Submit(ctx context.Context, input SubmitInput) (*entity.RequestInstance, error)

	// Decide applies a human approve/reject decision to the current step
	Decide(ctx context.Context, requestID string, action entity.StepAction, actor Actor) (*entity.RequestInstance, error)

	// Cancel withdraws a pending request; permitted for the submitter or an
	// administrative role
	Cancel(ctx context.Context, requestID string, actor Actor) (*entity.RequestInstance, error)

	// Escalate handles a lapsed deadline on the current step. Invoked only by
	// the deadline scheduler; a request resolved between the scheduler's query
	// and this call is a no-op, not an error.
	Escalate(ctx context.Context, requestID string) (*entity.RequestInstance, error)

	// Get returns the request without side effects
	Get(ctx context.Context, requestID string) (*entity.RequestInstance, error)
}

// Logger is the minimal logging dependency for application packages
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
